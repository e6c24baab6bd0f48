package room

import (
	"context"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/api"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
)

// Backend is the slice of the chat service a room view needs over HTTP.
type Backend interface {
	Latest(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	Edit(ctx context.Context, id, content string) (domain.Message, error)
	Delete(ctx context.Context, id string, hard bool) error
	Upload(ctx context.Context, f api.File) (api.Upload, error)
}

type apiBackend struct {
	client *api.Client
}

func NewAPIBackend(c *api.Client) Backend {
	return &apiBackend{client: c}
}

func (b *apiBackend) Latest(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	return b.client.Messages.Latest(ctx, roomID, limit)
}

func (b *apiBackend) Edit(ctx context.Context, id, content string) (domain.Message, error) {
	return b.client.Messages.Edit(ctx, id, content)
}

func (b *apiBackend) Delete(ctx context.Context, id string, hard bool) error {
	return b.client.Messages.Delete(ctx, id, hard)
}

func (b *apiBackend) Upload(ctx context.Context, f api.File) (api.Upload, error) {
	return b.client.Attachments.Upload(ctx, f, nil)
}

// SessionSource supplies the token and current user when a room is opened.
type SessionSource interface {
	Load() (domain.Session, error)
}

// Connection is the room socket. *ws.Manager satisfies it.
type Connection interface {
	Connect(roomID, token string) error
	Reconnect() error
	Send(frame ws.OutboundFrame) error
	Subscribe(h ws.Handler) func()
	Disconnect()
	State() ws.State
}

// ConnectionFactory builds a fresh connection for every opened room.
type ConnectionFactory func(onState ws.StateListener) Connection

func ManagerFactory(baseURL string, opts ...ws.Option) ConnectionFactory {
	return func(onState ws.StateListener) Connection {
		all := append(append([]ws.Option(nil), opts...), ws.WithStateListener(onState))
		return ws.NewManager(baseURL, all...)
	}
}
