package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
)

type MessageService struct {
	client *Client
}

// List returns every message of a room as the service orders them.
func (s *MessageService) List(ctx context.Context, roomID string, includeDeleted bool) ([]domain.Message, error) {
	if err := requireID(roomID); err != nil {
		return nil, err
	}
	body, err := s.client.do(ctx, request{
		method: http.MethodGet,
		path:   "/messages/",
		query: url.Values{
			"room_id":         {roomID},
			"include_deleted": {strconv.FormatBool(includeDeleted)},
		},
	})
	if err != nil {
		return nil, err
	}
	return ws.MessagesFromJSON(body), nil
}

// Latest returns up to limit of the newest messages, oldest first. The service
// answers newest first.
func (s *MessageService) Latest(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if err := requireID(roomID); err != nil {
		return nil, err
	}
	body, err := s.client.do(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/messages/room/%s/latest", roomID),
		query:  url.Values{"limit": {strconv.Itoa(limit)}},
	})
	if err != nil {
		return nil, err
	}

	msgs := ws.MessagesFromJSON(body)
	slices.SortStableFunc(msgs, func(a, b domain.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return msgs, nil
}

type sendMessageParams struct {
	RoomID  any    `json:"room_id"`
	Content string `json:"content"`
}

// Send persists a message over REST, bypassing the socket.
func (s *MessageService) Send(ctx context.Context, roomID, content string) (domain.Message, error) {
	if err := requireID(roomID); err != nil {
		return domain.Message{}, err
	}
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, ErrMissingContent
	}
	body, err := s.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/messages/",
		body:   sendMessageParams{RoomID: idValue(roomID), Content: content},
	})
	if err != nil {
		return domain.Message{}, err
	}
	return decodeMessage(body)
}

type editMessageParams struct {
	Content string `json:"content"`
}

func (s *MessageService) Edit(ctx context.Context, id, content string) (domain.Message, error) {
	if err := requireID(id); err != nil {
		return domain.Message{}, err
	}
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, ErrMissingContent
	}
	body, err := s.client.do(ctx, request{
		method: http.MethodPut,
		path:   fmt.Sprintf("/messages/%s", id),
		body:   editMessageParams{Content: content},
	})
	if err != nil {
		return domain.Message{}, err
	}
	return decodeMessage(body)
}

// Delete soft-deletes by default; hard removes the message permanently.
func (s *MessageService) Delete(ctx context.Context, id string, hard bool) error {
	if err := requireID(id); err != nil {
		return err
	}
	r := request{method: http.MethodDelete, path: fmt.Sprintf("/messages/%s", id)}
	if hard {
		r.query = url.Values{"soft_delete": {"false"}}
	}
	_, err := s.client.do(ctx, r)
	return err
}

func (s *MessageService) Restore(ctx context.Context, id string) (domain.Message, error) {
	if err := requireID(id); err != nil {
		return domain.Message{}, err
	}
	body, err := s.client.do(ctx, request{method: http.MethodPost, path: fmt.Sprintf("/messages/%s/restore", id)})
	if err != nil {
		return domain.Message{}, err
	}
	return decodeMessage(body)
}

func decodeMessage(body []byte) (domain.Message, error) {
	msg, ok := ws.MessageFromJSON(body)
	if !ok {
		return domain.Message{}, fmt.Errorf("unexpected message payload: %s", truncate(body, 128))
	}
	return msg, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
