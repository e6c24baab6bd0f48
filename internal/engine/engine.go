// Package engine wires the session, the conversation list and the single room
// controller of one signed-in client.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/hilthontt/roomsync/internal/conversations"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/api"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/tracing"
	"github.com/hilthontt/roomsync/internal/room"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Authenticator interface {
	Login(ctx context.Context, params api.LoginParams) (domain.Session, error)
}

type SessionStore interface {
	Load() (domain.Session, error)
	Save(domain.Session) error
	Clear() error
}

// RoomFactory builds a controller; a fresh one replaces the old after logout.
type RoomFactory func() *room.Controller

type Engine struct {
	auth     Authenticator
	sessions SessionStore
	convs    *conversations.Synchronizer
	newRoom  RoomFactory
	logger   *zap.Logger
	tracer   trace.Tracer

	mu        sync.Mutex
	room      *room.Controller
	roomUnsub func()

	lmu       sync.Mutex
	listeners map[uint64]func(room.View)
	nextID    uint64
}

func New(auth Authenticator, sessions SessionStore, convs *conversations.Synchronizer, newRoom RoomFactory, logger *zap.Logger) *Engine {
	e := &Engine{
		auth:      auth,
		sessions:  sessions,
		convs:     convs,
		newRoom:   newRoom,
		logger:    logging.For(logger, logging.General, logging.Startup),
		tracer:    tracing.GetTracer("roomsync/engine"),
		listeners: make(map[uint64]func(room.View)),
	}
	e.installRoom(newRoom())
	return e
}

// Run keeps the conversation list polling until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	err := e.convs.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) Login(ctx context.Context, username, password string) (domain.Session, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Login", trace.WithAttributes(attribute.String("user.name", username)))
	defer span.End()

	sess, err := e.auth.Login(ctx, api.LoginParams{Username: username, Password: password})
	if err != nil {
		span.RecordError(err)
		return domain.Session{}, err
	}
	if err := e.sessions.Save(sess); err != nil {
		return domain.Session{}, err
	}
	e.logger.Info("logged in", zap.String("user", sess.User.Username))

	if err := e.convs.Refresh(ctx); err != nil {
		e.logger.Warn("initial conversation load failed", zap.Error(err))
	}
	return sess, nil
}

// Logout drops the open room, the stored session and the conversation list.
func (e *Engine) Logout() error {
	e.mu.Lock()
	old, unsub := e.room, e.roomUnsub
	e.mu.Unlock()

	unsub()
	old.Close()
	e.installRoom(e.newRoom())

	// Clear first so a poll started after Reset cannot load the old account.
	err := e.sessions.Clear()
	e.convs.Reset()
	if err != nil {
		return err
	}
	e.emitRoom(e.Room().View())
	return nil
}

func (e *Engine) Session() (domain.Session, error) {
	return e.sessions.Load()
}

func (e *Engine) Conversations() *conversations.Synchronizer {
	return e.convs
}

func (e *Engine) Room() *room.Controller {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room
}

// OpenRoom switches the room view. The peer of a direct room is taken from
// the conversation list when known.
func (e *Engine) OpenRoom(ctx context.Context, roomID string) error {
	target := room.Target{RoomID: roomID}
	if sum, ok := e.convs.Get(roomID); ok && !sum.IsGroup {
		target.PeerID = sum.PeerID
	}

	e.convs.SetActive(roomID)
	return e.Room().Open(ctx, target)
}

// OnRoomChange follows the open room across controller replacements.
func (e *Engine) OnRoomChange(fn func(room.View)) func() {
	e.lmu.Lock()
	defer e.lmu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			e.lmu.Lock()
			delete(e.listeners, id)
			e.lmu.Unlock()
		})
	}
}

func (e *Engine) Close() {
	e.mu.Lock()
	r, unsub := e.room, e.roomUnsub
	e.mu.Unlock()

	unsub()
	r.Close()
}

func (e *Engine) installRoom(r *room.Controller) {
	unsub := r.OnChange(e.emitRoom)

	e.mu.Lock()
	e.room, e.roomUnsub = r, unsub
	e.mu.Unlock()
}

func (e *Engine) emitRoom(v room.View) {
	e.lmu.Lock()
	fns := make([]func(room.View), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.lmu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
