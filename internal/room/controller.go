// Package room binds one socket to the open room and keeps its reconciled
// message list, typing state and presence.
package room

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/api"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/hilthontt/roomsync/internal/infrastructure/tracing"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
	"github.com/hilthontt/roomsync/internal/reconcile"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrSuperseded   = errors.New("another room was opened while loading")
	ErrClosed       = errors.New("room controller is closed")
	ErrNotConfirmed = errors.New("message is not confirmed yet")
	// ErrHistoryUnavailable wraps a failed history fetch. The room is open anyway.
	ErrHistoryUnavailable = errors.New("load history")
)

type Config struct {
	HistoryLimit   int
	DedupWindow    time.Duration
	PendingTimeout time.Duration // zero disables failure marking
	TypingIdle     time.Duration
	Capacity       int
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit:   50,
		DedupWindow:    reconcile.DefaultDedupWindow,
		PendingTimeout: 30 * time.Second,
		TypingIdle:     DefaultTypingIdle,
		Capacity:       reconcile.DefaultCapacity,
	}
}

// Target names the room to open. PeerID is the other participant of a direct
// room; typing frames are addressed to it and only its typing is shown.
type Target struct {
	RoomID string `json:"roomId" validate:"required"`
	PeerID string `json:"peerId,omitempty"`
}

// View is a snapshot of the open room.
type View struct {
	RoomID       string           `json:"roomId"`
	PeerID       string           `json:"peerId,omitempty"`
	Messages     []domain.Message `json:"messages"`
	Connection   string           `json:"connection"`
	Disconnected bool             `json:"disconnected"`
	PeerTyping   bool             `json:"peerTyping"`
	TypingUser   string           `json:"typingUser,omitempty"`
	Online       []string         `json:"online"`
	Error        string           `json:"error,omitempty"`
}

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = logging.For(l, logging.Room, logging.Frame) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithMessageHook observes every message that enters the list, local or live.
func WithMessageHook(fn func(domain.Message)) Option {
	return func(c *Controller) { c.onMessage = fn }
}

func WithPresenceHook(fn func(userID string, online bool)) Option {
	return func(c *Controller) { c.onPresence = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns the connection of the open room. Every Open starts a new
// generation; history responses, socket events and timers of older
// generations are dropped.
type Controller struct {
	backend    Backend
	session    SessionSource
	dial       ConnectionFactory
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	onMessage  func(domain.Message)
	onPresence func(string, bool)
	now        func() time.Time

	mu           sync.Mutex
	gen          uint64
	closed       bool
	target       Target
	user         domain.User
	conn         Connection
	unsub        func()
	list         *reconcile.List
	typing       *TypingIndicator
	stopSweep    chan struct{}
	state        ws.State
	disconnected bool
	peerTyping   bool
	typingUser   string
	online       map[string]struct{}
	lastErr      string

	notifyMu  sync.Mutex
	lmu       sync.Mutex
	listeners map[uint64]func(View)
	nextID    uint64
}

func NewController(backend Backend, session SessionSource, dial ConnectionFactory, cfg Config, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = def.TypingIdle
	}

	c := &Controller{
		backend:   backend,
		session:   session,
		dial:      dial,
		cfg:       cfg,
		logger:    zap.NewNop(),
		tracer:    tracing.GetTracer("roomsync/room"),
		now:       time.Now,
		online:    make(map[string]struct{}),
		listeners: make(map[uint64]func(View)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open switches to target: the previous connection is torn down, the latest
// history is fetched and seeded, then a new connection is opened. A history
// failure leaves the list empty but still connects; the error is returned.
func (c *Controller) Open(ctx context.Context, target Target) error {
	if target.RoomID == "" {
		return domain.ErrInvalidInput
	}
	sess, err := c.session.Load()
	if err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "room.Open", trace.WithAttributes(attribute.String("room.id", target.RoomID)))
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	prev := c.detachLocked()
	c.target = target
	c.user = sess.User
	c.list = reconcile.New(reconcile.Options{DedupWindow: c.cfg.DedupWindow, Capacity: c.cfg.Capacity})
	c.state = ws.Idle
	c.disconnected, c.peerTyping, c.typingUser, c.lastErr = false, false, "", ""
	c.online = make(map[string]struct{})
	c.mu.Unlock()

	prev.release()
	c.notify()

	history, fetchErr := c.backend.Latest(ctx, target.RoomID, c.cfg.HistoryLimit)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale history", zap.String(string(logging.RoomID), target.RoomID))
		span.SetStatus(codes.Error, ErrSuperseded.Error())
		return ErrSuperseded
	}
	if fetchErr != nil {
		c.lastErr = fetchErr.Error()
		span.RecordError(fetchErr)
		c.logger.Warn("failed to load history", zap.String(string(logging.RoomID), target.RoomID), zap.Error(fetchErr))
	} else {
		c.list.Seed(history)
		span.SetAttributes(attribute.Int("room.history", len(history)))
	}

	conn := c.dial(func(s ws.State, err error) { c.handleState(gen, s, err) })
	c.conn = conn
	c.unsub = conn.Subscribe(func(ev domain.InboundEvent) { c.handleEvent(gen, ev) })
	c.typing = NewTypingIndicator(c.cfg.TypingIdle, func(typing bool) {
		if err := conn.Send(ws.TypingFrame(target.PeerID, typing)); err != nil {
			c.logger.Debug("typing frame not sent", zap.Bool("typing", typing), zap.Error(err))
		}
	})
	if c.cfg.PendingTimeout > 0 {
		c.stopSweep = make(chan struct{})
		go c.sweepPending(gen, c.stopSweep)
	}
	c.mu.Unlock()

	c.notify()

	if err := conn.Connect(target.RoomID, sess.Token); err != nil {
		span.RecordError(err)
		return err
	}
	if fetchErr != nil {
		span.SetStatus(codes.Error, fetchErr.Error())
		return fmt.Errorf("%w: %w", ErrHistoryUnavailable, fetchErr)
	}
	return nil
}

// Send appends an optimistic message and writes it to the socket. When the
// socket is not open the message stays pending and the send error is
// returned alongside it so the caller can retract it.
func (c *Controller) Send(_ context.Context, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, domain.ErrEmptyContent
	}

	c.mu.Lock()
	conn, list, user, roomID := c.conn, c.list, c.user, c.target.RoomID
	c.mu.Unlock()
	if conn == nil {
		return domain.Message{}, domain.ErrNoActiveRoom
	}

	msg := domain.NewPendingMessage(roomID, user, content, c.now())
	return msg, c.sendPending(conn, list, msg)
}

// SendAttachment uploads f and then sends it as an image or document message.
func (c *Controller) SendAttachment(ctx context.Context, f api.File) (domain.Message, error) {
	c.mu.Lock()
	conn, list, user, roomID := c.conn, c.list, c.user, c.target.RoomID
	c.mu.Unlock()
	if conn == nil {
		return domain.Message{}, domain.ErrNoActiveRoom
	}

	ctx, span := c.tracer.Start(ctx, "room.SendAttachment", trace.WithAttributes(attribute.String("room.id", roomID)))
	defer span.End()

	up, err := c.backend.Upload(ctx, f)
	if err != nil {
		span.RecordError(err)
		return domain.Message{}, err
	}

	name := up.FileName
	if name == "" {
		name = f.Name
	}
	kind := up.FileType
	if kind == "" {
		kind = f.ContentType
	}

	msg := domain.NewPendingMessage(roomID, user, name, c.now())
	msg.Type = domain.MessageTypeForMIME(kind)
	msg.FileURL = up.FileURL
	msg.FileName = name
	return msg, c.sendPending(conn, list, msg)
}

func (c *Controller) sendPending(conn Connection, list *reconcile.List, msg domain.Message) error {
	if err := list.AddPending(msg); err != nil {
		return err
	}
	c.metrics.SetPending(list.PendingCount())
	if c.onMessage != nil {
		c.onMessage(msg)
	}
	c.notify()

	if err := conn.Send(ws.MessageFrame(msg)); err != nil {
		c.logger.Warn("message left pending", zap.String(string(logging.MessageID), msg.ID), zap.Error(err))
		return err
	}
	return nil
}

// Edit changes a confirmed message through the chat service and applies the
// result locally; the socket echo is then a no-op.
func (c *Controller) Edit(ctx context.Context, id, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, domain.ErrEmptyContent
	}
	list, err := c.confirmed(id)
	if err != nil {
		return domain.Message{}, err
	}

	updated, err := c.backend.Edit(ctx, id, content)
	if err != nil {
		return domain.Message{}, err
	}
	if updated.Content == "" {
		updated.Content = content
	}

	list.ApplyUpdate(id, updated.Content, updated.UpdatedAt)
	c.notify()

	msg, _ := list.Get(id)
	return msg, nil
}

// Delete removes a confirmed message through the chat service, soft unless hard.
func (c *Controller) Delete(ctx context.Context, id string, hard bool) error {
	list, err := c.confirmed(id)
	if err != nil {
		return err
	}
	if err := c.backend.Delete(ctx, id, hard); err != nil {
		return err
	}
	list.ApplyDelete(id)
	c.notify()
	return nil
}

// Retract un-sends a pending or failed message.
func (c *Controller) Retract(id string) error {
	c.mu.Lock()
	list := c.list
	c.mu.Unlock()
	if list == nil {
		return domain.ErrNoActiveRoom
	}
	if !list.Retract(id) {
		return domain.ErrMessageNotFound
	}
	c.metrics.SetPending(list.PendingCount())
	c.notify()
	return nil
}

// InputChanged feeds the typing debounce.
func (c *Controller) InputChanged() error {
	c.mu.Lock()
	typing := c.typing
	c.mu.Unlock()
	if typing == nil {
		return domain.ErrNoActiveRoom
	}
	typing.Changed()
	return nil
}

// Reconnect is the manual retry once automatic reconnection gave up.
func (c *Controller) Reconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNoActiveRoom
	}
	return conn.Reconnect()
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		RoomID:       c.target.RoomID,
		PeerID:       c.target.PeerID,
		Messages:     []domain.Message{},
		Connection:   c.state.String(),
		Disconnected: c.disconnected,
		PeerTyping:   c.peerTyping,
		TypingUser:   c.typingUser,
		Online:       make([]string, 0, len(c.online)),
		Error:        c.lastErr,
	}
	if c.list != nil {
		v.Messages = c.list.Snapshot()
	}
	for id := range c.online {
		v.Online = append(v.Online, id)
	}
	slices.Sort(v.Online)
	return v
}

// OnChange registers fn for every view change and returns its unsubscribe
// function. fn runs synchronously and must not block.
func (c *Controller) OnChange(fn func(View)) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			delete(c.listeners, id)
			c.lmu.Unlock()
		})
	}
}

// Close tears down the open room. The controller cannot be reused.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	prev := c.detachLocked()
	c.mu.Unlock()

	prev.release()
}

func (c *Controller) confirmed(id string) (*reconcile.List, error) {
	if domain.IsProvisionalID(id) {
		return nil, ErrNotConfirmed
	}
	c.mu.Lock()
	list := c.list
	c.mu.Unlock()
	if list == nil {
		return nil, domain.ErrNoActiveRoom
	}
	if _, ok := list.Get(id); !ok {
		return nil, domain.ErrMessageNotFound
	}
	return list, nil
}

type detached struct {
	conn      Connection
	unsub     func()
	typing    *TypingIndicator
	stopSweep chan struct{}
	roomID    string
}

func (c *Controller) detachLocked() detached {
	d := detached{conn: c.conn, unsub: c.unsub, typing: c.typing, stopSweep: c.stopSweep, roomID: c.target.RoomID}
	c.conn, c.unsub, c.typing, c.stopSweep = nil, nil, nil, nil
	return d
}

// release cancels the typing timer first so no stray typing:false reaches a
// connection that is going away.
func (d detached) release() {
	if d.typing != nil {
		d.typing.Stop()
	}
	if d.stopSweep != nil {
		close(d.stopSweep)
	}
	if d.unsub != nil {
		d.unsub()
	}
	if d.conn != nil {
		if d.conn.State() == ws.Open {
			_ = d.conn.Send(ws.LeaveRoomFrame(d.roomID))
		}
		d.conn.Disconnect()
	}
}

func (c *Controller) handleState(gen uint64, s ws.State, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = s
	switch {
	case s == ws.Open:
		c.disconnected = false
	case errors.Is(err, ws.ErrReconnectExhausted):
		c.disconnected = true
		c.lastErr = err.Error()
	}
	conn, roomID := c.conn, c.target.RoomID
	c.mu.Unlock()

	if s == ws.Open && conn != nil {
		if err := conn.Send(ws.JoinRoomFrame(roomID)); err != nil {
			c.logger.Debug("join_room not sent", zap.Error(err))
		}
	}
	c.notify()
}

func (c *Controller) handleEvent(gen uint64, ev domain.InboundEvent) {
	c.mu.Lock()
	if gen != c.gen || c.list == nil {
		c.mu.Unlock()
		return
	}
	roomID := c.target.RoomID
	if ev.RoomID != "" && ev.RoomID != roomID {
		c.mu.Unlock()
		c.logger.Debug("ignoring event for another room",
			zap.String(string(logging.EventType), string(ev.Type)),
			zap.String(string(logging.RoomID), ev.RoomID))
		return
	}

	var (
		changed  bool
		live     *domain.Message
		presence *presenceChange
	)

	switch ev.Type {
	case domain.EventMessage:
		m := *ev.Message
		if m.RoomID == "" {
			m.RoomID = roomID
		}
		outcome := c.list.ApplyMessage(m)
		c.metrics.RecordReconcile(outcome.String())
		changed = outcome.Changed()
		if outcome == reconcile.Appended || outcome == reconcile.Promoted {
			live = &m
		}
		if c.peerTyping && m.SenderID != "" && m.SenderID != c.user.ID {
			c.peerTyping, c.typingUser = false, ""
			changed = true
		}

	case domain.EventMessageUpdated:
		outcome := c.list.ApplyUpdate(ev.MessageID, ev.Content, ev.UpdatedAt)
		c.metrics.RecordReconcile(outcome.String())
		changed = outcome.Changed()

	case domain.EventMessageDeleted:
		outcome := c.list.ApplyDelete(ev.MessageID)
		c.metrics.RecordReconcile(outcome.String())
		changed = outcome.Changed()

	case domain.EventTyping:
		if ev.UserID == c.user.ID || (c.target.PeerID != "" && ev.UserID != c.target.PeerID) {
			break
		}
		c.peerTyping = ev.IsTyping
		c.typingUser = ""
		if ev.IsTyping {
			c.typingUser = cmp.Or(ev.Username, ev.UserID)
		}
		changed = true

	case domain.EventOnline, domain.EventOffline, domain.EventUserJoined, domain.EventUserLeft:
		online, ok := ev.Presence()
		if !ok {
			break
		}
		if online {
			c.online[ev.UserID] = struct{}{}
		} else {
			delete(c.online, ev.UserID)
		}
		presence = &presenceChange{userID: ev.UserID, online: online}
		changed = true

	case domain.EventError:
		c.lastErr = ev.Error
		changed = true
	}
	pending := c.list.PendingCount()
	c.mu.Unlock()

	c.metrics.SetPending(pending)
	if live != nil && c.onMessage != nil {
		c.onMessage(*live)
	}
	if presence != nil && c.onPresence != nil {
		c.onPresence(presence.userID, presence.online)
	}
	if changed {
		c.notify()
	}
}

type presenceChange struct {
	userID string
	online bool
}

func (c *Controller) sweepPending(gen uint64, stop <-chan struct{}) {
	interval := max(c.cfg.PendingTimeout/4, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return
			}
			failed := c.list.MarkFailed(c.now().Add(-c.cfg.PendingTimeout))
			c.mu.Unlock()

			if len(failed) > 0 {
				c.logger.Warn("messages were not confirmed in time", zap.Strings("ids", failed))
				c.metrics.RecordSendFailure("timeout")
				c.notify()
			}
		}
	}
}

func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.lmu.Lock()
	fns := make([]func(View), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	if len(fns) == 0 {
		return
	}

	v := c.View()
	for _, fn := range fns {
		fn(v)
	}
}
