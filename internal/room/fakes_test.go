package room

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/api"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	onState ws.StateListener

	mu           sync.Mutex
	handlers     map[int]ws.Handler
	nextID       int
	frames       []ws.OutboundFrame
	roomID       string
	token        string
	state        ws.State
	connects     int
	reconnects   int
	disconnected bool
	sendErr      error
	stayClosed   bool
}

func (f *fakeConn) Connect(roomID, token string) error {
	f.mu.Lock()
	f.roomID, f.token = roomID, token
	f.connects++
	f.state = ws.Connecting
	open := !f.stayClosed
	if open {
		f.state = ws.Open
	}
	f.mu.Unlock()

	f.onState(ws.Connecting, nil)
	if open {
		f.onState(ws.Open, nil)
	}
	return nil
}

func (f *fakeConn) Reconnect() error {
	f.mu.Lock()
	f.reconnects++
	roomID, token := f.roomID, f.token
	f.mu.Unlock()
	return f.Connect(roomID, token)
}

func (f *fakeConn) Send(frame ws.OutboundFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != ws.Open {
		return ws.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Subscribe(h ws.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[int]ws.Handler)
	}
	f.nextID++
	id := f.nextID
	f.handlers[id] = h
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	f.disconnected = true
	f.state = ws.Terminated
	f.handlers = nil
	f.mu.Unlock()
	f.onState(ws.Terminated, nil)
}

func (f *fakeConn) State() ws.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) handlerSnapshot() []ws.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := make([]ws.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	return hs
}

// deliver pushes an inbound event to the subscribers, as the read loop would.
func (f *fakeConn) deliver(ev domain.InboundEvent) {
	for _, h := range f.handlerSnapshot() {
		h(ev)
	}
}

func (f *fakeConn) deliverRaw(raw string) {
	ev, err := ws.DecodeEvent([]byte(raw))
	if err != nil {
		panic(err)
	}
	f.deliver(ev)
}

// drop simulates the socket going away, optionally for good.
func (f *fakeConn) drop(cause error) {
	f.mu.Lock()
	f.state = ws.Closed
	f.mu.Unlock()
	f.onState(ws.Closed, cause)
}

func (f *fakeConn) sent() []ws.OutboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ws.OutboundFrame(nil), f.frames...)
}

func (f *fakeConn) sentOfType(t domain.EventType) []ws.OutboundFrame {
	var out []ws.OutboundFrame
	for _, fr := range f.sent() {
		if fr.Type == t {
			out = append(out, fr)
		}
	}
	return out
}

type fakeDialer struct {
	mu         sync.Mutex
	conns      []*fakeConn
	stayClosed bool
}

func (d *fakeDialer) factory(onState ws.StateListener) Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeConn{onState: onState, stayClosed: d.stayClosed}
	d.conns = append(d.conns, c)
	return c
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type fakeBackend struct {
	mu       sync.Mutex
	history  map[string][]domain.Message
	gates    map[string]chan struct{}
	fetchErr error
	edits    map[string]string
	deletes  map[string]bool
	editErr  error
	upload   api.Upload
	uploaded []api.File
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history: make(map[string][]domain.Message),
		gates:   make(map[string]chan struct{}),
		edits:   make(map[string]string),
		deletes: make(map[string]bool),
	}
}

func (b *fakeBackend) Latest(ctx context.Context, roomID string, _ int) ([]domain.Message, error) {
	b.mu.Lock()
	gate := b.gates[roomID]
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return append([]domain.Message(nil), b.history[roomID]...), nil
}

func (b *fakeBackend) Edit(_ context.Context, id, content string) (domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.editErr != nil {
		return domain.Message{}, b.editErr
	}
	b.edits[id] = content
	now := time.Now().UTC()
	return domain.Message{ID: id, Content: content, UpdatedAt: &now}, nil
}

func (b *fakeBackend) Delete(_ context.Context, id string, hard bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.editErr != nil {
		return b.editErr
	}
	b.deletes[id] = hard
	return nil
}

func (b *fakeBackend) Upload(_ context.Context, f api.File) (api.Upload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploaded = append(b.uploaded, f)
	return b.upload, nil
}

type staticSession struct {
	sess domain.Session
	err  error
}

func (s staticSession) Load() (domain.Session, error) {
	return s.sess, s.err
}

var alice = domain.User{ID: "1", Username: "alice"}

func aliceSession() staticSession {
	return staticSession{sess: domain.Session{Token: "jwt-alice", User: alice}}
}

func messageFrame(t *testing.T, id, roomID, userID, content, clientID string, at time.Time) string {
	t.Helper()
	data := map[string]any{
		"id":         wireID(id),
		"room_id":    wireID(roomID),
		"user_id":    wireID(userID),
		"content":    content,
		"created_at": at.UTC().Format(time.RFC3339Nano),
	}
	if clientID != "" {
		data["client_id"] = clientID
	}
	b, err := json.Marshal(map[string]any{"type": "message", "data": data})
	require.NoError(t, err)
	return string(b)
}

// wireID sends numeric ids as numbers like the chat service does.
func wireID(id string) any {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.Number(id)
	}
	return id
}
