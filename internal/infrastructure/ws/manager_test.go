package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// chatServer stands in for the room socket endpoint of the chat service.
type chatServer struct {
	*httptest.Server
	onConnect func(conn *websocket.Conn, n int)

	mu       sync.Mutex
	conns    []*websocket.Conn
	rooms    []string
	tokens   []string
	received [][]byte
	closed   int
}

func newChatServer(t *testing.T, onConnect func(conn *websocket.Conn, n int)) *chatServer {
	t.Helper()

	s := &chatServer{onConnect: onConnect}
	upgrader := websocket.Upgrader{}

	r := chi.NewRouter()
	r.Get("/ws/{roomId}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.rooms = append(s.rooms, chi.URLParam(r, "roomId"))
		s.tokens = append(s.tokens, r.URL.Query().Get("token"))
		n := len(s.conns)
		s.mu.Unlock()

		if s.onConnect != nil {
			s.onConnect(conn, n)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				s.mu.Lock()
				s.closed++
				s.mu.Unlock()
				return
			}
			s.mu.Lock()
			s.received = append(s.received, data)
			s.mu.Unlock()
		}
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *chatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *chatServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *chatServer) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *chatServer) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}

type eventSink struct {
	mu     sync.Mutex
	events []domain.InboundEvent
}

func (s *eventSink) handle(ev domain.InboundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) all() []domain.InboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.InboundEvent, len(s.events))
	copy(out, s.events)
	return out
}

type stateLog struct {
	mu     sync.Mutex
	states []State
	errs   []error
}

func (l *stateLog) record(s State, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
	l.errs = append(l.errs, err)
}

func (l *stateLog) sawError(target error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, err := range l.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Delay: 10 * time.Millisecond}
}

func TestManager_DeliversDecodedEventsInOrder(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, _ int) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","data":{"id":1,"user_id":2,"content":"hi","created_at":"2024-05-01T12:00:00"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing","data":{"user_id":2,"is_typing":false}}`))
	})

	mt := metrics.New()
	m := NewManager(srv.wsURL(), WithMetrics(mt), WithRetryPolicy(fastPolicy(5)))
	sink := &eventSink{}
	m.Subscribe(sink.handle)

	require.NoError(t, m.Connect("7", "secret token"))
	t.Cleanup(m.Disconnect)

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, waitFor, tick)
	events := sink.all()
	assert.Equal(t, domain.EventMessage, events[0].Type)
	require.NotNil(t, events[0].Message)
	assert.Equal(t, "1", events[0].Message.ID)
	assert.Equal(t, domain.EventTyping, events[1].Type)
	assert.False(t, events[1].IsTyping)

	assert.Equal(t, Open, m.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.FramesDropped))

	srv.mu.Lock()
	assert.Equal(t, "7", srv.rooms[0])
	assert.Equal(t, "secret token", srv.tokens[0])
	srv.mu.Unlock()
}

func TestManager_SendRequiresOpenSocket(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1")
	err := m.Send(PingFrame())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, Idle, m.State())
}

func TestManager_SendWritesFrame(t *testing.T) {
	srv := newChatServer(t, nil)
	m := NewManager(srv.wsURL())
	require.NoError(t, m.Connect("7", "tok"))
	t.Cleanup(m.Disconnect)
	require.Eventually(t, func() bool { return m.State() == Open }, waitFor, tick)

	msg := domain.NewPendingMessage("7", domain.User{ID: "1"}, "hola", time.Now())
	require.NoError(t, m.Send(MessageFrame(msg)))

	require.Eventually(t, func() bool { return len(srv.frames()) == 1 }, waitFor, tick)
	frame := gjson.ParseBytes(srv.frames()[0])
	assert.Equal(t, "message", frame.Get("type").String())
	assert.Equal(t, "hola", frame.Get("content").String())
	assert.Equal(t, msg.ClientID, frame.Get("client_id").String())
}

func TestManager_ReconnectsAndResetsAttempts(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, n int) {
		if n <= 2 {
			conn.Close()
		}
	})

	m := NewManager(srv.wsURL(), WithRetryPolicy(fastPolicy(5)))
	require.NoError(t, m.Connect("7", "tok"))
	t.Cleanup(m.Disconnect)

	require.Eventually(t, func() bool {
		return srv.connCount() == 3 && m.State() == Open
	}, waitFor, tick)
	assert.Equal(t, 0, m.Attempts())
}

func TestManager_SubscribersSurviveReconnect(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, n int) {
		if n == 1 {
			conn.Close()
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"online","data":{"user_id":9}}`))
	})

	m := NewManager(srv.wsURL(), WithRetryPolicy(fastPolicy(5)))
	sink := &eventSink{}
	m.Subscribe(sink.handle)
	require.NoError(t, m.Connect("7", "tok"))
	t.Cleanup(m.Disconnect)

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, waitFor, tick)
	assert.Equal(t, "9", sink.all()[0].UserID)
}

// failingDialer never connects and counts attempts.
type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) DialContext(context.Context, string, http.Header) (Conn, error) {
	d.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &failingDialer{}
	log := &stateLog{}
	m := NewManager("ws://chat.invalid",
		WithDialer(dialer),
		WithRetryPolicy(fastPolicy(3)),
		WithStateListener(log.record),
	)

	require.NoError(t, m.Connect("7", "tok"))
	require.Eventually(t, func() bool { return log.sawError(ErrReconnectExhausted) }, waitFor, tick)

	assert.Equal(t, Closed, m.State())
	assert.EqualValues(t, 4, dialer.calls.Load(), "initial dial plus three reconnects")
	assert.Equal(t, 3, m.Attempts())

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 4, dialer.calls.Load(), "no further attempts once exhausted")

	require.NoError(t, m.Reconnect())
	require.Eventually(t, func() bool { return dialer.calls.Load() == 8 && m.State() == Closed }, waitFor, tick)
}

func TestManager_ZeroAttemptsDisablesReconnect(t *testing.T) {
	dialer := &failingDialer{}
	log := &stateLog{}
	m := NewManager("ws://chat.invalid", WithDialer(dialer), WithRetryPolicy(RetryPolicy{}), WithStateListener(log.record))

	require.NoError(t, m.Connect("7", "tok"))
	require.Eventually(t, func() bool { return log.sawError(ErrReconnectExhausted) }, waitFor, tick)
	assert.EqualValues(t, 1, dialer.calls.Load())
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	srv := newChatServer(t, nil)
	log := &stateLog{}
	m := NewManager(srv.wsURL(), WithStateListener(log.record))
	m.Subscribe(func(domain.InboundEvent) {})
	require.NoError(t, m.Connect("7", "tok"))
	require.Eventually(t, func() bool { return m.State() == Open }, waitFor, tick)

	m.Disconnect()
	m.Disconnect()

	assert.Equal(t, Terminated, m.State())
	assert.Equal(t, 0, m.Subscribers())
	assert.ErrorIs(t, m.Reconnect(), ErrTerminated)

	log.mu.Lock()
	terminated := 0
	for _, s := range log.states {
		if s == Terminated {
			terminated++
		}
	}
	log.mu.Unlock()
	assert.Equal(t, 1, terminated)
}

func TestManager_DisconnectCancelsPendingReconnect(t *testing.T) {
	dialer := &failingDialer{}
	m := NewManager("ws://chat.invalid", WithDialer(dialer), WithRetryPolicy(RetryPolicy{MaxAttempts: 5, Delay: 50 * time.Millisecond}))

	require.NoError(t, m.Connect("7", "tok"))
	require.Eventually(t, func() bool { return m.State() == Reconnecting }, waitFor, tick)
	m.Disconnect()

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, dialer.calls.Load())
	assert.Equal(t, Terminated, m.State())
}

func TestManager_UnsubscribeStopsDelivery(t *testing.T) {
	push := make(chan string, 4)
	srv := newChatServer(t, func(conn *websocket.Conn, _ int) {
		go func() {
			for frame := range push {
				conn.WriteMessage(websocket.TextMessage, []byte(frame))
			}
		}()
	})
	t.Cleanup(func() { close(push) })

	m := NewManager(srv.wsURL())
	kept, dropped := &eventSink{}, &eventSink{}
	m.Subscribe(kept.handle)
	unsubscribe := m.Subscribe(dropped.handle)
	require.NoError(t, m.Connect("7", "tok"))
	t.Cleanup(m.Disconnect)
	require.Eventually(t, func() bool { return m.State() == Open }, waitFor, tick)

	push <- `{"type":"online","data":{"user_id":1}}`
	require.Eventually(t, func() bool { return len(dropped.all()) == 1 }, waitFor, tick)

	unsubscribe()
	unsubscribe()
	push <- `{"type":"offline","data":{"user_id":1}}`
	require.Eventually(t, func() bool { return len(kept.all()) == 2 }, waitFor, tick)
	assert.Len(t, dropped.all(), 1)
}

func TestManager_ConnectReplacesExistingSocket(t *testing.T) {
	srv := newChatServer(t, nil)
	m := NewManager(srv.wsURL())
	t.Cleanup(m.Disconnect)

	require.NoError(t, m.Connect("1", "tok"))
	require.Eventually(t, func() bool { return m.State() == Open }, waitFor, tick)

	require.NoError(t, m.Connect("2", "tok"))
	require.Eventually(t, func() bool { return srv.connCount() == 2 && m.State() == Open }, waitFor, tick)
	assert.Equal(t, "2", m.RoomID())
	require.Eventually(t, func() bool { return srv.closedCount() == 1 }, waitFor, tick, "previous socket is closed")
}

func TestManager_ConnectRequiresRoom(t *testing.T) {
	m := NewManager("ws://chat.invalid")
	assert.ErrorIs(t, m.Connect("", "tok"), ErrNoRoom)
}

func TestBaseURLFromHTTP(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000", BaseURLFromHTTP("http://localhost:8000/api/v1"))
	assert.Equal(t, "wss://chat.example.com", BaseURLFromHTTP("https://chat.example.com/"))
}

func TestRetryPolicy_NewBackOff(t *testing.T) {
	constant := DefaultRetryPolicy().NewBackOff()
	assert.Equal(t, 3*time.Second, constant.NextBackOff())
	assert.Equal(t, 3*time.Second, constant.NextBackOff())

	exp := RetryPolicy{MaxAttempts: 5, Delay: 100 * time.Millisecond, Exponential: true, Multiplier: 2, MaxDelay: 300 * time.Millisecond}.NewBackOff()
	assert.Equal(t, 100*time.Millisecond, exp.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, exp.NextBackOff())
	assert.Equal(t, 300*time.Millisecond, exp.NextBackOff())
	assert.Equal(t, 300*time.Millisecond, exp.NextBackOff())
}

func TestManager_ReconnectingIsReportedBeforeRedial(t *testing.T) {
	dialer := &failingDialer{}
	log := &stateLog{}
	slow := func(s State, err error) {
		// Hold the listener long enough for an early timer to fire.
		if s == Closed {
			time.Sleep(20 * time.Millisecond)
		}
		log.record(s, err)
	}
	m := NewManager("ws://chat.invalid",
		WithDialer(dialer),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}),
		WithStateListener(slow),
	)

	require.NoError(t, m.Connect("7", "tok"))
	require.Eventually(t, func() bool { return log.sawError(ErrReconnectExhausted) }, waitFor, tick)

	log.mu.Lock()
	states := append([]State(nil), log.states...)
	log.mu.Unlock()

	for i, s := range states {
		if s != Connecting || i == 0 {
			continue
		}
		assert.Equal(t, Reconnecting, states[i-1], "state sequence %v", states)
	}
	assert.Equal(t, Closed, states[len(states)-1])
}

func TestManager_SubscribingTwiceRegistersTwice(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, _ int) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing","data":{"user_id":2,"is_typing":true}}`))
	})

	m := NewManager(srv.wsURL(), WithRetryPolicy(fastPolicy(5)))
	sink := &eventSink{}
	first := m.Subscribe(sink.handle)
	m.Subscribe(sink.handle)
	assert.Equal(t, 2, m.Subscribers())

	require.NoError(t, m.Connect("7", "tok"))
	t.Cleanup(m.Disconnect)
	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, waitFor, tick)

	first()
	first()
	assert.Equal(t, 1, m.Subscribers(), "each handle removes only its own registration")
}
