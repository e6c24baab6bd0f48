// Package ws owns the client side of one room socket: dialing, bounded
// reconnection, frame decoding and fan-out to subscribers.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

var (
	ErrNotConnected       = errors.New("socket is not connected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrTerminated         = errors.New("connection was disconnected")
	ErrNoRoom             = errors.New("no room to connect to")
)

const DefaultHandshakeTimeout = 10 * time.Second

// StateListener observes transitions. err is set on Closed: the close cause, or
// ErrReconnectExhausted once the retry policy gives up. Listeners must not block.
type StateListener func(state State, err error)

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = logging.For(l, logging.Socket, logging.ExternalService) }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

func WithStateListener(fn StateListener) Option {
	return func(m *Manager) { m.onState = fn }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.handshakeTimeout = d }
}

// WithPingInterval sends a ping frame on this period while open. Zero disables it.
func WithPingInterval(d time.Duration) Option {
	return func(m *Manager) { m.pingInterval = d }
}

// Manager holds at most one live socket. Each Connect starts a new generation;
// callbacks from older generations are ignored.
type Manager struct {
	baseURL          string
	dialer           Dialer
	policy           RetryPolicy
	handshakeTimeout time.Duration
	pingInterval     time.Duration
	logger           *zap.Logger
	metrics          *metrics.Metrics
	onState          StateListener
	subs             *subscribers

	mu       sync.Mutex
	emitMu   sync.Mutex
	state    State
	roomID   string
	token    string
	conn     *connWrapper
	gen      uint64
	attempts int
	retry    backoff.BackOff
	timer    *time.Timer
}

// NewManager targets <baseURL>/ws/<roomId>. baseURL is a ws:// or wss:// origin.
func NewManager(baseURL string, opts ...Option) *Manager {
	m := &Manager{
		baseURL:          strings.TrimRight(baseURL, "/"),
		policy:           DefaultRetryPolicy(),
		handshakeTimeout: DefaultHandshakeTimeout,
		logger:           zap.NewNop(),
		subs:             newSubscribers(),
		state:            Idle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = NewDialer(m.handshakeTimeout)
	}
	return m
}

// Connect tears down any existing socket and dials the room in the background.
func (m *Manager) Connect(roomID, token string) error {
	if roomID == "" {
		return ErrNoRoom
	}

	m.mu.Lock()
	old := m.teardownLocked()
	m.gen++
	gen := m.gen
	m.roomID, m.token = roomID, token
	m.attempts = 0
	m.retry = m.policy.NewBackOff()
	m.state = Connecting
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	m.emit(Connecting, nil)

	go m.dial(gen)
	return nil
}

// Reconnect is the manual affordance after the retry policy gave up.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	state, roomID, token := m.state, m.roomID, m.token
	m.mu.Unlock()

	switch {
	case state == Terminated:
		return ErrTerminated
	case roomID == "":
		return ErrNoRoom
	}
	return m.Connect(roomID, token)
}

// Send writes frame only while open.
func (m *Manager) Send(frame OutboundFrame) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if state != Open || conn == nil {
		m.metrics.RecordSendFailure("not_connected")
		m.logger.Warn("send while not connected",
			zap.String(string(logging.EventType), string(frame.Type)),
			zap.Stringer(string(logging.State), state))
		return ErrNotConnected
	}

	if err := conn.WriteJSON(frame); err != nil {
		m.metrics.RecordSendFailure("write")
		m.logger.Warn("write failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Subscribe registers h for every decoded event and returns its unsubscribe
// function. Handlers are not deduplicated: every call is a separate
// registration, so subscribing the same function twice delivers each event
// twice, and each returned function removes only its own registration.
// Unsubscribing twice is harmless.
func (m *Manager) Subscribe(h Handler) func() {
	return m.subs.add(h)
}

// Disconnect closes the socket, cancels any pending reconnect and drops every
// subscriber. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == Terminated {
		m.mu.Unlock()
		return
	}
	old := m.teardownLocked()
	m.gen++
	m.state = Terminated
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	m.subs.clear()
	m.emit(Terminated, nil)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts is the number of reconnects scheduled during the current outage.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) RoomID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

func (m *Manager) Subscribers() int {
	return m.subs.len()
}

func (m *Manager) teardownLocked() *connWrapper {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	old := m.conn
	m.conn = nil
	return old
}

func (m *Manager) dial(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	endpoint := m.endpoint(m.roomID, m.token)
	roomID := m.roomID
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.handshakeTimeout)
	conn, err := m.dialer.DialContext(ctx, endpoint, nil)
	cancel()

	if err != nil {
		m.logger.Warn("dial failed", zap.String(string(logging.RoomID), roomID), zap.Error(err))
		m.handleClose(gen, nil, err)
		return
	}

	wrapped := newConnWrapper(conn)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		wrapped.Close()
		return
	}
	m.conn = wrapped
	m.attempts = 0
	m.retry.Reset()
	m.state = Open
	m.mu.Unlock()

	m.logger.Info("connected", zap.String(string(logging.RoomID), roomID))
	m.emit(Open, nil)

	if m.pingInterval > 0 {
		go m.keepAlive(wrapped)
	}
	m.readLoop(gen, wrapped)
}

func (m *Manager) readLoop(gen uint64, conn *connWrapper) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, conn, err)
			return
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			m.metrics.RecordDroppedFrame()
			m.logger.Debug("dropping malformed frame", zap.ByteString("frame", truncate(data, 256)))
			continue
		}
		m.metrics.RecordFrame(string(ev.Type))

		if !m.current(gen) {
			return
		}
		for _, h := range m.subs.snapshot() {
			h(ev)
		}
	}
}

func (m *Manager) keepAlive(conn *connWrapper) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(PingFrame()); err != nil {
				return
			}
		}
	}
}

// handleClose reacts to an unexpected close or a failed dial. Intentional
// teardowns have already moved to a newer generation and are ignored here.
func (m *Manager) handleClose(gen uint64, conn *connWrapper, cause error) {
	m.mu.Lock()
	if gen != m.gen || (conn != nil && m.conn != conn) {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = Closed

	if m.attempts >= m.policy.MaxAttempts {
		attempts := m.attempts
		m.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		m.logger.Error("giving up on reconnection",
			zap.Int(string(logging.Attempt), attempts), zap.Error(cause))
		m.emit(Closed, fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, attempts, cause))
		return
	}

	delay := m.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = m.policy.Delay
	}
	m.attempts++
	attempt := m.attempts
	m.state = Reconnecting
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.metrics.RecordReconnect()
	m.logger.Info("scheduling reconnect",
		zap.Int(string(logging.Attempt), attempt),
		zap.Int("maxAttempts", m.policy.MaxAttempts),
		zap.Duration(string(logging.Delay), delay),
		zap.NamedError("cause", cause))
	m.emit(Closed, cause)
	m.emit(Reconnecting, nil)

	// The timer is armed only after both states are out, so Connecting can
	// never be reported ahead of the Reconnecting that precedes it.
	m.mu.Lock()
	if gen == m.gen && m.state == Reconnecting {
		m.timer = time.AfterFunc(delay, func() { m.redial(gen) })
	}
	m.mu.Unlock()
}

func (m *Manager) redial(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.state = Connecting
	m.mu.Unlock()

	m.emit(Connecting, nil)
	m.dial(gen)
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) emit(state State, err error) {
	m.metrics.RecordState(state.String())

	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if m.onState != nil {
		m.onState(state, err)
	}
}

func (m *Manager) endpoint(roomID, token string) string {
	return fmt.Sprintf("%s/ws/%s?token=%s", m.baseURL, url.PathEscape(roomID), url.QueryEscape(token))
}

// BaseURLFromHTTP derives the socket origin from the REST origin.
func BaseURLFromHTTP(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil {
		return apiBase
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = ""
	u.RawQuery = ""
	return strings.TrimRight(u.String(), "/")
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
