// Package conversations keeps the sidebar summaries of every room the user
// belongs to: a periodic full reload with live messages layered on top.
package conversations

import (
	"context"
	"sync"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/hilthontt/roomsync/internal/infrastructure/tracing"
	"github.com/hilthontt/roomsync/internal/reconcile"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultPollInterval = 10 * time.Second

// Source loads the complete summary list. *api.Client satisfies it.
type Source interface {
	LoadConversations(ctx context.Context, currentUserID string) ([]domain.ConversationSummary, error)
}

type SessionSource interface {
	Load() (domain.Session, error)
}

type Option func(*Synchronizer)

func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) { s.logger = logging.For(l, logging.Conversations, logging.Poll) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Synchronizer) { s.tracer = t }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithDedupWindow(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.window = d
		}
	}
}

// Synchronizer replaces its summaries on every poll. Live messages and
// presence are applied in between; poll and live updates race and the last
// write wins. Unread counts and presence are client-side only, so they carry
// over a reload.
type Synchronizer struct {
	source   Source
	session  SessionSource
	interval time.Duration
	window   time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	mu        sync.RWMutex
	summaries []domain.ConversationSummary
	userID    string
	active    string
	unread    map[string]int
	online    map[string]bool
	loaded    bool
	// gen is bumped by Reset; polls started before it are discarded.
	gen uint64

	lmu       sync.Mutex
	listeners map[uint64]func([]domain.ConversationSummary)
	nextID    uint64
}

func NewSynchronizer(source Source, session SessionSource, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		source:    source,
		session:   session,
		interval:  DefaultPollInterval,
		window:    reconcile.DefaultDedupWindow,
		logger:    zap.NewNop(),
		tracer:    tracing.GetTracer("roomsync/conversations"),
		unread:    make(map[string]int),
		online:    make(map[string]bool),
		listeners: make(map[uint64]func([]domain.ConversationSummary)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run polls immediately and then on every interval until ctx is done. Poll
// failures are logged and keep the previous list.
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("conversation poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Refresh performs one full reload.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	sess, err := s.session.Load()
	if err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "conversations.Refresh")
	defer span.End()

	s.mu.RLock()
	gen := s.gen
	s.mu.RUnlock()

	start := time.Now()
	summaries, err := s.source.LoadConversations(ctx, sess.User.ID)
	s.metrics.ObservePoll(time.Since(start), len(summaries), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("conversations.count", len(summaries)))

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale conversation poll", zap.String("userId", sess.User.ID))
		return nil
	}
	if s.userID != sess.User.ID {
		// another account: drop the previous user's overlays
		s.unread = make(map[string]int)
		s.online = make(map[string]bool)
		s.active = ""
	}
	s.userID = sess.User.ID
	for i := range summaries {
		s.overlayLocked(&summaries[i])
	}
	s.summaries = summaries
	s.loaded = true
	s.mu.Unlock()

	s.logger.Debug("conversations refreshed", zap.Int("count", len(summaries)))
	s.notify()
	return nil
}

// ApplyLive layers a live message onto its room's last message using the
// reconciliation rule. Messages from other users bump the unread count unless
// their room is the active one. It reports whether anything changed.
func (s *Synchronizer) ApplyLive(m domain.Message) bool {
	s.mu.Lock()
	i := s.indexLocked(m.RoomID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	sum := &s.summaries[i]
	merged, outcome := reconcile.MergeLast(sum.LastMessage, m, s.window)
	if !outcome.Changed() {
		s.mu.Unlock()
		return false
	}
	sum.LastMessage = &merged
	if outcome == reconcile.Appended && m.SenderID != s.userID && m.RoomID != s.active {
		s.unread[m.RoomID]++
		sum.UnreadCount = s.unread[m.RoomID]
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// SetActive names the room the user is looking at and marks it read.
func (s *Synchronizer) SetActive(roomID string) {
	s.mu.Lock()
	s.active = roomID
	s.mu.Unlock()

	if roomID != "" {
		s.MarkRead(roomID)
	}
}

func (s *Synchronizer) MarkRead(roomID string) {
	s.mu.Lock()
	delete(s.unread, roomID)
	i := s.indexLocked(roomID)
	changed := i >= 0 && s.summaries[i].UnreadCount != 0
	if i >= 0 {
		s.summaries[i].UnreadCount = 0
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// SetPresence toggles the online flag of every direct conversation with userID.
func (s *Synchronizer) SetPresence(userID string, online bool) {
	s.mu.Lock()
	s.online[userID] = online
	changed := false
	for i := range s.summaries {
		if s.summaries[i].PeerID == userID && s.summaries[i].PeerOnline != online {
			s.summaries[i].PeerOnline = online
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// Summaries returns a copy of the current list and whether a poll has landed.
func (s *Synchronizer) Summaries() ([]domain.ConversationSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cpy := make([]domain.ConversationSummary, len(s.summaries))
	copy(cpy, s.summaries)
	return cpy, s.loaded
}

func (s *Synchronizer) Get(roomID string) (domain.ConversationSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(roomID)
	if i < 0 {
		return domain.ConversationSummary{}, false
	}
	return s.summaries[i], true
}

// Reset forgets everything, used on logout.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.gen++
	s.summaries = nil
	s.userID, s.active = "", ""
	s.unread = make(map[string]int)
	s.online = make(map[string]bool)
	s.loaded = false
	s.mu.Unlock()

	s.notify()
}

// OnChange registers fn for every list change; fn must not block.
func (s *Synchronizer) OnChange(fn func([]domain.ConversationSummary)) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Synchronizer) overlayLocked(sum *domain.ConversationSummary) {
	sum.UnreadCount = s.unread[sum.RoomID]
	if sum.PeerID != "" {
		if online, ok := s.online[sum.PeerID]; ok {
			sum.PeerOnline = online
		}
	}
}

func (s *Synchronizer) indexLocked(roomID string) int {
	for i := range s.summaries {
		if s.summaries[i].RoomID == roomID {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) notify() {
	s.lmu.Lock()
	fns := make([]func([]domain.ConversationSummary), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	if len(fns) == 0 {
		return
	}

	list, _ := s.Summaries()
	for _, fn := range fns {
		fn(list)
	}
}
