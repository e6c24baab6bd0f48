package ratelimiter

import (
	"sync"
	"time"
)

// Limiter decides whether the caller identified by key may proceed now.
type Limiter interface {
	Allow(key string) (bool, time.Duration)
}

// FixedWindow admits at most limit calls per key in each aligned window.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*bucket
	sweepAt time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*bucket),
	}
}

func (l *FixedWindow) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	b, ok := l.windows[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Truncate(l.window).Add(l.window)}
		l.windows[key] = b
	}

	if b.count >= l.limit {
		return false, b.resetAt.Sub(now)
	}
	b.count++
	return true, 0
}

// sweep drops expired buckets at most once per window so idle keys don't pile up.
func (l *FixedWindow) sweep(now time.Time) {
	if now.Before(l.sweepAt) {
		return
	}
	for key, b := range l.windows {
		if !now.Before(b.resetAt) {
			delete(l.windows, key)
		}
	}
	l.sweepAt = now.Add(l.window)
}
