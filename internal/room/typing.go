package room

import (
	"sync"
	"time"
)

const DefaultTypingIdle = 2 * time.Second

// TypingIndicator debounces local input into typing frames: true on the first
// change of a burst, false once input has been idle for the configured period.
// One timer is pending at most.
type TypingIndicator struct {
	idle time.Duration
	send func(typing bool)

	mu     sync.Mutex
	active bool
	timer  *time.Timer
	seq    uint64
}

func NewTypingIndicator(idle time.Duration, send func(typing bool)) *TypingIndicator {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingIndicator{idle: idle, send: send}
}

// Changed records one input change.
func (t *TypingIndicator) Changed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.seq++
	seq := t.seq
	t.timer = time.AfterFunc(t.idle, func() { t.expire(seq) })

	if !t.active {
		t.active = true
		t.send(true)
	}
}

// Stop cancels the pending timer without emitting anything.
func (t *TypingIndicator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.seq++
	t.active = false
}

func (t *TypingIndicator) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *TypingIndicator) expire(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// a later keystroke or Stop already replaced this timer
	if seq != t.seq || !t.active {
		return
	}
	t.timer = nil
	t.active = false
	t.send(false)
}
