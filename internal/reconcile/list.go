// Package reconcile keeps the ordered message list of one open room, merging
// optimistic local sends with the server's confirmed echoes.
package reconcile

import (
	"sync"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
)

const (
	DefaultDedupWindow = 5 * time.Second
	DefaultCapacity    = 500
)

type Outcome int

const (
	Ignored Outcome = iota
	Appended
	Promoted
	Duplicate
	Updated
	Removed
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Promoted:
		return "promoted"
	case Duplicate:
		return "duplicate"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return "ignored"
	}
}

// Changed reports whether the outcome altered the list.
func (o Outcome) Changed() bool {
	return o != Ignored && o != Duplicate
}

type Options struct {
	// DedupWindow bounds the timestamp distance for heuristic echo matching.
	DedupWindow time.Duration
	// Capacity is the retained history size. Oldest entries are evicted first.
	Capacity int
}

// List is safe for concurrent use. Entries keep append order; nothing is
// re-sorted by timestamp.
type List struct {
	messages []domain.Message
	window   time.Duration
	capacity int
	mu       sync.RWMutex
}

func New(opts Options) *List {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &List{
		messages: make([]domain.Message, 0, 64),
		window:   opts.DedupWindow,
		capacity: opts.Capacity,
	}
}

// Seed replaces the whole list with fetched history.
func (l *List) Seed(history []domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = make([]domain.Message, 0, len(history))
	l.messages = append(l.messages, history...)
	l.evict()
}

// AddPending appends an optimistic send. Only provisional ids are accepted.
func (l *List) AddPending(m domain.Message) error {
	if !m.Pending() {
		return domain.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, m)
	l.evict()
	return nil
}

// ApplyMessage merges a confirmed message from the server.
//
// Resolution order: a known server id is a duplicate; a pending entry carrying
// the same client id is promoted; a pending entry matching on content, sender and
// time window is promoted; a confirmed entry matching the same way makes the
// event a duplicate; otherwise the message is appended.
func (l *List) ApplyMessage(m domain.Message) Outcome {
	if m.ID == "" || m.Pending() {
		return Ignored
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.indexOf(m.ID) >= 0 {
		return Duplicate
	}

	if m.ClientID != "" {
		for i := range l.messages {
			if l.messages[i].Pending() && l.messages[i].ClientID == m.ClientID {
				l.promote(i, m)
				return Promoted
			}
		}
	}

	confirmedMatch := false
	for i := range l.messages {
		if !Matches(l.messages[i], m, l.window) {
			continue
		}
		if l.messages[i].Pending() {
			l.promote(i, m)
			return Promoted
		}
		confirmedMatch = true
	}
	if confirmedMatch {
		return Duplicate
	}

	l.messages = append(l.messages, m)
	l.evict()
	return Appended
}

// ApplyUpdate edits a confirmed message in place. Unknown ids are a no-op.
func (l *List) ApplyUpdate(id, content string, updatedAt *time.Time) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(id)
	if i < 0 {
		return Ignored
	}
	l.messages[i].Content = content
	if updatedAt != nil {
		ts := *updatedAt
		l.messages[i].UpdatedAt = &ts
	}
	return Updated
}

// ApplyDelete removes a confirmed message, keeping the order of the rest.
func (l *List) ApplyDelete(id string) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(id)
	if i < 0 {
		return Ignored
	}
	l.remove(i)
	return Removed
}

// Retract drops a pending entry, used when its send never left the client.
func (l *List) Retract(id string) bool {
	if !domain.IsProvisionalID(id) {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.remove(i)
	return true
}

// MarkFailed flags pending entries created before cutoff and returns their ids.
// A failed entry can still be promoted by a late echo.
func (l *List) MarkFailed(cutoff time.Time) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []string
	for i := range l.messages {
		m := &l.messages[i]
		if m.Pending() && !m.Failed && m.CreatedAt.Before(cutoff) {
			m.Failed = true
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func (l *List) Get(id string) (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i := l.indexOf(id)
	if i < 0 {
		return domain.Message{}, false
	}
	return l.messages[i], true
}

// Snapshot returns a copy of the list in display order.
func (l *List) Snapshot() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cpy := make([]domain.Message, len(l.messages))
	copy(cpy, l.messages)
	return cpy
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

func (l *List) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, m := range l.messages {
		if m.Pending() {
			n++
		}
	}
	return n
}

// promote overwrites the pending entry at i with the confirmed message, keeping
// attachment details the echo does not carry.
func (l *List) promote(i int, confirmed domain.Message) {
	pending := l.messages[i]
	if confirmed.FileURL == "" {
		confirmed.FileURL = pending.FileURL
		confirmed.FileName = pending.FileName
		if confirmed.Type == "" || confirmed.Type == domain.TextMessage {
			confirmed.Type = pending.Type
		}
	}
	if confirmed.SenderName == "" {
		confirmed.SenderName = pending.SenderName
	}
	if confirmed.ClientID == "" {
		confirmed.ClientID = pending.ClientID
	}
	confirmed.Failed = false
	l.messages[i] = confirmed
}

func (l *List) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range l.messages {
		if l.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *List) remove(i int) {
	copy(l.messages[i:], l.messages[i+1:])
	l.messages[len(l.messages)-1] = domain.Message{}
	l.messages = l.messages[:len(l.messages)-1]
}

func (l *List) evict() {
	if excess := len(l.messages) - l.capacity; excess > 0 {
		l.messages = append(l.messages[:0:0], l.messages[excess:]...)
	}
}
