package reconcile

import (
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
)

// Matches is the echo heuristic: same content, same sender, and timestamps no
// further apart than window.
func Matches(a, b domain.Message, window time.Duration) bool {
	if a.Content != b.Content || a.SenderID != b.SenderID {
		return false
	}
	d := a.CreatedAt.Sub(b.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// MergeLast applies the list rule to a single "last message" slot, as used by
// conversation summaries. It returns the message that should occupy the slot.
func MergeLast(last *domain.Message, in domain.Message, window time.Duration) (domain.Message, Outcome) {
	if last == nil {
		return in, Appended
	}
	if in.ID != "" && in.ID == last.ID {
		return *last, Duplicate
	}
	if last.Pending() && ((in.ClientID != "" && in.ClientID == last.ClientID) || Matches(*last, in, window)) {
		return in, Promoted
	}
	if !last.Pending() && !in.Pending() && Matches(*last, in, window) {
		return *last, Duplicate
	}
	return in, Appended
}
