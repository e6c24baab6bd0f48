package ws

import (
	"sync"

	"github.com/hilthontt/roomsync/internal/domain"
)

// Handler receives every decoded inbound event, in arrival order.
type Handler func(domain.InboundEvent)

// subscribers is keyed by registration, never by handler identity.
type subscribers struct {
	handlers map[uint64]Handler
	order    []uint64
	nextID   uint64
	mu       sync.RWMutex
}

func newSubscribers() *subscribers {
	return &subscribers{handlers: make(map[uint64]Handler)}
}

func (s *subscribers) add(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.handlers[id] = h
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[id]; !ok {
		return
	}
	delete(s.handlers, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *subscribers) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = make(map[uint64]Handler)
	s.order = nil
}

func (s *subscribers) snapshot() []Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Handler, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.handlers[id])
	}
	return out
}

func (s *subscribers) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}
