package event

import "sync"

// Scope tracks a set of subscriptions on one Bus and disposes them all in a
// single step. The hub gives every connection its own Scope so that a
// disconnect tears down exactly its subscriptions and nothing else.
type Scope struct {
	bus *Bus

	mu     sync.Mutex
	ids    []string
	closed bool
}

// NewScope creates an empty subscription scope on the given bus.
func NewScope(bus *Bus) *Scope {
	return &Scope{bus: bus}
}

// Subscribe registers a handler for eventType and tracks the subscription
// for later disposal. Subscribing on a closed scope is a no-op.
func (s *Scope) Subscribe(eventType string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.ids = append(s.ids, s.bus.Subscribe(eventType, handler))
}

// Close unsubscribes every tracked handler. It is idempotent; only the
// first call performs any work. A failed unsubscribe (already-removed ID)
// does not stop disposal of the rest.
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for _, id := range s.ids {
		s.bus.Unsubscribe(id)
	}
	s.ids = nil
}

// Len returns the number of live subscriptions held by the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
