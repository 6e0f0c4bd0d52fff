package audit

import (
	"context"
	"sync"
)

// Sink persists or forwards audit events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// InMemorySink keeps events per user in process memory.
type InMemorySink struct {
	mu     sync.RWMutex
	events map[string][]Event
	order  []Event
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{events: make(map[string][]Event)}
}

func (s *InMemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.UserID] = append(s.events[event.UserID], event)
	s.order = append(s.order, event)
	return nil
}

func (s *InMemorySink) ListByUser(_ context.Context, userID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[userID]...), nil
}

// ListAll returns every event in append order.
func (s *InMemorySink) ListAll(_ context.Context) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.order...), nil
}
