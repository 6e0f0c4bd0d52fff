package idempotency

import (
	"context"
	"sync"
	"time"

	"microcred/internal/credential/models"
)

type memEntry struct {
	entry     Entry
	expiresAt time.Time
}

// InMemory keeps reservations in process memory. Expired keys are evicted lazily.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]memEntry), now: time.Now}
}

// Reserve claims key for fingerprint. It returns nil when the key was free and
// the existing entry otherwise.
func (s *InMemory) Reserve(_ context.Context, key, fingerprint string, ttl time.Duration) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		cp := e.entry
		return &cp, nil
	}
	s.entries[key] = memEntry{entry: Entry{Fingerprint: fingerprint}, expiresAt: now.Add(ttl)}
	return nil, nil
}

// Complete stores the receipt of the request that holds key.
func (s *InMemory) Complete(_ context.Context, key, fingerprint string, receipt *models.Receipt, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{
		entry:     Entry{Fingerprint: fingerprint, Receipt: receipt},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// MarkUnrecorded ends the reservation for key with a mint that has no record.
func (s *InMemory) MarkUnrecorded(_ context.Context, key, fingerprint, mint string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{
		entry:     Entry{Fingerprint: fingerprint, UnrecordedMint: mint},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Release forgets key so the request can be retried.
func (s *InMemory) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
