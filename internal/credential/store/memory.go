// Package store persists credential records.
package store

import (
	"context"
	"sync"

	"microcred/internal/credential/models"
)

// InMemory keeps records in process memory in insertion order.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*models.Record
	order   []string
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]*models.Record)}
}

// Put upserts by CertID. An upsert keeps the record's original position.
func (s *InMemory) Put(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.CertID]; !ok {
		s.order = append(s.order, record.CertID)
	}
	cp := *record
	s.records[record.CertID] = &cp
	return nil
}

func (s *InMemory) ListByUser(_ context.Context, userID string) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Record, 0)
	for _, certID := range s.order {
		r := s.records[certID]
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}
