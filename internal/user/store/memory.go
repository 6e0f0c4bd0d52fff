// Package store persists registered users.
package store

import (
	"context"
	"sync"

	"microcred/internal/user/models"
	"microcred/pkg/platform/sentinel"
)

type InMemory struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func NewInMemory() *InMemory {
	return &InMemory{users: make(map[string]*models.User)}
}

// CreateIfAbsent inserts user unless the id is taken, in which case it returns
// sentinel.ErrAlreadyUsed and leaves the existing user untouched.
func (s *InMemory) CreateIfAbsent(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.UserID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	cp := *user
	s.users[user.UserID] = &cp
	return nil
}
