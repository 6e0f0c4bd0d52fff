package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"microcred/internal/platform/database"
	"microcred/internal/user/models"
	"microcred/pkg/platform/sentinel"
)

type Store interface {
	CreateIfAbsent(ctx context.Context, user *models.User) error
}

// lookup reads a stored user back without going through the store API.
type lookup func(ctx context.Context, userID string) (*models.User, error)

// UserStoreSuite runs the same invariants over every implementation.
type UserStoreSuite struct {
	suite.Suite
	newStore func() (Store, lookup)
	store    Store
	find     lookup
	ctx      context.Context
}

func (s *UserStoreSuite) SetupTest() {
	s.store, s.find = s.newStore()
	s.ctx = context.Background()
}

func TestInMemoryUserStore(t *testing.T) {
	suite.Run(t, &UserStoreSuite{newStore: func() (Store, lookup) {
		m := NewInMemory()
		return m, func(_ context.Context, userID string) (*models.User, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			u, ok := m.users[userID]
			if !ok {
				return nil, sentinel.ErrNotFound
			}
			cp := *u
			return &cp, nil
		}
	}})
}

func TestSQLiteUserStore(t *testing.T) {
	n := 0
	suite.Run(t, &UserStoreSuite{newStore: func() (Store, lookup) {
		n++
		db, err := database.OpenSQLiteMemory(context.Background(), fmt.Sprintf("users_%d", n))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		if err := database.RunMigrations(db); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return NewSQL(db, "users"), func(ctx context.Context, userID string) (*models.User, error) {
			return selectUser(ctx, db, userID)
		}
	}})
}

func selectUser(ctx context.Context, db *database.DB, userID string) (*models.User, error) {
	var (
		u       models.User
		email   sql.NullString
		created database.Time
	)
	err := db.Reader.QueryRowContext(ctx,
		db.Rebind(`SELECT user_id, password_hash, email, created_at FROM users WHERE user_id = $1`),
		userID,
	).Scan(&u.UserID, &u.PasswordHash, &email, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.CreatedAt = created.Time
	return &u, nil
}

func (s *UserStoreSuite) user(id string) *models.User {
	return &models.User{
		UserID:       id,
		PasswordHash: "hash-" + id,
		Email:        id + "@example.com",
		CreatedAt:    time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
}

func (s *UserStoreSuite) TestCreateAndFind() {
	s.Require().NoError(s.store.CreateIfAbsent(s.ctx, s.user("alice")))

	got, err := s.find(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("alice", got.UserID)
	s.Equal("hash-alice", got.PasswordHash)
	s.Equal("alice@example.com", got.Email)
	s.True(got.CreatedAt.Equal(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)))
}

func (s *UserStoreSuite) TestDuplicateDoesNotOverwrite() {
	s.Require().NoError(s.store.CreateIfAbsent(s.ctx, s.user("alice")))

	second := s.user("alice")
	second.PasswordHash = "other"
	s.ErrorIs(s.store.CreateIfAbsent(s.ctx, second), sentinel.ErrAlreadyUsed)

	got, err := s.find(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("hash-alice", got.PasswordHash)
}

func (s *UserStoreSuite) TestMissingUser() {
	_, err := s.find(s.ctx, "ghost")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *UserStoreSuite) TestEmailIsOptional() {
	u := s.user("bob")
	u.Email = ""
	s.Require().NoError(s.store.CreateIfAbsent(s.ctx, u))

	got, err := s.find(s.ctx, "bob")
	s.Require().NoError(err)
	s.Empty(got.Email)
}

func (s *UserStoreSuite) TestConcurrentRegistrationHasOneWinner() {
	const racers = 10
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := s.user("carol")
			u.PasswordHash = fmt.Sprintf("hash-%d", i)
			if err := s.store.CreateIfAbsent(s.ctx, u); err == nil {
				wins.Add(1)
			} else {
				s.ErrorIs(err, sentinel.ErrAlreadyUsed)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}
