package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"microcred/internal/credential/models"
)

// Store is the behaviour shared by the reservation stores.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (*Entry, error)
	Complete(ctx context.Context, key, fingerprint string, receipt *models.Receipt, ttl time.Duration) error
	MarkUnrecorded(ctx context.Context, key, fingerprint, mint string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type ReservationSuite struct {
	suite.Suite
	newStore func() Store
	store    Store
	ctx      context.Context
}

func (s *ReservationSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
}

func TestInMemoryReservations(t *testing.T) {
	suite.Run(t, &ReservationSuite{newStore: func() Store { return NewInMemory() }})
}

func (s *ReservationSuite) TestFirstReserveWins() {
	existing, err := s.store.Reserve(s.ctx, "alice:k1", "fp", time.Minute)
	s.Require().NoError(err)
	s.Nil(existing)

	existing, err = s.store.Reserve(s.ctx, "alice:k1", "fp", time.Minute)
	s.Require().NoError(err)
	s.Require().NotNil(existing)
	s.True(existing.InFlight())
	s.Equal("fp", existing.Fingerprint)
}

func (s *ReservationSuite) TestCompleteStoresReceipt() {
	_, err := s.store.Reserve(s.ctx, "alice:k1", "fp", time.Minute)
	s.Require().NoError(err)
	receipt := &models.Receipt{CertID: "cert-1", TxHash: "tx-sim-abcdefgh", Mode: models.ModeSimulated}
	s.Require().NoError(s.store.Complete(s.ctx, "alice:k1", "fp", receipt, time.Minute))

	existing, err := s.store.Reserve(s.ctx, "alice:k1", "fp", time.Minute)
	s.Require().NoError(err)
	s.Require().NotNil(existing)
	s.False(existing.InFlight())
	s.Equal("cert-1", existing.Receipt.CertID)
	s.Equal("tx-sim-abcdefgh", existing.Receipt.TxHash)
}

func (s *ReservationSuite) TestMarkUnrecordedKeepsKeyTaken() {
	_, err := s.store.Reserve(s.ctx, "alice:k1", "fp", time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkUnrecorded(s.ctx, "alice:k1", "fp", "Mint111", time.Minute))

	existing, err := s.store.Reserve(s.ctx, "alice:k1", "fp", time.Minute)
	s.Require().NoError(err)
	s.Require().NotNil(existing)
	s.False(existing.InFlight())
	s.Nil(existing.Receipt)
	s.Equal("Mint111", existing.UnrecordedMint)
}

func (s *ReservationSuite) TestReleaseFreesKey() {
	_, err := s.store.Reserve(s.ctx, "alice:k1", "fp", time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Release(s.ctx, "alice:k1"))

	existing, err := s.store.Reserve(s.ctx, "alice:k1", "fp2", time.Minute)
	s.Require().NoError(err)
	s.Nil(existing)
}

func (s *ReservationSuite) TestKeysAreIndependent() {
	_, err := s.store.Reserve(s.ctx, "alice:k1", "fp", time.Minute)
	s.Require().NoError(err)

	existing, err := s.store.Reserve(s.ctx, "bob:k1", "fp", time.Minute)
	s.Require().NoError(err)
	s.Nil(existing)
}

func TestInMemory_Expiry(t *testing.T) {
	store := NewInMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if existing, _ := store.Reserve(ctx, "k", "fp", time.Minute); existing != nil {
		t.Fatal("expected fresh reservation")
	}
	now = now.Add(2 * time.Minute)
	if existing, _ := store.Reserve(ctx, "k", "fp-new", time.Minute); existing != nil {
		t.Fatal("expected expired key to be reservable")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(&models.IssueRequest{UserID: "alice", Title: "Go"})
	b := Fingerprint(&models.IssueRequest{UserID: "alice", Title: "Go", IdempotencyKey: "other"})
	c := Fingerprint(&models.IssueRequest{UserID: "alic", Title: "eGo"})
	d := Fingerprint(&models.IssueRequest{UserID: "alice", Title: "Go", RecipientAddress: "R"})

	if a != b {
		t.Error("key must not affect the fingerprint")
	}
	if a == c {
		t.Error("field boundaries must be part of the fingerprint")
	}
	if a == d {
		t.Error("recipient must be part of the fingerprint")
	}
}

func TestScopedKey(t *testing.T) {
	assert.NotEqual(t, ScopedKey("a:b", "c"), ScopedKey("a", "b:c"))
	assert.NotEqual(t, ScopedKey("1:a", "b"), ScopedKey("1", "a:b"))
	assert.Equal(t, ScopedKey("alice", "k1"), ScopedKey("alice", "k1"))
	assert.NotEqual(t, ScopedKey("alice", "k1"), ScopedKey("bob", "k1"))
}
