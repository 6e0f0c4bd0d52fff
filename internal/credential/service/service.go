package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"microcred/internal/audit"
	"microcred/internal/credential/idempotency"
	credmetrics "microcred/internal/credential/metrics"
	"microcred/internal/credential/models"
)

// RecordStore persists issued credentials.
type RecordStore interface {
	Put(ctx context.Context, record *models.Record) error
	ListByUser(ctx context.Context, userID string) ([]*models.Record, error)
}

// Ledger is the subset of the ledger client the service drives.
type Ledger interface {
	IssuerAddress() string
	ValidateAddress(addr string) error
	CreateMint(ctx context.Context, decimals uint8) (string, error)
	GetOrCreateHolderAccount(ctx context.Context, mint, owner string) (string, error)
	MintTo(ctx context.Context, mint, account string, amount uint64) (string, error)
	Balance(ctx context.Context, account string) (uint64, error)
	RequestUnits(ctx context.Context, address string) (string, error)
}

// IdempotencyStore holds issuance reservations keyed by caller-supplied keys.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (*idempotency.Entry, error)
	Complete(ctx context.Context, key, fingerprint string, receipt *models.Receipt, ttl time.Duration) error
	MarkUnrecorded(ctx context.Context, key, fingerprint, mint string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service issues, lists and verifies credentials. Without a ledger it runs in
// simulated mode only.
type Service struct {
	records        RecordStore
	ledger         Ledger
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *credmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithLedger enables chain-backed issuance, verification and the faucet.
func WithLedger(l Ledger) Option {
	return func(s *Service) {
		s.ledger = l
	}
}

// WithIdempotency replaces the in-memory reservation store.
func WithIdempotency(store IdempotencyStore, ttl time.Duration) Option {
	return func(s *Service) {
		s.idempotency = store
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *credmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(records RecordStore, opts ...Option) (*Service, error) {
	if records == nil {
		return nil, errors.New("record store is required")
	}
	s := &Service{
		records:        records,
		idempotency:    idempotency.NewInMemory(),
		idempotencyTTL: idempotency.DefaultTTL,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ChainBacked reports whether a ledger is configured.
func (s *Service) ChainBacked() bool {
	return s.ledger != nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", string(event.Action),
			"error", err,
		)
	}
}
