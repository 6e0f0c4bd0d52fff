package service

import (
	"context"
	"errors"
	"log/slog"

	"microcred/internal/audit"
	"microcred/internal/platform/metrics"
	"microcred/internal/user/models"
	"microcred/internal/user/secrets"
	dErrors "microcred/pkg/domain-errors"
	"microcred/pkg/platform/sentinel"
	"microcred/pkg/requestcontext"
)

// Store persists users. CreateIfAbsent must be atomic and return
// sentinel.ErrAlreadyUsed for a taken id.
type Store interface {
	CreateIfAbsent(ctx context.Context, user *models.User) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service registers users and answers the demo login.
type Service struct {
	store          Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	hash           func(string) (string, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("user store is required")
	}
	s := &Service{
		store:  store,
		logger: slog.Default(),
		hash:   secrets.Hash,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a user. An existing id is a conflict and is never overwritten.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	user := &models.User{
		UserID:       req.UserID,
		PasswordHash: hash,
		Email:        req.Email,
		CreatedAt:    requestcontext.Now(ctx).UTC(),
	}
	if err := s.store.CreateIfAbsent(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "User already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyFailure, "failed to store user")
	}

	if s.metrics != nil {
		s.metrics.IncrementUsersRegistered()
	}
	s.logger.InfoContext(ctx, "user registered",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", user.UserID,
	)
	s.emit(ctx, audit.Event{
		Action:    audit.ActionUserRegistered,
		UserID:    user.UserID,
		RequestID: requestcontext.RequestID(ctx),
	})
	return user, nil
}

// Login accepts every request. It exists so the demo front end has something
// to call and leaves an audit trail of attempts. The password is never logged.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) error {
	req.Normalize()
	s.logger.InfoContext(ctx, "login attempted",
		"request_id", requestcontext.RequestID(ctx),
		"username", req.Username,
	)
	s.emit(ctx, audit.Event{
		Action:    audit.ActionLoginAttempted,
		UserID:    req.Username,
		RequestID: requestcontext.RequestID(ctx),
		Decision:  "accepted",
	})
	return nil
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
