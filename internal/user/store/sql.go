package store

import (
	"context"
	"fmt"

	"microcred/internal/platform/database"
	"microcred/internal/user/models"
	"microcred/pkg/platform/sentinel"
)

// SQLStore keeps users in a Postgres or SQLite table keyed by user_id.
type SQLStore struct {
	db    *database.DB
	table string
}

func NewSQL(db *database.DB, table string) *SQLStore {
	return &SQLStore{db: db, table: database.QuoteTable(table)}
}

// CreateIfAbsent relies on the primary key so two concurrent registrations of
// the same id cannot both succeed.
func (s *SQLStore) CreateIfAbsent(ctx context.Context, user *models.User) error {
	var email any
	if user.Email != "" {
		email = user.Email
	}
	query := s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (user_id, password_hash, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, s.table))
	res, err := s.db.Writer.ExecContext(ctx, query,
		user.UserID,
		user.PasswordHash,
		email,
		s.db.TimeArg(user.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}
