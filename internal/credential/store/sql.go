package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"microcred/internal/credential/models"
	"microcred/internal/platform/database"
)

// SQLStore persists records in a Postgres or SQLite table. Insertion order is
// kept by the table's seq column.
type SQLStore struct {
	db    *database.DB
	table string
}

// NewSQL returns a store over table. The table name is quoted, not validated.
func NewSQL(db *database.DB, table string) *SQLStore {
	return &SQLStore{db: db, table: database.QuoteTable(table)}
}

func (s *SQLStore) Put(ctx context.Context, record *models.Record) error {
	var metadata any
	if record.Metadata != nil {
		raw, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = string(raw)
	}

	query := s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (cert_id, user_id, title, tx_hash, date_issued, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cert_id) DO UPDATE SET
			user_id = excluded.user_id,
			title = excluded.title,
			tx_hash = excluded.tx_hash,
			date_issued = excluded.date_issued,
			metadata = excluded.metadata
	`, s.table))
	_, err := s.db.Writer.ExecContext(ctx, query,
		record.CertID,
		record.UserID,
		record.Title,
		record.TxHash,
		s.db.TimeArg(record.DateIssued),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("put credential %s: %w", record.CertID, err)
	}
	return nil
}

func (s *SQLStore) ListByUser(ctx context.Context, userID string) ([]*models.Record, error) {
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT cert_id, user_id, title, tx_hash, date_issued, metadata
		FROM %s
		WHERE user_id = $1
		ORDER BY seq
	`, s.table))
	rows, err := s.db.Reader.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		r        models.Record
		issued   database.Time
		metadata sql.NullString
	)
	if err := row.Scan(&r.CertID, &r.UserID, &r.Title, &r.TxHash, &issued, &metadata); err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	r.DateIssued = issued.Time
	if metadata.Valid && metadata.String != "" {
		var m models.Metadata
		if err := json.Unmarshal([]byte(metadata.String), &m); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.CertID, err)
		}
		r.Metadata = &m
	}
	return &r, nil
}
