//go:build integration

package store

import (
	"context"
	"testing"

	"microcred/internal/platform/database"
	"microcred/pkg/testutil/containers"

	"github.com/stretchr/testify/suite"
)

func TestPostgresRecordStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()

	db, err := database.OpenPostgres(ctx, pg.URL, 4)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	suite.Run(t, &RecordStoreSuite{newStore: func() Store {
		if _, err := db.Writer.ExecContext(ctx, `TRUNCATE credentials RESTART IDENTITY`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return NewSQL(db, "credentials")
	}})
}
