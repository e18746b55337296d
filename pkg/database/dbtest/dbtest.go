// Package dbtest opens the Postgres database used by integration tests.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// Open connects to TEST_DATABASE_URL, applies migrations and empties the
// auth tables. Tests are skipped when the variable is unset.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Open(database.Config{DSN: dsn, MaxConns: 2})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	ctx := context.Background()
	if err := database.Migrate(ctx, db.DB); err != nil {
		db.Close()
		t.Fatalf("migrate test db: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE sessions, users`); err != nil {
		db.Close()
		t.Fatalf("truncate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
