package dbtest

import (
	"context"
	"testing"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

func TestOpen_AppliesMigrations(t *testing.T) {
	db := Open(t)
	v, err := database.MigrationVersion(context.Background(), db.DB)
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}
