package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"clawlegion/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, conn); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
	latest, err := Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	got, err := Version(ctx, conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if got != latest {
		t.Fatalf("expected version %d, got %d", latest, got)
	}
	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one schema_version row, got %d", n)
	}
}

func TestVersionOnFreshDatabase(t *testing.T) {
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "fresh.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	v, err := Version(context.Background(), conn)
	if err != nil || v != 0 {
		t.Fatalf("expected 0,nil got %d,%v", v, err)
	}
}
