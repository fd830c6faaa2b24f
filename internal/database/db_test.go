package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "data", "history.db"))
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestNewDBAndMigrate(t *testing.T) {
	db := newTestDB(t)

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d migrations, got %d", len(migrations), count)
	}

	// Re-running is a no-op.
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected migrations to apply once, got %d rows", count)
	}
}

func TestBuildSQLiteDSNEnablesForeignKeys(t *testing.T) {
	dsn, err := buildSQLiteDSN("history.db")
	if err != nil {
		t.Fatalf("failed to build dsn: %v", err)
	}
	path, query, ok := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if !ok || !strings.HasSuffix(path, "/history.db") {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	if !strings.Contains(query, "foreign_keys(ON)") {
		t.Fatalf("expected foreign keys pragma in %s", dsn)
	}
}

func TestFailedMigrationLeavesNoTrace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	broken := Migration{
		Version: "999_broken",
		Up: `
CREATE TABLE half_done (id INTEGER PRIMARY KEY);
INSERT INTO no_such_table (id) VALUES (1);
`,
	}
	if err := db.applyMigration(ctx, broken); err == nil {
		t.Fatalf("expected broken migration to fail")
	}

	var tables int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'half_done'").Scan(&tables); err != nil {
		t.Fatalf("failed to inspect schema: %v", err)
	}
	if tables != 0 {
		t.Fatalf("expected partial schema change to be rolled back")
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		t.Fatalf("failed to read applied versions: %v", err)
	}
	if applied[broken.Version] || len(applied) != len(migrations) {
		t.Fatalf("unexpected applied versions %v", applied)
	}
}
