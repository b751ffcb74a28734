package migrate_test

import (
	"strings"
	"testing"

	"github.com/martin3r-me/platforms-planner-sub000/internal/db"
	"github.com/martin3r-me/platforms-planner-sub000/internal/migrate"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var rows, version int
	if err := conn.QueryRow(`SELECT COUNT(*), MAX(version) FROM schema_version`).Scan(&rows, &version); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if rows != 1 {
		t.Fatalf("schema_version rows = %d, want 1", rows)
	}
	if version < 1 {
		t.Fatalf("schema version = %d, want at least 1", version)
	}
}

func TestMigrateRejectsTamperedVersionTable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
		t.Fatalf("insert extra row: %v", err)
	}

	err = migrate.Migrate(conn)
	if err == nil {
		t.Fatal("expected an error for a multi-row schema_version table")
	}
	if !strings.Contains(err.Error(), "schema_version") {
		t.Fatalf("error = %v, want a schema_version complaint", err)
	}
}
