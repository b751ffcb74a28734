package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/martin3r-me/platforms-planner-sub000/internal/db"
	"github.com/martin3r-me/platforms-planner-sub000/internal/events"
	"github.com/martin3r-me/platforms-planner-sub000/internal/migrate"
)

func TestAppendStampsConfiguredClock(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	w := events.Writer{DB: conn, Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }}
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, "task.created", "team-a", "task", "t-1", "alice", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var ts string
	if err := conn.QueryRow(`SELECT ts FROM events WHERE entity_id='t-1'`).Scan(&ts); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ts != "2026-03-01T12:00:00Z" {
		t.Fatalf("ts = %s, want the configured clock", ts)
	}

	// A nil clock falls back to wall time without sticking to the writer.
	w2 := events.Writer{DB: conn}
	tx, err = conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := w2.Append(ctx, tx, "task.created", "team-a", "task", "t-2", "alice", nil); err != nil {
		t.Fatalf("append with nil clock: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if w2.Now != nil {
		t.Fatal("Append must not retain a clock on the writer")
	}
}
