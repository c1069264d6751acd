package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "data", "test.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
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
		t.Fatalf("expected %d migrations to be applied, got %d", len(migrations), count)
	}

	if !filepath.IsAbs(db.Path()) || filepath.Base(db.Path()) != "test.db" {
		t.Fatalf("unexpected database path %q", db.Path())
	}

	// Running again is a no-op.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestEventStoreProcessEvents(t *testing.T) {
	store := NewEventStore(newTestDB(t))
	ctx := context.Background()

	code := 137
	if err := store.RecordProcessEvent(ctx, ProcessEvent{FromState: "STOPPED", ToState: "STARTING"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordProcessEvent(ctx, ProcessEvent{FromState: "STOPPING", ToState: "STOPPED", PID: 99, ExitCode: &code, Forced: true, Detail: "stop timeout exceeded"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	events, err := store.RecentProcessEvents(ctx, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	latest := events[0]
	if latest.ToState != "STOPPED" || latest.PID != 99 || latest.ExitCode == nil || *latest.ExitCode != 137 || !latest.Forced {
		t.Fatalf("unexpected latest event: %+v", latest)
	}
	if events[1].ExitCode != nil || events[1].PID != 0 {
		t.Fatalf("expected empty optional fields, got %+v", events[1])
	}
}

func TestEventStoreCommands(t *testing.T) {
	store := NewEventStore(newTestDB(t))
	ctx := context.Background()

	store.RecordConsoleCommand("alice", "handle-1", "say hi", "ws")
	store.RecordConsoleCommand("bob", "", "list", "rcon")
	store.RecordConsoleCommand("alice", "handle-1", "time set 0", "ws")

	all, err := store.RecentCommands(ctx, "", 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(all) != 3 || all[0].Command != "time set 0" {
		t.Fatalf("unexpected commands: %+v", all)
	}

	alice, err := store.RecentCommands(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(alice) != 1 || alice[0].Principal != "alice" || alice[0].SessionHandle != "handle-1" {
		t.Fatalf("unexpected filtered commands: %+v", alice)
	}

	bob, _ := store.RecentCommands(ctx, "bob", 10)
	if len(bob) != 1 || bob[0].Source != "rcon" || bob[0].SessionHandle != "" {
		t.Fatalf("unexpected rcon command: %+v", bob)
	}
}

func TestEventStoreMetrics(t *testing.T) {
	store := NewEventStore(newTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		sample := MetricSample{
			Timestamp:     base.Add(time.Duration(i) * 24 * time.Hour),
			PID:           100 + i,
			CPUPercent:    12.5,
			MemoryMB:      512,
			NumThreads:    40,
			Online:        i > 0,
			PlayersOnline: i,
			PlayersMax:    20,
		}
		if err := store.RecordMetrics(ctx, sample); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	samples, err := store.RecentMetrics(ctx, 2)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(samples) != 2 || samples[0].PID != 102 || !samples[0].Online || samples[0].PlayersOnline != 2 {
		t.Fatalf("unexpected samples: %+v", samples)
	}

	deleted, err := store.DeleteMetricsBefore(ctx, base.Add(36*time.Hour))
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted samples, got %d", deleted)
	}

	remaining, err := store.RecentMetrics(ctx, 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].PID != 102 {
		t.Fatalf("unexpected remaining samples: %+v", remaining)
	}
}
