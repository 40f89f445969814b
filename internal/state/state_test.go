package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, "BTC/USDT main")
	ctx := context.Background()

	if filepath.Base(store.Path()) != "trading_state_BTC_USDT_main.json" {
		t.Errorf("Expected sanitized file name, got %s", store.Path())
	}

	if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on first load, got %v", err)
	}

	want := DailyCounters{Date: "2026-10-14", Trades: 3, Wins: 2, Losses: 1, ConsecutiveLosses: 1,
		UpdatedAt: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Date != want.Date || got.Trades != 3 || got.Wins != 2 || got.Losses != 1 || got.ConsecutiveLosses != 1 {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("Expected updatedAt %v, got %v", want.UpdatedAt, got.UpdatedAt)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected only the state file after save, got %d entries", len(entries))
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, "main")
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(context.Background()); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Expected a decode error, got %v", err)
	}
}

func TestRollover(t *testing.T) {
	c := DailyCounters{Date: "2026-10-13", Trades: 5, Wins: 3, Losses: 2, ConsecutiveLosses: 2}
	if c.Rollover("2026-10-13") {
		t.Errorf("Expected no rollover on the same day")
	}
	if !c.Rollover("2026-10-14") {
		t.Fatalf("Expected rollover on a new day")
	}
	if c.Trades != 0 || c.Wins != 0 || c.Losses != 0 {
		t.Errorf("Expected daily counters zeroed, got %+v", c)
	}
	if c.ConsecutiveLosses != 2 {
		t.Errorf("Expected streak to carry over, got %d", c.ConsecutiveLosses)
	}
}

func TestRedisMirrorDegradedKeepsPrimary(t *testing.T) {
	primary := NewMemoryStore()
	// nothing listens on port 1
	m := NewRedisMirror(primary, "main", RedisOptions{Address: "127.0.0.1:1"})
	defer m.Close()

	if m.IsHealthy() {
		t.Fatalf("Expected degraded mirror")
	}
	ctx := context.Background()
	if err := m.Save(ctx, DailyCounters{Date: "2026-10-14", Trades: 1}); err != nil {
		t.Fatalf("Expected save to succeed on primary, got %v", err)
	}
	if primary.Saves() != 1 {
		t.Errorf("Expected primary save, got %d", primary.Saves())
	}
	got, err := m.Load(ctx)
	if err != nil || got.Trades != 1 {
		t.Errorf("Expected primary counters, got %+v %v", got, err)
	}
	if _, err := m.CachedSnapshot(ctx); !errors.Is(err, ErrCacheUnavailable) {
		t.Errorf("Expected ErrCacheUnavailable, got %v", err)
	}
}
