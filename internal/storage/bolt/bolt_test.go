package bolt

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goodtune/lockedin/internal/storage"
)

func TestUsageStoreDailyLimit(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	usageStore := store.Usage()
	ctx := context.Background()

	for i := 1; i <= 200; i++ {
		usage, admitted, err := usageStore.IncrementDailyUsage(ctx, "user-a", "2024-01-02", 200)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if !admitted || usage.Count != i {
			t.Fatalf("increment %d: admitted=%v count=%d", i, admitted, usage.Count)
		}
	}

	usage, admitted, err := usageStore.IncrementDailyUsage(ctx, "user-a", "2024-01-02", 200)
	if err != nil {
		t.Fatalf("increment 201: %v", err)
	}
	if admitted {
		t.Fatal("expected request 201 to be rejected")
	}
	if usage.Count != 200 {
		t.Fatalf("expected count to stay at 200, got %d", usage.Count)
	}

	stored, err := usageStore.GetDailyUsage(ctx, "user-a")
	if err != nil {
		t.Fatalf("get daily usage: %v", err)
	}
	if stored.Count != 200 {
		t.Fatalf("expected stored count 200, got %d", stored.Count)
	}
}

func TestUsageStoreDayRollover(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	usageStore := store.Usage()
	ctx := context.Background()

	if _, _, err := usageStore.IncrementDailyUsage(ctx, "user-a", "2024-01-02", 1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if _, admitted, _ := usageStore.IncrementDailyUsage(ctx, "user-a", "2024-01-02", 1); admitted {
		t.Fatal("expected limit of one to reject the second request")
	}

	usage, admitted, err := usageStore.IncrementDailyUsage(ctx, "user-a", "2024-01-03", 1)
	if err != nil {
		t.Fatalf("increment next day: %v", err)
	}
	if !admitted || usage.Count != 1 || usage.Date != "2024-01-03" {
		t.Fatalf("expected fresh record for the new day, got admitted=%v %+v", admitted, usage)
	}
}

func TestUsageStoreDeleteBefore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	usageStore := store.Usage()
	ctx := context.Background()

	dates := map[string]string{
		"user-a": "2023-12-30",
		"user-b": "2023-12-31",
		"user-c": "2024-01-01",
		"user-d": "2024-01-05",
	}
	for user, date := range dates {
		if _, _, err := usageStore.IncrementDailyUsage(ctx, user, date, 0); err != nil {
			t.Fatalf("increment %s: %v", user, err)
		}
	}

	deleted, err := usageStore.DeleteDailyUsageBefore(ctx, "2024-01-01")
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted records, got %d", deleted)
	}
	if _, err := usageStore.GetDailyUsage(ctx, "user-c"); err != nil {
		t.Fatalf("expected user-c to remain: %v", err)
	}
	if _, err := usageStore.GetDailyUsage(ctx, "user-b"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected user-b to be removed, got %v", err)
	}
}

func TestUsageStoreDeleteBeforeCancelled(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	usageStore := store.Usage()
	if _, _, err := usageStore.IncrementDailyUsage(context.Background(), "user-a", "2023-12-30", 0); err != nil {
		t.Fatalf("increment: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deleted, err := usageStore.DeleteDailyUsageBefore(ctx, "2024-01-01")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0 deleted on failure, got %d", deleted)
	}
	if _, err := usageStore.GetDailyUsage(context.Background(), "user-a"); err != nil {
		t.Fatalf("expected user-a to remain: %v", err)
	}
}

func TestSharedSessionStoreReleasesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.bolt")
	first := NewSharedSessionStore(path)
	second := NewSharedSessionStore(path)
	ctx := context.Background()

	if err := first.Save(ctx, storage.SessionState{IsLockedIn: true, CurrentGoal: "read papers"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A second handle on the same file must not block on the bolt lock
	loaded, err := second.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.IsLockedIn || loaded.CurrentGoal != "read papers" {
		t.Fatalf("unexpected state: %+v", loaded)
	}

	if err := second.Save(ctx, storage.SessionState{LastRateLimitedDate: "2024-01-02"}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	loaded, err = first.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.IsLockedIn || loaded.LastRateLimitedDate != "2024-01-02" {
		t.Fatalf("expected last write to win, got %+v", loaded)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lockedin.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestSharedSessionStoreLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "session.bolt")
	store := NewSharedSessionStore(path)

	if _, err := store.Load(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("load must not create the file, stat err = %v", err)
	}
}

func TestSharedSessionStoreLoadDoesNotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.bolt")
	store := NewSharedSessionStore(path)
	ctx := context.Background()

	if err := store.Save(ctx, storage.SessionState{IsLockedIn: true, CurrentGoal: "essay"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("load modified the database file")
	}
}
