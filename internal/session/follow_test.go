package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/lockedin/internal/storage/bolt"
)

func TestFollowReportsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.bolt")
	writer := NewManager(bolt.NewSharedSessionStore(path))
	reader := NewManager(bolt.NewSharedSessionStore(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan State, 8)
	done := make(chan error, 1)
	go func() {
		done <- reader.Follow(ctx, path, func(prev, next State) { changes <- next })
	}()

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	if _, err := writer.Start(ctx, "write thesis"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case next := <-changes:
			if next.IsLockedIn && next.CurrentGoal == "write thesis" {
				cancel()
				if err := <-done; err != nil {
					t.Fatalf("Follow: %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("no change reported")
		}
	}
}
