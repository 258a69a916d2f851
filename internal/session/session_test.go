package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/lockedin/internal/policy"
	"github.com/goodtune/lockedin/internal/storage/bolt"
	"pgregory.net/rapid"
)

func newTestManager(t *testing.T) (*Manager, *policy.TestClock) {
	t.Helper()

	store := bolt.NewSharedSessionStore(filepath.Join(t.TempDir(), "session.bolt"))
	clock := &policy.TestClock{CurrentTime: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}

	m := NewManager(store)
	m.SetClock(clock)
	return m, clock
}

func TestSnapshotDefaultsToZeroState(t *testing.T) {
	m, _ := newTestManager(t)

	state, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if state != (State{}) {
		t.Errorf("state = %+v, want zero", state)
	}
}

func TestStartTrimsGoal(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	state, err := m.Start(ctx, "  study for exam \n")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !state.IsLockedIn || state.CurrentGoal != "study for exam" || state.BlockedCount != 0 {
		t.Errorf("unexpected state %+v", state)
	}

	stored, _ := m.Snapshot(ctx)
	if stored != state {
		t.Errorf("stored = %+v, want %+v", stored, state)
	}
}

func TestStartRejectsEmptyGoal(t *testing.T) {
	m, _ := newTestManager(t)

	for _, goal := range []string{"", "   ", "\t\n"} {
		if _, err := m.Start(context.Background(), goal); !errors.Is(err, ErrEmptyGoal) {
			t.Errorf("Start(%q) err = %v, want ErrEmptyGoal", goal, err)
		}
	}
}

func TestEndRateLimited(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Start(ctx, "calculus"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	state, err := m.End(ctx, true)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	want := State{LastRateLimitedDate: "2026-03-14"}
	if state != want {
		t.Errorf("state = %+v, want %+v", state, want)
	}
	if !m.RateLimitedToday(state) {
		t.Error("expected rate limited today")
	}

	// Starting again the same day is refused.
	if _, err := m.Start(ctx, "calculus"); !errors.Is(err, ErrDailyLimitReached) {
		t.Errorf("Start err = %v, want ErrDailyLimitReached", err)
	}

	// The next UTC day is allowed and keeps the old marker.
	clock.Advance(24 * time.Hour)
	state, err = m.Start(ctx, "calculus")
	if err != nil {
		t.Fatalf("Start next day: %v", err)
	}
	if state.LastRateLimitedDate != "2026-03-14" {
		t.Errorf("marker = %q, want preserved", state.LastRateLimitedDate)
	}
}

func TestEndPreservesMarker(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	if _, err := m.End(ctx, true); err != nil {
		t.Fatalf("End: %v", err)
	}
	clock.Advance(48 * time.Hour)

	if _, err := m.Start(ctx, "essay"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state, err := m.End(ctx, false)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if state.IsLockedIn || state.CurrentGoal != "" || state.LastRateLimitedDate != "2026-03-14" {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestEndIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir, err := os.MkdirTemp("", "lockedin-session-")
		if err != nil {
			t.Fatalf("temp dir: %v", err)
		}
		defer os.RemoveAll(dir)

		m := NewManager(bolt.NewSharedSessionStore(filepath.Join(dir, "session.bolt")))
		m.SetClock(&policy.TestClock{CurrentTime: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)})
		ctx := context.Background()

		if rapid.Bool().Draw(t, "started") {
			if _, err := m.Start(ctx, rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "goal")); err != nil {
				t.Fatalf("Start: %v", err)
			}
		}

		rateLimited := rapid.Bool().Draw(t, "rateLimited")
		first, err := m.End(ctx, rateLimited)
		if err != nil {
			t.Fatalf("End: %v", err)
		}
		second, err := m.End(ctx, rateLimited)
		if err != nil {
			t.Fatalf("End: %v", err)
		}
		if first != second {
			t.Fatalf("End not idempotent: %+v then %+v", first, second)
		}
		if first.IsLockedIn || first.CurrentGoal != "" || first.BlockedCount != 0 {
			t.Fatalf("ended state not cleared: %+v", first)
		}
	})
}
