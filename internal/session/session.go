// Package session owns the shared lock-in record that the interactive CLI
// writes and the watcher reads.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goodtune/lockedin/internal/policy"
	"github.com/goodtune/lockedin/internal/storage"
)

var (
	// ErrEmptyGoal is returned when a session is started without a goal.
	ErrEmptyGoal = errors.New("goal must not be empty")

	// ErrDailyLimitReached is returned when starting a session on a day the
	// classify quota was already exhausted.
	ErrDailyLimitReached = errors.New("daily limit reached; blocking is paused until tomorrow")
)

// State is the persisted session record.
type State = storage.SessionState

// Manager reads and writes the session record.
type Manager struct {
	store storage.SessionStore
	clock policy.Clock
}

// NewManager creates a manager over store.
func NewManager(store storage.SessionStore) *Manager {
	return &Manager{
		store: store,
		clock: &policy.RealClock{},
	}
}

// SetClock sets the clock (for testing).
func (m *Manager) SetClock(clock policy.Clock) {
	m.clock = clock
}

// Snapshot returns a copy of the current record. A record that was never
// written reads as the zero state.
func (m *Manager) Snapshot(ctx context.Context) (State, error) {
	state, err := m.store.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load session: %w", err)
	}
	return *state, nil
}

// Start begins a lock-in session for goal. The rate-limit marker survives.
func (m *Manager) Start(ctx context.Context, goal string) (State, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return State{}, ErrEmptyGoal
	}

	current, err := m.Snapshot(ctx)
	if err != nil {
		return State{}, err
	}
	if m.RateLimitedToday(current) {
		return current, ErrDailyLimitReached
	}

	next := State{
		IsLockedIn:          true,
		CurrentGoal:         goal,
		LastRateLimitedDate: current.LastRateLimitedDate,
	}
	if err := m.store.Save(ctx, next); err != nil {
		return State{}, fmt.Errorf("save session: %w", err)
	}
	return next, nil
}

// End clears the session. When rateLimited is set the marker is stamped
// with today's date, otherwise the previous marker is kept. Calling End on
// an ended session rewrites the same record.
func (m *Manager) End(ctx context.Context, rateLimited bool) (State, error) {
	current, err := m.Snapshot(ctx)
	if err != nil {
		return State{}, err
	}

	next := State{LastRateLimitedDate: current.LastRateLimitedDate}
	if rateLimited {
		next.LastRateLimitedDate = policy.Today(m.clock)
	}

	if err := m.store.Save(ctx, next); err != nil {
		return State{}, fmt.Errorf("save session: %w", err)
	}
	return next, nil
}

// RateLimitedToday reports whether state carries today's rate-limit marker.
func (m *Manager) RateLimitedToday(state State) bool {
	return state.LastRateLimitedDate != "" && state.LastRateLimitedDate == policy.Today(m.clock)
}
