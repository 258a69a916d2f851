package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// SessionKey is the key of the single focus session record.
const SessionKey = "userState"

// Store represents the root storage interface of the classify service.
type Store interface {
	Close() error
	Usage() UsageStore
}

// UsageStore manages the per-user daily request ledger.
type UsageStore interface {
	// IncrementDailyUsage atomically checks the user's counter for date and,
	// when it is below limit, increments it. A stored record from an earlier
	// date counts as zero. The returned bool reports whether the request was
	// admitted; a rejected request leaves the counter untouched. A limit <= 0
	// admits every request.
	IncrementDailyUsage(ctx context.Context, userID, date string, limit int) (*DailyUsage, bool, error)
	GetDailyUsage(ctx context.Context, userID string) (*DailyUsage, error)
	DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error)
}

// SessionStore persists the focus session record.
type SessionStore interface {
	// Load returns ErrNotFound when no session was ever saved.
	Load(ctx context.Context) (*SessionState, error)
	Save(ctx context.Context, state SessionState) error
}
