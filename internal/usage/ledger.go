package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/lockedin/internal/metrics"
	"github.com/goodtune/lockedin/internal/policy"
	"github.com/goodtune/lockedin/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultDailyLimit is the number of classifications a user may request per
// UTC calendar day.
const DefaultDailyLimit = 200

// ErrQuotaExceeded is returned when the user's daily limit is reached.
var ErrQuotaExceeded = errors.New("usage: daily quota exceeded")

// Ledger enforces the per-user daily request limit. Admission happens
// before the model call, so a rejected request never costs a classification.
type Ledger struct {
	usageStore storage.UsageStore
	limit      int
	clock      policy.Clock
	logger     zerolog.Logger
}

// NewLedger creates a ledger over usageStore. A limit <= 0 disables the quota.
func NewLedger(usageStore storage.UsageStore, limit int, logger zerolog.Logger) *Ledger {
	return &Ledger{
		usageStore: usageStore,
		limit:      limit,
		clock:      policy.RealClock{},
		logger:     logger.With().Str("component", "usage-ledger").Logger(),
	}
}

// SetClock sets the clock used to pick the current day (for testing)
func (l *Ledger) SetClock(clock policy.Clock) {
	l.clock = clock
}

// Limit returns the configured daily limit.
func (l *Ledger) Limit() int {
	return l.limit
}

// Admit records one request for userID. It returns ErrQuotaExceeded, and
// leaves the counter unchanged, once the day's limit has been reached.
func (l *Ledger) Admit(ctx context.Context, userID string) (*Admission, error) {
	today := policy.Today(l.clock)

	usage, admitted, err := l.usageStore.IncrementDailyUsage(ctx, userID, today, l.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}

	if !admitted {
		metrics.QuotaRejections.Inc()
		l.logger.Info().
			Str("user", userID).
			Str("date", today).
			Int("count", usage.Count).
			Int("limit", l.limit).
			Msg("Daily quota exceeded")
		return nil, ErrQuotaExceeded
	}

	metrics.QuotaAdmissions.Inc()
	l.logger.Debug().
		Str("user", userID).
		Str("date", today).
		Int("count", usage.Count).
		Msg("Request admitted")

	return &Admission{
		UserID:    userID,
		Date:      today,
		Count:     usage.Count,
		Remaining: l.remaining(usage.Count),
	}, nil
}

// Get returns today's usage for userID. A user with no request today has a
// zero count.
func (l *Ledger) Get(ctx context.Context, userID string) (*storage.DailyUsage, error) {
	today := policy.Today(l.clock)

	usage, err := l.usageStore.GetDailyUsage(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && usage.Date != today) {
		return &storage.DailyUsage{UserID: userID, Date: today}, nil
	}
	if err != nil {
		return nil, err
	}
	return usage, nil
}

func (l *Ledger) remaining(count int) int {
	if l.limit <= 0 {
		return -1
	}
	if count >= l.limit {
		return 0
	}
	return l.limit - count
}
