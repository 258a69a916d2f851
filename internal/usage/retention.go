package usage

import (
	"context"
	"time"

	"github.com/goodtune/lockedin/internal/metrics"
	"github.com/goodtune/lockedin/internal/policy"
	"github.com/goodtune/lockedin/internal/storage"
	"github.com/rs/zerolog"
)

// RetentionScheduler removes old usage records once a day
type RetentionScheduler struct {
	usageStore    storage.UsageStore
	cleanupTime   time.Time // Time of day to run (only hour and minute are used)
	retentionDays int
	clock         policy.Clock
	logger        zerolog.Logger
	stopChan      chan struct{}
	doneChan      chan struct{}
}

// NewRetentionScheduler creates a new retention scheduler
func NewRetentionScheduler(usageStore storage.UsageStore, cleanupTime string, retentionDays int, logger zerolog.Logger) (*RetentionScheduler, error) {
	// Parse cleanup time (HH:MM format)
	parsedTime, err := time.Parse("15:04", cleanupTime)
	if err != nil {
		return nil, err
	}

	rs := &RetentionScheduler{
		usageStore:    usageStore,
		cleanupTime:   parsedTime,
		retentionDays: retentionDays,
		clock:         policy.RealClock{},
		logger:        logger.With().Str("component", "retention-scheduler").Logger(),
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}

	return rs, nil
}

// SetClock sets the clock used to compute the cutoff (for testing)
func (rs *RetentionScheduler) SetClock(clock policy.Clock) {
	rs.clock = clock
}

// Start begins the retention scheduler
func (rs *RetentionScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("cleanup_time", rs.cleanupTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Usage retention scheduler started")
}

// Stop stops the retention scheduler and waits for a running cleanup
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
	<-rs.doneChan
	rs.logger.Info().Msg("Usage retention scheduler stopped")
}

// run is the main scheduler loop
func (rs *RetentionScheduler) run() {
	defer close(rs.doneChan)

	for {
		nextRun := rs.calculateNextRun()
		waitDuration := nextRun.Sub(rs.clock.Now())

		rs.logger.Debug().
			Time("next_run", nextRun).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next usage cleanup")

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
			rs.Prune(context.Background())
		case <-rs.stopChan:
			timer.Stop()
			return
		}
	}
}

// calculateNextRun returns the next cleanup time in UTC
func (rs *RetentionScheduler) calculateNextRun() time.Time {
	now := rs.clock.Now().UTC()

	todayRun := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.cleanupTime.Hour(), rs.cleanupTime.Minute(), 0, 0,
		time.UTC,
	)

	// If we've already passed today's run time, schedule for tomorrow
	if !now.Before(todayRun) {
		return todayRun.AddDate(0, 0, 1)
	}

	return todayRun
}

// Prune deletes usage records older than the retention window
func (rs *RetentionScheduler) Prune(ctx context.Context) int {
	cutoffDate := rs.clock.Now().UTC().AddDate(0, 0, -rs.retentionDays).Format(policy.DateLayout)

	deleted, err := rs.usageStore.DeleteDailyUsageBefore(ctx, cutoffDate)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to clean up old usage records")
		return deleted
	}

	metrics.UsageRecordsPruned.Add(float64(deleted))
	rs.logger.Info().
		Int("records_deleted", deleted).
		Str("cutoff_date", cutoffDate).
		Msg("Old usage records cleaned up")

	return deleted
}
