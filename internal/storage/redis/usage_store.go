package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/lockedin/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	admitScript        = redis.NewScript(admitDailyUsageScript)
	deleteBeforeScript = redis.NewScript(deleteUsageBeforeScript)
)

type usageStore struct {
	client *redis.Client
	ttl    time.Duration
}

// IncrementDailyUsage runs the check-and-increment script for the user
func (s *usageStore) IncrementDailyUsage(ctx context.Context, userID, date string, limit int) (*storage.DailyUsage, bool, error) {
	keys := []string{usageKey(userID)}
	args := []interface{}{
		userID,
		date,
		limit,
		int64(s.ttl / time.Second),
	}

	result, err := admitScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return nil, false, fmt.Errorf("admit daily usage: %w", err)
	}
	if len(result) != 2 {
		return nil, false, fmt.Errorf("admit daily usage: unexpected reply %v", result)
	}

	usage := &storage.DailyUsage{
		UserID: userID,
		Date:   date,
		Count:  int(result[1]),
	}
	return usage, result[0] == 1, nil
}

// GetDailyUsage returns the stored record for the user, whatever its date
func (s *usageStore) GetDailyUsage(ctx context.Context, userID string) (*storage.DailyUsage, error) {
	data, err := s.client.HGetAll(ctx, usageKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	return parseDailyUsage(data)
}

// DeleteDailyUsageBefore removes records whose date is before cutoffDate
func (s *usageStore) DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error) {
	deleted := 0
	iter := s.client.Scan(ctx, 0, usageKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		n, err := deleteBeforeScript.Run(ctx, s.client, []string{iter.Val()}, cutoffDate).Int()
		if err != nil {
			return deleted, fmt.Errorf("delete usage %s: %w", iter.Val(), err)
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}
