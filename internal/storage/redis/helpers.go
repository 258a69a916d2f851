package redis

import (
	"fmt"
	"strconv"

	"github.com/goodtune/lockedin/internal/storage"
)

// parseDailyUsage converts a Redis hash to DailyUsage
func parseDailyUsage(data map[string]string) (*storage.DailyUsage, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	count, err := strconv.Atoi(data["count"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse count: %w", err)
	}

	return &storage.DailyUsage{
		UserID: data["user_id"],
		Date:   data["date"],
		Count:  count,
	}, nil
}
