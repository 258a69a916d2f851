package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestAdmitDailyUsageScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	key := usageKey("user-1")

	// Stale record from a previous day
	mr.HSet(key, "user_id", "user-1", "date", "2024-02-29", "count", "2")

	tests := []struct {
		name      string
		date      string
		limit     int
		wantAdmit int64
		wantCount int64
	}{
		{name: "new day resets", date: "2024-03-01", limit: 2, wantAdmit: 1, wantCount: 1},
		{name: "second request", date: "2024-03-01", limit: 2, wantAdmit: 1, wantCount: 2},
		{name: "at limit", date: "2024-03-01", limit: 2, wantAdmit: 0, wantCount: 2},
		{name: "still at limit", date: "2024-03-01", limit: 2, wantAdmit: 0, wantCount: 2},
		{name: "limit disabled", date: "2024-03-01", limit: 0, wantAdmit: 1, wantCount: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := admitScript.Run(ctx, client, []string{key}, "user-1", tt.date, tt.limit, 60).Int64Slice()
			if err != nil {
				t.Fatalf("script failed: %v", err)
			}
			if result[0] != tt.wantAdmit || result[1] != tt.wantCount {
				t.Errorf("got admit=%d count=%d, want admit=%d count=%d",
					result[0], result[1], tt.wantAdmit, tt.wantCount)
			}
		})
	}

	if got := mr.HGet(key, "date"); got != "2024-03-01" {
		t.Errorf("Expected stored date 2024-03-01, got %s", got)
	}
}

func TestDeleteUsageBeforeScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	mr.HSet("lockedin:usage:a", "date", "2024-01-01", "count", "4")

	n, err := deleteBeforeScript.Run(ctx, client, []string{"lockedin:usage:a"}, "2024-01-01").Int()
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if n != 0 || !mr.Exists("lockedin:usage:a") {
		t.Fatal("Expected record on the cutoff date to be kept")
	}

	n, err = deleteBeforeScript.Run(ctx, client, []string{"lockedin:usage:a"}, "2024-01-02").Int()
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if n != 1 || mr.Exists("lockedin:usage:a") {
		t.Fatal("Expected record before the cutoff to be deleted")
	}
}
