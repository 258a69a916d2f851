package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/lockedin/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) GetDailyUsage(ctx context.Context, userID string) (*storage.DailyUsage, error) {
	return getBucketValue[storage.DailyUsage](ctx, s.db, bucketDailyUsage, userID)
}

// IncrementDailyUsage checks and increments inside one write transaction,
// which bbolt serializes.
func (s *usageStore) IncrementDailyUsage(ctx context.Context, userID, date string, limit int) (*storage.DailyUsage, bool, error) {
	var (
		usage    storage.DailyUsage
		admitted bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return fmt.Errorf("daily usage bucket missing")
		}

		usage = storage.DailyUsage{UserID: userID, Date: date}
		if existing := b.Get([]byte(userID)); existing != nil {
			var stored storage.DailyUsage
			if err := unmarshal(existing, &stored); err != nil {
				return err
			}
			if stored.Date == date {
				usage.Count = stored.Count
			}
		}

		if limit > 0 && usage.Count >= limit {
			return nil
		}

		usage.Count++
		admitted = true
		data, err := marshal(usage)
		if err != nil {
			return err
		}
		return b.Put([]byte(userID), data)
	})
	if err != nil {
		return nil, false, err
	}
	return &usage, admitted, nil
}

func (s *usageStore) DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}

		// Deleting through a cursor skips the following key, so collect first
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var usage storage.DailyUsage
			if err := unmarshal(v, &usage); err != nil {
				return err
			}
			if usage.Date < cutoffDate {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
