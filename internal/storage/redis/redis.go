package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/lockedin/internal/config"
	"github.com/goodtune/lockedin/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lockedin"

// Store implements the storage.Store interface using Redis
type Store struct {
	client     *redis.Client
	usageStore *usageStore
}

// Open creates a new Redis-backed storage instance. Usage records expire
// retentionDays after their last increment.
func Open(cfg config.RedisConfig, retentionDays int) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 90
	}

	store := &Store{
		client: client,
		usageStore: &usageStore{
			client: client,
			ttl:    time.Duration(retentionDays) * 24 * time.Hour,
		},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Sessions returns the session record of one user. Each user has their own
// key, so several clients can share one Redis.
func (s *Store) Sessions(userID string) storage.SessionStore {
	return &sessionStore{client: s.client, userID: userID}
}

func usageKey(userID string) string {
	return fmt.Sprintf("%s:usage:%s", keyPrefix, userID)
}

func sessionKey(userID string) string {
	return fmt.Sprintf("%s:state:%s:%s", keyPrefix, userID, storage.SessionKey)
}
