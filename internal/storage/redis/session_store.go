package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goodtune/lockedin/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
	userID string
}

// Load reads the session record
func (s *sessionStore) Load(ctx context.Context) (*storage.SessionState, error) {
	data, err := s.client.Get(ctx, sessionKey(s.userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var state storage.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse session state: %w", err)
	}
	return &state, nil
}

// Save replaces the session record
func (s *sessionStore) Save(ctx context.Context, state storage.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	return s.client.Set(ctx, sessionKey(s.userID), data, 0).Err()
}
