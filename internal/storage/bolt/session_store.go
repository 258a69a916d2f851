package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/lockedin/internal/storage"
	"go.etcd.io/bbolt"
)

// SharedSessionStore opens the database for each operation and closes it
// straight after, so the session CLI and the watcher daemon can both use the
// same file. bbolt holds an exclusive lock while a database is open.
type SharedSessionStore struct {
	path string
}

// NewSharedSessionStore returns a SharedSessionStore for the file at path.
func NewSharedSessionStore(path string) *SharedSessionStore {
	return &SharedSessionStore{path: path}
}

// Load opens the file read-only so that readers never modify it. A file
// that does not exist yet holds no record.
func (s *SharedSessionStore) Load(ctx context.Context) (*storage.SessionState, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}

	db, err := bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: 2 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	defer func() { _ = db.Close() }()
	return getBucketValue[storage.SessionState](ctx, db, bucketState, storage.SessionKey)
}

// Save writes the record, creating the file on first use.
func (s *SharedSessionStore) Save(ctx context.Context, state storage.SessionState) error {
	db, err := openDB(s.path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return putBucketValue(ctx, db, bucketState, storage.SessionKey, state)
}
