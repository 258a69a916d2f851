package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Follow watches the session file at path and calls onChange with the
// previous and new record each time the stored record changes. It returns
// when ctx is cancelled. The file does not need to exist yet.
func (m *Manager) Follow(ctx context.Context, path string, onChange func(prev, next State)) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer w.Close()

	// The directory is watched so the file can be created or replaced
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	last, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("file watcher: %w", err)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			next, err := m.Snapshot(ctx)
			if err != nil {
				// A writer may hold the lock; the next event retries
				continue
			}
			if next != last {
				onChange(last, next)
				last = next
			}
		}
	}
}
