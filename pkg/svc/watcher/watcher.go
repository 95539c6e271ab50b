// Package watcher reports edits of the catalog file.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups the burst of events editors emit for one save.
const DefaultDebounce = 500 * time.Millisecond

// ErrEmptyPath is returned when no file is given.
var ErrEmptyPath = errors.New("watch path is empty")

// Watcher calls a function after a file changed. The parent directory is
// watched so that atomic replacements by rename are seen.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// New creates a watcher for path. A debounce <= 0 uses DefaultDebounce.
func New(path string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{path: abs, debounce: debounce, logger: logger}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Run blocks until ctx is done, calling onChange once per burst of writes,
// creations, renames or removals of the file.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsWatcher.Close()

	err = fsWatcher.Add(filepath.Dir(w.path))
	if err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)

	defer func() {
		mu.Lock()
		defer mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
	}()

	schedule := func() {
		mu.Lock()
		defer mu.Unlock()

		if timer != nil {
			timer.Stop()
		}

		timer = time.AfterFunc(w.debounce, func() {
			if ctx.Err() == nil {
				onChange()
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != w.path || event.Op == fsnotify.Chmod {
				continue
			}

			w.logger.Debug("catalog changed", "path", w.path, "op", event.Op.String())
			schedule()
		case watchErr, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watch error", "path", w.path, "error", watchErr)
		}
	}
}
