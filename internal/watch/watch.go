// Package watch re-runs an action when project files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smelter-dev/smelter/internal/logging"
)

// Config configures a Watcher
type Config struct {
	// Dirs are watched non-recursively
	Dirs []string
	// Match selects the paths that trigger a run; nil matches everything
	Match func(path string) bool
	// Debounce collapses bursts of events, such as a compiler writing many
	// artifacts, into one run
	Debounce time.Duration
}

// Watcher runs an action after matching file changes
type Watcher struct {
	config Config
}

// New creates a watcher
func New(config Config) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = 500 * time.Millisecond
	}
	return &Watcher{config: config}
}

// Run blocks until ctx is done, calling action after every settled burst
// of matching changes. Action errors are logged and watching continues.
func (w *Watcher) Run(ctx context.Context, action func(ctx context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range w.config.Dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logging.Debug("watching directory", logging.Path(dir))
	}

	timer := time.NewTimer(w.config.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if w.config.Match != nil && !w.config.Match(event.Name) {
				continue
			}
			logging.Debug("change detected", logging.Path(event.Name), "op", event.Op.String())
			timer.Reset(w.config.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			logging.Warn("watch error", logging.Err(err))

		case <-timer.C:
			if err := action(ctx); err != nil {
				logging.Error("run after change failed", logging.Err(err))
			}
		}
	}
}
