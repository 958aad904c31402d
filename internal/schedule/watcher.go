package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/yegors/arrival-watch/pkg/logger"
)

// Watcher flags the schedule as stale whenever its file changes on disk.
// It never reloads anything itself; the poll loop consults TakeDirty.
type Watcher struct {
	path   string
	dirty  atomic.Bool
	logger *logger.Logger
}

// NewWatcher creates a watcher for the schedule file at path. The schedule
// starts out dirty so the first cycle always loads it.
func NewWatcher(path string, logger *logger.Logger) *Watcher {
	w := &Watcher{
		path:   path,
		logger: logger.Named("schedule-watch"),
	}
	w.dirty.Store(true)
	return w
}

// TakeDirty reports whether the file changed since the last call and clears the flag
func (w *Watcher) TakeDirty() bool {
	return w.dirty.Swap(false)
}

// MarkDirty forces a reload on the next cycle
func (w *Watcher) MarkDirty() {
	w.dirty.Store(true)
}

// Run watches the schedule directory until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Debug("Watching schedule file", logger.String("dir", dir), logger.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				if !w.dirty.Swap(true) {
					w.logger.Info("Schedule file changed", logger.String("op", ev.Op.String()))
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			// Missed events are possible after an error; reload to be safe.
			w.dirty.Store(true)
			w.logger.Warn("Schedule watch error", logger.Error(err))
		}
	}
}
