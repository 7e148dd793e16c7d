package engine

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quillworks/quillsync/internal/vaultfs"
)

const (
	// watcherDebounceInterval is how often the watcher checks for
	// pending filesystem events, batching rapid writes into a single
	// sync trigger.
	watcherDebounceInterval = 500 * time.Millisecond

	// watcherQuietPeriod is how long a file must be quiet before its
	// pending event counts toward a trigger.
	watcherQuietPeriod = 300 * time.Millisecond
)

// Watcher monitors the workspace for external changes and schedules
// sync passes through notify. It does not interpret events beyond
// filtering: every batch of observed changes becomes one trigger, and
// the pass itself works out what actually changed.
//
// The engine pauses the watcher around its own filesystem writes so
// they are not re-observed as external changes. Pause nests; events
// arriving while paused are dropped.
type Watcher struct {
	dir    string
	filter *IgnoreFilter
	logger *slog.Logger
	notify func()

	mu         sync.Mutex
	pauseDepth int
}

// NewWatcher creates a watcher over the workspace directory.
func NewWatcher(dir string, filter *IgnoreFilter, logger *slog.Logger, notify func()) *Watcher {
	return &Watcher{
		dir:    dir,
		filter: filter,
		logger: logger,
		notify: notify,
	}
}

// Pause suppresses event delivery. Calls nest: every Pause must be
// matched by a Resume.
func (w *Watcher) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pauseDepth++
}

// Resume re-enables event delivery after a matching Pause.
func (w *Watcher) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pauseDepth > 0 {
		w.pauseDepth--
	}
}

func (w *Watcher) paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.pauseDepth > 0
}

// Run watches the workspace until ctx is cancelled. Directories are
// watched recursively; new directories are picked up as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, w.dir); err != nil {
		return fmt.Errorf("watching workspace: %w", err)
	}

	w.logger.Info("file watcher started", slog.String("dir", w.dir))

	// Debounce: batch rapid events into a single trigger.
	pending := make(map[string]time.Time)

	ticker := time.NewTicker(watcherDebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if w.paused() || w.shouldIgnore(event.Name) {
				continue
			}

			pending[event.Name] = time.Now()

			// Watch newly created directories. Lstat avoids following
			// symlinks that could point outside the workspace.
			if event.Has(fsnotify.Create) {
				info, err := os.Lstat(event.Name)
				if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
					_ = addRecursive(watcher, event.Name)
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = watcher.Remove(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			if len(pending) == 0 {
				continue
			}

			ready := false
			for path, at := range pending {
				if now.Sub(at) >= watcherQuietPeriod {
					ready = true

					delete(pending, path)
				}
			}

			if ready && !w.paused() {
				w.notify()
			}
		}
	}
}

// shouldIgnore applies the filter to an absolute event path.
func (w *Watcher) shouldIgnore(absPath string) bool {
	rel, err := filepath.Rel(w.dir, absPath)
	if err != nil || rel == "." {
		return true
	}

	return !w.filter.Allow(vaultfs.NormalizePath(rel))
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		base := filepath.Base(path)
		if path != root && len(base) > 0 && base[0] == '.' {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}
