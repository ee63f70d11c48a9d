package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/JakeFAU/training-status/internal/progress"
)

const defaultPollInterval = time.Second

// Watcher follows a status file until the run reaches a terminal phase. It
// watches the parent directory, since each publish replaces the file by
// rename, and also polls so it keeps working where fsnotify is unavailable.
type Watcher struct {
	path     string
	poll     time.Duration
	logger   *zap.Logger
	last     time.Time
	lastSeen bool
}

// NewWatcher creates a Watcher for path. A non-positive poll interval falls
// back to one second.
func NewWatcher(path string, poll time.Duration, logger *zap.Logger) *Watcher {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:   filepath.Clean(path),
		poll:   poll,
		logger: logger,
	}
}

// Run calls fn for every new snapshot, in order of last_updated, and returns
// the terminal snapshot once the run has completed or failed. When ctx ends
// first, Run returns the latest snapshot seen together with ctx.Err().
func (w *Watcher) Run(ctx context.Context, fn func(progress.Snapshot)) (progress.Snapshot, error) {
	var latest progress.Snapshot

	events, errs, closeNotify := w.notify()
	defer closeNotify()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	check := func() bool {
		snap, ok := w.load()
		if !ok {
			return false
		}
		latest = snap
		if fn != nil {
			fn(snap)
		}
		return snap.Phase.Terminal()
	}

	if check() {
		return latest, nil
	}
	for {
		select {
		case <-ctx.Done():
			return latest, fmt.Errorf("watch status: %w", ctx.Err())
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if check() {
				return latest, nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("status watcher error", zap.Error(err))
		case <-ticker.C:
			if check() {
				return latest, nil
			}
		}
	}
}

// notify starts an fsnotify watch on the status file's directory. When that
// fails the returned channels are nil and only polling is used.
func (w *Watcher) notify() (<-chan fsnotify.Event, <-chan error, func()) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable; polling only", zap.Error(err))
		return nil, nil, func() {}
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		w.logger.Warn("failed to watch status directory; polling only", zap.String("dir", dir), zap.Error(err))
		_ = fw.Close()
		return nil, nil, func() {}
	}
	w.logger.Debug("watching directory for status changes", zap.String("dir", dir), zap.String("file", filepath.Base(w.path)))
	return fw.Events, fw.Errors, func() {
		if err := fw.Close(); err != nil {
			w.logger.Debug("failed to close fsnotify watcher", zap.Error(err))
		}
	}
}

// load reads the file and reports whether it holds a snapshot newer than the
// last one delivered.
func (w *Watcher) load() (progress.Snapshot, bool) {
	snap, err := ReadFile(w.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return progress.Snapshot{}, false
	case err != nil:
		w.logger.Debug("status file not readable yet", zap.Error(err))
		return progress.Snapshot{}, false
	}
	if w.lastSeen && !snap.LastUpdated.After(w.last) {
		return progress.Snapshot{}, false
	}
	w.last = snap.LastUpdated
	w.lastSeen = true
	return snap, true
}
