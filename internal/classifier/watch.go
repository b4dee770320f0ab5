package classifier

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	// DefaultReloadInterval is the periodic mtime check.
	DefaultReloadInterval = 30 * time.Second

	// debounce coalesces the burst of events a rename-into-place produces.
	debounce = 200 * time.Millisecond
)

// Reloader is anything that can refresh itself from disk.
type Reloader interface {
	Reload() (bool, error)
}

// Watch reloads r whenever the file at path changes, combining filesystem
// notifications on the parent directory with a periodic check. It blocks
// until ctx is cancelled. Without fsnotify support it falls back to polling.
func Watch(ctx context.Context, r Reloader, path string, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reload := func(trigger string) {
		swapped, err := r.Reload()
		switch {
		case err != nil:
			logger.Debug("reload check failed", zap.String("path", path), zap.String("trigger", trigger), zap.Error(err))
		case swapped:
			logger.Info("model reloaded", zap.String("path", path), zap.String("trigger", trigger))
		}
	}
	reload("start")

	var events <-chan fsnotify.Event
	var errs <-chan error
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("cannot create model directory, polling only", zap.String("dir", dir), zap.Error(err))
	} else if w, err := fsnotify.NewWatcher(); err != nil {
		logger.Warn("fsnotify unavailable, polling only", zap.Error(err))
	} else {
		defer w.Close()
		if err := w.Add(dir); err != nil {
			logger.Warn("cannot watch model directory, polling only", zap.String("dir", dir), zap.Error(err))
		} else {
			events, errs = w.Events, w.Errors
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending <-chan time.Time
	base := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Chmod) != 0 {
				pending = time.After(debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("model watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			reload("fsnotify")
		case <-ticker.C:
			reload("interval")
		}
	}
}

// Watch runs the package-level Watch for the classifier's artifact.
func (c *Classifier) Watch(ctx context.Context, interval time.Duration) error {
	return Watch(ctx, c, c.handle.Path(), interval, c.logger)
}
