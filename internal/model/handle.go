package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Snapshot is an artifact together with the file state it was loaded from.
type Snapshot struct {
	Artifact *Artifact
	ModTime  time.Time
	Size     int64
	LoadedAt time.Time
}

// Handle serves the current artifact for one path and swaps in a new one
// when the file changes. Readers never block and never see a partial load.
type Handle struct {
	path   string
	logger *zap.Logger

	current atomic.Pointer[Snapshot]

	mu         sync.Mutex // serializes Reload
	failedMod  time.Time
	failedSize int64
}

// NewHandle returns a Handle for path. Nothing is loaded until Reload.
func NewHandle(path string, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handle{path: path, logger: logger}
}

// Path returns the artifact path.
func (h *Handle) Path() string { return h.path }

// Current returns the active snapshot, or nil when nothing is loaded.
func (h *Handle) Current() *Snapshot {
	return h.current.Load()
}

// Artifact returns the active artifact or ErrModelUnavailable.
func (h *Handle) Artifact() (*Artifact, error) {
	s := h.current.Load()
	if s == nil {
		return nil, ErrModelUnavailable
	}
	return s.Artifact, nil
}

// Reload loads the artifact when its modification time or size differs from
// the active snapshot and reports whether a swap happened. On failure the
// active snapshot is kept. A file that failed to load is not retried until it
// changes again.
func (h *Handle) Reload() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	info, err := os.Stat(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && h.current.Load() != nil {
			// Keep serving; the file may be mid-replace.
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", h.path, err)
	}

	if cur := h.current.Load(); cur != nil && cur.ModTime.Equal(info.ModTime()) && cur.Size == info.Size() {
		return false, nil
	}
	if h.failedMod.Equal(info.ModTime()) && h.failedSize == info.Size() {
		return false, nil
	}

	art, err := Load(h.path)
	if err != nil {
		h.failedMod, h.failedSize = info.ModTime(), info.Size()
		h.logger.Warn("artifact load failed, keeping previous",
			zap.String("path", h.path), zap.Error(err))
		return false, err
	}

	h.failedMod, h.failedSize = time.Time{}, 0
	h.current.Store(&Snapshot{
		Artifact: art,
		ModTime:  info.ModTime(),
		Size:     info.Size(),
		LoadedAt: time.Now(),
	})
	h.logger.Info("artifact loaded",
		zap.String("path", h.path),
		zap.Int("labels", len(art.Labels)),
		zap.Int("samples", art.Metadata.Samples),
		zap.Time("mtime", info.ModTime()))
	return true, nil
}

// Set installs an artifact directly, bypassing the file. Used by tests and by
// callers that already hold a validated artifact.
func (h *Handle) Set(a *Artifact) {
	h.current.Store(&Snapshot{Artifact: a, LoadedAt: time.Now()})
}
