package roi

import (
	"sync"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"
)

// Autosaver coalesces bursts of ROI edits into a single SaveFile call issued
// once edits have been quiet for the configured delay.
type Autosaver struct {
	registry  *Registry
	path      string
	logger    *zap.SugaredLogger
	debounced func(func())

	mu      sync.Mutex
	pending bool
	saves   int
}

// NewAutosaver saves registry to path delay after the last Schedule call.
func NewAutosaver(registry *Registry, path string, delay time.Duration, logger *zap.SugaredLogger) *Autosaver {
	return &Autosaver{
		registry:  registry,
		path:      path,
		logger:    logger,
		debounced: debounce.New(delay),
	}
}

// Schedule requests a save.
func (a *Autosaver) Schedule() {
	a.mu.Lock()
	a.pending = true
	a.mu.Unlock()
	a.debounced(a.run)
}

// Cancel drops a pending save and reports whether one was pending. A save
// already running is not interrupted.
func (a *Autosaver) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	pending := a.pending
	a.pending = false
	return pending
}

// Flush saves immediately if a save is pending, e.g. on shutdown.
func (a *Autosaver) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.pending {
		return nil
	}
	return a.saveLocked()
}

// Saves returns how many saves have completed successfully.
func (a *Autosaver) Saves() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

func (a *Autosaver) run() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.pending {
		return
	}
	if err := a.saveLocked(); err != nil {
		a.logger.Warnw("ROI autosave failed", "path", a.path, "error", err)
	}
}

func (a *Autosaver) saveLocked() error {
	if err := a.registry.SaveFile(a.path); err != nil {
		return err
	}
	a.pending = false
	a.saves++
	a.logger.Debugw("ROIs autosaved", "path", a.path, "count", a.registry.Len())
	return nil
}
