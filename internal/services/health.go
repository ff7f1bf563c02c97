package services

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is a dependency that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Runner reports whether a background loop is active.
type Runner interface {
	Running() bool
}

// Health answers liveness and readiness probes.
type Health struct {
	db       Pinger
	pipeline Runner
}

// NewHealth creates the probe service. db may be nil.
func NewHealth(db Pinger, pipeline Runner) *Health {
	return &Health{db: db, pipeline: pipeline}
}

// Healthz implements the liveness probe
func (h *Health) Healthz(ctx context.Context) error {
	return nil
}

// Readyz reports ready once the detection loop runs and the database answers.
// A disconnected camera does not make the service unready.
func (h *Health) Readyz(ctx context.Context) error {
	if h.pipeline != nil && !h.pipeline.Running() {
		return errors.New("detection loop not running")
	}
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}
