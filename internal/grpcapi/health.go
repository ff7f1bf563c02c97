package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Readiness is probed to drive the serving status.
type Readiness interface {
	Readyz(ctx context.Context) error
}

// HealthReporter publishes the standard gRPC health service and keeps the
// Control service status in step with readiness.
type HealthReporter struct {
	server   *health.Server
	ready    Readiness
	interval time.Duration
}

// NewHealthReporter registers the health service on s. The Control service
// starts as NOT_SERVING until the first probe passes.
func NewHealthReporter(s grpc.ServiceRegistrar, ready Readiness, interval time.Duration) *HealthReporter {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return &HealthReporter{server: hs, ready: ready, interval: interval}
}

// Probe checks readiness once and updates the serving status.
func (h *HealthReporter) Probe(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := h.ready.Readyz(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus(ServiceName, st)
}

// Run probes every interval until ctx is done, then marks every service as
// not serving.
func (h *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return nil
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}
