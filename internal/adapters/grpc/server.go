package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "affiliate.settlement.v1.SettlementService"

// ReadinessCheck reports whether backing stores are reachable.
type ReadinessCheck func(ctx context.Context) error

type HealthServer struct {
	logger *slog.Logger
	health *health.Server
	check  ReadinessCheck
}

// NewServer builds a gRPC server exposing the standard health service for
// the mesh sidecar.
func NewServer(logger *slog.Logger, check ReadinessCheck) (*grpc.Server, *HealthServer) {
	server := grpc.NewServer()
	hs := &HealthServer{logger: logger, health: health.NewServer(), check: check}
	healthpb.RegisterHealthServer(server, hs.health)
	hs.set(healthpb.HealthCheckResponse_SERVING)
	return server, hs
}

// Watch re-evaluates readiness on every tick until ctx ends, then reports
// NOT_SERVING so callers drain before shutdown.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	if h.check == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := h.check(checkCtx)
			cancel()
			if err != nil {
				h.logger.WarnContext(ctx, "readiness check failed",
					"module", "grpc.health",
					"layer", "adapter",
					"operation", "readiness",
					"outcome", "failure",
					"error", err,
				)
				h.set(healthpb.HealthCheckResponse_NOT_SERVING)
				continue
			}
			h.set(healthpb.HealthCheckResponse_SERVING)
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}
