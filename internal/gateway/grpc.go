// ABOUTME: gRPC health service reporting store readiness to orchestrators
// ABOUTME: A background check flips the serving status when the store stops answering

package gateway

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// readinessInterval is how often the store is pinged for the health service.
const readinessInterval = 10 * time.Second

// HealthService is the service name reported alongside the overall ("") status.
const HealthService = "rtc.Gateway"

func registerHealthService(s *grpc.Server, h *health.Server) {
	healthpb.RegisterHealthServer(s, h)
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
}

// checkStore pings the store once and records the result on the health server.
func (g *Gateway) checkStore(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("store ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(HealthService, status)
}

// watchStore pings the store every interval until ctx ends.
func (g *Gateway) watchStore(ctx context.Context, interval time.Duration) {
	g.checkStore(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.checkStore(ctx)
		}
	}
}
