package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"habar.org/internal/obs"
)

const grpcServiceName = "habar.admin.v1"

// GRPCServer exposes the standard gRPC health service, kept in sync with
// the readiness probe. Useful for load balancers that speak gRPC health
// checking instead of HTTP.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
	probe  ReadyProbe
}

func NewGRPCServer(rp ReadyProbe) *GRPCServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return &GRPCServer{srv: srv, health: hs, probe: rp}
}

// Serve blocks serving gRPC on lis until the context is canceled. A
// background loop re-checks the readiness probe every few seconds and
// updates the advertised health status.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			g.refresh(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	go func() {
		<-ctx.Done()
		g.srv.GracefulStop()
	}()
	return g.srv.Serve(lis)
}

func (g *GRPCServer) refresh(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := g.probe.Check(checkCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		obs.SetReady(false)
	} else {
		obs.SetReady(true)
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(grpcServiceName, status)
}
