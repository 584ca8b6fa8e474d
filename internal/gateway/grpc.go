// ABOUTME: gRPC server exposing the standard health service
// ABOUTME: Lets load balancers and orchestrators probe the gateway over gRPC

package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// healthServiceName is the service name reported alongside the overall ("") status.
const healthServiceName = "huddle.Gateway"

// newGRPCServer creates the gRPC server with the health service registered.
// Both statuses start NOT_SERVING until markServing is called.
func newGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	return server, hs
}

// markServing flips the health service to SERVING once listeners are up.
func (g *Gateway) markServing() {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_SERVING)
}
