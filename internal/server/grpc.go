package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"embedded-sessions/internal/server/interceptors"
)

// quietMethods are logged only on failure; load balancers poll them constantly.
var quietMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
}

// NewGRPCServer returns a gRPC server exposing grpc.health.v1 backed by hs,
// instrumented with the otelgrpc stats handler.
func NewGRPCServer(hs *grpchealth.Server) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(),
			interceptors.LoggingUnary(quietMethods),
		),
	)
	healthpb.RegisterHealthServer(s, hs)
	return s
}
