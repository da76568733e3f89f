package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "resource.v1.ResourceService"

// GRPCServer exposes grpc.health.v1.Health and keeps its status in line with
// the dependency checks.
type GRPCServer struct {
	server  *grpc.Server
	health  *grpchealth.Server
	checker *Checker
	logger  *slog.Logger
}

func NewGRPCServer(checker *Checker, logger *slog.Logger) *GRPCServer {
	server := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	return &GRPCServer{
		server:  server,
		health:  healthServer,
		checker: checker,
		logger:  logger,
	}
}

// Refresh runs the checks once and publishes the resulting status.
func (s *GRPCServer) Refresh(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if results, ok := s.checker.Run(ctx); !ok {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		s.logger.WarnContext(ctx, "dependency check failed", "checks", results)
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Watch refreshes the status every interval until ctx is done.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *GRPCServer) Serve(port string) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}
	s.logger.Info("gRPC health server starting", "port", port)
	return s.server.Serve(lis)
}

func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
