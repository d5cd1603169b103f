package rpc

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/imagedrop/imagedrop/server/internal/auth"
)

// UploadService is the health service name reported for the upload API.
const UploadService = "imagedrop.Upload"

// Server wraps a grpc.Server with the health service registered.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates a Server whose calls are authenticated by gate.
func New(gate *auth.Gate) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(UploadService, healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer(
		grpc.UnaryInterceptor(gate.UnaryInterceptor()),
		grpc.StreamInterceptor(gate.StreamInterceptor()),
	)
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpc: gs, health: hs}
}

// Serve accepts connections on lis until Shutdown is called.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("rpc: gRPC health listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Shutdown flips every service to NOT_SERVING and drains in-flight calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
