package rpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/imagedrop/imagedrop/server/internal/auth"
	"github.com/imagedrop/imagedrop/server/internal/rpc"
	"github.com/imagedrop/imagedrop/server/internal/tokens"
)

// startServer starts the gRPC server on a random TCP port and returns a
// connected health client.
func startServer(t *testing.T, valid ...string) healthpb.HealthClient {
	t.Helper()

	gate := auth.New(tokens.NewSet(valid...), "")
	srv := rpc.New(gate)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go srv.Serve(lis) //nolint:errcheck

	t.Cleanup(func() {
		srv.Shutdown()
		lis.Close()
	})

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func withAuth(header string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	return metadata.AppendToOutgoingContext(ctx, "authorization", header), cancel
}

func TestHealth_ValidToken_Serving(t *testing.T) {
	client := startServer(t, "grpc-token")

	for _, service := range []string{"", rpc.UploadService} {
		ctx, cancel := withAuth("Bearer grpc-token")
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		cancel()
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("Check(%q): got %v, want SERVING", service, resp.GetStatus())
		}
	}
}

func TestHealth_NoToken_Unauthenticated(t *testing.T) {
	client := startServer(t, "grpc-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", code)
	}
}

func TestHealth_WrongToken_PermissionDenied(t *testing.T) {
	client := startServer(t, "grpc-token")

	ctx, cancel := withAuth("Bearer nope")
	defer cancel()
	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if code := status.Code(err); code != codes.PermissionDenied {
		t.Errorf("code: got %v, want PermissionDenied", code)
	}
}

func TestHealth_UnknownService_NotFound(t *testing.T) {
	client := startServer(t, "grpc-token")

	ctx, cancel := withAuth("grpc-token")
	defer cancel()
	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "nope"})
	if code := status.Code(err); code != codes.NotFound {
		t.Errorf("code: got %v, want NotFound", code)
	}
}
