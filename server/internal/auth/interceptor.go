package auth

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/imagedrop/imagedrop/server/internal/reqctx"
)

// UnaryInterceptor returns a gRPC UnaryServerInterceptor that applies Check
// to the "authorization" metadata key of every incoming call.
//
// Behaviour:
//   - No metadata or no authorization key returns codes.Unauthenticated.
//   - A malformed header or unknown token returns codes.PermissionDenied.
//   - Otherwise the handler runs with the token in the context.
func (g *Gate) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, err := g.authorizeRPC(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor is the streaming counterpart of UnaryInterceptor, so
// that Health/Watch is guarded the same way as Health/Check.
func (g *Gate) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := g.authorizeRPC(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

// authorizeRPC applies Check to the call's metadata and returns the context
// the handler should run with.
func (g *Gate) authorizeRPC(ctx context.Context) (context.Context, error) {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ctx = reqctx.WithClientIP(ctx, hostOnly(p.Addr.String()))
	}

	var header string
	present := false
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			header, present = vals[0], true
		}
	}

	d := g.Check(header, present)
	g.audit(ctx, "grpc", d)

	switch d.Result {
	case Unauthenticated:
		return nil, status.Error(codes.Unauthenticated, "missing authorization")
	case Forbidden:
		return nil, status.Error(codes.PermissionDenied, "invalid or unauthorized token")
	}
	return context.WithValue(ctx, ctxKey{}, d.Token), nil
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
