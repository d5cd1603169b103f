// Package rpc serves the token-guarded gRPC surface of imagedrop-server.
//
// Only the standard grpc.health.v1.Health service is registered. Every call
// passes through the auth.Gate interceptors, so a Check doubles as a cheap
// way for clients to verify their token out of band:
//
//	no authorization metadata   -> codes.Unauthenticated
//	malformed or unknown token  -> codes.PermissionDenied
//	valid token                 -> SERVING (or NOT_SERVING while draining)
//
// The overall status ("") and the "imagedrop.Upload" service report
// SERVING until Shutdown is called.
package rpc
