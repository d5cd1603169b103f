// Package api implements the HTTP surface of imagedrop-server.
//
// New(deps) returns an http.Handler that serves:
//
//	POST /upload               multipart upload (image, save_path); bearer token
//	POST /admin/reload-tokens  re-read the token file; master credential
//	GET  /health               liveness and loaded token count
//	GET  /metrics              Prometheus exposition
//	GET  /admin/events         WebSocket event feed; master credential
//
// Every request passes through request-id, client-ip and access-log
// middleware. Wrong methods get 405. Errors are JSON bodies of the form
// {"error": "...", "code": "..."}; UNSUPPORTED_TYPE also carries
// received_type.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
