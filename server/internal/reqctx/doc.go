// Package reqctx carries per-request values through the request context and
// provides the middleware that sets them.
//
// RequestIDMiddleware keeps a client X-Request-Id (up to 128 bytes) or
// generates a UUID, and echoes it on the response. ClientIPMiddleware records
// the caller's address, trusting one reverse proxy hop when asked to.
// ClientIP falls back to "SERVER" outside a request so log lines always carry
// a value.
package reqctx
