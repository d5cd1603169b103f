package api

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/imagedrop/imagedrop/server/internal/auth"
	"github.com/imagedrop/imagedrop/server/internal/metrics"
	"github.com/imagedrop/imagedrop/server/internal/reqctx"
	"github.com/imagedrop/imagedrop/server/internal/ws"
)

// statusWriter records the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += int64(n)
	return n, err
}

// Hijack lets the event feed upgrade through the logging middleware.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer does not support hijacking")
	}
	if sw.status == 0 {
		sw.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// logRequests writes one access log line per request.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		slog.Info("http request",
			"request_id", reqctx.RequestID(r.Context()),
			"client_ip", reqctx.ClientIP(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"bytes", sw.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// AuthObserver returns a callback for auth.Gate.Observe that counts every
// attempt and publishes failures to the event feed. Either sink may be nil.
func AuthObserver(m *metrics.Registry, hub *ws.Hub) func(auth.Attempt) {
	return func(a auth.Attempt) {
		if m != nil {
			m.AuthAttempt(a.Scope, a.Result.String())
		}
		if hub != nil && a.Result != auth.Authenticated {
			hub.Publish(ws.Event{
				Event:    ws.EventAuthFailed,
				ClientIP: a.ClientIP,
				Detail: map[string]any{
					"scope":        a.Scope,
					"result":       a.Result.String(),
					"request_id":   a.RequestID,
					"token_prefix": a.Prefix,
				},
			})
		}
	}
}
