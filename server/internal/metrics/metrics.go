package metrics

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Family names.
const (
	AuthAttempts = "imagedrop_auth_attempts_total"
	Uploads      = "imagedrop_uploads_total"
	UploadBytes  = "imagedrop_upload_bytes_total"
	Reloads      = "imagedrop_token_reloads_total"
	TokensLoaded = "imagedrop_tokens_loaded"
	EventClients = "imagedrop_event_clients"
)

// Registry holds the server's metrics. The zero value is not usable; call New.
type Registry struct {
	reg *prometheus.Registry

	authAttempts *prometheus.CounterVec
	uploads      *prometheus.CounterVec
	uploadBytes  prometheus.Counter
	reloads      *prometheus.CounterVec

	mu     sync.Mutex
	gauges map[string]prometheus.Collector
}

// New returns a Registry with the counter families registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: AuthAttempts,
			Help: "Authentication attempts by scope and outcome.",
		}, []string{"scope", "result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: Uploads,
			Help: "Upload requests by response code.",
		}, []string{"code"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: UploadBytes,
			Help: "Bytes written by successful uploads.",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: Reloads,
			Help: "Token file reloads by trigger and outcome.",
		}, []string{"trigger", "result"}),
		gauges: make(map[string]prometheus.Collector),
	}
	r.reg.MustRegister(r.authAttempts, r.uploads, r.uploadBytes, r.reloads)
	return r
}

// AuthAttempt counts one authentication attempt.
func (r *Registry) AuthAttempt(scope, result string) {
	r.authAttempts.WithLabelValues(scope, result).Inc()
}

// Upload counts one finished upload request. code is "OK" or the machine
// error code returned to the client.
func (r *Registry) Upload(code string, bytes int64) {
	r.uploads.WithLabelValues(code).Inc()
	if bytes > 0 {
		r.uploadBytes.Add(float64(bytes))
	}
}

// Reload counts one token reload. trigger is "admin" or "watch".
func (r *Registry) Reload(trigger string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.reloads.WithLabelValues(trigger, result).Inc()
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
// Registering the same name again replaces the callback.
func (r *Registry) GaugeFunc(name, help string, fn func() float64) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.gauges[name]; ok {
		r.reg.Unregister(old)
	}
	if err := r.reg.Register(g); err != nil {
		slog.Error("metrics: register gauge", "name", name, "err", err)
		return
	}
	r.gauges[name] = g
}

// Gather returns the current metric families sorted by name. Counter
// families with no samples yet are omitted.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}

// ServeHTTP writes all families in the format negotiated from the request.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	fams, err := r.Gather()
	if err != nil {
		slog.Error("metrics: gather failed", "err", err)
		if len(fams) == 0 {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
			return
		}
	}

	format := expfmt.Negotiate(req.Header)
	w.Header().Set("Content-Type", string(format))

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range fams {
		if err := enc.Encode(mf); err != nil {
			slog.Error("metrics: encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
	if c, ok := enc.(expfmt.Closer); ok {
		c.Close() //nolint:errcheck
	}
}
