package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/imagedrop/imagedrop/server/internal/auth"
	"github.com/imagedrop/imagedrop/server/internal/metrics"
	"github.com/imagedrop/imagedrop/server/internal/reqctx"
	"github.com/imagedrop/imagedrop/server/internal/tokens"
	"github.com/imagedrop/imagedrop/server/internal/upload"
	"github.com/imagedrop/imagedrop/server/internal/ws"
)

// maxMemory is how much of a multipart body is kept in memory; the rest
// spills to temporary files.
const maxMemory = 32 << 20

// Deps are the collaborators the HTTP surface is built from. Metrics and
// Events are optional.
type Deps struct {
	Tokens  *tokens.Store
	Gate    *auth.Gate
	Uploads *upload.Handler
	Metrics *metrics.Registry
	Events  *ws.Hub

	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
	// MaxUploadBytes caps /upload request bodies; 0 means unlimited.
	MaxUploadBytes int64
	Version        string
}

// Handler is the HTTP handler for all imagedrop endpoints.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(d Deps) http.Handler {
	if d.Version == "" {
		d.Version = "dev"
	}
	h := &Handler{deps: d, mux: http.NewServeMux()}

	h.mux.Handle("/upload", allow(http.MethodPost, d.Gate.Middleware(http.HandlerFunc(h.upload))))
	h.mux.Handle("/admin/reload-tokens", allow(http.MethodPost, d.Gate.RequireMaster(http.HandlerFunc(h.reload))))
	h.mux.Handle("/health", allow(http.MethodGet, http.HandlerFunc(h.health)))
	if d.Metrics != nil {
		h.mux.Handle("/metrics", allow(http.MethodGet, d.Metrics))
	}
	if d.Events != nil {
		h.mux.Handle("/admin/events", allow(http.MethodGet, d.Gate.RequireMaster(d.Events)))
	}
	h.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, CodeNotFound, "not found")
	})

	return reqctx.RequestIDMiddleware(
		reqctx.ClientIPMiddleware(d.TrustProxy, logRequests(h)),
	)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// upload handles POST /upload.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if limit := h.deps.MaxUploadBytes; limit > 0 {
		if r.ContentLength > limit {
			h.tooLarge(w)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	var (
		file     io.Reader
		fileName string
	)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.tooLarge(w)
			return
		}
		// Anything else leaves the form empty and fails the presence checks.
		slog.Debug("upload: parse multipart form", "request_id", reqctx.RequestID(ctx), "err", err)
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll() //nolint:errcheck
	}

	f, fh, err := r.FormFile("image")
	if err == nil {
		defer f.Close()
		file, fileName = f, fh.Filename
	} else if !errors.Is(err, http.ErrMissingFile) {
		slog.Debug("upload: form file", "request_id", reqctx.RequestID(ctx), "err", err)
	}

	res, err := h.deps.Uploads.Handle(ctx, file, fileName, r.PostFormValue("save_path"))
	if err != nil {
		code := writeUploadError(w, err)
		h.countUpload(code, 0)
		return
	}

	h.countUpload("OK", res.Bytes)
	h.publish(ws.Event{
		Event:    ws.EventUpload,
		ClientIP: reqctx.ClientIP(ctx),
		Detail: map[string]any{
			"path":          res.RelativePath,
			"detected_type": res.DetectedType,
			"bytes":         res.Bytes,
		},
	})
	jsonResp(w, http.StatusOK, UploadResponse{
		Message:              "File uploaded successfully.",
		RelativePathReported: res.RelativePath,
		DetectedType:         res.DetectedType,
		Bytes:                res.Bytes,
	})
}

func (h *Handler) tooLarge(w http.ResponseWriter) {
	h.countUpload(CodeTooLarge, 0)
	jsonErr(w, http.StatusRequestEntityTooLarge, CodeTooLarge, "request body exceeds the upload size limit")
}

// reload handles POST /admin/reload-tokens.
func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.deps.Tokens.Reload()
	if h.deps.Metrics != nil {
		h.deps.Metrics.Reload("admin", err)
	}

	detail := map[string]any{"trigger": "admin", "total_tokens": n}
	if err != nil {
		detail["error"] = err.Error()
	}
	h.publish(ws.Event{Event: ws.EventReload, ClientIP: reqctx.ClientIP(ctx), Detail: detail})

	if err != nil {
		slog.Error("admin: token reload failed",
			"client_ip", reqctx.ClientIP(ctx),
			"request_id", reqctx.RequestID(ctx),
			"err", err,
		)
		zero := 0
		jsonResp(w, http.StatusInternalServerError, errorResponse{
			Error:       "token file could not be read; no tokens are active",
			Code:        CodeConfigurationFault,
			TotalTokens: &zero,
		})
		return
	}

	slog.Info("admin: tokens reloaded",
		"client_ip", reqctx.ClientIP(ctx),
		"request_id", reqctx.RequestID(ctx),
		"total_tokens", n,
	)
	jsonResp(w, http.StatusOK, ReloadResponse{
		Message:     "Tokens reloaded successfully.",
		TotalTokens: n,
	})
}

// health handles GET /health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		TokensLoaded: h.deps.Tokens.Len(),
		Version:      h.deps.Version,
	})
}

// --- helpers ----------------------------------------------------------------

// writeUploadError maps an upload failure to its HTTP status and body and
// returns the machine code written.
func writeUploadError(w http.ResponseWriter, err error) string {
	var ue *upload.Error
	if !errors.As(err, &ue) {
		slog.Error("upload: unexpected error", "err", err)
		jsonErr(w, http.StatusInternalServerError, upload.KindStorage.Code(), "internal error while saving the file")
		return upload.KindStorage.Code()
	}

	status := http.StatusBadRequest
	switch ue.Kind {
	case upload.KindPathTraversal:
		status = http.StatusForbidden
	case upload.KindStorage:
		status = http.StatusInternalServerError
	}

	body := errorResponse{Error: ue.Msg, Code: ue.Kind.Code()}
	if ue.Kind == upload.KindUnsupportedType {
		body.ReceivedType = ue.DetectedType
	}
	if ue.Kind == upload.KindStorage {
		body.Error = "internal error while saving the file"
	}
	jsonResp(w, status, body)
	return body.Code
}

func (h *Handler) countUpload(code string, n int64) {
	if h.deps.Metrics != nil {
		h.deps.Metrics.Upload(code, n)
	}
}

func (h *Handler) publish(ev ws.Event) {
	if h.deps.Events != nil {
		h.deps.Events.Publish(ev)
	}
}

// allow rejects requests whose method is not method.
func allow(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			jsonErr(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, machine, msg string) {
	jsonResp(w, code, errorResponse{Error: msg, Code: machine})
}
