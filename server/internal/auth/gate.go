package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/imagedrop/imagedrop/server/internal/reqctx"
)

// DefaultMasterToken is the shipped placeholder. A master credential equal to
// it disables the admin reload endpoint.
const DefaultMasterToken = "ADMIN_MASTER_TOKEN_DEFAULT_CHANGE_ME"

// scopeAdmin is the audit scope of master-credential checks.
const scopeAdmin = "admin"

// prefixLen is how much of a token is written to the audit log.
const prefixLen = 5

// Result is the outcome of an authentication check.
type Result int

const (
	Unauthenticated Result = iota
	Forbidden
	Authenticated
)

func (r Result) String() string {
	switch r {
	case Authenticated:
		return "authenticated"
	case Forbidden:
		return "forbidden"
	default:
		return "unauthenticated"
	}
}

// Status returns the HTTP status for a rejected request, or 200.
func (r Result) Status() int {
	switch r {
	case Authenticated:
		return http.StatusOK
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

// Decision is the result of Check together with the candidate token, if any.
type Decision struct {
	Result Result
	Token  string
}

// Verifier reports whether a token is currently valid. *tokens.Store
// satisfies it.
type Verifier interface {
	Contains(token string) bool
}

// Attempt describes one authentication attempt, for observers.
type Attempt struct {
	Scope     string // "upload", "admin" or "grpc"
	Result    Result
	ClientIP  string
	RequestID string
	Prefix    string
}

// Gate checks bearer tokens against a Verifier and the master credential.
type Gate struct {
	tokens Verifier
	master string

	// Observe, if set, is called after every attempt.
	Observe func(Attempt)
}

// New returns a Gate validating against v. An empty master is treated as the
// placeholder.
func New(v Verifier, master string) *Gate {
	if master == "" {
		master = DefaultMasterToken
	}
	return &Gate{tokens: v, master: master}
}

// AdminEnabled reports whether the master credential has been changed from
// the placeholder.
func (g *Gate) AdminEnabled() bool {
	return g.master != DefaultMasterToken
}

// ExtractToken pulls the candidate token out of an Authorization header value.
func ExtractToken(header string) (string, bool) {
	parts := strings.Fields(header)
	switch {
	case len(parts) == 2 && strings.EqualFold(parts[0], "bearer"):
		return parts[1], true
	case len(parts) == 1:
		return parts[0], true
	default:
		return "", false
	}
}

// Check evaluates an Authorization header. A header that is absent or blank
// is Unauthenticated; any other header without a known token is Forbidden.
func (g *Gate) Check(header string, present bool) Decision {
	if !present || strings.TrimSpace(header) == "" {
		return Decision{Result: Unauthenticated}
	}
	tok, ok := ExtractToken(header)
	if !ok {
		return Decision{Result: Forbidden}
	}
	if !g.tokens.Contains(tok) {
		return Decision{Result: Forbidden, Token: tok}
	}
	return Decision{Result: Authenticated, Token: tok}
}

// CheckMaster evaluates an Authorization header against the master
// credential. A missing header is Forbidden here, not Unauthenticated.
func (g *Gate) CheckMaster(header string) Decision {
	tok, ok := ExtractToken(header)
	if !ok {
		return Decision{Result: Forbidden}
	}
	if !g.AdminEnabled() {
		return Decision{Result: Forbidden, Token: tok}
	}
	if subtle.ConstantTimeCompare([]byte(tok), []byte(g.master)) != 1 {
		return Decision{Result: Forbidden, Token: tok}
	}
	return Decision{Result: Authenticated, Token: tok}
}

// Prefix returns the loggable prefix of a token: its first five characters,
// or "N/A" when there is none.
func Prefix(tok string) string {
	if tok == "" {
		return "N/A"
	}
	r := []rune(tok)
	if len(r) > prefixLen {
		return string(r[:prefixLen])
	}
	return tok
}

// audit logs the attempt and forwards it to the observer.
func (g *Gate) audit(ctx context.Context, scope string, d Decision) {
	a := Attempt{
		Scope:     scope,
		Result:    d.Result,
		ClientIP:  reqctx.ClientIP(ctx),
		RequestID: reqctx.RequestID(ctx),
		Prefix:    Prefix(d.Token),
	}

	switch d.Result {
	case Authenticated:
		attrs := []any{"scope", scope, "client_ip", a.ClientIP, "request_id", a.RequestID}
		if scope == scopeAdmin {
			// Never reveal any part of the master credential.
			a.Prefix = ""
		} else {
			attrs = append(attrs, "token_prefix", a.Prefix+"...")
		}
		slog.Info("auth: success", attrs...)
	case Unauthenticated:
		slog.Warn("auth: no authorization header",
			"scope", scope,
			"client_ip", a.ClientIP,
			"request_id", a.RequestID,
		)
	default:
		slog.Error("auth: invalid token",
			"scope", scope,
			"client_ip", a.ClientIP,
			"request_id", a.RequestID,
			"token_prefix", a.Prefix,
		)
	}

	if g.Observe != nil {
		g.Observe(a)
	}
}

type ctxKey struct{}

// TokenFromContext returns the token that authenticated the request.
func TokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// Middleware rejects requests without a valid token and passes the rest to
// next with the token stored in the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		values, present := r.Header["Authorization"]
		header := ""
		if present && len(values) > 0 {
			header = values[0]
		}

		d := g.Check(header, present)
		g.audit(r.Context(), "upload", d)

		switch d.Result {
		case Unauthenticated:
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED",
				"Authorization header required. Use 'Bearer <token>'.")
			return
		case Forbidden:
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Invalid or unauthorized token.")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, d.Token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireMaster is like Middleware but checks the master credential.
func (g *Gate) RequireMaster(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.CheckMaster(r.Header.Get("Authorization"))
		g.audit(r.Context(), scopeAdmin, d)
		if d.Result != Authenticated {
			writeError(w, http.StatusForbidden, "FORBIDDEN",
				"Unauthorized. A valid master token is required.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: msg, Code: code}) //nolint:errcheck
}
