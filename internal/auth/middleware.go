package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	perr "example.com/territory/internal/errors"
	"example.com/territory/internal/logger"
)

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// Middleware enforces bearer-token authentication on incoming requests.
type Middleware struct {
	cfg     Config
	skipper Skipper
}

// NewMiddleware constructs Middleware. Health and metrics probes are never authenticated.
func NewMiddleware(cfg Config) Middleware {
	return Middleware{cfg: cfg, skipper: func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}}
}

// Wrap attaches authentication handling to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper != nil && m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.parseRequest(r)
		if err != nil {
			logger.C(r.Context()).Debug().Err(err).Str("path", r.URL.Path).Msg("bearer rejected")
			writeError(w, perr.Unauthorizedf("%s", err.Error()))
			return
		}
		ctx := logger.WithRequest(WithClaims(r.Context(), claims), "", claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects authenticated callers lacking scope with 403.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				writeError(w, perr.Unauthorizedf("%s", ErrMissingToken.Error()))
				return
			}
			if !claims.HasScope(scope) {
				writeError(w, perr.Forbiddenf("missing scope %s", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) parseRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingToken
	}
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return nil, ErrInvalidToken
	}
	return Parse(header[len("Bearer "):], m.cfg)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := perr.HTTP(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
