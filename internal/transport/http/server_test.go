package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"example.com/territory/internal/logger"
)

func TestRouterMintsAndPropagatesRequestID(t *testing.T) {
	var seen string
	r := NewRouter(RouterOptions{}, func(r chi.Router) {
		r.Get("/echo", func(w http.ResponseWriter, req *http.Request) {
			seen = req.Header.Get(HeaderRequestID)
			logger.C(req.Context()).Debug().Msg("inside")
			w.WriteHeader(http.StatusNoContent)
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, rec.Header().Get(HeaderRequestID))
	require.Empty(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
}

func TestRouterLeavesProbesOutsideAuth(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusUnauthorized) })
	}
	r := NewRouter(RouterOptions{
		Auth:    deny,
		Metrics: true,
		Health:  func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
	}, func(r chi.Router) {
		r.Get("/v1/runs", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	})

	for path, want := range map[string]int{"/healthz": http.StatusOK, "/metrics": http.StatusOK, "/v1/runs": http.StatusUnauthorized} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, want, rec.Code, path)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := NewRouter(RouterOptions{CORSOrigins: []string{"https://app.example"}}, func(r chi.Router) {
		r.Post("/v1/runs", func(w http.ResponseWriter, _ *http.Request) {})
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/runs", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
