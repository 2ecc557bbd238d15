// Package httptransport assembles the HTTP router and server used by the api binary.
package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig contains tunables for the HTTP server.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates *http.Server with provided handler.
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	SlowRequest time.Duration
	// Auth wraps every route except the probes.
	Auth func(http.Handler) http.Handler
	// Health answers GET /healthz.
	Health http.HandlerFunc
	// Metrics serves /metrics on the main router when true.
	Metrics bool
}

// NewRouter builds the chi router with request ids, access logging, panic recovery and CORS
// applied, then lets mount register the application routes.
func NewRouter(opt RouterOptions, mount func(chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, RequestID, AccessLog(opt.SlowRequest), chimw.Recoverer, CORS(opt.CORSOrigins))

	if opt.Health != nil {
		r.Get("/healthz", opt.Health)
	}
	if opt.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Group(func(r chi.Router) {
		if opt.Auth != nil {
			r.Use(opt.Auth)
		}
		mount(r)
	})
	return r
}

// MetricsHandler serves the default Prometheus registry on a dedicated listener.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
