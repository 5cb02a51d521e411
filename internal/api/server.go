package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"github.com/opensource-finance/sentinel/internal/rules"
	"github.com/opensource-finance/sentinel/internal/session"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, metricsCfg domain.MetricsConfig, hcfg HandlerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, sessions *session.Manager) *Server {
	handler := NewHandler(hcfg, repo, cache, bus, engine, sessions)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(RecoverMiddleware)      // Recover from panics inside the span
	router.Use(LoggingMiddleware)      // Request logging and metrics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Operational endpoints (no session)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if metricsCfg.Enabled {
		path := metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		router.Method(http.MethodGet, path, metrics.Handler())
	}
	router.Get("/ledger", handler.Ledger)

	// Session-scoped routes
	router.Group(func(r chi.Router) {
		r.Use(SessionMiddleware)

		// Live monitoring
		r.Post("/live/{step}", handler.Live)
		r.Get("/incidents", handler.Incidents)
		r.Delete("/session", handler.EndSession)

		// Forensics
		r.Get("/forensics/benford", handler.Benford)
		r.Get("/forensics/liquidation", handler.Liquidation)
		r.Post("/audit", handler.Audit)
		r.Get("/report", handler.Report)
	})

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
