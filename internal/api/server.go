package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clickshield/kestrel/internal/aggregate"
	"github.com/clickshield/kestrel/internal/domain"
	"github.com/clickshield/kestrel/internal/pipeline"
	"github.com/clickshield/kestrel/internal/report"
	"github.com/clickshield/kestrel/internal/reputation"
	"github.com/clickshield/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. Tracing middleware is installed only
// when the tracing config enables it.
func NewServer(
	cfg domain.ServerConfig,
	tracing domain.TracingConfig,
	pipe *pipeline.Pipeline,
	reports *report.Generator,
	repStore *reputation.Store,
	aggregator *aggregate.Aggregator,
	customEngine *rules.CustomEngine,
	repo domain.Repository,
	cache domain.Cache,
	version string,
) *Server {
	handler := NewHandler(pipe, reports, repStore, aggregator, customEngine, repo, cache, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)    // CORS for the collection snippet
	router.Use(RecoverMiddleware) // Recover from panics
	if tracing.Enabled {
		router.Use(TracingMiddleware) // OpenTelemetry tracing
	}
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Click ingestion
	router.Post("/collect", handler.Collect)

	// Reporting
	router.Get("/reports/{campaignID}", handler.GetReport)
	router.Get("/aggregates/{campaignID}", handler.GetAggregate)
	router.Get("/clicks/{clickID}", handler.GetClick)

	// Reputation administration
	router.Put("/reputation/{ip}", handler.SetReputation)
	router.Get("/reputation/{ip}", handler.GetReputation)

	// Custom rule management
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
