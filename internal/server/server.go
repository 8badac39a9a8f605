// Package server provides the HTTP API for the market data service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/analysis"
	"github.com/aristath/marketdata/internal/cache"
	"github.com/aristath/marketdata/internal/database"
	"github.com/aristath/marketdata/internal/fetch"
)

// Config holds server dependencies.
type Config struct {
	Log      zerolog.Logger
	Port     int
	DevMode  bool
	Manager  *cache.Manager
	Resolver *fetch.Resolver
	Analysis *analysis.Service
	CacheDB  *database.DB
	Backups  BackupLister
}

// Server is the HTTP server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	manager        *cache.Manager
	resolver       *fetch.Resolver
	analysis       *analysis.Service
	systemHandlers *SystemHandlers
}

// New creates the HTTP server with all routes wired.
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		manager:        cfg.Manager,
		resolver:       cfg.Resolver,
		analysis:       cfg.Analysis,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.CacheDB, cfg.Resolver, cfg.Backups),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/data/{type}/{key}", s.handleGetData)
		r.Delete("/data/{type}/{key}", s.handleInvalidate)

		r.Get("/cache/stats", s.handleCacheStats)
		r.Get("/sources", s.handleSources)

		r.Post("/analysis/{symbol}", s.handleComputeAnalysis)

		r.Get("/system/health", s.systemHandlers.HandleSystemHealth)
		r.Get("/system/backups", s.systemHandlers.HandleListBackups)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
