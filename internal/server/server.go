// Package server is the HTTP surface: routing, middleware, request decoding
// and the error envelope. All business decisions live in the services layer.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"simdoc/internal/config"
	"simdoc/internal/logger"
	"simdoc/internal/services"
)

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *config.Config
	articles   *services.ArticleService
	clusters   *services.ClusterService
	health     *services.HealthService
	log        *slog.Logger
}

// New creates a new HTTP server instance
func New(cfg *config.Config, articles *services.ArticleService, clusterSvc *services.ClusterService, health *services.HealthService) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		articles: articles,
		clusters: clusterSvc,
		health:   health,
		log:      logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(traceID)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.API.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Route(s.config.API.V1Prefix, func(r chi.Router) {
		r.Route("/articles", func(r chi.Router) {
			r.Post("/", s.handleSubmitArticle)
			r.Post("/recheck", s.handleRecheckArticles)
			r.Get("/{id}", s.handleGetArticle)
			r.Get("/{id}/similar", s.handleGetSimilarArticles)
		})

		r.Route("/clusters", func(r chi.Router) {
			r.Get("/", s.handleSearchArticles)
			r.Get("/{id}", s.handleGetCluster)
		})

		r.Get("/system/health", s.handleHealth)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server", "addr", s.httpServer.Addr, "prefix", s.config.API.V1Prefix)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
