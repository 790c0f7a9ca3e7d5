package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"simdoc/internal/config"
	"simdoc/internal/logger"
	"simdoc/internal/server"
	"simdoc/internal/services"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		host   string
		port   int
		reload bool
		debug  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the article submission and query API server",
		Long: `Start the HTTP API server.

The server provides:
  • Article submission with synchronous exact-duplicate detection
  • Article, cluster and similar-article lookup
  • Metadata search with pagination
  • Health check endpoint

Background re-scoring is handled separately; run 'simdoc worker' to
consume the job queue.

Examples:
  # Start server on the configured port
  simdoc serve

  # Start on a custom port with debug logging
  simdoc serve --port 3000 --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), host, port, reload, debug)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8000)")
	cmd.Flags().BoolVar(&reload, "reload", false, "Auto-reload on changes (not implemented, accepted for compatibility)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, host string, port int, reload, debug bool) error {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if host != "" {
		cfg.App.Host = host
	}
	if port != 0 {
		cfg.App.Port = port
	}
	if debug {
		cfg.App.Debug = true
	}
	logger.SetDebug(cfg.App.Debug)
	if reload {
		log.Warn("--reload is accepted but has no effect")
	}

	be, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	if err := be.store.CreateIndices(ctx); err != nil {
		return fmt.Errorf("failed to ensure indices: %w", err)
	}

	articleSvc := services.NewArticleService(be.store, be.queue, be.extractor, be.registry)
	clusterSvc := services.NewClusterService(be.store)
	healthSvc := services.NewHealthService(be.store, be.queue)
	srv := server.New(cfg, articleSvc, clusterSvc, healthSvc)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("Server listening on http://%s:%d", cfg.App.Host, cfg.App.Port))
		log.Info("Press Ctrl+C to stop")
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("Server shutdown initiated", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed, forcing close", "error", err)
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		log.Info("Server stopped successfully")
	}

	return nil
}
