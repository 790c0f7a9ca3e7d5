package handlers

import (
	"context"
	"fmt"

	"simdoc/internal/config"
	"simdoc/internal/services"

	"github.com/spf13/cobra"
)

// NewHealthCmd creates the health command for probing the backends
func NewHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check Elasticsearch and Redis health and print store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context())
		},
	}
	return cmd
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	be, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	report := services.NewHealthService(be.store, be.queue).CheckHealth(ctx)
	fmt.Printf("status: %s\n", report.Status)
	for name, state := range report.Components {
		fmt.Printf("  %-14s %s\n", name, state)
	}

	if stats, err := be.store.ClusterStats(ctx); err == nil {
		fmt.Printf("articles: %d\nclusters: %d\n", stats.TotalArticles, stats.TotalClusters)
	}
	if stats, err := be.queue.QueueStats(ctx); err == nil {
		fmt.Printf("queue length: %d\npending jobs: %d\nprocessing jobs: %d\n",
			stats.QueueLength, stats.PendingJobs, stats.ProcessingJobs)
	}

	if report.Status == "fail" {
		return fmt.Errorf("health check failed")
	}
	return nil
}
