package handlers

import (
	"context"
	"fmt"

	"simdoc/internal/config"
	"simdoc/internal/logger"

	"github.com/spf13/cobra"
)

// NewInitCmd creates the init command for provisioning backend state
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the Elasticsearch indices and verify connectivity",
		Long: `Create the articles and clusters indices with their mappings if they
do not exist yet, and verify that Elasticsearch and Redis are reachable.

Safe to run repeatedly; existing indices are left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context())
		},
	}
	return cmd
}

func runInit(ctx context.Context) error {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	be, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	if err := be.store.CreateIndices(ctx); err != nil {
		return fmt.Errorf("failed to create indices: %w", err)
	}

	log.Info("indices ready",
		"articles", cfg.Elasticsearch.ArticlesIndexFull(),
		"clusters", cfg.Elasticsearch.ClustersIndexFull())
	fmt.Println("Initialization complete")
	return nil
}
