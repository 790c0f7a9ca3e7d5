package handlers

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"simdoc/internal/config"
	"simdoc/internal/logger"

	"github.com/spf13/cobra"
)

// NewClearAllCmd creates the clear-all command for wiping stored data
func NewClearAllCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear-all",
		Short: "Delete every article, cluster, queued job and pending hint",
		Long: `Delete all documents from the articles and clusters indices and flush
the job queue, job payloads and pending hints from Redis.

Destructive and irreversible. Prompts for confirmation unless --force
is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClearAll(cmd.Context(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")

	return cmd
}

func runClearAll(ctx context.Context, force bool) error {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !force {
		fmt.Print("This deletes ALL articles, clusters and queued jobs. Type 'yes' to continue: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	be, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	if err := be.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("failed to clear document store: %w", err)
	}
	counts, err := be.queue.ClearAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	log.Info("cleared all data",
		"queue_deleted", counts.QueueDeleted,
		"jobs_deleted", counts.JobsDeleted,
		"pending_deleted", counts.PendingDeleted)
	fmt.Println("All data cleared")
	return nil
}
