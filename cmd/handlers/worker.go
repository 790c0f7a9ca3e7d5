package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"simdoc/internal/config"
	"simdoc/internal/logger"
	"simdoc/internal/worker"

	"github.com/spf13/cobra"
)

// NewWorkerCmd creates the worker command for running re-score workers
func NewWorkerCmd() *cobra.Command {
	var (
		count   int
		timeout int
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background similarity re-score workers",
		Long: `Consume the similarity job queue and assign articles to clusters.

Each worker blocks on the queue, recomputes Jaccard similarity for the
job's candidates, and writes the cluster decision back. Workers are
safe to run in parallel, within one process or across processes.

Examples:
  # Run a single worker
  simdoc worker

  # Run four workers with a 10 second dequeue timeout
  simdoc worker --count 4 --timeout 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(cmd.Context(), count, timeout)
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "Number of workers to run")
	cmd.Flags().IntVar(&timeout, "timeout", 5, "Dequeue blocking timeout in seconds")

	return cmd
}

func runWorkers(ctx context.Context, count, timeoutSec int) error {
	log := logger.Get()
	if count < 1 {
		return fmt.Errorf("count must be >= 1, got %d", count)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetDebug(cfg.App.Debug)

	be, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := make([]*worker.Worker, 0, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		w := worker.New(be.store, be.queue, be.extractor, be.registry)
		workers = append(workers, w)
		wg.Add(1)
		go func(id int, w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(ctx, 0, time.Duration(timeoutSec)*time.Second); err != nil {
				log.Error("worker exited with error", "worker", id, "error", err)
			}
		}(i, w)
	}
	log.Info("workers running", "count", count)
	log.Info("Press Ctrl+C to stop")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	log.Info("Worker shutdown initiated", "signal", sig.String())

	for _, w := range workers {
		w.Stop()
	}
	cancel()
	wg.Wait()
	log.Info("All workers stopped")
	return nil
}
