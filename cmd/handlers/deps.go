package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"simdoc/internal/clusters"
	"simdoc/internal/config"
	"simdoc/internal/logger"
	"simdoc/internal/persistence"
	"simdoc/internal/similarity"
)

// backend bundles the wired persistence layer and domain helpers shared by
// the serve, worker, init and health commands.
type backend struct {
	store     *persistence.ElasticStore
	queue     *persistence.RedisQueue
	extractor *similarity.Extractor
	registry  *clusters.Registry
}

// connect dials Elasticsearch and Redis, retrying the initial pings with
// exponential backoff so the process survives backends that are still
// starting up.
func connect(ctx context.Context, cfg *config.Config) (*backend, error) {
	log := logger.Get()

	store, err := persistence.NewElasticStore(cfg.Elasticsearch)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	queue := persistence.NewRedisQueue(cfg.Redis)

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err = backoff.RetryNotify(
		func() error {
			if err := store.Ping(ctx); err != nil {
				return fmt.Errorf("elasticsearch ping failed: %w", err)
			}
			if err := queue.Ping(ctx); err != nil {
				return fmt.Errorf("redis ping failed: %w", err)
			}
			return nil
		},
		policy,
		func(err error, wait time.Duration) {
			log.Warn("backend not ready, retrying", "error", err, "wait", wait)
		},
	)
	if err != nil {
		return nil, err
	}

	return &backend{
		store:     store,
		queue:     queue,
		extractor: similarity.NewExtractor(cfg.Similarity),
		registry:  clusters.NewRegistry(store),
	}, nil
}
