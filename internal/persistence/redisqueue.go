package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"simdoc/internal/config"
	"simdoc/internal/core"
)

const (
	jobKeyPrefix     = "similarity_job:"
	pendingKeyPrefix = "cluster_pending:"

	// Job payloads live for an hour; pending hints for five minutes.
	jobTTL     = time.Hour
	pendingTTL = 5 * time.Minute
)

// RedisQueue implements JobQueue on Redis: LPUSH/BRPOP on the queue list and
// SETEX side keys for job payloads and pending-cluster hints.
type RedisQueue struct {
	client    *redis.Client
	queueName string
}

// NewRedisQueue dials Redis with the given configuration.
func NewRedisQueue(cfg config.Redis) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &RedisQueue{client: client, queueName: cfg.QueueName}
}

// Ping checks connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Enqueue stores the job payload with its TTL and pushes the job id onto the
// queue. The payload must be durable before the id is visible to workers.
func (q *RedisQueue) Enqueue(ctx context.Context, job *core.SimilarityJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.JobID, err)
	}
	if err := q.client.SetEx(ctx, jobKeyPrefix+job.JobID, data, jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.JobID, err)
	}
	if err := q.client.LPush(ctx, q.queueName, job.JobID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job id. Returns "" on timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to dequeue job: %w", err)
	}
	// BRPOP returns [key, value].
	return result[1], nil
}

// GetJob loads a job payload, or (nil, nil) when it expired or never existed.
func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (*core.SimilarityJob, error) {
	data, err := q.client.Get(ctx, jobKeyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	var job core.SimilarityJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// UpdateJobStatus rewrites the job payload with the new status, refreshing
// its TTL. Missing jobs are a no-op.
func (q *RedisQueue) UpdateJobStatus(ctx context.Context, jobID string, status core.JobStatus) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return err
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", jobID, err)
	}
	if err := q.client.SetEx(ctx, jobKeyPrefix+jobID, data, jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

// SetPendingCluster writes the advisory pending-cluster hint for an article.
func (q *RedisQueue) SetPendingCluster(ctx context.Context, articleID string, clusterID *string, etaMS int) error {
	hint := core.PendingCluster{
		ClusterID: clusterID,
		EtaMS:     etaMS,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(hint)
	if err != nil {
		return fmt.Errorf("failed to encode pending hint for %s: %w", articleID, err)
	}
	if err := q.client.SetEx(ctx, pendingKeyPrefix+articleID, data, pendingTTL).Err(); err != nil {
		return fmt.Errorf("failed to store pending hint for %s: %w", articleID, err)
	}
	return nil
}

// GetPendingCluster reads back the hint, or (nil, nil) when absent.
func (q *RedisQueue) GetPendingCluster(ctx context.Context, articleID string) (*core.PendingCluster, error) {
	data, err := q.client.Get(ctx, pendingKeyPrefix+articleID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending hint for %s: %w", articleID, err)
	}
	var hint core.PendingCluster
	if err := json.Unmarshal(data, &hint); err != nil {
		return nil, fmt.Errorf("failed to decode pending hint for %s: %w", articleID, err)
	}
	return &hint, nil
}

// ClearPendingCluster drops the hint. Clearing twice is a no-op.
func (q *RedisQueue) ClearPendingCluster(ctx context.Context, articleID string) error {
	if err := q.client.Del(ctx, pendingKeyPrefix+articleID).Err(); err != nil {
		return fmt.Errorf("failed to clear pending hint for %s: %w", articleID, err)
	}
	return nil
}

// QueueLength returns the number of queued job ids.
func (q *RedisQueue) QueueLength(ctx context.Context) (int64, error) {
	length, err := q.client.LLen(ctx, q.queueName).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return length, nil
}

// QueueStats scans the job payloads and counts those still pending.
func (q *RedisQueue) QueueStats(ctx context.Context) (*QueueStats, error) {
	length, err := q.QueueLength(ctx)
	if err != nil {
		return nil, err
	}
	pending := 0
	iter := q.client.Scan(ctx, 0, jobKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := q.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var job core.SimilarityJob
		if json.Unmarshal(data, &job) == nil && job.Status == core.JobPending {
			pending++
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan job keys: %w", err)
	}
	return &QueueStats{
		QueueLength:    length,
		PendingJobs:    pending,
		ProcessingJobs: pending - int(length),
	}, nil
}

// CleanupExpiredJobs sweeps job payload keys, dropping any that cannot be
// decoded and re-arming TTLs on keys that lost theirs. Redis handles the
// actual expiry; this recovers from partial writes.
func (q *RedisQueue) CleanupExpiredJobs(ctx context.Context) (int, error) {
	cleaned := 0
	iter := q.client.Scan(ctx, 0, jobKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := q.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return cleaned, fmt.Errorf("failed to read job key %s: %w", key, err)
		}
		var job core.SimilarityJob
		if json.Unmarshal(data, &job) != nil {
			if q.client.Del(ctx, key).Err() == nil {
				cleaned++
			}
			continue
		}
		if ttl, err := q.client.TTL(ctx, key).Result(); err == nil && ttl < 0 {
			_ = q.client.Expire(ctx, key, jobTTL).Err()
			cleaned++
		}
	}
	if err := iter.Err(); err != nil {
		return cleaned, fmt.Errorf("failed to scan job keys: %w", err)
	}
	return cleaned, nil
}

// ClearAll drops the queue list, every job payload and every pending hint.
func (q *RedisQueue) ClearAll(ctx context.Context) (*ClearCounts, error) {
	counts := &ClearCounts{}
	deleted, err := q.client.Del(ctx, q.queueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to delete queue: %w", err)
	}
	counts.QueueDeleted = int(deleted)

	for prefix, target := range map[string]*int{
		jobKeyPrefix:     &counts.JobsDeleted,
		pendingKeyPrefix: &counts.PendingDeleted,
	} {
		iter := q.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			n, err := q.client.Del(ctx, iter.Val()).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
			*target += int(n)
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
	}
	return counts, nil
}

// HealthCheck probes connectivity and a read/write roundtrip.
func (q *RedisQueue) HealthCheck(ctx context.Context) QueueHealth {
	if err := q.Ping(ctx); err != nil {
		return QueueHealth{Status: "fail", Message: "cannot connect to redis"}
	}
	const testKey = "health_check_test"
	if err := q.client.Set(ctx, testKey, "test", 10*time.Second).Err(); err != nil {
		return QueueHealth{Status: "fail", Message: fmt.Sprintf("redis write failed: %v", err)}
	}
	value, err := q.client.Get(ctx, testKey).Result()
	q.client.Del(ctx, testKey)
	if err != nil || value != "test" {
		return QueueHealth{Status: "fail", Message: "redis read/write test failed"}
	}
	length, err := q.QueueLength(ctx)
	if err != nil {
		return QueueHealth{Status: "fail", Message: fmt.Sprintf("queue length check failed: %v", err)}
	}
	return QueueHealth{Status: "pass", Message: fmt.Sprintf("redis is healthy, queue length: %d", length)}
}
