// Package worker implements the asynchronous re-score loop: it consumes
// similarity jobs from the queue, recomputes Jaccard similarity against the
// candidate snapshots, decides cluster membership including merges, and
// writes the outcome back to the document store.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"simdoc/internal/clusters"
	"simdoc/internal/core"
	"simdoc/internal/logger"
	"simdoc/internal/persistence"
	"simdoc/internal/similarity"
)

// cleanupEvery is how many completed jobs pass between queue TTL sweeps.
const cleanupEvery = 10

// Worker consumes the similarity job queue. Multiple workers may run in
// parallel; they coordinate only through the store and the queue, and
// converge on merges because the winner of a merge set is deterministic.
type Worker struct {
	store     persistence.DocumentStore
	queue     persistence.JobQueue
	extractor *similarity.Extractor
	registry  *clusters.Registry
	log       *slog.Logger

	stopped   atomic.Bool
	completed atomic.Int64
}

// New creates a worker over the given store and queue.
func New(store persistence.DocumentStore, queue persistence.JobQueue, extractor *similarity.Extractor, registry *clusters.Registry) *Worker {
	return &Worker{
		store:     store,
		queue:     queue,
		extractor: extractor,
		registry:  registry,
		log:       logger.Get(),
	}
}

// Stop asks the loop to exit after the in-flight job, if any.
func (w *Worker) Stop() {
	w.stopped.Store(true)
}

// Run consumes jobs until the context is cancelled, Stop is called, or
// maxJobs jobs have been processed (maxJobs <= 0 means no limit). The
// dequeue blocks for at most timeout per attempt; an idle timeout simply
// loops. Job-level failures are logged and do not stop the loop.
func (w *Worker) Run(ctx context.Context, maxJobs int, timeout time.Duration) error {
	w.log.Info("worker started", "timeout", timeout, "max_jobs", maxJobs)
	processed := 0
	for {
		if w.stopped.Load() {
			w.log.Info("worker stopping", "processed", processed)
			return nil
		}
		if maxJobs > 0 && processed >= maxJobs {
			w.log.Info("worker reached job limit", "processed", processed)
			return nil
		}
		jobID, err := w.queue.Dequeue(ctx, timeout)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker stopping", "processed", processed)
				return nil
			}
			return fmt.Errorf("dequeue failed: %w", err)
		}
		if jobID == "" {
			continue
		}
		processed++
		if err := w.ProcessJob(ctx, jobID); err != nil {
			w.log.Error("job failed", "job_id", jobID, "error", err)
			if err := w.queue.UpdateJobStatus(ctx, jobID, core.JobFailed); err != nil {
				w.log.Error("failed to mark job failed", "job_id", jobID, "error", err)
			}
			continue
		}
		if err := w.queue.UpdateJobStatus(ctx, jobID, core.JobCompleted); err != nil {
			w.log.Error("failed to mark job completed", "job_id", jobID, "error", err)
		}
		if n := w.completed.Add(1); n%cleanupEvery == 0 {
			if removed, err := w.queue.CleanupExpiredJobs(ctx); err != nil {
				w.log.Warn("queue cleanup failed", "error", err)
			} else if removed > 0 {
				w.log.Info("queue cleanup", "removed", removed)
			}
		}
	}
}

// ProcessJob runs the re-score protocol for one job. The returned error means
// the job should be marked failed; the article keeps its previous state and a
// later recheck is the recovery path.
func (w *Worker) ProcessJob(ctx context.Context, jobID string) error {
	if err := w.queue.UpdateJobStatus(ctx, jobID, core.JobProcessing); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	job, err := w.queue.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job %s expired before processing", jobID)
	}

	article, err := w.store.GetArticle(ctx, job.ArticleID)
	if err != nil {
		return fmt.Errorf("failed to load article %s: %w", job.ArticleID, err)
	}
	if article == nil {
		return fmt.Errorf("article %s not found", job.ArticleID)
	}

	similar, err := w.scoreCandidates(ctx, job)
	if err != nil {
		return err
	}

	finalClusterID, mergeSet := w.decide(job, similar)

	// Reconcile with writes that landed while scoring: another submitter's
	// fast path may have matched this article already.
	current, err := w.store.GetArticle(ctx, job.ArticleID)
	if err != nil {
		return fmt.Errorf("failed to re-read article %s: %w", job.ArticleID, err)
	}
	if current != nil && current.ClusterStatus == core.StatusMatched && current.ClusterID != nil {
		external := *current.ClusterID
		if finalClusterID == "" {
			finalClusterID = external
		} else if finalClusterID != external {
			// The computed target stands; the external cluster is absorbed.
			mergeSet = append(mergeSet, external)
		}
	}

	if err := w.writeBack(ctx, job, *article, similar, finalClusterID, mergeSet); err != nil {
		return err
	}

	if err := w.queue.ClearPendingCluster(ctx, job.ArticleID); err != nil {
		w.log.Warn("failed to clear pending hint", "article_id", job.ArticleID, "error", err)
	}
	w.log.Info("job processed",
		"job_id", jobID,
		"article_id", job.ArticleID,
		"similar", len(similar),
		"cluster_id", finalClusterID)
	return nil
}

// scoreCandidates computes Jaccard similarity between the job's shingles and
// every candidate, falling back to the stored article when the snapshot
// carries no shingles. Candidates that still have none are skipped. The
// cluster id attached to each hit is read fresh from the store when
// available, so merge decisions see the current assignment rather than the
// enqueue-time snapshot.
func (w *Worker) scoreCandidates(ctx context.Context, job *core.SimilarityJob) ([]similarity.Scored, error) {
	threshold := w.extractor.Threshold()
	var similar []similarity.Scored
	for _, candidate := range job.Candidates {
		shingles := candidate.Shingles
		clusterID := candidate.ClusterID
		if stored, err := w.store.GetArticle(ctx, candidate.ArticleID); err != nil {
			return nil, fmt.Errorf("failed to load candidate %s: %w", candidate.ArticleID, err)
		} else if stored != nil {
			if len(shingles) == 0 {
				shingles = stored.Shingles
			}
			clusterID = stored.ClusterID
		}
		if len(shingles) == 0 {
			continue
		}
		score := similarity.Jaccard(job.Shingles, shingles)
		if score >= threshold {
			similar = append(similar, similarity.Scored{
				ArticleID:       candidate.ArticleID,
				SimilarityScore: score,
				ClusterID:       clusterID,
			})
		}
	}
	return similar, nil
}

// decide picks the target cluster. An empty return means the article is
// unique. When peers exist but none has a cluster yet, the job's article
// founds a new cluster and recruits them. When peers span existing clusters,
// the deterministic merge winner is chosen and the rest become the merge set.
func (w *Worker) decide(job *core.SimilarityJob, similar []similarity.Scored) (finalClusterID string, mergeSet []string) {
	if len(similar) == 0 {
		return "", nil
	}
	hitSet := make(map[string]struct{})
	var hit []string
	for _, s := range similar {
		if s.ClusterID == nil || *s.ClusterID == "" {
			continue
		}
		if _, seen := hitSet[*s.ClusterID]; !seen {
			hitSet[*s.ClusterID] = struct{}{}
			hit = append(hit, *s.ClusterID)
		}
	}
	if len(hit) == 0 {
		return core.ClusterIDFor(job.ArticleID), nil
	}
	winner := clusters.Winner(hit)
	for _, id := range hit {
		if id != winner {
			mergeSet = append(mergeSet, id)
		}
	}
	return winner, mergeSet
}

// writeBack applies the decision: cluster membership, peer patches, merges,
// and finally the job article's own state.
func (w *Worker) writeBack(ctx context.Context, job *core.SimilarityJob, article core.Article, similar []similarity.Scored, finalClusterID string, mergeSet []string) error {
	now := time.Now().UTC()

	if finalClusterID != "" {
		memberIDs := make([]string, 0, len(similar)+1)
		memberIDs = append(memberIDs, job.ArticleID)
		for _, s := range similar {
			memberIDs = append(memberIDs, s.ArticleID)
		}
		if _, err := w.registry.Append(ctx, finalClusterID, article, memberIDs...); err != nil {
			return fmt.Errorf("failed to extend cluster %s: %w", finalClusterID, err)
		}

		for _, s := range similar {
			if s.ClusterID != nil && *s.ClusterID == finalClusterID {
				continue
			}
			err := w.store.UpdateArticle(ctx, s.ArticleID, map[string]any{
				"cluster_status":   core.StatusMatched,
				"cluster_id":       finalClusterID,
				"similarity_score": s.SimilarityScore,
				"updated_at":       now,
			})
			if err != nil {
				return fmt.Errorf("failed to patch peer %s: %w", s.ArticleID, err)
			}
		}

		if len(mergeSet) > 0 {
			if err := w.registry.Merge(ctx, finalClusterID, article, mergeSet); err != nil {
				return fmt.Errorf("merge into %s failed: %w", finalClusterID, err)
			}
		}
	}

	fields := map[string]any{
		"updated_at": now,
	}
	if finalClusterID != "" {
		fields["cluster_status"] = core.StatusMatched
		fields["cluster_id"] = finalClusterID
		// An adoption with no scored peers keeps the score the fast path wrote.
		if len(similar) > 0 {
			fields["similarity_score"] = maxScore(similar)
		}
	} else {
		fields["cluster_status"] = core.StatusUnique
		fields["cluster_id"] = nil
		fields["similarity_score"] = nil
	}
	if err := w.store.UpdateArticle(ctx, job.ArticleID, fields); err != nil {
		return fmt.Errorf("failed to patch article %s: %w", job.ArticleID, err)
	}
	return nil
}

func maxScore(similar []similarity.Scored) float64 {
	best := 0.0
	for _, s := range similar {
		if s.SimilarityScore > best {
			best = s.SimilarityScore
		}
	}
	return best
}
