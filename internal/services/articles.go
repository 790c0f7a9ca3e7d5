// Package services holds the business logic between the HTTP surface and the
// persistence layer: the synchronous admission path, the read path and the
// health probe. All dependencies are injected; the services keep no mutable
// state of their own.
package services

import (
	"context"
	"log/slog"
	"time"

	"simdoc/internal/clusters"
	"simdoc/internal/core"
	"simdoc/internal/logger"
	"simdoc/internal/persistence"
	"simdoc/internal/similarity"
)

const (
	// candidateLimit caps how many MinHash-band candidates the submitter pulls.
	candidateLimit = 50
	// pendingEtaMS is the advisory processing estimate written with the
	// pending-cluster hint.
	pendingEtaMS = 120
)

// ArticleService implements article submission, lookup and recheck.
type ArticleService struct {
	store     persistence.DocumentStore
	queue     persistence.JobQueue
	extractor *similarity.Extractor
	registry  *clusters.Registry
	log       *slog.Logger
}

// NewArticleService wires an article service.
func NewArticleService(store persistence.DocumentStore, queue persistence.JobQueue, extractor *similarity.Extractor, registry *clusters.Registry) *ArticleService {
	return &ArticleService{
		store:     store,
		queue:     queue,
		extractor: extractor,
		registry:  registry,
		log:       logger.Get(),
	}
}

// SubmitArticle admits an article: an idempotent upsert keyed on article_id.
// Existing articles get their mutable fields patched without re-clustering.
// New articles take the exact-duplicate fast path when a stored simhash
// matches, otherwise they are indexed as pending and a re-score job is
// enqueued. The article document is always written before the job so the
// worker can load it.
func (s *ArticleService) SubmitArticle(ctx context.Context, req core.ArticleCreate) error {
	if err := req.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()

	existing, err := s.store.GetArticle(ctx, req.ArticleID)
	if err != nil {
		return core.Internalf(err, "failed to look up article %s", req.ArticleID)
	}
	if existing != nil {
		// Re-submission: patch mutable fields only. No feature re-extraction,
		// no re-enqueue.
		err := s.store.UpdateArticle(ctx, req.ArticleID, mutableFields(req, now))
		if err != nil {
			return core.Internalf(err, "failed to update article %s", req.ArticleID)
		}
		return nil
	}

	features := s.extractor.ExtractFeatures(req.FullText())

	duplicates, err := s.store.SearchSimHash(ctx, features.SimHash)
	if err != nil {
		return core.Internalf(err, "simhash lookup failed")
	}
	if len(duplicates) > 0 {
		return s.admitExactDuplicate(ctx, req, features, duplicates[0], now)
	}
	return s.admitPending(ctx, req, features, now)
}

// admitExactDuplicate links the new article to the duplicate's cluster
// synchronously. No re-score job is enqueued on this path.
func (s *ArticleService) admitExactDuplicate(ctx context.Context, req core.ArticleCreate, features similarity.Features, duplicate core.Article, now time.Time) error {
	clusterID := ""
	if duplicate.ClusterID != nil {
		clusterID = *duplicate.ClusterID
	}
	if clusterID == "" {
		// The duplicate never received a cluster (still pending or unique):
		// found one on it now.
		clusterID = core.ClusterIDFor(duplicate.ArticleID)
		err := s.store.UpdateArticle(ctx, duplicate.ArticleID, map[string]any{
			"cluster_id":       clusterID,
			"cluster_status":   core.StatusMatched,
			"similarity_score": 1.0,
			"updated_at":       now,
		})
		if err != nil {
			return core.Internalf(err, "failed to promote duplicate %s", duplicate.ArticleID)
		}
		if _, err := s.registry.GetOrCreate(ctx, clusterID, duplicate); err != nil {
			return core.Internalf(err, "failed to ensure cluster %s", clusterID)
		}
	}

	article := buildArticle(req, features, now)
	article.ClusterID = &clusterID
	article.ClusterStatus = core.StatusMatched
	score := 1.0
	article.SimilarityScore = &score
	if err := s.store.IndexArticle(ctx, article); err != nil {
		return core.Internalf(err, "failed to index article %s", req.ArticleID)
	}
	if _, err := s.registry.Append(ctx, clusterID, duplicate, req.ArticleID); err != nil {
		return core.Internalf(err, "failed to append %s to cluster %s", req.ArticleID, clusterID)
	}
	s.log.Info("exact duplicate admitted", "article_id", req.ArticleID, "cluster_id", clusterID)
	return nil
}

// admitPending indexes the article as pending, writes the advisory hint and
// enqueues the re-score job.
func (s *ArticleService) admitPending(ctx context.Context, req core.ArticleCreate, features similarity.Features, now time.Time) error {
	candidates, err := s.collectCandidates(ctx, req.ArticleID, features.MinHashSignature)
	if err != nil {
		return err
	}

	article := buildArticle(req, features, now)
	article.ClusterStatus = core.StatusPending
	if err := s.store.IndexArticle(ctx, article); err != nil {
		return core.Internalf(err, "failed to index article %s", req.ArticleID)
	}

	// Advisory only: an in-memory guess at the target cluster for the
	// pending hint. The worker makes the real decision.
	var hint *string
	if similar := s.extractor.FindSimilarCandidates(features.Shingles, candidates); len(similar) > 0 {
		if best := similarity.BestCluster(similar); best != "" {
			hint = &best
		}
	}
	if err := s.queue.SetPendingCluster(ctx, req.ArticleID, hint, pendingEtaMS); err != nil {
		return core.Internalf(err, "failed to write pending hint for %s", req.ArticleID)
	}

	job := &core.SimilarityJob{
		JobID:      core.NewJobID("job", now),
		ArticleID:  req.ArticleID,
		Shingles:   features.Shingles,
		Candidates: candidates,
		CreatedAt:  now,
		Status:     core.JobPending,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return core.Internalf(err, "failed to enqueue job for %s", req.ArticleID)
	}
	s.log.Info("article admitted pending", "article_id", req.ArticleID, "job_id", job.JobID, "candidates", len(candidates))
	return nil
}

// collectCandidates queries MinHash-band candidates and snapshots them for
// the job payload, excluding the article itself.
func (s *ArticleService) collectCandidates(ctx context.Context, articleID string, signature []string) ([]core.JobCandidate, error) {
	hits, err := s.store.SearchMinHashCandidates(ctx, signature, candidateLimit)
	if err != nil {
		return nil, core.Internalf(err, "minhash candidate lookup failed")
	}
	candidates := make([]core.JobCandidate, 0, len(hits))
	for _, hit := range hits {
		if hit.ArticleID == articleID {
			continue
		}
		candidates = append(candidates, core.JobCandidate{
			ArticleID: hit.ArticleID,
			ClusterID: hit.ClusterID,
			Shingles:  hit.Shingles,
			SimHash:   hit.SimHash,
		})
	}
	return candidates, nil
}

// GetArticle returns the article and, when assigned, its cluster document.
func (s *ArticleService) GetArticle(ctx context.Context, articleID string) (*core.Article, *core.Cluster, error) {
	if !core.ValidArticleID(articleID) {
		return nil, nil, core.Invalidf("invalid article_id: %q", articleID)
	}
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, nil, core.Internalf(err, "failed to load article %s", articleID)
	}
	if article == nil {
		return nil, nil, core.NotFoundArticle(articleID)
	}
	var cluster *core.Cluster
	if article.ClusterID != nil {
		cluster, err = s.store.GetCluster(ctx, *article.ClusterID)
		if err != nil {
			return nil, nil, core.Internalf(err, "failed to load cluster %s", *article.ClusterID)
		}
	}
	return article, cluster, nil
}

// GetSimilarArticles lists every other article in the same cluster. Pending
// articles — and articles without a cluster — report CLUSTER_PENDING.
func (s *ArticleService) GetSimilarArticles(ctx context.Context, articleID string) (string, []core.SimilarArticle, error) {
	if !core.ValidArticleID(articleID) {
		return "", nil, core.Invalidf("invalid article_id: %q", articleID)
	}
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return "", nil, core.Internalf(err, "failed to load article %s", articleID)
	}
	if article == nil || article.ClusterStatus == core.StatusPending || article.ClusterID == nil {
		return "", nil, core.Pending(articleID)
	}
	members, err := s.store.SearchArticlesByCluster(ctx, *article.ClusterID, maxClusterArticles)
	if err != nil {
		return "", nil, core.Internalf(err, "failed to load cluster articles")
	}
	similarArticles := make([]core.SimilarArticle, 0, len(members))
	for _, member := range members {
		if member.ArticleID == articleID {
			continue
		}
		score := 0.0
		if member.SimilarityScore != nil {
			score = *member.SimilarityScore
		}
		similarArticles = append(similarArticles, core.SimilarArticle{
			ArticleID:       member.ArticleID,
			Title:           member.Title,
			SimilarityScore: score,
		})
	}
	return *article.ClusterID, similarArticles, nil
}

// RecheckArticles resets the given articles to pending, re-extracts their
// features and re-enqueues re-score jobs. Missing ids are skipped silently.
// Returns the batch job id.
func (s *ArticleService) RecheckArticles(ctx context.Context, articleIDs []string, reason string) (string, error) {
	for _, id := range articleIDs {
		if !core.ValidArticleID(id) {
			return "", core.Invalidf("invalid article_id: %q", id)
		}
	}
	now := time.Now().UTC()
	batchID := core.NewJobID("recheck", now)
	s.log.Info("recheck requested", "batch_id", batchID, "articles", len(articleIDs), "reason", reason)

	for _, articleID := range articleIDs {
		article, err := s.store.GetArticle(ctx, articleID)
		if err != nil {
			return "", core.Internalf(err, "failed to load article %s", articleID)
		}
		if article == nil {
			continue
		}
		err = s.store.UpdateArticle(ctx, articleID, map[string]any{
			"cluster_status":   core.StatusPending,
			"cluster_id":       nil,
			"similarity_score": nil,
			"updated_at":       now,
		})
		if err != nil {
			return "", core.Internalf(err, "failed to reset article %s", articleID)
		}

		features := s.extractor.ExtractFeatures(article.Title + " " + article.Content)
		err = s.store.UpdateArticle(ctx, articleID, map[string]any{
			"simhash":           features.SimHash,
			"minhash_signature": features.MinHashSignature,
			"shingles":          features.Shingles,
		})
		if err != nil {
			return "", core.Internalf(err, "failed to refresh features of %s", articleID)
		}

		candidates, err := s.collectCandidates(ctx, articleID, features.MinHashSignature)
		if err != nil {
			return "", err
		}
		job := &core.SimilarityJob{
			JobID:      core.NewJobID("job", time.Now()),
			ArticleID:  articleID,
			Shingles:   features.Shingles,
			Candidates: candidates,
			CreatedAt:  time.Now().UTC(),
			Status:     core.JobPending,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return "", core.Internalf(err, "failed to enqueue recheck job for %s", articleID)
		}
	}
	return batchID, nil
}

// buildArticle assembles the persisted document for a fresh submission.
func buildArticle(req core.ArticleCreate, features similarity.Features, now time.Time) core.Article {
	return core.Article{
		ArticleID:        req.ArticleID,
		Title:            req.Title,
		Content:          req.Content,
		PublishTime:      req.PublishTime,
		Source:           req.Source,
		State:            req.State,
		Top:              req.Top,
		Tags:             req.Tags,
		Topic:            req.Topic,
		TagIDs:           req.TagIDs(),
		TopicIDs:         req.TopicIDs(),
		SimHash:          features.SimHash,
		MinHashSignature: features.MinHashSignature,
		Shingles:         features.Shingles,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// mutableFields is the patch applied on idempotent re-submission.
func mutableFields(req core.ArticleCreate, now time.Time) map[string]any {
	return map[string]any{
		"title":        req.Title,
		"content":      req.Content,
		"publish_time": req.PublishTime,
		"source":       req.Source,
		"state":        req.State,
		"top":          req.Top,
		"tags":         req.Tags,
		"topic":        req.Topic,
		"tag_ids":      req.TagIDs(),
		"topic_ids":    req.TopicIDs(),
		"updated_at":   now,
	}
}
