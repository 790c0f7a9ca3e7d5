package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"simdoc/internal/core"
)

// MemoryStore is an in-process DocumentStore with the same observable
// semantics as the Elasticsearch implementation. It backs the test suites
// and the offline mode of the integration-test command.
type MemoryStore struct {
	mu       sync.RWMutex
	articles map[string]core.Article
	clusters map[string]core.Cluster
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles: make(map[string]core.Article),
		clusters: make(map[string]core.Cluster),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error          { return nil }
func (s *MemoryStore) CreateIndices(ctx context.Context) error { return nil }

func (s *MemoryStore) IndexArticle(ctx context.Context, article core.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[article.ArticleID] = article
	return nil
}

func (s *MemoryStore) GetArticle(ctx context.Context, articleID string) (*core.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[articleID]
	if !ok {
		return nil, nil
	}
	return &article, nil
}

func (s *MemoryStore) UpdateArticle(ctx context.Context, articleID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[articleID]
	if !ok {
		return ErrNotFound
	}
	if err := applyArticlePatch(&article, fields); err != nil {
		return err
	}
	s.articles[articleID] = article
	return nil
}

func (s *MemoryStore) SearchSimHash(ctx context.Context, simhash string) ([]core.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, article := range s.sortedArticles() {
		if article.SimHash == simhash {
			return []core.Article{article}, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SearchMinHashCandidates(ctx context.Context, signature []string, size int) ([]core.Article, error) {
	bands := signature
	if len(bands) > maxCandidateBands {
		bands = bands[:maxCandidateBands]
	}
	wanted := make(map[string]struct{}, len(bands))
	for _, band := range bands {
		wanted[band] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []core.Article
	for _, article := range s.sortedArticles() {
		for _, band := range article.MinHashSignature {
			if _, ok := wanted[band]; ok {
				hits = append(hits, article)
				break
			}
		}
		if len(hits) >= size {
			break
		}
	}
	return hits, nil
}

func (s *MemoryStore) SearchArticlesByCluster(ctx context.Context, clusterID string, size int) ([]core.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []core.Article
	for _, article := range s.articles {
		if article.ClusterID != nil && *article.ClusterID == clusterID {
			hits = append(hits, article)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].PublishTime.After(hits[j].PublishTime)
	})
	if len(hits) > size {
		hits = hits[:size]
	}
	return hits, nil
}

func (s *MemoryStore) SearchArticles(ctx context.Context, q ArticleQuery) (*ArticleSearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []core.Article
	for _, article := range s.articles {
		if !matchesQuery(article, q) {
			continue
		}
		matched = append(matched, article)
	}
	sortArticles(matched, q.SortField, q.SortOrder)

	total := len(matched)
	start := (q.Page - 1) * q.PageSize
	if start > total {
		start = total
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}
	return &ArticleSearchResult{Items: matched[start:end], Total: total}, nil
}

func (s *MemoryStore) IndexCluster(ctx context.Context, cluster core.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters[cluster.ClusterID] = cluster
	return nil
}

func (s *MemoryStore) GetCluster(ctx context.Context, clusterID string) (*core.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cluster, ok := s.clusters[clusterID]
	if !ok {
		return nil, nil
	}
	// Copy the slice so callers cannot mutate stored state.
	cluster.ArticleIDs = append([]string(nil), cluster.ArticleIDs...)
	return &cluster, nil
}

func (s *MemoryStore) DeleteCluster(ctx context.Context, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[clusterID]; !ok {
		return ErrNotFound
	}
	delete(s.clusters, clusterID)
	return nil
}

func (s *MemoryStore) ClusterStats(ctx context.Context) (*ClusterStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &ClusterStats{TotalArticles: len(s.articles), TotalClusters: len(s.clusters)}, nil
}

func (s *MemoryStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles = make(map[string]core.Article)
	s.clusters = make(map[string]core.Cluster)
	return nil
}

// sortedArticles returns articles in a stable order so term queries behave
// deterministically, like a single-shard index.
func (s *MemoryStore) sortedArticles() []core.Article {
	ids := make([]string, 0, len(s.articles))
	for id := range s.articles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	articles := make([]core.Article, 0, len(ids))
	for _, id := range ids {
		articles = append(articles, s.articles[id])
	}
	return articles
}

func matchesQuery(article core.Article, q ArticleQuery) bool {
	if q.State != nil && article.State != *q.State {
		return false
	}
	if q.Top != nil && article.Top != *q.Top {
		return false
	}
	if q.Source != "" && article.Source != q.Source {
		return false
	}
	if q.Title != "" && !strings.Contains(strings.ToLower(article.Title), strings.ToLower(q.Title)) {
		return false
	}
	if q.TagID != "" {
		found := false
		for _, id := range article.TagIDs {
			if id == q.TagID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.TopicIDs) > 0 {
		found := false
		for _, want := range q.TopicIDs {
			for _, id := range article.TopicIDs {
				if id == want {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	if q.StartTime != nil && article.PublishTime.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && article.PublishTime.After(*q.EndTime) {
		return false
	}
	return true
}

func sortArticles(articles []core.Article, field, order string) {
	less := func(a, b core.Article) bool {
		switch field {
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "source":
			return a.Source < b.Source
		case "state":
			return a.State < b.State
		case "top":
			return a.Top < b.Top
		default:
			return a.PublishTime.Before(b.PublishTime)
		}
	}
	sort.SliceStable(articles, func(i, j int) bool {
		if order == "asc" {
			return less(articles[i], articles[j])
		}
		return less(articles[j], articles[i])
	})
}

// applyArticlePatch mirrors a partial document update onto the struct.
func applyArticlePatch(article *core.Article, fields map[string]any) error {
	for key, value := range fields {
		switch key {
		case "title":
			article.Title = value.(string)
		case "content":
			article.Content = value.(string)
		case "publish_time":
			article.PublishTime = value.(time.Time)
		case "source":
			article.Source = value.(string)
		case "state":
			article.State = value.(int)
		case "top":
			article.Top = value.(int)
		case "tags":
			article.Tags = value.([]core.Tag)
		case "topic":
			article.Topic = value.([]core.Topic)
		case "tag_ids":
			article.TagIDs = value.([]string)
		case "topic_ids":
			article.TopicIDs = value.([]string)
		case "simhash":
			article.SimHash = value.(string)
		case "minhash_signature":
			article.MinHashSignature = value.([]string)
		case "shingles":
			article.Shingles = value.([]string)
		case "cluster_id":
			if value == nil {
				article.ClusterID = nil
			} else {
				id := value.(string)
				article.ClusterID = &id
			}
		case "cluster_status":
			article.ClusterStatus = core.ClusterStatus(fmt.Sprintf("%v", value))
		case "similarity_score":
			if value == nil {
				article.SimilarityScore = nil
			} else {
				score := value.(float64)
				article.SimilarityScore = &score
			}
		case "created_at":
			article.CreatedAt = value.(time.Time)
		case "updated_at":
			article.UpdatedAt = value.(time.Time)
		default:
			return fmt.Errorf("unknown article field %q", key)
		}
	}
	return nil
}

type memoryJob struct {
	job     core.SimilarityJob
	expires time.Time
}

type memoryHint struct {
	hint    core.PendingCluster
	expires time.Time
}

// MemoryQueue is an in-process JobQueue with FIFO delivery and TTL'd side
// storage, mirroring the Redis implementation.
type MemoryQueue struct {
	mu      sync.Mutex
	ids     chan string
	jobs    map[string]memoryJob
	pending map[string]memoryHint
}

// NewMemoryQueue returns an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ids:     make(chan string, 4096),
		jobs:    make(map[string]memoryJob),
		pending: make(map[string]memoryHint),
	}
}

func (q *MemoryQueue) Ping(ctx context.Context) error { return nil }

func (q *MemoryQueue) Enqueue(ctx context.Context, job *core.SimilarityJob) error {
	q.mu.Lock()
	q.jobs[job.JobID] = memoryJob{job: *job, expires: time.Now().Add(jobTTL)}
	q.mu.Unlock()
	select {
	case q.ids <- job.JobID:
		return nil
	default:
		return fmt.Errorf("queue full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case id := <-q.ids:
		return id, nil
	case <-time.After(timeout):
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) GetJob(ctx context.Context, jobID string) (*core.SimilarityJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.jobs[jobID]
	if !ok || time.Now().After(entry.expires) {
		return nil, nil
	}
	job := entry.job
	return &job, nil
}

func (q *MemoryQueue) UpdateJobStatus(ctx context.Context, jobID string, status core.JobStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.jobs[jobID]
	if !ok || time.Now().After(entry.expires) {
		return nil
	}
	entry.job.Status = status
	entry.job.UpdatedAt = time.Now().UTC()
	entry.expires = time.Now().Add(jobTTL)
	q.jobs[jobID] = entry
	return nil
}

func (q *MemoryQueue) SetPendingCluster(ctx context.Context, articleID string, clusterID *string, etaMS int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[articleID] = memoryHint{
		hint: core.PendingCluster{
			ClusterID: clusterID,
			EtaMS:     etaMS,
			Timestamp: time.Now().UTC(),
		},
		expires: time.Now().Add(pendingTTL),
	}
	return nil
}

func (q *MemoryQueue) GetPendingCluster(ctx context.Context, articleID string) (*core.PendingCluster, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.pending[articleID]
	if !ok || time.Now().After(entry.expires) {
		return nil, nil
	}
	hint := entry.hint
	return &hint, nil
}

func (q *MemoryQueue) ClearPendingCluster(ctx context.Context, articleID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, articleID)
	return nil
}

func (q *MemoryQueue) QueueLength(ctx context.Context) (int64, error) {
	return int64(len(q.ids)), nil
}

func (q *MemoryQueue) QueueStats(ctx context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := 0
	for _, entry := range q.jobs {
		if entry.job.Status == core.JobPending && !time.Now().After(entry.expires) {
			pending++
		}
	}
	length := int64(len(q.ids))
	return &QueueStats{
		QueueLength:    length,
		PendingJobs:    pending,
		ProcessingJobs: pending - int(length),
	}, nil
}

func (q *MemoryQueue) CleanupExpiredJobs(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cleaned := 0
	now := time.Now()
	for id, entry := range q.jobs {
		if now.After(entry.expires) {
			delete(q.jobs, id)
			cleaned++
		}
	}
	for id, entry := range q.pending {
		if now.After(entry.expires) {
			delete(q.pending, id)
		}
	}
	return cleaned, nil
}

func (q *MemoryQueue) ClearAll(ctx context.Context) (*ClearCounts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := &ClearCounts{JobsDeleted: len(q.jobs), PendingDeleted: len(q.pending)}
	if len(q.ids) > 0 {
		counts.QueueDeleted = 1
	}
	for len(q.ids) > 0 {
		<-q.ids
	}
	q.jobs = make(map[string]memoryJob)
	q.pending = make(map[string]memoryHint)
	return counts, nil
}

func (q *MemoryQueue) HealthCheck(ctx context.Context) QueueHealth {
	length, _ := q.QueueLength(ctx)
	return QueueHealth{Status: "pass", Message: fmt.Sprintf("in-memory queue, length: %d", length)}
}
