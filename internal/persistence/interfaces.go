// Package persistence provides the narrow interfaces the clustering core
// consumes — a term-indexed document store and a FIFO job queue with
// key-value side storage — together with the Elasticsearch and Redis
// implementations and in-memory equivalents for tests.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"simdoc/internal/core"
)

// ErrNotFound is returned by update/delete operations when the target
// document does not exist.
var ErrNotFound = errors.New("document not found")

// ArticleQuery is the metadata filter set for the search endpoint.
type ArticleQuery struct {
	Page     int
	PageSize int
	// SortField/SortOrder come from ParseSort.
	SortField string
	SortOrder string

	State     *int
	Top       *int
	Title     string
	Source    string
	TagID     string
	TopicIDs  []string
	StartTime *time.Time
	EndTime   *time.Time
}

// ArticleSearchResult is one page of matching articles plus the total count.
type ArticleSearchResult struct {
	Items []core.Article
	Total int
}

// ClusterStats summarizes the store contents for the health/stats CLI.
type ClusterStats struct {
	TotalArticles int `json:"total_articles"`
	TotalClusters int `json:"total_clusters"`
}

// DocumentStore is the clustering core's view of the document store.
// Get-style lookups return (nil, nil) when the document is absent; writes use
// synchronous-refresh semantics, so each write is visible to the next read.
type DocumentStore interface {
	Ping(ctx context.Context) error
	CreateIndices(ctx context.Context) error

	IndexArticle(ctx context.Context, article core.Article) error
	GetArticle(ctx context.Context, articleID string) (*core.Article, error)
	UpdateArticle(ctx context.Context, articleID string, fields map[string]any) error

	SearchSimHash(ctx context.Context, simhash string) ([]core.Article, error)
	SearchMinHashCandidates(ctx context.Context, signature []string, size int) ([]core.Article, error)
	SearchArticlesByCluster(ctx context.Context, clusterID string, size int) ([]core.Article, error)
	SearchArticles(ctx context.Context, q ArticleQuery) (*ArticleSearchResult, error)

	IndexCluster(ctx context.Context, cluster core.Cluster) error
	GetCluster(ctx context.Context, clusterID string) (*core.Cluster, error)
	DeleteCluster(ctx context.Context, clusterID string) error

	ClusterStats(ctx context.Context) (*ClusterStats, error)
	ClearAll(ctx context.Context) error
}

// QueueStats describes the queue backlog.
type QueueStats struct {
	QueueLength    int64 `json:"queue_length"`
	PendingJobs    int   `json:"pending_jobs"`
	ProcessingJobs int   `json:"processing_jobs"`
}

// ClearCounts reports what a queue ClearAll removed.
type ClearCounts struct {
	QueueDeleted   int `json:"queue_deleted"`
	JobsDeleted    int `json:"jobs_deleted"`
	PendingDeleted int `json:"pending_deleted"`
}

// QueueHealth is the result of a queue health probe.
type QueueHealth struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobQueue is the clustering core's view of the queue substrate: a FIFO of
// job ids plus TTL'd side storage for job payloads and pending-cluster hints.
// Delivery is at-least-once; job effects must be idempotent.
type JobQueue interface {
	Ping(ctx context.Context) error

	Enqueue(ctx context.Context, job *core.SimilarityJob) error
	// Dequeue blocks up to timeout and returns "" when no job arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	GetJob(ctx context.Context, jobID string) (*core.SimilarityJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status core.JobStatus) error

	SetPendingCluster(ctx context.Context, articleID string, clusterID *string, etaMS int) error
	GetPendingCluster(ctx context.Context, articleID string) (*core.PendingCluster, error)
	ClearPendingCluster(ctx context.Context, articleID string) error

	QueueLength(ctx context.Context) (int64, error)
	QueueStats(ctx context.Context) (*QueueStats, error)
	CleanupExpiredJobs(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) (*ClearCounts, error)
	HealthCheck(ctx context.Context) QueueHealth
}

// sortableFields are the article fields the search endpoint may sort on.
var sortableFields = map[string]bool{
	"publish_time": true,
	"created_at":   true,
	"updated_at":   true,
	"source":       true,
	"state":        true,
	"top":          true,
}

// ParseSort validates a "field:asc|desc" sort spec, defaulting to
// publish_time descending when empty.
func ParseSort(sort string) (field, order string, err error) {
	if sort == "" {
		return "publish_time", "desc", nil
	}
	parts := strings.SplitN(sort, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid sort spec %q: expected field:asc|desc", sort)
	}
	field, order = parts[0], parts[1]
	if !sortableFields[field] {
		return "", "", fmt.Errorf("invalid sort field %q", field)
	}
	if order != "asc" && order != "desc" {
		return "", "", fmt.Errorf("invalid sort order %q", order)
	}
	return field, order, nil
}
