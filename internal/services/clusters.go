package services

import (
	"context"
	"log/slog"
	"math"
	"time"

	"simdoc/internal/core"
	"simdoc/internal/logger"
	"simdoc/internal/persistence"
)

// maxClusterArticles bounds how many member articles the read path expands.
const maxClusterArticles = 100

// SearchQuery is the validated metadata filter set for the search endpoint.
type SearchQuery struct {
	Page      int
	PageSize  int
	Sort      string
	State     *int
	Top       *int
	Title     string
	Source    string
	TagID     string
	TopicIDs  []string
	StartTime *time.Time
	EndTime   *time.Time
}

// SearchItem is one result row: the article plus every other article id in
// its cluster.
type SearchItem struct {
	ArticleID         string   `json:"article_id"`
	SimilarArticleIDs []string `json:"similar_article_ids"`
}

// SearchPage is a page of search results.
type SearchPage struct {
	Items      []SearchItem `json:"items"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
}

// ClusterService implements the cluster read path and metadata search.
type ClusterService struct {
	store persistence.DocumentStore
	log   *slog.Logger
}

// NewClusterService wires a cluster service.
func NewClusterService(store persistence.DocumentStore) *ClusterService {
	return &ClusterService{store: store, log: logger.Get()}
}

// GetCluster returns the cluster document and, when requested, its member
// articles sorted by publish time descending.
func (s *ClusterService) GetCluster(ctx context.Context, clusterID string, includeArticles bool) (*core.Cluster, []core.Article, error) {
	if !core.ValidClusterID(clusterID) {
		return nil, nil, core.Invalidf("invalid cluster_id: %q", clusterID)
	}
	cluster, err := s.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, nil, core.Internalf(err, "failed to load cluster %s", clusterID)
	}
	if cluster == nil {
		return nil, nil, core.NotFoundCluster(clusterID)
	}
	var articles []core.Article
	if includeArticles {
		articles, err = s.store.SearchArticlesByCluster(ctx, clusterID, maxClusterArticles)
		if err != nil {
			return nil, nil, core.Internalf(err, "failed to load articles of cluster %s", clusterID)
		}
	}
	return cluster, articles, nil
}

// SearchArticles filters articles by metadata and hydrates each hit with the
// other article ids sharing its cluster.
func (s *ClusterService) SearchArticles(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	if q.Page < 1 {
		return nil, core.Invalidf("page must be >= 1, got %d", q.Page)
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		return nil, core.Invalidf("page_size must be between 1 and 100, got %d", q.PageSize)
	}
	if q.State != nil && (*q.State < 0 || *q.State > 2) {
		return nil, core.Invalidf("state must be between 0 and 2, got %d", *q.State)
	}
	if q.Top != nil && (*q.Top < 0 || *q.Top > 1) {
		return nil, core.Invalidf("top must be 0 or 1, got %d", *q.Top)
	}
	if q.StartTime != nil && q.EndTime != nil && q.EndTime.Before(*q.StartTime) {
		return nil, core.Invalidf("end_time must not precede start_time")
	}
	sortField, sortOrder, err := persistence.ParseSort(q.Sort)
	if err != nil {
		return nil, core.Invalidf("%v", err)
	}

	result, err := s.store.SearchArticles(ctx, persistence.ArticleQuery{
		Page:      q.Page,
		PageSize:  q.PageSize,
		SortField: sortField,
		SortOrder: sortOrder,
		State:     q.State,
		Top:       q.Top,
		Title:     q.Title,
		Source:    q.Source,
		TagID:     q.TagID,
		TopicIDs:  q.TopicIDs,
		StartTime: q.StartTime,
		EndTime:   q.EndTime,
	})
	if err != nil {
		return nil, core.Internalf(err, "article search failed")
	}

	// One cluster fetch per distinct cluster in the page, not per article.
	clusterMembers := make(map[string][]core.Article)
	for _, article := range result.Items {
		if article.ClusterID == nil {
			continue
		}
		id := *article.ClusterID
		if _, done := clusterMembers[id]; done {
			continue
		}
		members, err := s.store.SearchArticlesByCluster(ctx, id, maxClusterArticles)
		if err != nil {
			return nil, core.Internalf(err, "failed to load articles of cluster %s", id)
		}
		clusterMembers[id] = members
	}

	items := make([]SearchItem, 0, len(result.Items))
	for _, article := range result.Items {
		similarIDs := []string{article.ArticleID}
		if article.ClusterID != nil {
			for _, member := range clusterMembers[*article.ClusterID] {
				if member.ArticleID != article.ArticleID {
					similarIDs = append(similarIDs, member.ArticleID)
				}
			}
		}
		items = append(items, SearchItem{ArticleID: article.ArticleID, SimilarArticleIDs: similarIDs})
	}

	return &SearchPage{
		Items:      items,
		Total:      result.Total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: int(math.Ceil(float64(result.Total) / float64(q.PageSize))),
	}, nil
}
