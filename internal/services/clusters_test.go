package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"simdoc/internal/core"
	"simdoc/internal/persistence"
)

func seedClusteredArticles(t *testing.T, store *persistence.MemoryStore, clusterID string, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for i, id := range ids {
		article := core.Article{
			ArticleID:     id,
			Title:         "Title " + id,
			ClusterID:     &clusterID,
			ClusterStatus: core.StatusMatched,
			PublishTime:   time.Date(2026, 8, 1, i, 0, 0, 0, time.UTC),
			State:         1,
		}
		if err := store.IndexArticle(ctx, article); err != nil {
			t.Fatalf("seed article failed: %v", err)
		}
	}
	err := store.IndexCluster(ctx, core.Cluster{
		ClusterID:               clusterID,
		ArticleIDs:              ids,
		Size:                    len(ids),
		RepresentativeArticleID: ids[0],
	})
	if err != nil {
		t.Fatalf("seed cluster failed: %v", err)
	}
}

func TestClusterServiceGetCluster(t *testing.T) {
	store := persistence.NewMemoryStore()
	svc := NewClusterService(store)
	ctx := context.Background()

	_, _, err := svc.GetCluster(ctx, "not-a-cluster-id", false)
	if core.CodeOf(err) != core.CodeInvalidArgument {
		t.Errorf("bad id: got %v, want INVALID_ARGUMENT", err)
	}
	_, _, err = svc.GetCluster(ctx, "cluster_missing", false)
	if core.CodeOf(err) != core.CodeClusterNotFound {
		t.Errorf("missing cluster: got %v, want CLUSTER_NOT_FOUND", err)
	}

	seedClusteredArticles(t, store, "cluster_x", "a", "b", "c")

	cluster, articles, err := svc.GetCluster(ctx, "cluster_x", false)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if cluster.Size != 3 || articles != nil {
		t.Errorf("unexpected result without expansion: %+v, %v", cluster, articles)
	}

	_, articles, err = svc.GetCluster(ctx, "cluster_x", true)
	if err != nil {
		t.Fatalf("get with articles failed: %v", err)
	}
	if len(articles) != 3 {
		t.Fatalf("expected 3 member articles, got %d", len(articles))
	}
	// Sorted by publish_time descending.
	if articles[0].ArticleID != "c" || articles[2].ArticleID != "a" {
		t.Errorf("members not sorted by publish time desc: %v", articles)
	}
}

func TestSearchArticlesValidation(t *testing.T) {
	svc := NewClusterService(persistence.NewMemoryStore())
	ctx := context.Background()

	tests := []struct {
		name  string
		query SearchQuery
	}{
		{"page zero", SearchQuery{Page: 0, PageSize: 10}},
		{"page_size zero", SearchQuery{Page: 1, PageSize: 0}},
		{"page_size over limit", SearchQuery{Page: 1, PageSize: 101}},
		{"bad sort field", SearchQuery{Page: 1, PageSize: 10, Sort: "title:asc"}},
		{"bad sort order", SearchQuery{Page: 1, PageSize: 10, Sort: "source:upwards"}},
		{"state out of range", SearchQuery{Page: 1, PageSize: 10, State: intPtr(3)}},
		{"top out of range", SearchQuery{Page: 1, PageSize: 10, Top: intPtr(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SearchArticles(ctx, tt.query)
			if core.CodeOf(err) != core.CodeInvalidArgument {
				t.Errorf("got %v, want INVALID_ARGUMENT", err)
			}
		})
	}

	// Boundary: 100 is accepted.
	if _, err := svc.SearchArticles(ctx, SearchQuery{Page: 1, PageSize: 100}); err != nil {
		t.Errorf("page_size 100 should be accepted, got %v", err)
	}
}

func intPtr(v int) *int { return &v }

func TestSearchArticlesPagination(t *testing.T) {
	store := persistence.NewMemoryStore()
	svc := NewClusterService(store)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		article := core.Article{
			ArticleID:   fmt.Sprintf("a%02d", i),
			Title:       fmt.Sprintf("integration story %02d", i),
			PublishTime: time.Date(2026, 8, 1, i, 0, 0, 0, time.UTC),
			State:       1,
		}
		if err := store.IndexArticle(ctx, article); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	page, err := svc.SearchArticles(ctx, SearchQuery{Page: 2, PageSize: 10, Title: "integration"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if page.Total != 25 || page.Page != 2 || page.PageSize != 10 || page.TotalPages != 3 {
		t.Errorf("pagination metadata wrong: %+v", page)
	}
	if len(page.Items) != 10 {
		t.Errorf("items = %d, want 10", len(page.Items))
	}
	// Unclustered articles list only themselves.
	if len(page.Items[0].SimilarArticleIDs) != 1 {
		t.Errorf("unclustered article should list only itself: %v", page.Items[0].SimilarArticleIDs)
	}
}

func TestSearchArticlesHydratesClusterPeers(t *testing.T) {
	store := persistence.NewMemoryStore()
	svc := NewClusterService(store)
	ctx := context.Background()

	seedClusteredArticles(t, store, "cluster_x", "a", "b")

	page, err := svc.SearchArticles(ctx, SearchQuery{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}
	for _, item := range page.Items {
		if len(item.SimilarArticleIDs) != 2 {
			t.Errorf("item %s: expected itself plus one peer, got %v", item.ArticleID, item.SimilarArticleIDs)
		}
		if item.SimilarArticleIDs[0] != item.ArticleID {
			t.Errorf("item %s: own id must come first: %v", item.ArticleID, item.SimilarArticleIDs)
		}
	}
}

func TestHealthServicePass(t *testing.T) {
	store := persistence.NewMemoryStore()
	queue := persistence.NewMemoryQueue()
	svc := NewHealthService(store, queue)

	report := svc.CheckHealth(context.Background())
	if report.Status != "pass" {
		t.Errorf("status = %s, want pass", report.Status)
	}
	for _, component := range []string{"elasticsearch", "redis", "worker"} {
		if report.Components[component] != "pass" {
			t.Errorf("component %s = %s, want pass", component, report.Components[component])
		}
	}
	if report.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}
