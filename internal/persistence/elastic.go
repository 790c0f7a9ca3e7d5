package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"simdoc/internal/config"
	"simdoc/internal/core"
)

// maxCandidateBands caps the band terms in a candidate query. The stored
// corpus was built with a 20-band query regardless of the configured band
// count, so this stays at 20 to keep candidate recall identical.
const maxCandidateBands = 20

// ElasticStore implements DocumentStore on Elasticsearch. All writes use
// refresh=wait_for so the fast path observes the founder it just patched.
type ElasticStore struct {
	client        *elasticsearch.Client
	articlesIndex string
	clustersIndex string
}

// NewElasticStore dials Elasticsearch with the given configuration.
func NewElasticStore(cfg config.Elasticsearch) (*ElasticStore, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticStore{
		client:        client,
		articlesIndex: cfg.ArticlesIndexFull(),
		clustersIndex: cfg.ClustersIndexFull(),
	}, nil
}

// Ping checks connectivity.
func (s *ElasticStore) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

var articlesMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"article_id":        map[string]any{"type": "keyword"},
			"title":             map[string]any{"type": "text"},
			"content":           map[string]any{"type": "text"},
			"publish_time":      map[string]any{"type": "date"},
			"source":            map[string]any{"type": "keyword"},
			"state":             map[string]any{"type": "integer"},
			"top":               map[string]any{"type": "integer"},
			"tags":              map[string]any{"type": "object", "enabled": false},
			"topic":             map[string]any{"type": "object", "enabled": false},
			"tag_ids":           map[string]any{"type": "keyword"},
			"topic_ids":         map[string]any{"type": "keyword"},
			"simhash":           map[string]any{"type": "keyword"},
			"minhash_signature": map[string]any{"type": "keyword"},
			"shingles":          map[string]any{"type": "keyword", "index": false},
			"cluster_id":        map[string]any{"type": "keyword"},
			"cluster_status":    map[string]any{"type": "keyword"},
			"similarity_score":  map[string]any{"type": "float"},
			"created_at":        map[string]any{"type": "date"},
			"updated_at":        map[string]any{"type": "date"},
		},
	},
	"settings": map[string]any{
		"number_of_shards":   1,
		"number_of_replicas": 0,
	},
}

var clustersMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"cluster_id":                map[string]any{"type": "keyword"},
			"article_ids":               map[string]any{"type": "keyword"},
			"size":                      map[string]any{"type": "integer"},
			"representative_article_id": map[string]any{"type": "keyword"},
			"top_terms":                 map[string]any{"type": "object", "enabled": false},
			"last_updated":              map[string]any{"type": "date"},
			"created_at":                map[string]any{"type": "date"},
		},
	},
	"settings": map[string]any{
		"number_of_shards":   1,
		"number_of_replicas": 0,
	},
}

// CreateIndices creates both indices with their mappings if absent.
func (s *ElasticStore) CreateIndices(ctx context.Context) error {
	for _, idx := range []struct {
		name    string
		mapping map[string]any
	}{
		{s.articlesIndex, articlesMapping},
		{s.clustersIndex, clustersMapping},
	} {
		exists, err := s.client.Indices.Exists([]string{idx.name}, s.client.Indices.Exists.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", idx.name, err)
		}
		exists.Body.Close()
		if exists.StatusCode == 200 {
			continue
		}
		body, err := encodeBody(idx.mapping)
		if err != nil {
			return err
		}
		res, err := s.client.Indices.Create(idx.name,
			s.client.Indices.Create.WithContext(ctx),
			s.client.Indices.Create.WithBody(body))
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
		res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("failed to create index %s: %s", idx.name, res.Status())
		}
	}
	return nil
}

// IndexArticle indexes (or replaces) an article document keyed by article_id.
func (s *ElasticStore) IndexArticle(ctx context.Context, article core.Article) error {
	return s.index(ctx, s.articlesIndex, article.ArticleID, article)
}

// GetArticle returns the article or (nil, nil) when absent.
func (s *ElasticStore) GetArticle(ctx context.Context, articleID string) (*core.Article, error) {
	var article core.Article
	found, err := s.get(ctx, s.articlesIndex, articleID, &article)
	if err != nil || !found {
		return nil, err
	}
	return &article, nil
}

// UpdateArticle applies a partial update to an article document.
func (s *ElasticStore) UpdateArticle(ctx context.Context, articleID string, fields map[string]any) error {
	return s.update(ctx, s.articlesIndex, articleID, fields)
}

// SearchSimHash returns articles whose simhash term-matches exactly, limit 1.
func (s *ElasticStore) SearchSimHash(ctx context.Context, simhash string) ([]core.Article, error) {
	query := map[string]any{
		"query": map[string]any{"term": map[string]any{"simhash": simhash}},
		"size":  1,
	}
	return s.searchArticles(ctx, query)
}

// SearchMinHashCandidates returns articles sharing at least one MinHash band
// with the signature.
func (s *ElasticStore) SearchMinHashCandidates(ctx context.Context, signature []string, size int) ([]core.Article, error) {
	bands := signature
	if len(bands) > maxCandidateBands {
		bands = bands[:maxCandidateBands]
	}
	should := make([]map[string]any, 0, len(bands))
	for _, band := range bands {
		should = append(should, map[string]any{"term": map[string]any{"minhash_signature": band}})
	}
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
		"size": size,
	}
	return s.searchArticles(ctx, query)
}

// SearchArticlesByCluster returns the articles of a cluster, newest first.
func (s *ElasticStore) SearchArticlesByCluster(ctx context.Context, clusterID string, size int) ([]core.Article, error) {
	query := map[string]any{
		"query": map[string]any{"term": map[string]any{"cluster_id": clusterID}},
		"size":  size,
		"sort":  []any{map[string]any{"publish_time": map[string]any{"order": "desc"}}},
	}
	return s.searchArticles(ctx, query)
}

// SearchArticles runs the metadata filter query with pagination.
func (s *ElasticStore) SearchArticles(ctx context.Context, q ArticleQuery) (*ArticleSearchResult, error) {
	var filter []map[string]any
	var must []map[string]any

	if q.State != nil {
		filter = append(filter, map[string]any{"term": map[string]any{"state": *q.State}})
	}
	if q.Top != nil {
		filter = append(filter, map[string]any{"term": map[string]any{"top": *q.Top}})
	}
	if q.Source != "" {
		filter = append(filter, map[string]any{"term": map[string]any{"source": q.Source}})
	}
	if q.TagID != "" {
		filter = append(filter, map[string]any{"term": map[string]any{"tag_ids": q.TagID}})
	}
	if len(q.TopicIDs) > 0 {
		filter = append(filter, map[string]any{"terms": map[string]any{"topic_ids": q.TopicIDs}})
	}
	if q.Title != "" {
		must = append(must, map[string]any{"match": map[string]any{"title": q.Title}})
	}
	if q.StartTime != nil || q.EndTime != nil {
		timeRange := map[string]any{}
		if q.StartTime != nil {
			timeRange["gte"] = q.StartTime
		}
		if q.EndTime != nil {
			timeRange["lte"] = q.EndTime
		}
		filter = append(filter, map[string]any{"range": map[string]any{"publish_time": timeRange}})
	}

	boolQuery := map[string]any{}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(boolQuery) == 0 {
		boolQuery["must"] = []map[string]any{{"match_all": map[string]any{}}}
	}

	query := map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"from":  (q.Page - 1) * q.PageSize,
		"size":  q.PageSize,
		"sort":  []any{map[string]any{q.SortField: map[string]any{"order": q.SortOrder}}},
	}

	body, err := encodeBody(query)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.articlesIndex),
		s.client.Search.WithBody(body),
		s.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", res.Status())
	}

	var envelope searchResponse
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	items := make([]core.Article, 0, len(envelope.Hits.Hits))
	for _, hit := range envelope.Hits.Hits {
		var article core.Article
		if err := json.Unmarshal(hit.Source, &article); err != nil {
			return nil, fmt.Errorf("failed to decode article document: %w", err)
		}
		items = append(items, article)
	}
	return &ArticleSearchResult{Items: items, Total: envelope.Hits.Total.Value}, nil
}

// IndexCluster indexes (or replaces) a cluster document keyed by cluster_id.
func (s *ElasticStore) IndexCluster(ctx context.Context, cluster core.Cluster) error {
	return s.index(ctx, s.clustersIndex, cluster.ClusterID, cluster)
}

// GetCluster returns the cluster or (nil, nil) when absent.
func (s *ElasticStore) GetCluster(ctx context.Context, clusterID string) (*core.Cluster, error) {
	var cluster core.Cluster
	found, err := s.get(ctx, s.clustersIndex, clusterID, &cluster)
	if err != nil || !found {
		return nil, err
	}
	return &cluster, nil
}

// DeleteCluster removes an absorbed cluster document.
func (s *ElasticStore) DeleteCluster(ctx context.Context, clusterID string) error {
	res, err := s.client.Delete(s.clustersIndex, clusterID,
		s.client.Delete.WithContext(ctx),
		s.client.Delete.WithRefresh("wait_for"))
	if err != nil {
		return fmt.Errorf("failed to delete cluster %s: %w", clusterID, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return ErrNotFound
	}
	if res.IsError() {
		return fmt.Errorf("failed to delete cluster %s: %s", clusterID, res.Status())
	}
	return nil
}

// ClusterStats counts articles and clusters.
func (s *ElasticStore) ClusterStats(ctx context.Context) (*ClusterStats, error) {
	articles, err := s.count(ctx, s.articlesIndex)
	if err != nil {
		return nil, err
	}
	clusters, err := s.count(ctx, s.clustersIndex)
	if err != nil {
		return nil, err
	}
	return &ClusterStats{TotalArticles: articles, TotalClusters: clusters}, nil
}

// ClearAll deletes every document from both indices.
func (s *ElasticStore) ClearAll(ctx context.Context) error {
	body, err := encodeBody(map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	if err != nil {
		return err
	}
	res, err := s.client.DeleteByQuery([]string{s.articlesIndex, s.clustersIndex}, body,
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true))
	if err != nil {
		return fmt.Errorf("failed to clear indices: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to clear indices: %s", res.Status())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *ElasticStore) searchArticles(ctx context.Context, query map[string]any) ([]core.Article, error) {
	body, err := encodeBody(query)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.articlesIndex),
		s.client.Search.WithBody(body),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", res.Status())
	}
	var envelope searchResponse
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	articles := make([]core.Article, 0, len(envelope.Hits.Hits))
	for _, hit := range envelope.Hits.Hits {
		var article core.Article
		if err := json.Unmarshal(hit.Source, &article); err != nil {
			return nil, fmt.Errorf("failed to decode article document: %w", err)
		}
		articles = append(articles, article)
	}
	return articles, nil
}

func (s *ElasticStore) index(ctx context.Context, index, id string, doc any) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       body,
		Refresh:    "wait_for",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to index document %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to index document %s: %s", id, res.Status())
	}
	return nil
}

func (s *ElasticStore) get(ctx context.Context, index, id string, out any) (bool, error) {
	res, err := s.client.Get(index, id, s.client.Get.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return false, nil
	}
	if res.IsError() {
		return false, fmt.Errorf("failed to get document %s: %s", id, res.Status())
	}
	var envelope struct {
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return false, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	if err := json.Unmarshal(envelope.Source, out); err != nil {
		return false, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return true, nil
}

func (s *ElasticStore) update(ctx context.Context, index, id string, fields map[string]any) error {
	body, err := encodeBody(map[string]any{"doc": fields})
	if err != nil {
		return err
	}
	res, err := s.client.Update(index, id, body,
		s.client.Update.WithContext(ctx),
		s.client.Update.WithRefresh("wait_for"))
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return ErrNotFound
	}
	if res.IsError() {
		return fmt.Errorf("failed to update document %s: %s", id, res.Status())
	}
	return nil
}

func (s *ElasticStore) count(ctx context.Context, index string) (int, error) {
	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(index))
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("failed to count %s: %s", index, res.Status())
	}
	var envelope struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return envelope.Count, nil
}

func encodeBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(data), nil
}
