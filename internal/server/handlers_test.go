package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"simdoc/internal/clusters"
	"simdoc/internal/config"
	"simdoc/internal/core"
	"simdoc/internal/persistence"
	"simdoc/internal/services"
	"simdoc/internal/similarity"
	"simdoc/internal/worker"
)

type serverEnv struct {
	server *Server
	store  *persistence.MemoryStore
	queue  *persistence.MemoryQueue
	worker *worker.Worker
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	cfg := &config.Config{
		App: config.App{Name: "simdoc-test", Version: "0.0.0", Host: "127.0.0.1", Port: 0},
		Similarity: config.Similarity{
			SimHashBitSize:      64,
			MinHashPermutations: 128,
			MinHashBands:        20,
			MinHashRowsPerBand:  6,
			ShingleSize:         5,
			Threshold:           0.8,
		},
		API: config.API{V1Prefix: "/api/v1", CORSOrigins: []string{"*"}},
	}
	store := persistence.NewMemoryStore()
	queue := persistence.NewMemoryQueue()
	extractor := similarity.NewExtractor(cfg.Similarity)
	registry := clusters.NewRegistry(store)

	articleSvc := services.NewArticleService(store, queue, extractor, registry)
	clusterSvc := services.NewClusterService(store)
	healthSvc := services.NewHealthService(store, queue)

	return &serverEnv{
		server: New(cfg, articleSvc, clusterSvc, healthSvc),
		store:  store,
		queue:  queue,
		worker: worker.New(store, queue, extractor, registry),
	}
}

func (env *serverEnv) do(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	env.server.Router().ServeHTTP(recorder, req)
	return recorder
}

// drainJobs runs the worker until the queue is empty.
func (env *serverEnv) drainJobs(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for {
		length, err := env.queue.QueueLength(ctx)
		require.NoError(t, err)
		if length == 0 {
			return
		}
		jobID, err := env.queue.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotEmpty(t, jobID)
		require.NoError(t, env.worker.ProcessJob(ctx, jobID))
	}
}

func submitBody(id, title, content string) map[string]any {
	return map[string]any{
		"article_id":   id,
		"title":        title,
		"content":      content,
		"publish_time": "2026-08-01T12:00:00Z",
		"source":       "wire",
		"state":        1,
		"top":          0,
	}
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	return envelope
}

func TestSubmitArticleEndpoint(t *testing.T) {
	env := newServerEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/v1/articles/", submitBody("a1", "Title", "Some content"))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.JSONEq(t, "{}", recorder.Body.String())
}

func TestSubmitArticleValidationError(t *testing.T) {
	env := newServerEnv(t)

	body := submitBody("a1", "Title", "Some content")
	body["state"] = 7
	recorder := env.do(t, http.MethodPost, "/api/v1/articles/", body)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	envelope := decodeError(t, recorder)
	require.Equal(t, "INVALID_ARGUMENT", envelope.Error.Code)
	require.NotEmpty(t, envelope.TraceID)
}

func TestSubmitArticleMalformedJSON(t *testing.T) {
	env := newServerEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/articles/", bytes.NewReader([]byte("{not json")))
	recorder := httptest.NewRecorder()
	env.server.Router().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGetArticleNotFound(t *testing.T) {
	env := newServerEnv(t)

	recorder := env.do(t, http.MethodGet, "/api/v1/articles/missing", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, "ARTICLE_NOT_FOUND", decodeError(t, recorder).Error.Code)
}

func TestSimilarArticlesPending(t *testing.T) {
	env := newServerEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/v1/articles/", submitBody("a1", "Title", "Pending article body"))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = env.do(t, http.MethodGet, "/api/v1/articles/a1/similar", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, "CLUSTER_PENDING", decodeError(t, recorder).Error.Code)
}

func TestRecheckValidation(t *testing.T) {
	env := newServerEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/v1/articles/recheck", map[string]any{"article_ids": []string{}, "reason": "x"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = fmt.Sprintf("a%d", i)
	}
	recorder = env.do(t, http.MethodPost, "/api/v1/articles/recheck", map[string]any{"article_ids": ids})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestRecheckAccepted(t *testing.T) {
	env := newServerEnv(t)

	recorder := env.do(t, http.MethodPost, "/api/v1/articles/", submitBody("a1", "Title", "Recheck body text"))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = env.do(t, http.MethodPost, "/api/v1/articles/recheck", map[string]any{
		"article_ids": []string{"a1"},
		"reason":      "drift",
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp recheckResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.True(t, resp.Accepted)
	require.NotEmpty(t, resp.JobID)
}

func TestGetClusterNotFound(t *testing.T) {
	env := newServerEnv(t)

	recorder := env.do(t, http.MethodGet, "/api/v1/clusters/cluster_missing", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, "CLUSTER_NOT_FOUND", decodeError(t, recorder).Error.Code)
}

func TestSearchPageSizeBoundary(t *testing.T) {
	env := newServerEnv(t)

	recorder := env.do(t, http.MethodGet, "/api/v1/clusters/?page_size=100", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = env.do(t, http.MethodGet, "/api/v1/clusters/?page_size=101", nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "INVALID_ARGUMENT", decodeError(t, recorder).Error.Code)

	recorder = env.do(t, http.MethodGet, "/api/v1/clusters/?page=zero", nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newServerEnv(t)

	recorder := env.do(t, http.MethodGet, "/api/v1/system/health", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var report services.HealthReport
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
	require.Equal(t, "pass", report.Status)
	require.Equal(t, "pass", report.Components["elasticsearch"])
	require.Equal(t, "pass", report.Components["redis"])
}

func TestDuplicateFlowEndToEnd(t *testing.T) {
	env := newServerEnv(t)

	text := "Fire in the Tai Po industrial estate contained after three hours."
	recorder := env.do(t, http.MethodPost, "/api/v1/articles/", submitBody("a1", "Fire", text))
	require.Equal(t, http.StatusOK, recorder.Code)
	env.drainJobs(t)

	// Identical text takes the synchronous fast path.
	recorder = env.do(t, http.MethodPost, "/api/v1/articles/", submitBody("a2", "Fire", text))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = env.do(t, http.MethodGet, "/api/v1/articles/a2", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var resp articleResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Equal(t, core.StatusMatched, resp.Article.ClusterStatus)
	require.NotNil(t, resp.Article.ClusterID)
	require.NotNil(t, resp.Cluster)
	require.True(t, resp.Cluster.Contains("a1"))
	require.True(t, resp.Cluster.Contains("a2"))

	recorder = env.do(t, http.MethodGet, "/api/v1/articles/a2/similar", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var similar similarArticlesResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &similar))
	require.Len(t, similar.SimilarArticles, 1)
	require.Equal(t, "a1", similar.SimilarArticles[0].ArticleID)

	recorder = env.do(t, http.MethodGet, "/api/v1/clusters/"+*resp.Article.ClusterID+"?include_articles=true", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var clusterResp clusterResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &clusterResp))
	require.Len(t, clusterResp.Articles, 2)

	// The member expansion flag accepts the usual truthy spellings.
	recorder = env.do(t, http.MethodGet, "/api/v1/clusters/"+*resp.Article.ClusterID+"?include_articles=1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	clusterResp = clusterResponse{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &clusterResp))
	require.Len(t, clusterResp.Articles, 2)
}

func TestBoolParam(t *testing.T) {
	for raw, want := range map[string]bool{
		"true":  true,
		"True":  true,
		"1":     true,
		"yes":   true,
		"":      false,
		"false": false,
		"0":     false,
		"no":    false,
	} {
		require.Equal(t, want, boolParam(raw), "raw=%q", raw)
	}
}
