package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"simdoc/internal/core"
	"simdoc/internal/services"
)

// maxRecheckBatch caps how many article ids one recheck request may carry.
const maxRecheckBatch = 100

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	TraceID string `json:"trace_id"`
}

// articleResponse bundles an article with its cluster document when assigned.
type articleResponse struct {
	Article core.Article  `json:"article"`
	Cluster *core.Cluster `json:"cluster,omitempty"`
}

// similarArticlesResponse is the "similar articles" view.
type similarArticlesResponse struct {
	ArticleID       string                `json:"article_id"`
	ClusterID       string                `json:"cluster_id"`
	SimilarArticles []core.SimilarArticle `json:"similar_articles"`
}

// recheckRequest is the recheck endpoint's body.
type recheckRequest struct {
	ArticleIDs []string `json:"article_ids"`
	Reason     string   `json:"reason"`
}

// recheckResponse acknowledges an accepted recheck batch.
type recheckResponse struct {
	Accepted bool   `json:"accepted"`
	JobID    string `json:"job_id"`
}

// clusterResponse is the cluster read view, optionally expanded with member
// articles.
type clusterResponse struct {
	Cluster  core.Cluster   `json:"cluster"`
	Articles []core.Article `json:"articles,omitempty"`
}

func (s *Server) handleSubmitArticle(w http.ResponseWriter, r *http.Request) {
	var req core.ArticleCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, core.Invalidf("invalid request body: %v", err))
		return
	}
	if err := s.articles.SubmitArticle(r.Context(), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	article, cluster, err := s.articles.GetArticle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, articleResponse{Article: *article, Cluster: cluster})
}

func (s *Server) handleGetSimilarArticles(w http.ResponseWriter, r *http.Request) {
	articleID := chi.URLParam(r, "id")
	clusterID, similar, err := s.articles.GetSimilarArticles(r.Context(), articleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, similarArticlesResponse{
		ArticleID:       articleID,
		ClusterID:       clusterID,
		SimilarArticles: similar,
	})
}

func (s *Server) handleRecheckArticles(w http.ResponseWriter, r *http.Request) {
	var req recheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, core.Invalidf("invalid request body: %v", err))
		return
	}
	if len(req.ArticleIDs) == 0 || len(req.ArticleIDs) > maxRecheckBatch {
		s.writeError(w, r, core.Invalidf("article_ids must contain between 1 and %d ids, got %d", maxRecheckBatch, len(req.ArticleIDs)))
		return
	}
	jobID, err := s.articles.RecheckArticles(r.Context(), req.ArticleIDs, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recheckResponse{Accepted: true, JobID: jobID})
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	includeArticles := boolParam(r.URL.Query().Get("include_articles"))
	cluster, articles, err := s.clusters.GetCluster(r.Context(), chi.URLParam(r, "id"), includeArticles)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, clusterResponse{Cluster: *cluster, Articles: articles})
}

func (s *Server) handleSearchArticles(w http.ResponseWriter, r *http.Request) {
	query, err := parseSearchQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.clusters.SearchArticles(r.Context(), *query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.health.CheckHealth(r.Context()))
}

// parseSearchQuery decodes and validates the search endpoint's query string.
func parseSearchQuery(r *http.Request) (*services.SearchQuery, error) {
	values := r.URL.Query()
	query := services.SearchQuery{
		Page:     1,
		PageSize: 20,
		Sort:     values.Get("sort"),
		Title:    values.Get("title"),
		Source:   values.Get("source"),
		TagID:    values.Get("tag_id"),
		TopicIDs: values["topic"],
	}
	var err error
	if query.Page, err = intParam(values.Get("page"), 1); err != nil {
		return nil, core.Invalidf("invalid page: %q", values.Get("page"))
	}
	if query.PageSize, err = intParam(values.Get("page_size"), 20); err != nil {
		return nil, core.Invalidf("invalid page_size: %q", values.Get("page_size"))
	}
	if query.State, err = optionalIntParam(values.Get("state")); err != nil {
		return nil, core.Invalidf("invalid state: %q", values.Get("state"))
	}
	if query.Top, err = optionalIntParam(values.Get("top")); err != nil {
		return nil, core.Invalidf("invalid top: %q", values.Get("top"))
	}
	if query.StartTime, err = optionalTimeParam(values.Get("start_time")); err != nil {
		return nil, core.Invalidf("invalid start_time: %q", values.Get("start_time"))
	}
	if query.EndTime, err = optionalTimeParam(values.Get("end_time")); err != nil {
		return nil, core.Invalidf("invalid end_time: %q", values.Get("end_time"))
	}
	return &query, nil
}

// boolParam accepts the usual truthy spellings of a query flag.
func boolParam(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func intParam(raw string, fallback int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func optionalIntParam(raw string) (*int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optionalTimeParam(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses and renders the
// envelope with the request's trace id.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := core.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case core.CodeInvalidArgument:
		status = http.StatusBadRequest
	case core.CodeArticleNotFound, core.CodeClusterNotFound, core.CodeClusterPending:
		status = http.StatusNotFound
	}

	var envelope errorEnvelope
	envelope.Error.Code = string(code)
	envelope.Error.Message = err.Error()
	envelope.TraceID = TraceID(r.Context())
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err, "trace_id", envelope.TraceID)
		envelope.Error.Message = "internal error"
	}
	s.writeJSON(w, status, envelope)
}
