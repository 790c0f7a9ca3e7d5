// Package core defines the domain model shared by the submission path, the
// re-score worker and the query API: articles, clusters, similarity jobs and
// the error taxonomy surfaced over HTTP.
package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// ClusterStatus is the clustering lifecycle state of an article.
type ClusterStatus string

const (
	StatusPending ClusterStatus = "pending"
	StatusMatched ClusterStatus = "matched"
	StatusUnique  ClusterStatus = "unique"
)

// JobStatus is the lifecycle state of a similarity job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// MaxContentLength is the upper bound for article content, in characters.
const MaxContentLength = 200000

// Tag is an editorial tag attached to an article.
type Tag struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Topic is an editorial topic attached to an article.
type Topic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TopTerm is a weighted term describing a cluster. Advisory only.
type TopTerm struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// Article is the persisted article document, including derived features and
// clustering state.
type Article struct {
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	PublishTime time.Time `json:"publish_time"`
	Source      string    `json:"source"`
	State       int       `json:"state"`
	Top         int       `json:"top"`
	Tags        []Tag     `json:"tags"`
	Topic       []Topic   `json:"topic"`
	TagIDs      []string  `json:"tag_ids"`
	TopicIDs    []string  `json:"topic_ids"`

	SimHash          string   `json:"simhash,omitempty"`
	MinHashSignature []string `json:"minhash_signature,omitempty"`
	Shingles         []string `json:"shingles,omitempty"`

	ClusterID       *string       `json:"cluster_id"`
	ClusterStatus   ClusterStatus `json:"cluster_status"`
	SimilarityScore *float64      `json:"similarity_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cluster is the persisted cluster document. Size always equals
// len(ArticleIDs) and RepresentativeArticleID is a member of ArticleIDs.
type Cluster struct {
	ClusterID               string    `json:"cluster_id"`
	ArticleIDs              []string  `json:"article_ids"`
	Size                    int       `json:"size"`
	RepresentativeArticleID string    `json:"representative_article_id"`
	TopTerms                []TopTerm `json:"top_terms,omitempty"`
	LastUpdated             time.Time `json:"last_updated"`
	CreatedAt               time.Time `json:"created_at"`
}

// Contains reports whether the cluster already holds the given article id.
func (c *Cluster) Contains(articleID string) bool {
	for _, id := range c.ArticleIDs {
		if id == articleID {
			return true
		}
	}
	return false
}

// Add appends an article id if absent and keeps Size in sync.
func (c *Cluster) Add(articleID string) {
	if !c.Contains(articleID) {
		c.ArticleIDs = append(c.ArticleIDs, articleID)
	}
	c.Size = len(c.ArticleIDs)
}

// JobCandidate is the snapshot of a candidate article carried inside a
// similarity job.
type JobCandidate struct {
	ArticleID string   `json:"article_id"`
	ClusterID *string  `json:"cluster_id,omitempty"`
	Shingles  []string `json:"shingles,omitempty"`
	SimHash   string   `json:"simhash,omitempty"`
}

// SimilarityJob is the payload stored in queue side storage for a re-score job.
type SimilarityJob struct {
	JobID      string         `json:"job_id"`
	ArticleID  string         `json:"article_id"`
	Shingles   []string       `json:"shingles"`
	Candidates []JobCandidate `json:"candidates"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
	Status     JobStatus      `json:"status"`
}

// PendingCluster is the advisory pending-cluster hint written by the
// submitter and cleared by the worker.
type PendingCluster struct {
	ClusterID *string   `json:"cluster_id"`
	EtaMS     int       `json:"eta_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// SimilarArticle is one entry in the "similar articles" view.
type SimilarArticle struct {
	ArticleID       string  `json:"article_id"`
	Title           string  `json:"title"`
	SimilarityScore float64 `json:"similarity_score"`
}

// ArticleCreate is the submission payload for a new or updated article.
type ArticleCreate struct {
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	PublishTime time.Time `json:"publish_time"`
	Source      string    `json:"source"`
	State       int       `json:"state"`
	Top         int       `json:"top"`
	Tags        []Tag     `json:"tags"`
	Topic       []Topic   `json:"topic"`
}

// Validate checks the submission payload against the admission rules.
func (a ArticleCreate) Validate() error {
	if !ValidArticleID(a.ArticleID) {
		return Invalidf("invalid article_id: %q", a.ArticleID)
	}
	if utf8.RuneCountInString(a.Content) > MaxContentLength {
		return Invalidf("article content exceeds maximum length of %d characters", MaxContentLength)
	}
	if a.State < 0 || a.State > 2 {
		return Invalidf("state must be between 0 and 2, got %d", a.State)
	}
	if a.Top < 0 || a.Top > 1 {
		return Invalidf("top must be 0 or 1, got %d", a.Top)
	}
	return nil
}

// TagIDs returns the tag ids as strings, in submission order.
func (a ArticleCreate) TagIDs() []string {
	ids := make([]string, 0, len(a.Tags))
	for _, t := range a.Tags {
		ids = append(ids, fmt.Sprintf("%d", t.ID))
	}
	return ids
}

// TopicIDs returns the topic ids, in submission order.
func (a ArticleCreate) TopicIDs() []string {
	ids := make([]string, 0, len(a.Topic))
	for _, t := range a.Topic {
		ids = append(ids, t.ID)
	}
	return ids
}

// FullText is the text the feature extractor runs over.
func (a ArticleCreate) FullText() string {
	return a.Title + " " + a.Content
}

// ValidArticleID reports whether the id is acceptable: a non-empty string
// once trimmed.
func ValidArticleID(id string) bool {
	return strings.TrimSpace(id) != ""
}

// ValidClusterID reports whether the id carries the stable cluster_<id> shape.
func ValidClusterID(id string) bool {
	return strings.HasPrefix(id, "cluster_") && len(id) > len("cluster_")
}

// ClusterIDFor derives the deterministic cluster id founded by an article.
// The fast path relies on this to synthesize ids without a counter.
func ClusterIDFor(articleID string) string {
	return "cluster_" + articleID
}

// SanitizeText collapses runs of whitespace and truncates overly long text.
func SanitizeText(text string, maxLength int) string {
	if text == "" {
		return ""
	}
	text = strings.Join(strings.Fields(text), " ")
	if maxLength > 0 && len(text) > maxLength {
		if runes := []rune(text); len(runes) > maxLength {
			text = string(runes[:maxLength])
		}
	}
	return text
}

// ExtractTopTerms runs a frequency pass over the text and returns up to max
// weighted terms. Single-character words are skipped.
func ExtractTopTerms(text string, max int) []TopTerm {
	if text == "" || max <= 0 {
		return nil
	}
	freq := make(map[string]int)
	order := make(map[string]int)
	for i, word := range strings.Fields(strings.ToLower(text)) {
		if len(word) <= 1 {
			continue
		}
		if _, seen := freq[word]; !seen {
			order[word] = i
		}
		freq[word]++
	}
	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	// Frequency descending, first occurrence as the tie-break for stability.
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return order[words[i]] < order[words[j]]
	})
	if len(words) > max {
		words = words[:max]
	}
	total := 0
	for _, w := range words {
		total += freq[w]
	}
	if total == 0 {
		total = 1
	}
	terms := make([]TopTerm, 0, len(words))
	for _, w := range words {
		weight := float64(freq[w]) / float64(total)
		terms = append(terms, TopTerm{Term: w, Weight: float64(int(weight*1000+0.5)) / 1000})
	}
	return terms
}
