package worker

import (
	"context"
	"testing"
	"time"

	"simdoc/internal/clusters"
	"simdoc/internal/config"
	"simdoc/internal/core"
	"simdoc/internal/persistence"
	"simdoc/internal/similarity"
)

type workerEnv struct {
	store  *persistence.MemoryStore
	queue  *persistence.MemoryQueue
	worker *Worker
}

func newWorkerEnv() *workerEnv {
	store := persistence.NewMemoryStore()
	queue := persistence.NewMemoryQueue()
	extractor := similarity.NewExtractor(config.Similarity{
		SimHashBitSize:      64,
		MinHashPermutations: 128,
		MinHashBands:        20,
		MinHashRowsPerBand:  6,
		ShingleSize:         5,
		Threshold:           0.8,
	})
	registry := clusters.NewRegistry(store)
	return &workerEnv{
		store:  store,
		queue:  queue,
		worker: New(store, queue, extractor, registry),
	}
}

func shingleSet(tokens ...string) []string { return tokens }

// indexPending stores an article in the pending state with the given shingles.
func (env *workerEnv) indexPending(t *testing.T, id string, shingles []string, clusterID *string) {
	t.Helper()
	article := core.Article{
		ArticleID:     id,
		Title:         "Title " + id,
		Shingles:      shingles,
		ClusterStatus: core.StatusPending,
		PublishTime:   time.Now().UTC(),
	}
	if clusterID != nil {
		article.ClusterID = clusterID
		article.ClusterStatus = core.StatusMatched
	}
	if err := env.store.IndexArticle(context.Background(), article); err != nil {
		t.Fatalf("index %s failed: %v", id, err)
	}
}

func (env *workerEnv) enqueueJob(t *testing.T, articleID string, shingles []string, candidates ...core.JobCandidate) string {
	t.Helper()
	job := &core.SimilarityJob{
		JobID:      "job_test_" + articleID,
		ArticleID:  articleID,
		Shingles:   shingles,
		Candidates: candidates,
		CreatedAt:  time.Now().UTC(),
		Status:     core.JobPending,
	}
	if err := env.queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	return job.JobID
}

func TestProcessJobUnique(t *testing.T) {
	env := newWorkerEnv()
	ctx := context.Background()

	shingles := shingleSet("aaaaa", "bbbbb", "ccccc")
	env.indexPending(t, "z", shingles, nil)
	_ = env.queue.SetPendingCluster(ctx, "z", nil, 120)
	jobID := env.enqueueJob(t, "z", shingles)

	if err := env.worker.ProcessJob(ctx, jobID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	article, _ := env.store.GetArticle(ctx, "z")
	if article.ClusterStatus != core.StatusUnique {
		t.Errorf("status = %s, want unique", article.ClusterStatus)
	}
	if article.ClusterID != nil || article.SimilarityScore != nil {
		t.Errorf("unique article must carry no cluster or score: %+v", article)
	}
	if hint, _ := env.queue.GetPendingCluster(ctx, "z"); hint != nil {
		t.Error("pending hint not cleared")
	}
}

func TestProcessJobRecruitsClusterlessPeers(t *testing.T) {
	env := newWorkerEnv()
	ctx := context.Background()

	shingles := shingleSet("aaaaa", "bbbbb", "ccccc", "ddddd")
	env.indexPending(t, "peer", shingles, nil)
	env.indexPending(t, "z", shingles, nil)
	jobID := env.enqueueJob(t, "z", shingles, core.JobCandidate{ArticleID: "peer", Shingles: shingles})

	if err := env.worker.ProcessJob(ctx, jobID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// No candidate carried a cluster: the job's article founds one.
	article, _ := env.store.GetArticle(ctx, "z")
	if article.ClusterID == nil || *article.ClusterID != "cluster_z" {
		t.Fatalf("article cluster = %v, want cluster_z", article.ClusterID)
	}
	if article.SimilarityScore == nil || *article.SimilarityScore != 1.0 {
		t.Errorf("score = %v, want 1.0", article.SimilarityScore)
	}

	peer, _ := env.store.GetArticle(ctx, "peer")
	if peer.ClusterID == nil || *peer.ClusterID != "cluster_z" || peer.ClusterStatus != core.StatusMatched {
		t.Errorf("peer not recruited: %+v", peer)
	}

	cluster, _ := env.store.GetCluster(ctx, "cluster_z")
	if cluster == nil || !cluster.Contains("z") || !cluster.Contains("peer") {
		t.Errorf("cluster membership incomplete: %+v", cluster)
	}
	if cluster.Size != len(cluster.ArticleIDs) {
		t.Errorf("size out of sync: %+v", cluster)
	}
}

func TestProcessJobJoinsExistingCluster(t *testing.T) {
	env := newWorkerEnv()
	ctx := context.Background()

	shingles := shingleSet("aaaaa", "bbbbb", "ccccc")
	existing := "cluster_peer"
	env.indexPending(t, "peer", shingles, &existing)
	_ = env.store.IndexCluster(ctx, core.Cluster{
		ClusterID: existing, ArticleIDs: []string{"peer"}, Size: 1, RepresentativeArticleID: "peer",
	})
	env.indexPending(t, "z", shingles, nil)
	jobID := env.enqueueJob(t, "z", shingles, core.JobCandidate{ArticleID: "peer", Shingles: shingles, ClusterID: &existing})

	if err := env.worker.ProcessJob(ctx, jobID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	article, _ := env.store.GetArticle(ctx, "z")
	if article.ClusterID == nil || *article.ClusterID != existing {
		t.Errorf("article cluster = %v, want %s", article.ClusterID, existing)
	}
	cluster, _ := env.store.GetCluster(ctx, existing)
	if !cluster.Contains("z") {
		t.Errorf("cluster missing the job's article: %v", cluster.ArticleIDs)
	}
	if cluster.RepresentativeArticleID != "peer" {
		t.Error("joining must not change the representative")
	}
}

func TestProcessJobMergesClusters(t *testing.T) {
	env := newWorkerEnv()
	ctx := context.Background()

	shingles := shingleSet("aaaaa", "bbbbb", "ccccc", "ddddd", "eeeee")
	ca, cb := "cluster_a", "cluster_b"
	env.indexPending(t, "x", shingles, &ca)
	env.indexPending(t, "y", shingles, &cb)
	_ = env.store.IndexCluster(ctx, core.Cluster{ClusterID: ca, ArticleIDs: []string{"x"}, Size: 1, RepresentativeArticleID: "x"})
	_ = env.store.IndexCluster(ctx, core.Cluster{ClusterID: cb, ArticleIDs: []string{"y"}, Size: 1, RepresentativeArticleID: "y"})
	env.indexPending(t, "z", shingles, nil)
	jobID := env.enqueueJob(t, "z", shingles,
		core.JobCandidate{ArticleID: "x", Shingles: shingles, ClusterID: &ca},
		core.JobCandidate{ArticleID: "y", Shingles: shingles, ClusterID: &cb},
	)

	if err := env.worker.ProcessJob(ctx, jobID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// Lexicographically smallest id survives.
	if got, _ := env.store.GetCluster(ctx, cb); got != nil {
		t.Error("losing cluster still exists")
	}
	winner, _ := env.store.GetCluster(ctx, ca)
	if winner == nil {
		t.Fatal("winner missing")
	}
	for _, id := range []string{"x", "y", "z"} {
		if !winner.Contains(id) {
			t.Errorf("winner missing member %s: %v", id, winner.ArticleIDs)
		}
		article, _ := env.store.GetArticle(ctx, id)
		if article.ClusterID == nil || *article.ClusterID != ca {
			t.Errorf("article %s points at %v, want %s", id, article.ClusterID, ca)
		}
	}
}

func TestProcessJobAdoptsExternalFastPathAssignment(t *testing.T) {
	env := newWorkerEnv()
	ctx := context.Background()

	shingles := shingleSet("aaaaa", "bbbbb")
	env.indexPending(t, "z", shingles, nil)
	jobID := env.enqueueJob(t, "z", shingles)

	// Another submitter's fast path matched this article mid-flight.
	external := "cluster_ext"
	err := env.store.UpdateArticle(ctx, "z", map[string]any{
		"cluster_status":   core.StatusMatched,
		"cluster_id":       external,
		"similarity_score": 1.0,
	})
	if err != nil {
		t.Fatalf("external patch failed: %v", err)
	}

	if err := env.worker.ProcessJob(ctx, jobID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	article, _ := env.store.GetArticle(ctx, "z")
	if article.ClusterStatus != core.StatusMatched || article.ClusterID == nil || *article.ClusterID != external {
		t.Errorf("external assignment not adopted: %+v", article)
	}
	if article.SimilarityScore == nil || *article.SimilarityScore != 1.0 {
		t.Errorf("fast path score clobbered: %v", article.SimilarityScore)
	}
	// Invariant 1 recovery: the externally referenced cluster document exists.
	cluster, _ := env.store.GetCluster(ctx, external)
	if cluster == nil || !cluster.Contains("z") {
		t.Errorf("adopted cluster not materialized: %+v", cluster)
	}
}

func TestProcessJobKeepsComputedClusterOverExternalFastPath(t *testing.T) {
	env := newWorkerEnv()
	ctx := context.Background()

	shingles := shingleSet("aaaaa", "bbbbb", "ccccc")
	existing := "cluster_x"
	env.indexPending(t, "x", shingles, &existing)
	_ = env.store.IndexCluster(ctx, core.Cluster{
		ClusterID: existing, ArticleIDs: []string{"x"}, Size: 1, RepresentativeArticleID: "x",
	})
	env.indexPending(t, "z", shingles, nil)
	jobID := env.enqueueJob(t, "z", shingles, core.JobCandidate{ArticleID: "x", Shingles: shingles, ClusterID: &existing})

	// A fast path matched z into a lexicographically smaller cluster mid-job.
	external := "cluster_a"
	env.indexPending(t, "ext", shingles, &external)
	_ = env.store.IndexCluster(ctx, core.Cluster{
		ClusterID: external, ArticleIDs: []string{"ext", "z"}, Size: 2, RepresentativeArticleID: "ext",
	})
	err := env.store.UpdateArticle(ctx, "z", map[string]any{
		"cluster_status":   core.StatusMatched,
		"cluster_id":       external,
		"similarity_score": 1.0,
	})
	if err != nil {
		t.Fatalf("external patch failed: %v", err)
	}

	if err := env.worker.ProcessJob(ctx, jobID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// The computed target stands; the external cluster joins the merge set
	// even though its id sorts below the target's.
	article, _ := env.store.GetArticle(ctx, "z")
	if article.ClusterID == nil || *article.ClusterID != existing {
		t.Fatalf("article cluster = %v, want %s", article.ClusterID, existing)
	}
	if got, _ := env.store.GetCluster(ctx, external); got != nil {
		t.Error("external cluster not absorbed")
	}
	target, _ := env.store.GetCluster(ctx, existing)
	if target == nil {
		t.Fatal("computed cluster missing")
	}
	for _, id := range []string{"x", "z", "ext"} {
		if !target.Contains(id) {
			t.Errorf("target missing member %s: %v", id, target.ArticleIDs)
		}
		member, _ := env.store.GetArticle(ctx, id)
		if member.ClusterID == nil || *member.ClusterID != existing {
			t.Errorf("article %s points at %v, want %s", id, member.ClusterID, existing)
		}
	}
}

func TestProcessJobMissingArticleFails(t *testing.T) {
	env := newWorkerEnv()
	jobID := env.enqueueJob(t, "ghost", shingleSet("aaaaa"))

	if err := env.worker.ProcessJob(context.Background(), jobID); err == nil {
		t.Fatal("expected an error for a missing article")
	}
}

func TestRunProcessesUntilJobLimit(t *testing.T) {
	env := newWorkerEnv()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		shingles := shingleSet(id + "aaaa")
		env.indexPending(t, id, shingles, nil)
		env.enqueueJob(t, id, shingles)
	}

	if err := env.worker.Run(ctx, 2, 100*time.Millisecond); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		article, _ := env.store.GetArticle(ctx, id)
		if article.ClusterStatus != core.StatusUnique {
			t.Errorf("article %s = %s, want unique", id, article.ClusterStatus)
		}
		job, _ := env.queue.GetJob(ctx, "job_test_"+id)
		if job == nil || job.Status != core.JobCompleted {
			t.Errorf("job for %s not completed: %+v", id, job)
		}
	}
}

func TestRunMarksFailedJobs(t *testing.T) {
	env := newWorkerEnv()
	ctx := context.Background()
	jobID := env.enqueueJob(t, "ghost", shingleSet("aaaaa"))

	if err := env.worker.Run(ctx, 1, 100*time.Millisecond); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	job, _ := env.queue.GetJob(ctx, jobID)
	if job == nil || job.Status != core.JobFailed {
		t.Errorf("job not marked failed: %+v", job)
	}
}

func TestStopExitsRun(t *testing.T) {
	env := newWorkerEnv()
	env.worker.Stop()
	if err := env.worker.Run(context.Background(), 0, 50*time.Millisecond); err != nil {
		t.Fatalf("stopped run should return nil, got %v", err)
	}
}
