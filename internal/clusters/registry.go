// Package clusters maintains the cluster documents: creation, the idempotent
// append rule, merge application and missing-cluster recovery.
package clusters

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"simdoc/internal/core"
	"simdoc/internal/logger"
	"simdoc/internal/persistence"
	"simdoc/internal/similarity"
)

// maxClusterFetch bounds how many member articles a merge or recovery reads.
const maxClusterFetch = 100

// Registry is a small façade over the document store for cluster documents.
// It holds no state of its own; correctness under concurrent writers comes
// from deterministic merge winners and idempotent appends.
type Registry struct {
	store persistence.DocumentStore
	log   *slog.Logger
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store persistence.DocumentStore) *Registry {
	return &Registry{store: store, log: logger.Get()}
}

// Create indexes a fresh cluster founded by the given article, with top terms
// derived from the founder's text.
func (r *Registry) Create(ctx context.Context, founder core.Article) (*core.Cluster, error) {
	now := time.Now().UTC()
	cluster := core.Cluster{
		ClusterID:               core.ClusterIDFor(founder.ArticleID),
		ArticleIDs:              []string{founder.ArticleID},
		Size:                    1,
		RepresentativeArticleID: founder.ArticleID,
		TopTerms:                core.ExtractTopTerms(founder.Title+" "+founder.Content, 10),
		LastUpdated:             now,
		CreatedAt:               now,
	}
	if err := r.store.IndexCluster(ctx, cluster); err != nil {
		return nil, fmt.Errorf("failed to create cluster %s: %w", cluster.ClusterID, err)
	}
	return &cluster, nil
}

// GetOrCreate loads a cluster document, recreating it from the founder when
// the invariants require one that is missing (partial writes from crashed
// workers). The cluster keeps the requested id; representative and top terms
// come from the founder.
func (r *Registry) GetOrCreate(ctx context.Context, clusterID string, founder core.Article) (*core.Cluster, error) {
	cluster, err := r.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if cluster != nil {
		return cluster, nil
	}
	r.log.Warn("recreating missing cluster document", "cluster_id", clusterID, "founder", founder.ArticleID)
	now := time.Now().UTC()
	recreated := core.Cluster{
		ClusterID:               clusterID,
		ArticleIDs:              []string{founder.ArticleID},
		Size:                    1,
		RepresentativeArticleID: founder.ArticleID,
		TopTerms:                core.ExtractTopTerms(founder.Title+" "+founder.Content, 10),
		LastUpdated:             now,
		CreatedAt:               now,
	}
	if err := r.store.IndexCluster(ctx, recreated); err != nil {
		return nil, fmt.Errorf("failed to recreate cluster %s: %w", clusterID, err)
	}
	return &recreated, nil
}

// Append adds article ids to a cluster, skipping ones already present, and
// writes the document back with size and last_updated refreshed. The
// representative and top terms are never touched by appends.
func (r *Registry) Append(ctx context.Context, clusterID string, founder core.Article, articleIDs ...string) (*core.Cluster, error) {
	cluster, err := r.GetOrCreate(ctx, clusterID, founder)
	if err != nil {
		return nil, err
	}
	for _, id := range articleIDs {
		cluster.Add(id)
	}
	cluster.LastUpdated = time.Now().UTC()
	if err := r.store.IndexCluster(ctx, *cluster); err != nil {
		return nil, fmt.Errorf("failed to update cluster %s: %w", clusterID, err)
	}
	return cluster, nil
}

// Merge folds the losing clusters of a merge set into the winner: every
// losing cluster's articles are re-pointed at the winner, their ids joined
// into the winner's membership, and the losing documents deleted. The winner
// must already have been selected with similarity.MergeClusters so that
// concurrent workers pick the same one.
func (r *Registry) Merge(ctx context.Context, winnerID string, founder core.Article, loserIDs []string) error {
	winner, err := r.GetOrCreate(ctx, winnerID, founder)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, loserID := range loserIDs {
		if loserID == winnerID {
			continue
		}
		members, err := r.store.SearchArticlesByCluster(ctx, loserID, maxClusterFetch)
		if err != nil {
			return fmt.Errorf("failed to load articles of cluster %s: %w", loserID, err)
		}
		for _, member := range members {
			winner.Add(member.ArticleID)
			err := r.store.UpdateArticle(ctx, member.ArticleID, map[string]any{
				"cluster_id": winnerID,
				"updated_at": now,
			})
			if err != nil {
				return fmt.Errorf("failed to re-point article %s: %w", member.ArticleID, err)
			}
		}
		loser, err := r.store.GetCluster(ctx, loserID)
		if err != nil {
			return err
		}
		if loser != nil {
			for _, id := range loser.ArticleIDs {
				winner.Add(id)
			}
			if err := r.store.DeleteCluster(ctx, loserID); err != nil && err != persistence.ErrNotFound {
				return fmt.Errorf("failed to delete absorbed cluster %s: %w", loserID, err)
			}
		}
		r.log.Info("absorbed cluster", "loser", loserID, "winner", winnerID)
	}
	winner.LastUpdated = now
	if err := r.store.IndexCluster(ctx, *winner); err != nil {
		return fmt.Errorf("failed to update merge winner %s: %w", winnerID, err)
	}
	return nil
}

// Winner selects the surviving cluster id of a merge set.
func Winner(clusterIDs []string) string {
	return similarity.MergeClusters(clusterIDs)
}
