// Package similarity implements the locality-sensitive feature extraction and
// scoring used for near-duplicate detection: character shingles, SimHash
// fingerprints, banded MinHash signatures and the Jaccard re-score.
package similarity

import (
	"math/rand"
	"sort"
	"strings"

	"simdoc/internal/config"
	"simdoc/internal/core"
)

// DuplicateHammingThreshold is the maximum Hamming distance at which two
// SimHash values count as exact duplicates.
const DuplicateHammingThreshold = 3

// permSeed fixes the MinHash permutation parameters. Changing it invalidates
// every stored signature.
const permSeed = 0x5f3759df

// Features holds everything extracted from one document.
type Features struct {
	SimHash          string
	MinHashSignature []string
	Shingles         []string
}

// Extractor turns text into features. It is pure: the same text and
// configuration always produce the same output, and it is safe for
// concurrent use.
type Extractor struct {
	bitSize     int
	bands       int
	rowsPerBand int
	shingleSize int
	threshold   float64

	permA []uint64
	permB []uint64
}

// NewExtractor builds an extractor from the similarity configuration.
// Bit sizes above 64 are clamped to 64.
func NewExtractor(cfg config.Similarity) *Extractor {
	bitSize := cfg.SimHashBitSize
	if bitSize <= 0 || bitSize > 64 {
		bitSize = 64
	}
	e := &Extractor{
		bitSize:     bitSize,
		bands:       cfg.MinHashBands,
		rowsPerBand: cfg.MinHashRowsPerBand,
		shingleSize: cfg.ShingleSize,
		threshold:   cfg.Threshold,
	}
	// The permutation parameters must be identical across processes, so they
	// are drawn from a fixed-seed source rather than crypto/rand.
	rng := rand.New(rand.NewSource(permSeed))
	perms := cfg.MinHashPermutations
	if perms <= 0 {
		perms = 128
	}
	e.permA = make([]uint64, perms)
	e.permB = make([]uint64, perms)
	for i := 0; i < perms; i++ {
		e.permA[i] = rng.Uint64() | 1
		e.permB[i] = rng.Uint64()
	}
	return e
}

// Threshold returns the configured Jaccard similarity threshold.
func (e *Extractor) Threshold() float64 { return e.threshold }

// ExtractFeatures computes all features for a document.
func (e *Extractor) ExtractFeatures(text string) Features {
	shingles := e.Shingles(text)
	return Features{
		SimHash:          e.SimHash(text),
		MinHashSignature: e.MinHashSignature(shingles),
		Shingles:         shingles,
	}
}

// Shingles produces the ordered character k-grams of the normalized text.
// Text shorter than the shingle size yields an empty list.
func (e *Extractor) Shingles(text string) []string {
	text = normalize(text)
	runes := []rune(text)
	if len(runes) < e.shingleSize {
		return []string{}
	}
	shingles := make([]string, 0, len(runes)-e.shingleSize+1)
	for i := 0; i+e.shingleSize <= len(runes); i++ {
		shingles = append(shingles, string(runes[i:i+e.shingleSize]))
	}
	return shingles
}

// Jaccard computes |A∩B| / |A∪B| over the shingle sets. An empty union
// scores 0.0.
func Jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}
	intersection := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// Scored is a candidate that passed the similarity threshold.
type Scored struct {
	ArticleID       string
	SimilarityScore float64
	ClusterID       *string
}

// FindSimilarCandidates scores each candidate's shingles against the given
// shingles and returns those at or above the threshold, highest first.
// Candidates without shingles are skipped.
func (e *Extractor) FindSimilarCandidates(shingles []string, candidates []core.JobCandidate) []Scored {
	var similar []Scored
	for _, candidate := range candidates {
		if len(candidate.Shingles) == 0 {
			continue
		}
		score := Jaccard(shingles, candidate.Shingles)
		if score >= e.threshold {
			similar = append(similar, Scored{
				ArticleID:       candidate.ArticleID,
				SimilarityScore: score,
				ClusterID:       candidate.ClusterID,
			})
		}
	}
	sort.SliceStable(similar, func(i, j int) bool {
		return similar[i].SimilarityScore > similar[j].SimilarityScore
	})
	return similar
}

// BestCluster picks the cluster with the highest average similarity among the
// scored candidates. Returns empty string when no candidate carries a cluster.
func BestCluster(similar []Scored) string {
	scores := make(map[string][]float64)
	for _, s := range similar {
		if s.ClusterID != nil && *s.ClusterID != "" {
			scores[*s.ClusterID] = append(scores[*s.ClusterID], s.SimilarityScore)
		}
	}
	best := ""
	bestScore := 0.0
	for clusterID, vals := range scores {
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		avg := sum / float64(len(vals))
		// Lexicographic tie-break keeps the pick deterministic across workers.
		if avg > bestScore || (avg == bestScore && (best == "" || clusterID < best)) {
			bestScore = avg
			best = clusterID
		}
	}
	return best
}

// MergeClusters selects the surviving cluster for a merge set: the
// lexicographically smallest id. Deterministic in the set's membership so
// concurrent workers converge on the same winner.
func MergeClusters(clusterIDs []string) string {
	winner := ""
	for _, id := range clusterIDs {
		if id == "" {
			continue
		}
		if winner == "" || id < winner {
			winner = id
		}
	}
	return winner
}

// normalize trims and lowercases. No stemming or stopword removal: the
// detector must stay sensitive to wording.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
