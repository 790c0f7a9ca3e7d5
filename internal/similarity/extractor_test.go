package similarity

import (
	"testing"

	"simdoc/internal/config"
	"simdoc/internal/core"
)

func testConfig() config.Similarity {
	return config.Similarity{
		SimHashBitSize:      64,
		MinHashPermutations: 128,
		MinHashBands:        20,
		MinHashRowsPerBand:  6,
		ShingleSize:         5,
		Threshold:           0.8,
	}
}

func TestShingles(t *testing.T) {
	e := NewExtractor(testConfig())

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"shorter than shingle size", "abcd", 0},
		{"exactly shingle size", "abcde", 1},
		{"one longer", "abcdef", 2},
		{"cjk runes count as one", "香港大埔公寓火灾", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Shingles(tt.text)
			if len(got) != tt.want {
				t.Errorf("Shingles(%q) returned %d shingles, want %d", tt.text, len(got), tt.want)
			}
		})
	}
}

func TestShinglesNormalized(t *testing.T) {
	e := NewExtractor(testConfig())
	a := e.Shingles("  Hello World  ")
	b := e.Shingles("hello world")
	if len(a) != len(b) {
		t.Fatalf("normalization mismatch: %d vs %d shingles", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("shingle %d: %q != %q", i, a[i], b[i])
		}
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 0.0},
		{"one empty", []string{"ab"}, nil, 0.0},
		{"identical", []string{"ab", "bc"}, []string{"ab", "bc"}, 1.0},
		{"disjoint", []string{"ab"}, []string{"cd"}, 0.0},
		{"half overlap", []string{"ab", "bc", "cd"}, []string{"bc", "cd", "de"}, 0.5},
		{"duplicates collapse", []string{"ab", "ab"}, []string{"ab"}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jaccard(tt.a, tt.b); got != tt.want {
				t.Errorf("Jaccard = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeatureDeterminism(t *testing.T) {
	text := "City council approved the harbour tunnel budget on Monday."
	a := NewExtractor(testConfig()).ExtractFeatures(text)
	b := NewExtractor(testConfig()).ExtractFeatures(text)

	if a.SimHash != b.SimHash {
		t.Errorf("simhash differs across extractors: %s vs %s", a.SimHash, b.SimHash)
	}
	if len(a.MinHashSignature) != len(b.MinHashSignature) {
		t.Fatalf("signature lengths differ: %d vs %d", len(a.MinHashSignature), len(b.MinHashSignature))
	}
	for i := range a.MinHashSignature {
		if a.MinHashSignature[i] != b.MinHashSignature[i] {
			t.Errorf("band %d differs: %s vs %s", i, a.MinHashSignature[i], b.MinHashSignature[i])
		}
	}
}

func TestSimHashFormat(t *testing.T) {
	e := NewExtractor(testConfig())
	hash := e.SimHash("some document text")
	if len(hash) != 16 {
		t.Errorf("expected 16 hex chars for a 64-bit simhash, got %d (%s)", len(hash), hash)
	}
	if e.SimHash("") != e.SimHash("") {
		t.Error("empty text simhash not stable")
	}
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0000000000000000", "0000000000000000", 0},
		{"0000000000000000", "0000000000000007", 3},
		{"0000000000000000", "000000000000000f", 4},
		{"ffffffffffffffff", "0000000000000000", 64},
	}
	for _, tt := range tests {
		got, err := HammingDistance(tt.a, tt.b)
		if err != nil {
			t.Fatalf("HammingDistance(%s, %s): %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("HammingDistance(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIsSimHashDuplicate(t *testing.T) {
	// Distance 3 is a duplicate, 4 is not.
	if !IsSimHashDuplicate("0000000000000000", "0000000000000007") {
		t.Error("distance 3 should count as duplicate")
	}
	if IsSimHashDuplicate("0000000000000000", "000000000000000f") {
		t.Error("distance 4 should not count as duplicate")
	}
	if IsSimHashDuplicate("not-hex", "0000000000000000") {
		t.Error("malformed hash should not count as duplicate")
	}
}

func TestMinHashSignatureShape(t *testing.T) {
	e := NewExtractor(testConfig())
	sig := e.MinHashSignature(e.Shingles("the quick brown fox jumps over the lazy dog"))
	if len(sig) != 20 {
		t.Fatalf("expected 20 bands, got %d", len(sig))
	}
	for i, band := range sig {
		if len(band) != 8 {
			t.Errorf("band %d: expected 8 hex chars, got %q", i, band)
		}
	}
}

func TestMinHashSimilarTextsShareBands(t *testing.T) {
	e := NewExtractor(testConfig())
	a := e.MinHashSignature(e.Shingles("city council approved the harbour tunnel budget on monday after debate"))
	b := e.MinHashSignature(e.Shingles("city council approved the harbour tunnel budget on monday after discussion"))
	shared := 0
	bands := make(map[string]struct{}, len(a))
	for _, band := range a {
		bands[band] = struct{}{}
	}
	for _, band := range b {
		if _, ok := bands[band]; ok {
			shared++
		}
	}
	if shared == 0 {
		t.Error("near-identical texts share no signature bands")
	}
}

func TestFindSimilarCandidates(t *testing.T) {
	e := NewExtractor(testConfig())
	base := e.Shingles("city council approved the harbour tunnel budget on monday")
	near := e.Shingles("city council approved the harbour tunnel budget on tuesday")
	far := e.Shingles("completely unrelated text about gardening and houseplants")

	clusterID := "cluster_x"
	similar := e.FindSimilarCandidates(base, []core.JobCandidate{
		{ArticleID: "far", Shingles: far},
		{ArticleID: "near", Shingles: near, ClusterID: &clusterID},
		{ArticleID: "empty"},
		{ArticleID: "exact", Shingles: base},
	})

	if len(similar) != 2 {
		t.Fatalf("expected 2 similar candidates, got %d", len(similar))
	}
	if similar[0].ArticleID != "exact" {
		t.Errorf("expected exact match first, got %s", similar[0].ArticleID)
	}
	if similar[0].SimilarityScore != 1.0 {
		t.Errorf("exact match score = %v, want 1.0", similar[0].SimilarityScore)
	}
	if similar[1].ArticleID != "near" || similar[1].ClusterID == nil || *similar[1].ClusterID != clusterID {
		t.Errorf("near candidate lost its cluster id: %+v", similar[1])
	}
}

func TestBestCluster(t *testing.T) {
	c1, c2 := "cluster_a", "cluster_b"
	tests := []struct {
		name    string
		similar []Scored
		want    string
	}{
		{"no clusters", []Scored{{ArticleID: "x", SimilarityScore: 0.9}}, ""},
		{"single", []Scored{{ArticleID: "x", SimilarityScore: 0.9, ClusterID: &c1}}, "cluster_a"},
		{"higher average wins", []Scored{
			{ArticleID: "x", SimilarityScore: 0.85, ClusterID: &c1},
			{ArticleID: "y", SimilarityScore: 0.95, ClusterID: &c2},
		}, "cluster_b"},
		{"tie broken lexicographically", []Scored{
			{ArticleID: "x", SimilarityScore: 0.9, ClusterID: &c2},
			{ArticleID: "y", SimilarityScore: 0.9, ClusterID: &c1},
		}, "cluster_a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BestCluster(tt.similar); got != tt.want {
				t.Errorf("BestCluster = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMergeClusters(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want string
	}{
		{"empty", nil, ""},
		{"single", []string{"cluster_b"}, "cluster_b"},
		{"lexicographic winner", []string{"cluster_c", "cluster_a", "cluster_b"}, "cluster_a"},
		{"order independent", []string{"cluster_a", "cluster_c", "cluster_b"}, "cluster_a"},
		{"skips empty ids", []string{"", "cluster_z"}, "cluster_z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeClusters(tt.ids); got != tt.want {
				t.Errorf("MergeClusters(%v) = %q, want %q", tt.ids, got, tt.want)
			}
		})
	}
}
