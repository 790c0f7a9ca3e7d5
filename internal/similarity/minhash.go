package similarity

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MinHashSignature computes the banded LSH signature of a shingle set: one
// 8-hex-char band hash per band.
//
// With the default configuration (128 permutations, 20 bands of 6 rows) the
// last 8 permutation values never land in a band. That mirrors the stored
// corpus; rejecting such configurations would invalidate existing signatures.
func (e *Extractor) MinHashSignature(shingles []string) []string {
	mins := make([]uint64, len(e.permA))
	for i := range mins {
		mins[i] = math.MaxUint64
	}
	for _, shingle := range shingles {
		h := xxhash.Sum64String(shingle)
		for i := range e.permA {
			// Universal hashing with natural mod-2^64 wraparound.
			v := e.permA[i]*h + e.permB[i]
			if v < mins[i] {
				mins[i] = v
			}
		}
	}

	bands := make([]string, 0, e.bands)
	for b := 0; b < e.bands; b++ {
		start := b * e.rowsPerBand
		end := start + e.rowsPerBand
		if end > len(mins) {
			end = len(mins)
		}
		var row []string
		if start < end {
			row = make([]string, 0, end-start)
			for _, v := range mins[start:end] {
				row = append(row, strconv.FormatUint(v, 10))
			}
		}
		bands = append(bands, bandHash(strings.Join(row, ",")))
	}
	return bands
}

// bandHash collapses a band's concatenated values into a stable short key.
func bandHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
