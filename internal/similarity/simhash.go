package similarity

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SimHash computes the B-bit fingerprint of the normalized text over its
// whitespace-split tokens, rendered as lowercase hex zero-padded to B/4
// characters.
func (e *Extractor) SimHash(text string) string {
	tokens := strings.Fields(normalize(text))

	weights := make([]int, e.bitSize)
	for _, token := range tokens {
		h := xxhash.Sum64String(token)
		for i := 0; i < e.bitSize; i++ {
			if h&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}

	var value uint64
	for i := 0; i < e.bitSize; i++ {
		if weights[i] > 0 {
			value |= 1 << uint(i)
		}
	}
	return fmt.Sprintf("%0*x", e.bitSize/4, value)
}

// HammingDistance is the popcount of the XOR of two hex SimHash values.
func HammingDistance(simhashA, simhashB string) (int, error) {
	a, err := strconv.ParseUint(simhashA, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid simhash %q: %w", simhashA, err)
	}
	b, err := strconv.ParseUint(simhashB, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid simhash %q: %w", simhashB, err)
	}
	return bits.OnesCount64(a ^ b), nil
}

// IsSimHashDuplicate reports whether two fingerprints are within the
// exact-duplicate Hamming threshold. Unparseable input is never a duplicate.
func IsSimHashDuplicate(simhashA, simhashB string) bool {
	distance, err := HammingDistance(simhashA, simhashB)
	if err != nil {
		return false
	}
	return distance <= DuplicateHammingThreshold
}
