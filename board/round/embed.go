package round

import (
	"hash/fnv"
	"math"
	"strings"
)

// Embedder maps contribution text to a fixed-length vector used for
// near-duplicate detection and novelty scoring.
type Embedder interface {
	Embed(text string) []float32
}

// hashEmbedDim is the bucket count for the token-hash embedder.
const hashEmbedDim = 128

// HashEmbedder is a deterministic bag-of-tokens embedder: each token is
// hashed into one of a fixed number of buckets and the resulting counts
// are L2-normalized. It needs no model calls, costs nothing, and produces
// identical vectors on replay, which is what duplicate detection requires.
type HashEmbedder struct{}

// NewHashEmbedder returns the default embedder.
func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{} }

// Embed implements Embedder.
func (HashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, hashEmbedDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if len(w) < 3 {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%hashEmbedDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
