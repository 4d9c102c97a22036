// Package learning feeds extraction outcomes back into the similarity store.
package learning

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/webextract/webextract/internal/pipeline"
)

// Dims is the fixed embedding dimensionality.
const Dims = 256

// Embedder turns pattern summaries into fixed-size vectors using feature
// hashing. It is deterministic, so identical summaries always land on the
// same point and the nearest-neighbor lookup degenerates to an exact match.
type Embedder struct{}

// NewEmbedder constructs an Embedder.
func NewEmbedder() *Embedder {
	return &Embedder{}
}

// Summarize builds the text that gets embedded for a pattern.
func (Embedder) Summarize(analysis pipeline.WebsiteAnalysis, purpose string, strategy pipeline.Strategy) string {
	parts := []string{
		"type", string(analysis.WebsiteType),
		"purpose", purpose,
		"strategy", strategy.Label(),
		"complexity", string(analysis.Complexity),
	}
	if len(analysis.Frameworks) > 0 {
		parts = append(parts, "frameworks", strings.Join(analysis.Frameworks, " "))
	}
	return strings.Join(parts, " ")
}

// Embed hashes tokens into Dims buckets and L2-normalizes the result.
func (Embedder) Embed(text string) []float32 {
	vec := make([]float32, Dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		bucket := sum % Dims
		// Alternate sign from the next hash bit to spread collisions.
		if (sum>>31)&1 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
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
