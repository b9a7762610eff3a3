package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultHashModelTag tags vectors produced by the hashed embedder.
const DefaultHashModelTag = "hash-v1"

// HashedEmbedder produces deterministic pseudo-vectors by feature-hashing
// word tokens and character trigrams into a fixed number of buckets. It
// needs no network and no model files, making it the default backend and
// the test double for the pipeline. Texts sharing tokens land near each
// other; unrelated texts are close to orthogonal.
type HashedEmbedder struct {
	tag string
	dim int
}

var _ Embedder = (*HashedEmbedder)(nil)

func NewHashedEmbedder(tag string, dimension int) *HashedEmbedder {
	if tag == "" {
		tag = DefaultHashModelTag
	}
	return &HashedEmbedder{tag: tag, dim: dimension}
}

func (h *HashedEmbedder) Model() string { return h.tag }

func (h *HashedEmbedder) Dimension() int { return h.dim }

func (h *HashedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, h.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h.addFeature(vec, tok, 1.0)
		// Trigrams soften exact-token matching so inflected forms overlap.
		runes := []rune(tok)
		for i := 0; i+3 <= len(runes); i++ {
			h.addFeature(vec, string(runes[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, h.dim)
	if norm == 0 {
		out[0] = 1
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (h *HashedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// addFeature hashes the feature into a bucket with a pseudo-random sign so
// collisions cancel in expectation instead of compounding.
func (h *HashedEmbedder) addFeature(vec []float64, feature string, weight float64) {
	hs := fnv.New64a()
	hs.Write([]byte(h.tag))
	hs.Write([]byte{0})
	hs.Write([]byte(feature))
	sum := hs.Sum64()

	bucket := int(sum % uint64(h.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}
