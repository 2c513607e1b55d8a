package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DebugDimension is the vector size produced by DebugEmbedder
const DebugDimension = 64

// DebugEmbedder produces deterministic hashed bag-of-words vectors without any network call.
// Texts sharing words get similar vectors, which keeps retrieval meaningful in tests.
type DebugEmbedder struct {
	Dimension int
}

func NewDebugEmbedder(dimension int) *DebugEmbedder {
	return &DebugEmbedder{Dimension: dimension}
}

func (e *DebugEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.generateEmbedding(text)
	}
	return vectors, nil
}

func (e *DebugEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.generateEmbedding(text), nil
}

func (e *DebugEmbedder) generateEmbedding(text string) []float32 {
	embedding := make([]float32, e.Dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(e.Dimension))
		if sum&(1<<63) != 0 {
			embedding[idx] -= 1
		} else {
			embedding[idx] += 1
		}
	}

	var norm float64
	for _, v := range embedding {
		norm += float64(v * v)
	}
	if norm == 0 {
		// no words: a fixed unit vector keeps cosine similarity defined
		embedding[0] = 1
		return embedding
	}
	n := float32(math.Sqrt(norm))
	for i := range embedding {
		embedding[i] /= n
	}
	return embedding
}
