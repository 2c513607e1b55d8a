package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"document-qa/internal/models"
)

// MemoryStore is a brute-force in-memory cosine store used in debug mode
type MemoryStore struct {
	mu      sync.RWMutex
	ids     []int
	vectors [][]float32
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Insert(ctx context.Context, vectors [][]float32, ids []int) error {
	if len(vectors) != len(ids) {
		return errors.New("vectors and ids length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, ids...)
	s.vectors = append(s.vectors, vectors...)
	return nil
}

// Search ranks by cosine similarity; equal scores keep the lower id first
func (s *MemoryStore) Search(ctx context.Context, query []float32, k int) ([]models.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		return []models.VectorHit{}, nil
	}

	hits := make([]models.VectorHit, len(s.vectors))
	for i, v := range s.vectors {
		hits[i] = models.VectorHit{ID: s.ids[i], Score: cosineSimilarity32(query, v)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// SearchAll scores every vector against query and returns them in id order
func (s *MemoryStore) SearchAll(ctx context.Context, query []float32) ([]models.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]models.VectorHit, len(s.ids))
	for i, id := range s.ids {
		hits[i] = models.VectorHit{ID: id, Score: cosineSimilarity32(query, s.vectors[i])}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	return hits, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *MemoryStore) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = nil
	s.vectors = nil
	return nil
}

func cosineSimilarity32(a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
