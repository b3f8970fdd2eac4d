package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force in-memory Index, used in tests and for small
// document groups where standing up Qdrant is unnecessary. The similarity
// math mirrors the teacher's memory_vector.go (norm/dot/cosine helpers,
// linear scan with a filter predicate).
type MemoryIndex struct {
	mu       sync.RWMutex
	dim      int
	chunks   map[string]Chunk
	denseOf  map[string][]float32
	sparseOf map[string]map[uint32]float32
}

func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{
		dim:      dim,
		chunks:   make(map[string]Chunk),
		denseOf:  make(map[string][]float32),
		sparseOf: make(map[string]map[uint32]float32),
	}
}

func (m *MemoryIndex) Upsert(ctx context.Context, chunks []Chunk, dense [][]float32, sparse []map[uint32]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range chunks {
		m.chunks[c.ChunkID] = c
		if dense != nil && i < len(dense) {
			m.denseOf[c.ChunkID] = dense[i]
		}
		if sparse != nil && i < len(sparse) {
			m.sparseOf[c.ChunkID] = sparse[i]
		}
	}
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		delete(m.chunks, id)
		delete(m.denseOf, id)
		delete(m.sparseOf, id)
	}
	return nil
}

func (m *MemoryIndex) matchesFilter(c Chunk, filter Filter) bool {
	if filter.DocumentGroupID != "" {
		group, _ := c.Metadata["document_group_id"].(string)
		if group != filter.DocumentGroupID {
			return false
		}
	}
	if len(filter.DocIDs) > 0 {
		found := false
		for _, id := range filter.DocIDs {
			if id == c.DocID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *MemoryIndex) SearchDense(ctx context.Context, query []float32, k int, filter Filter) ([]ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scored []ScoredChunk
	for id, c := range m.chunks {
		if !m.matchesFilter(c, filter) {
			continue
		}
		vec, ok := m.denseOf[id]
		if !ok {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: cosine(query, vec)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return rankAndTrim(scored, k), nil
}

func (m *MemoryIndex) SearchSparse(ctx context.Context, query map[uint32]float32, k int, filter Filter) ([]ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scored []ScoredChunk
	for id, c := range m.chunks {
		if !m.matchesFilter(c, filter) {
			continue
		}
		vec, ok := m.sparseOf[id]
		if !ok {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: sparseDot(query, vec)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return rankAndTrim(scored, k), nil
}

func (m *MemoryIndex) SearchHybrid(ctx context.Context, dense []float32, sparse map[uint32]float32, k int, alpha float64, filter Filter) ([]ScoredChunk, error) {
	denseResults, err := m.SearchDense(ctx, dense, k*4, filter)
	if err != nil {
		return nil, err
	}
	sparseResults, err := m.SearchSparse(ctx, sparse, k*4, filter)
	if err != nil {
		return nil, err
	}
	return FuseRRF(denseResults, sparseResults, alpha, k), nil
}

func (m *MemoryIndex) DenseDimension() int { return m.dim }
func (m *MemoryIndex) Close() error        { return nil }

func rankAndTrim(scored []ScoredChunk, k int) []ScoredChunk {
	for i := range scored {
		scored[i].Rank = i
	}
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32) float64 {
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot(a, b) / (na * nb)
}

func sparseDot(a, b map[uint32]float32) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var sum float64
	for k, v := range small {
		if w, ok := large[k]; ok {
			sum += float64(v) * float64(w)
		}
	}
	return sum
}
