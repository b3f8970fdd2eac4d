// Package vectorindex implements the hybrid dense+sparse document index
// (spec §4.1): per-chunk storage, dense (cosine similarity) search, sparse
// (token weight dot-product) search, and an alpha-weighted RRF hybrid
// search. The in-memory implementation is grounded on the teacher's
// memory_vector.go brute-force cosine store; Qdrant backs the dense channel
// for larger corpora (qdrant_vector.go).
package vectorindex

import (
	"context"
)

// Chunk is one retrievable unit of ingested document content.
type Chunk struct {
	ChunkID  string
	DocID    string
	Ord      int
	Text     string
	Metadata map[string]any
}

// ScoredChunk pairs a Chunk with its retrieval score (higher is better,
// regardless of channel) and the rank it held within its originating
// channel, used by fusion to compute RRF.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
	Rank  int
}

// Filter narrows a search to a document_group and/or specific doc IDs.
type Filter struct {
	DocumentGroupID string
	DocIDs          []string
}

// Index is the hybrid store every channel in retrieve.Retriever queries.
type Index interface {
	Upsert(ctx context.Context, chunks []Chunk, dense [][]float32, sparse []map[uint32]float32) error
	Delete(ctx context.Context, chunkIDs []string) error

	SearchDense(ctx context.Context, query []float32, k int, filter Filter) ([]ScoredChunk, error)
	SearchSparse(ctx context.Context, query map[uint32]float32, k int, filter Filter) ([]ScoredChunk, error)
	// SearchHybrid fuses dense and sparse candidates with RRF, weighting the
	// dense channel by alpha: score = alpha/(60+rank_dense) +
	// (1-alpha)/(60+rank_sparse), see FuseRRF.
	SearchHybrid(ctx context.Context, dense []float32, sparse map[uint32]float32, k int, alpha float64, filter Filter) ([]ScoredChunk, error)

	DenseDimension() int
	Close() error
}
