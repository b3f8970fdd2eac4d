package vectorindex

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/maestro-research/maestro/internal/ids"
)

// QdrantIndex backs the dense channel with a Qdrant collection; sparse
// search falls back to an in-memory map since this module's sparse vectors
// are small per-mission token-weight maps, not a deployment-scale index.
// Grounded on the teacher's qdrant_vector.go (ensureCollection/Upsert/
// Delete/SimilaritySearch shape).
type QdrantIndex struct {
	client         *qdrant.Client
	collectionName string
	dim            int
	sparse         *MemoryIndex // reused purely for its sparse-search half
}

func NewQdrantIndex(ctx context.Context, addr string, apiKey string, useTLS bool, collectionName string, dim int) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   addr,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connecting: %w", err)
	}

	idx := &QdrantIndex{
		client:         client,
		collectionName: collectionName,
		dim:            dim,
		sparse:         NewMemoryIndex(dim),
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collectionName)
	if err != nil {
		return fmt.Errorf("qdrant: checking collection: %w", err)
	}
	if exists {
		return nil
	}

	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (q *QdrantIndex) Upsert(ctx context.Context, chunks []Chunk, dense [][]float32, sparse []map[uint32]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		if dense == nil || i >= len(dense) {
			continue
		}
		payload := map[string]*qdrant.Value{
			"doc_id": qdrant.NewValueString(c.DocID),
			"text":   qdrant.NewValueString(c.Text),
			"ord":    qdrant.NewValueInt(int64(c.Ord)),
		}
		if group, ok := c.Metadata["document_group_id"].(string); ok {
			payload["document_group_id"] = qdrant.NewValueString(group)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunkPointID(c.ChunkID)),
			Vectors: qdrant.NewVectors(dense[i]...),
			Payload: payload,
		})
	}

	if len(points) > 0 {
		if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collectionName,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert: %w", err)
		}
	}

	return q.sparse.Upsert(ctx, chunks, nil, sparse)
}

func (q *QdrantIndex) Delete(ctx context.Context, chunkIDs []string) error {
	qids := make([]*qdrant.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		qids = append(qids, qdrant.NewIDUUID(chunkPointID(id)))
	}
	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points:         qdrant.NewPointsSelector(qids...),
	}); err != nil {
		return fmt.Errorf("qdrant: delete: %w", err)
	}
	return q.sparse.Delete(ctx, chunkIDs)
}

func (q *QdrantIndex) SearchDense(ctx context.Context, query []float32, k int, filter Filter) ([]ScoredChunk, error) {
	req := &qdrant.QueryPoints{
		CollectionName: q.collectionName,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrantLimit(k),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter.DocumentGroupID != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_group_id", filter.DocumentGroupID),
			},
		}
	}

	resp, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	out := make([]ScoredChunk, 0, len(resp))
	for i, point := range resp {
		out = append(out, ScoredChunk{
			Chunk: chunkFromPayload(point.Id.GetUuid(), point.Payload),
			Score: float64(point.Score),
			Rank:  i,
		})
	}
	return out, nil
}

func (q *QdrantIndex) SearchSparse(ctx context.Context, query map[uint32]float32, k int, filter Filter) ([]ScoredChunk, error) {
	return q.sparse.SearchSparse(ctx, query, k, filter)
}

func (q *QdrantIndex) SearchHybrid(ctx context.Context, dense []float32, sparse map[uint32]float32, k int, alpha float64, filter Filter) ([]ScoredChunk, error) {
	denseResults, err := q.SearchDense(ctx, dense, k*4, filter)
	if err != nil {
		return nil, err
	}
	sparseResults, err := q.SearchSparse(ctx, sparse, k*4, filter)
	if err != nil {
		return nil, err
	}
	return FuseRRF(denseResults, sparseResults, alpha, k), nil
}

func (q *QdrantIndex) DenseDimension() int { return q.dim }

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func chunkPointID(chunkID string) string {
	return ids.Short(chunkID) + "-" + chunkID
}

func chunkFromPayload(pointID string, payload map[string]*qdrant.Value) Chunk {
	c := Chunk{ChunkID: pointID, Metadata: map[string]any{}}
	if v, ok := payload["doc_id"]; ok {
		c.DocID = v.GetStringValue()
	}
	if v, ok := payload["text"]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload["ord"]; ok {
		c.Ord = int(v.GetIntegerValue())
	}
	if v, ok := payload["document_group_id"]; ok {
		c.Metadata["document_group_id"] = v.GetStringValue()
	}
	return c
}

func qdrantLimit(k int) uint64 {
	if k <= 0 {
		return 10
	}
	return uint64(k)
}
