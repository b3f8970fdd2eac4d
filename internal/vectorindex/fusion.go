package vectorindex

import "sort"

// rrfK is the RRF smoothing constant; 60 is the conventional default used
// across hybrid retrieval literature and carried over from the teacher's
// FuseRRF implementation.
const rrfK = 60.0

// FuseRRF combines dense and sparse channel results into one ranked list
// using alpha-weighted Reciprocal Rank Fusion: each chunk's fused score is
// alpha/(rrfK+rank_dense) + (1-alpha)/(rrfK+rank_sparse), with a chunk
// missing from a channel treated as absent from that channel's sum rather
// than penalized to zero.
func FuseRRF(dense, sparse []ScoredChunk, alpha float64, k int) []ScoredChunk {
	type acc struct {
		chunk Chunk
		score float64
	}
	byID := make(map[string]*acc)

	for _, sc := range dense {
		a, ok := byID[sc.Chunk.ChunkID]
		if !ok {
			a = &acc{chunk: sc.Chunk}
			byID[sc.Chunk.ChunkID] = a
		}
		a.score += alpha * (1.0 / (rrfK + float64(sc.Rank+1)))
	}
	for _, sc := range sparse {
		a, ok := byID[sc.Chunk.ChunkID]
		if !ok {
			a = &acc{chunk: sc.Chunk}
			byID[sc.Chunk.ChunkID] = a
		}
		a.score += (1 - alpha) * (1.0 / (rrfK + float64(sc.Rank+1)))
	}

	fused := make([]ScoredChunk, 0, len(byID))
	for _, a := range byID {
		fused = append(fused, ScoredChunk{Chunk: a.chunk, Score: a.score})
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })

	for i := range fused {
		fused[i].Rank = i
	}
	if k > 0 && len(fused) > k {
		fused = fused[:k]
	}
	return fused
}

// Diversify penalizes additional chunks from the same source document so a
// single long document can't monopolize the result set, mirroring the
// teacher's per-document diversification penalty in retrieve/fusion.go.
func Diversify(chunks []ScoredChunk, penalty float64) []ScoredChunk {
	seen := make(map[string]int)
	out := make([]ScoredChunk, len(chunks))
	copy(out, chunks)

	for i := range out {
		docID := out[i].Chunk.DocID
		count := seen[docID]
		out[i].Score -= penalty * float64(count)
		seen[docID] = count + 1
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	for i := range out {
		out[i].Rank = i
	}
	return out
}

// FuseAndDiversify runs FuseRRF then Diversify in one call, the composition
// the retriever uses for its default channel-merge step.
func FuseAndDiversify(dense, sparse []ScoredChunk, alpha, penalty float64, k int) []ScoredChunk {
	fused := FuseRRF(dense, sparse, alpha, 0)
	diversified := Diversify(fused, penalty)
	if k > 0 && len(diversified) > k {
		diversified = diversified[:k]
	}
	return diversified
}
