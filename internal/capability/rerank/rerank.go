// Package rerank provides a noop capability.RerankClient, a pass-through used
// in tests and when no cross-encoder is configured, plus ByScoreDescending
// for ordering results. It contains no HTTP cross-encoder client.
package rerank

import (
	"context"
	"sort"

	"github.com/maestro-research/maestro/internal/capability"
)

// Noop returns candidates in their original order with a descending
// placeholder score, preserving channel order when no cross-encoder is
// configured -- the same fallback shape as the teacher's NoopReranker.
type Noop struct{}

func (Noop) Rerank(ctx context.Context, query string, candidates []capability.RerankCandidate) ([]capability.RerankResult, error) {
	out := make([]capability.RerankResult, len(candidates))
	for i, c := range candidates {
		out[i] = capability.RerankResult{ID: c.ID, Score: float64(len(candidates) - i)}
	}
	return out, nil
}

// ByScoreDescending sorts results so the caller can take top-N directly.
func ByScoreDescending(results []capability.RerankResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
