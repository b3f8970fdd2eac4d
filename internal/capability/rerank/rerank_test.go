package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-research/maestro/internal/capability"
)

func TestNoopPreservesOrderByDescendingScore(t *testing.T) {
	candidates := []capability.RerankCandidate{
		{ID: "a", Text: "first"},
		{ID: "b", Text: "second"},
		{ID: "c", Text: "third"},
	}

	results, err := Noop{}.Rerank(context.Background(), "query", candidates)
	require.NoError(t, err)
	require.Len(t, results, 3)

	ByScoreDescending(results)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[2].ID)
}
