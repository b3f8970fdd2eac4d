package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/vectorindex"
)

type fakeEmbedder struct {
	dim int
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, req capability.EmbeddingRequest) (capability.EmbeddingResponse, error) {
	if f.err != nil {
		return capability.EmbeddingResponse{}, f.err
	}
	return capability.EmbeddingResponse{
		Embeddings: []capability.Embedding{{Index: 0, Dense: []float32{1, 0, 0}, Sparse: map[uint32]float32{1: 1}}},
	}, nil
}

func (f *fakeEmbedder) DenseDimension() int { return f.dim }

type fakeWebSearch struct {
	results []capability.WebSearchResult
	err     error
}

func (f *fakeWebSearch) Search(ctx context.Context, query string, maxResults int) ([]capability.WebSearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeWebSearch) Fetch(ctx context.Context, url string) (capability.FetchedPage, error) {
	return capability.FetchedPage{URL: url, Markdown: "fetched body for " + url}, nil
}

func seedIndex(t *testing.T) vectorindex.Index {
	t.Helper()
	idx := vectorindex.NewMemoryIndex(3)
	err := idx.Upsert(context.Background(),
		[]vectorindex.Chunk{{ChunkID: "c1", DocID: "d1", Text: "alpha"}},
		[][]float32{{1, 0, 0}},
		[]map[uint32]float32{{1: 1}})
	require.NoError(t, err)
	return idx
}

func TestRetrieveMergesDocAndWebChannels(t *testing.T) {
	r := New(seedIndex(t), &fakeEmbedder{dim: 3}, &fakeWebSearch{
		results: []capability.WebSearchResult{{Title: "W1", URL: "http://example.com/1", Snippet: "s1"}},
	}, nil)

	out, err := r.Retrieve(context.Background(), Request{
		Query: "q", KDoc: 5, KWeb: 5, EnableRAG: true, EnableWeb: true, WebFetchCap: 1,
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRetrieveFailsWithNoEvidenceWhenAllChannelsFail(t *testing.T) {
	r := New(seedIndex(t), &fakeEmbedder{err: errors.New("boom")}, &fakeWebSearch{err: errors.New("boom")}, nil)

	_, err := r.Retrieve(context.Background(), Request{
		Query: "q", KDoc: 5, KWeb: 5, EnableRAG: true, EnableWeb: true,
	})
	require.Error(t, err)
}

func TestRetrieveDegradesGracefullyWhenOneChannelFails(t *testing.T) {
	r := New(seedIndex(t), &fakeEmbedder{err: errors.New("boom")}, &fakeWebSearch{
		results: []capability.WebSearchResult{{Title: "W1", URL: "http://example.com/1", Snippet: "s1"}},
	}, nil)

	out, err := r.Retrieve(context.Background(), Request{
		Query: "q", KDoc: 5, KWeb: 5, EnableRAG: true, EnableWeb: true,
	})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestRetrieveRequiresAtLeastOneChannelEnabled(t *testing.T) {
	r := New(seedIndex(t), &fakeEmbedder{}, &fakeWebSearch{}, nil)
	_, err := r.Retrieve(context.Background(), Request{Query: "q"})
	require.Error(t, err)
}
