// Package retrieve implements the mission-facing Retriever (spec §4.1): a
// RetrievalRequest federates the document (vectorindex) and web
// (capability.WebSearchClient) channels in parallel, normalises each
// channel's scores independently, fuses and diversifies the combined list,
// and optionally reranks with a cross-encoder. Grounded on the teacher's
// sefiiCombinedRetrieveHandler (alpha/beta channel merge + rerank +
// ReturnFullDocs) and internal/sefii/engine.go's SearchRelevantChunks
// channel-merge shape.
package retrieve

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/missionerr"
	"github.com/maestro-research/maestro/internal/retry"
	"github.com/maestro-research/maestro/internal/telemetry"
	"github.com/maestro-research/maestro/internal/vectorindex"
)

// Request is one retrieval call (spec §4.1: "RetrievalRequest{query, k_doc,
// k_web, filters, enable_web, enable_rag}").
type Request struct {
	Query      string
	KDoc       int
	KWeb       int
	Filter     vectorindex.Filter
	EnableWeb  bool
	EnableRAG  bool
	// WebFetchCap bounds how many of the top web results get a full
	// web_fetch for body text; results beyond the cap keep only their
	// search-result snippet (spec §4.1 supplement: fetch is reserved for the
	// results most likely to become notes).
	WebFetchCap int
	// MissionID tags the telemetry record for this request's web searches
	// (spec §4.6: "web searches increment web_searches"); empty disables
	// recording, e.g. when Retriever is exercised outside a mission.
	MissionID string
}

// Retriever federates the doc and web channels for one mission.
type Retriever struct {
	Index       vectorindex.Index
	Embedder    capability.EmbeddingClient
	WebSearch   capability.WebSearchClient
	Reranker    capability.RerankClient
	Alpha       float64
	Diversify   float64
	RetryPolicy retry.Policy
	// Telemetry records one web_searches increment per successful
	// WebSearchClient.Search call (spec §4.6); nil disables recording.
	Telemetry *telemetry.Interceptor
}

// New builds a Retriever with the spec's default hybrid alpha (0.5) and
// diversification penalty, and the default 3-attempt retry policy (spec
// §4.1: "each channel retries transient failures up to 3 times").
func New(index vectorindex.Index, embedder capability.EmbeddingClient, web capability.WebSearchClient, reranker capability.RerankClient) *Retriever {
	return &Retriever{
		Index:       index,
		Embedder:    embedder,
		WebSearch:   web,
		Reranker:    reranker,
		Alpha:       0.5,
		Diversify:   0.05,
		RetryPolicy: retry.DefaultPolicy(),
	}
}

// Retrieve runs the enabled channels concurrently and returns a merged,
// reranked evidence list. It raises missionerr.NoEvidence only when every
// enabled channel failed outright (spec §4.1: "a dead channel degrades
// gracefully... unless all channels fail").
func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]mission.Evidence, error) {
	var docEvidence, webEvidence []mission.Evidence
	var docErr, webErr error
	anyEnabled := false

	g, gctx := errgroup.WithContext(ctx)

	if req.EnableRAG && r.Index != nil {
		anyEnabled = true
		g.Go(func() error {
			docEvidence, docErr = r.retrieveDoc(gctx, req)
			return nil // channel failures are absorbed, not propagated to the group
		})
	}
	if req.EnableWeb && r.WebSearch != nil {
		anyEnabled = true
		g.Go(func() error {
			webEvidence, webErr = r.retrieveWeb(gctx, req)
			return nil
		})
	}

	if !anyEnabled {
		return nil, missionerr.Validation("retrieve", errNoChannelEnabled)
	}

	_ = g.Wait() // never returns an error: each goroutine absorbs its own

	if docErr != nil && webErr != nil {
		return nil, missionerr.NoEvidence("retrieve", combineErrs(docErr, webErr))
	}

	merged := normalizeScores(docEvidence)
	merged = append(merged, normalizeScores(webEvidence)...)
	if len(merged) == 0 {
		return nil, missionerr.NoEvidence("retrieve", combineErrs(docErr, webErr))
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })

	if r.Reranker != nil {
		reranked, err := r.rerank(ctx, req.Query, merged)
		if err == nil {
			merged = reranked
		}
	}

	return merged, nil
}

func (r *Retriever) retrieveDoc(ctx context.Context, req Request) ([]mission.Evidence, error) {
	var chunks []vectorindex.ScoredChunk
	err := retry.Do(ctx, r.RetryPolicy, missionerr.IsRetryable, func(ctx context.Context) error {
		emb, err := r.Embedder.Embed(ctx, capability.EmbeddingRequest{
			Texts:      []string{req.Query},
			WantDense:  true,
			WantSparse: true,
		})
		if err != nil {
			return missionerr.Transient("retrieve.embed", err)
		}
		if len(emb.Embeddings) == 0 {
			return missionerr.Fatal("retrieve.embed", errEmptyEmbedding)
		}
		q := emb.Embeddings[0]
		result, err := r.Index.SearchHybrid(ctx, q.Dense, q.Sparse, req.KDoc, r.Alpha, req.Filter)
		if err != nil {
			return missionerr.Transient("retrieve.index", err)
		}
		chunks = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks = vectorindex.Diversify(chunks, r.Diversify)
	out := make([]mission.Evidence, len(chunks))
	for i, sc := range chunks {
		out[i] = mission.Evidence{
			SourceID: sc.Chunk.ChunkID,
			Text:     sc.Chunk.Text,
			Score:    sc.Score,
			Provenance: mission.Provenance{
				Kind:    mission.SourceDoc,
				DocID:   sc.Chunk.DocID,
				ChunkID: sc.Chunk.ChunkID,
			},
		}
	}
	return out, nil
}

func (r *Retriever) retrieveWeb(ctx context.Context, req Request) ([]mission.Evidence, error) {
	var results []capability.WebSearchResult
	err := retry.Do(ctx, r.RetryPolicy, missionerr.IsRetryable, func(ctx context.Context) error {
		res, err := r.WebSearch.Search(ctx, req.Query, req.KWeb)
		if err != nil {
			return missionerr.Transient("retrieve.websearch", err)
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.Telemetry != nil {
		r.Telemetry.Record(ctx, telemetry.CallRecord{MissionID: req.MissionID, Agent: "researcher", Phase: "research", WebSearch: true})
	}

	fetchCap := req.WebFetchCap
	if fetchCap <= 0 || fetchCap > len(results) {
		fetchCap = len(results)
	}

	out := make([]mission.Evidence, 0, len(results))
	for i, res := range results {
		text := res.Snippet
		if i < fetchCap {
			if page, err := r.WebSearch.Fetch(ctx, res.URL); err == nil && page.Markdown != "" {
				text = page.Markdown
			}
		}
		out = append(out, mission.Evidence{
			SourceID: res.URL,
			Text:     text,
			Score:    float64(len(results) - i),
			Provenance: mission.Provenance{
				Kind:  mission.SourceWeb,
				URL:   res.URL,
				Title: res.Title,
			},
		})
	}
	return out, nil
}

// normalizeScores rescales a channel's scores into [0,1] independently so
// neither channel's native scoring scale dominates the merge (spec §4.1:
// "normalises scores within each channel").
func normalizeScores(evidence []mission.Evidence) []mission.Evidence {
	if len(evidence) == 0 {
		return evidence
	}
	max, min := evidence[0].Score, evidence[0].Score
	for _, e := range evidence {
		if e.Score > max {
			max = e.Score
		}
		if e.Score < min {
			min = e.Score
		}
	}
	span := max - min
	out := make([]mission.Evidence, len(evidence))
	copy(out, evidence)
	if span == 0 {
		for i := range out {
			out[i].Score = 1
		}
		return out
	}
	for i := range out {
		out[i].Score = (out[i].Score - min) / span
	}
	return out
}

func (r *Retriever) rerank(ctx context.Context, query string, evidence []mission.Evidence) ([]mission.Evidence, error) {
	candidates := make([]capability.RerankCandidate, len(evidence))
	for i, e := range evidence {
		candidates[i] = capability.RerankCandidate{ID: e.SourceID, Text: e.Text}
	}
	results, err := r.Reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	scoreByID := make(map[string]float64, len(results))
	for _, res := range results {
		scoreByID[res.ID] = res.Score
	}
	out := make([]mission.Evidence, len(evidence))
	copy(out, evidence)
	for i := range out {
		if s, ok := scoreByID[out[i].SourceID]; ok {
			out[i].Score = s
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
