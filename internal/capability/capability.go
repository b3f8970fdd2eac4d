// Package capability declares the thin façade interfaces every agent talks
// to: LLMClient, EmbeddingClient, RerankClient, WebSearchClient and
// DocumentStore. Concrete implementations live under
// internal/capability/providers/*; agents and the controller only ever
// depend on these interfaces so a provider can be swapped without touching
// mission logic.
package capability

import (
	"context"

	"github.com/maestro-research/maestro/internal/config"
)

// Role selects which configured model tier a call should use; it is an alias
// of config.ModelRole kept local so capability callers don't need to import
// config just to name a role.
type Role = config.ModelRole

// ToolSchema describes one tool an agent may call, in the JSON-schema shape
// providers expect for function/tool calling.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a single invocation the model asked the caller to perform.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one turn in a chat-shaped conversation. Role is "system",
// "user", "assistant" or "tool".
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Usage reports token accounting for a single completion. NativeTokens
// captures a provider's own accounting unit (e.g. thinking + output tokens)
// when it differs from prompt+completion.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	NativeTokens     int64
	CostUSD          float64
}

// CompletionRequest is a role-addressed chat completion call.
type CompletionRequest struct {
	Role        Role
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is a single non-streaming completion result.
type CompletionResponse struct {
	Message Message
	Usage   Usage
	Model   string
}

// StreamHandler receives incremental completion tokens; OnToken is called
// for each text delta, OnDone once with the final response.
type StreamHandler interface {
	OnToken(delta string)
	OnDone(resp CompletionResponse)
	OnError(err error)
}

// LLMClient is the single entry point agents use for model calls. Agents
// never select a concrete provider or model -- they address a Role, and the
// controller's configured ModelsConfig resolves it to a provider adapter.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Stream(ctx context.Context, req CompletionRequest, handler StreamHandler) error
}

// Embedding is one dense or sparse vector, keyed to its source text's index
// in the request batch.
type Embedding struct {
	Index  int
	Dense  []float32
	Sparse map[uint32]float32
}

// EmbeddingRequest asks for dense and/or sparse vectors for a batch of texts.
type EmbeddingRequest struct {
	Texts      []string
	WantDense  bool
	WantSparse bool
}

// EmbeddingResponse holds the computed vectors, one per input text, plus
// token usage for telemetry.
type EmbeddingResponse struct {
	Embeddings []Embedding
	Usage      Usage
}

// EmbeddingClient produces dense and/or sparse embeddings for retrieval.
type EmbeddingClient interface {
	Embed(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error)
	DenseDimension() int
}

// RerankCandidate is one item a RerankClient scores against a query.
type RerankCandidate struct {
	ID   string
	Text string
}

// RerankResult pairs a candidate's ID with its relevance score; a higher
// Score ranks better (callers sort by descending Score as needed).
type RerankResult struct {
	ID    string
	Score float64
}

// RerankClient reorders retrieval candidates by cross-encoder relevance.
type RerankClient interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)
}

// WebSearchResult is one organic result from a WebSearchClient.Search call.
type WebSearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// FetchedPage is the readable-text extraction of one URL.
type FetchedPage struct {
	URL         string
	Title       string
	Markdown    string
	FetchedAt   int64 // unix seconds, caller-stamped so the package avoids time.Now()
}

// WebSearchClient performs federated web search and page fetch/extraction,
// the web-side counterpart to vectorindex's document channel.
type WebSearchClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]WebSearchResult, error)
	Fetch(ctx context.Context, url string) (FetchedPage, error)
}

// DocumentRef is a read-only view over one chunk in the configured document
// store, used by DocumentStore.Filter to scope retrieval to a document_group.
type DocumentRef struct {
	ChunkID string
	DocID   string
	Text    string
	Meta    map[string]any
}

// DocumentStore exposes a read-only filtered view of ingested documents; the
// ingestion pipeline that populates it is out of scope for this module (see
// spec Non-goals), so this interface only ever reads.
type DocumentStore interface {
	Filter(ctx context.Context, documentGroupID string) ([]DocumentRef, error)
}
