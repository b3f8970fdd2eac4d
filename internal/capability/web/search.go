// Package web implements capability.WebSearchClient: a rate-limited search
// call plus a fetch-and-extract pipeline using go-shiori/go-readability and
// JohannesKaufmann/html-to-markdown, the same pair the teacher used for its
// own web fetch tool.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/retry"
)

// RateLimitConfig bounds outgoing search QPS with a token bucket, mirroring
// the teacher's DefaultRateLimitConfig shape.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 2, Burst: 4}
}

// tokenBucket is a minimal blocking rate limiter; refills lazily on Take.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64
	lastFill time.Time
}

func newTokenBucket(cfg RateLimitConfig) *tokenBucket {
	return &tokenBucket{
		tokens:   float64(cfg.Burst),
		max:      float64(cfg.Burst),
		rate:     cfg.RequestsPerSecond,
		lastFill: time.Now(),
	}
}

func (b *tokenBucket) Take(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(b.lastFill).Seconds()
		b.tokens = minF(b.max, b.tokens+elapsed*b.rate)
		b.lastFill = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// SearxngClient is the default capability.WebSearchClient, querying a
// self-hosted SearXNG instance's JSON API (spec's "search_provider" setting
// defaults to this), and falling back to readability+markdown extraction for
// Fetch.
type SearxngClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *tokenBucket
	fetcher    *Fetcher
}

func NewSearxngClient(baseURL string, rateLimit RateLimitConfig) *SearxngClient {
	return &SearxngClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    newTokenBucket(rateLimit),
		fetcher:    NewFetcher(),
	}
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search issues a rate-limited query against SearXNG, retrying failed
// attempts with jittered backoff; isTransientHTTP treats every error as
// retryable.
func (c *SearxngClient) Search(ctx context.Context, query string, maxResults int) ([]capability.WebSearchResult, error) {
	var out []capability.WebSearchResult

	err := retry.Do(ctx, retry.DefaultPolicy(), isTransientHTTP, func(ctx context.Context) error {
		if err := c.limiter.Take(ctx); err != nil {
			return err
		}

		u, err := url.Parse(c.baseURL)
		if err != nil {
			return fmt.Errorf("web search: invalid base url: %w", err)
		}
		q := u.Query()
		q.Set("q", query)
		q.Set("format", "json")
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("web search: server error %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("web search: unexpected status %d", resp.StatusCode)
		}

		var parsed searxngResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("web search: decoding response: %w", err)
		}

		out = out[:0]
		for i, r := range parsed.Results {
			if i >= maxResults {
				break
			}
			out = append(out, capability.WebSearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Fetch delegates to the embedded Fetcher for readable-text extraction.
func (c *SearxngClient) Fetch(ctx context.Context, target string) (capability.FetchedPage, error) {
	return c.fetcher.Fetch(ctx, target)
}

func isTransientHTTP(err error) bool {
	return err != nil
}
