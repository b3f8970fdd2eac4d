package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"

	"github.com/maestro-research/maestro/internal/capability"
)

// FetchOption configures a Fetcher the same way the teacher's functional
// options did (WithTimeout, WithMaxBytes, WithUserAgent, ...).
type FetchOption func(*Fetcher)

func WithTimeout(d time.Duration) FetchOption {
	return func(f *Fetcher) { f.timeout = d }
}

func WithMaxBytes(n int64) FetchOption {
	return func(f *Fetcher) { f.maxBytes = n }
}

func WithUserAgent(ua string) FetchOption {
	return func(f *Fetcher) { f.userAgent = ua }
}

func WithMaxRedirects(n int) FetchOption {
	return func(f *Fetcher) {
		f.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= n {
				return fmt.Errorf("fetch: stopped after %d redirects", n)
			}
			return nil
		}
	}
}

// Fetcher downloads a URL and extracts readable markdown content, the same
// two-step pipeline (go-readability then html-to-markdown) as the teacher's
// web fetch tool.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	userAgent string
}

func NewFetcher(opts ...FetchOption) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{},
		timeout:   20 * time.Second,
		maxBytes:  5 << 20,
		userAgent: "maestro-research-agent/1.0",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads target and returns its readable content as markdown.
func (f *Fetcher) Fetch(ctx context.Context, target string) (capability.FetchedPage, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return capability.FetchedPage{}, fmt.Errorf("fetch: building request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return capability.FetchedPage{}, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return capability.FetchedPage{}, fmt.Errorf("fetch: unexpected status %d for %s", resp.StatusCode, target)
	}

	body := io.LimitReader(resp.Body, f.maxBytes)

	article, err := readability.FromReader(body, resp.Request.URL)
	if err != nil {
		return capability.FetchedPage{}, fmt.Errorf("fetch: readability extraction failed: %w", err)
	}

	markdown, err := md.ConvertString(article.Content)
	if err != nil {
		return capability.FetchedPage{}, fmt.Errorf("fetch: markdown conversion failed: %w", err)
	}

	return capability.FetchedPage{
		URL:      target,
		Title:    article.Title,
		Markdown: markdown,
	}, nil
}
