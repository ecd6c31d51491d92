package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hupe1980/agentcrew/core"
)

// SearchHit is a single web search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher performs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error)
}

// Page is a fetched document.
type Page struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Fetcher retrieves documents by URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// HTTPSearcher queries a SearXNG compatible JSON endpoint
// (GET <endpoint>?q=<query>&format=json).
type HTTPSearcher struct {
	Endpoint string
	Client   *http.Client
}

// Search implements Searcher.
func (s *HTTPSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	body, _, _, err := get(ctx, client(s.Client), u.String(), 1<<20)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	hits := make([]SearchHit, 0, len(payload.Results))
	for _, r := range payload.Results {
		if maxResults > 0 && len(hits) >= maxResults {
			break
		}
		hits = append(hits, SearchHit{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return hits, nil
}

// HTTPFetcher fetches URLs with a size limit.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Page{}, core.NewValidationError("url", rawURL, "must be an absolute http(s) URL")
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = 256 << 10
	}
	body, status, ctype, err := get(ctx, client(f.Client), u.String(), limit+1)
	if err != nil {
		return Page{}, err
	}
	p := Page{URL: rawURL, StatusCode: status, ContentType: ctype}
	if int64(len(body)) > limit {
		body = body[:limit]
		p.Truncated = true
	}
	p.Content = string(body)
	return p, nil
}

func client(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// get performs a GET and classifies failures: transport errors, 429 and 5xx
// are transient, other non-2xx statuses are permanent.
func get(ctx context.Context, c *http.Client, rawURL string, limit int64) ([]byte, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, "", err
	}
	req.Header.Set("User-Agent", "agentcrew/1.0")
	resp, err := c.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, "", ctx.Err()
		}
		return nil, 0, "", &core.TransientCapabilityError{Capability: "http", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, resp.StatusCode, "", &core.TransientCapabilityError{Capability: "http", Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, resp.StatusCode, "", &core.TransientCapabilityError{Capability: "http", Err: fmt.Errorf("GET %s: %s", rawURL, resp.Status)}
	case resp.StatusCode >= 300:
		return nil, resp.StatusCode, "", fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return body, resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

// SimulatedSearcher returns deterministic hits derived from the query.
type SimulatedSearcher struct{}

// Search implements Searcher.
func (SimulatedSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = 3
	}
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(query)), " ", "-")
	hits := make([]SearchHit, 0, maxResults)
	for i := 1; i <= maxResults; i++ {
		hits = append(hits, SearchHit{
			Title:   fmt.Sprintf("Result %d for %s", i, query),
			URL:     fmt.Sprintf("https://example.com/%s/%d", slug, i),
			Snippet: fmt.Sprintf("Simulated snippet %d about %s.", i, query),
		})
	}
	return hits, nil
}

// SimulatedFetcher returns a deterministic page for any URL.
type SimulatedFetcher struct{}

// Fetch implements Fetcher.
func (SimulatedFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return Page{}, core.NewValidationError("url", rawURL, "must be an absolute URL")
	}
	return Page{URL: rawURL, StatusCode: http.StatusOK, ContentType: "text/plain", Content: "Simulated content of " + rawURL}, nil
}
