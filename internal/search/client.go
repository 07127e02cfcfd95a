package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doxa-graph/doxa/internal/model"
	"github.com/doxa-graph/doxa/internal/worker"
)

const (
	defaultBaseURL   = "https://api.exa.ai"
	searchMaxRetries = 3
	maxSnippetChars  = 500
)

// searchSleepFunc is the sleep function used between retries (injectable for tests)
var searchSleepFunc = time.Sleep

// Searcher finds web evidence for a query
type Searcher interface {
	Search(ctx context.Context, query string, numResults int) ([]model.EvidenceSource, error)
}

// Client searches an Exa-style web search API for evidence sources.
// Results missing a text snippet get one extracted from the page
// itself, robots.txt permitting.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *worker.Limiter
	fetcher    *SnippetFetcher
}

// NewClient creates an evidence search client. The fetcher may be nil
// to disable page-fetch snippet enrichment.
func NewClient(apiKey, baseURL string, timeout time.Duration, limiter *worker.Limiter, fetcher *SnippetFetcher) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Exa API key is required")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if limiter == nil {
		limiter = worker.NewLimiter(2.0, 5)
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		fetcher:    fetcher,
	}, nil
}

type searchRequest struct {
	Query      string         `json:"query"`
	NumResults int            `json:"numResults"`
	Type       string         `json:"type"`
	Contents   searchContents `json:"contents"`
}

type searchContents struct {
	Text searchText `json:"text"`
}

type searchText struct {
	MaxCharacters int `json:"maxCharacters"`
}

type searchResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
}

// Search queries the API and returns up to numResults evidence
// sources. An empty result list is valid, not an error.
func (c *Client) Search(ctx context.Context, query string, numResults int) ([]model.EvidenceSource, error) {
	if numResults <= 0 {
		numResults = 5
	}
	if numResults > 10 {
		numResults = 10
	}

	var lastErr error
	for attempt := 0; attempt < searchMaxRetries; attempt++ {
		sources, err := c.searchOnce(ctx, query, numResults)
		if err == nil {
			return sources, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < searchMaxRetries-1 {
			searchSleepFunc(time.Duration(1<<uint(attempt)) * 500 * time.Millisecond)
		}
	}

	return nil, &model.UpstreamError{Op: "evidence search", Err: lastErr}
}

func (c *Client) searchOnce(ctx context.Context, query string, numResults int) ([]model.EvidenceSource, error) {
	body, err := json.Marshal(searchRequest{
		Query:      query,
		NumResults: numResults,
		Type:       "auto",
		Contents:   searchContents{Text: searchText{MaxCharacters: maxSnippetChars}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/search"
	if err := c.limiter.Wait(ctx, url); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	sources := make([]model.EvidenceSource, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		snippet := r.Text
		if len(snippet) > maxSnippetChars {
			snippet = snippet[:maxSnippetChars]
		}
		if snippet == "" && c.fetcher != nil {
			snippet = c.fetcher.Snippet(ctx, r.URL)
		}
		sources = append(sources, model.EvidenceSource{
			Title:   title,
			URL:     r.URL,
			Snippet: snippet,
		})
	}

	return sources, nil
}
