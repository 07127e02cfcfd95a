package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/doxa-graph/doxa/internal/model"
	"github.com/doxa-graph/doxa/internal/worker"
)

const (
	defaultBaseURL     = "https://api.elections.kalshi.com"
	kalshiMaxRetries   = 3
	marketsPerSeriesCap = 3
)

// kalshiSleepFunc is the sleep function used between retries (injectable for tests)
var kalshiSleepFunc = time.Sleep

// Searcher finds prediction-market candidates for a query
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]model.Candidate, error)
}

// Client searches the Kalshi series index for markets matching a query
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *worker.Limiter
}

// NewClient creates a Kalshi search client
func NewClient(baseURL string, timeout time.Duration, limiter *worker.Limiter) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if limiter == nil {
		limiter = worker.NewLimiter(2.0, 5)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// seriesPayload tolerates the field-name drift seen across Kalshi
// API versions.
type seriesPayload struct {
	ID          string          `json:"id"`
	SeriesID    string          `json:"series_id"`
	Ticker      string          `json:"ticker"`
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	URL         string          `json:"url"`
	Permalink   string          `json:"permalink"`
	Markets     []marketPayload `json:"markets"`
}

type marketPayload struct {
	ID          string `json:"id"`
	MarketID    string `json:"market_id"`
	Ticker      string `json:"ticker"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Permalink   string `json:"permalink"`
}

type searchPayload struct {
	Series  []seriesPayload `json:"series"`
	Markets []marketPayload `json:"markets"`
}

// Search returns up to k candidates for the query, deduplicated by id.
// Series come first, each followed by up to 3 of its embedded markets.
func (c *Client) Search(ctx context.Context, query string, k int) ([]model.Candidate, error) {
	if k <= 0 {
		k = 1
	}

	var lastErr error
	for attempt := 0; attempt < kalshiMaxRetries; attempt++ {
		candidates, err := c.searchOnce(ctx, query, k)
		if err == nil {
			return candidates, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < kalshiMaxRetries-1 {
			kalshiSleepFunc(time.Duration(1<<uint(attempt)) * 500 * time.Millisecond)
		}
	}

	return nil, &model.UpstreamError{Op: "market search", Err: lastErr}
}

func (c *Client) searchOnce(ctx context.Context, query string, k int) ([]model.Candidate, error) {
	endpoint := c.baseURL + "/v1/search/series"
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("embedding_search", "true")
	params.Set("order_by", "querymatch")
	params.Set("query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search status %d: %s", resp.StatusCode, string(raw))
	}

	var payload searchPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var results []model.Candidate
	for i, s := range payload.Series {
		if i >= k {
			break
		}
		results = append(results, candidateFromSeries(s))
		for j, m := range s.Markets {
			if j >= marketsPerSeriesCap {
				break
			}
			results = append(results, candidateFromMarket(m))
		}
	}
	for i, m := range payload.Markets {
		if i >= k {
			break
		}
		results = append(results, candidateFromMarket(m))
	}

	// Deduplicate by id, preserving first occurrence
	seen := make(map[string]bool)
	deduped := make([]model.Candidate, 0, len(results))
	for _, cand := range results {
		if seen[cand.ID] {
			continue
		}
		seen[cand.ID] = true
		deduped = append(deduped, cand)
		if len(deduped) >= k {
			break
		}
	}

	return deduped, nil
}

func candidateFromSeries(s seriesPayload) model.Candidate {
	sid := firstNonEmpty(s.ID, s.SeriesID, s.Ticker, s.Slug)
	return model.Candidate{
		ID:          "series:" + sid,
		Type:        model.CandidateSeries,
		Title:       firstNonEmpty(s.Title, s.Name, sid),
		Description: s.Description,
		URL:         firstNonEmpty(s.URL, s.Permalink),
	}
}

func candidateFromMarket(m marketPayload) model.Candidate {
	mid := firstNonEmpty(m.ID, m.MarketID, m.Ticker, m.Slug)
	return model.Candidate{
		ID:          "market:" + mid,
		Type:        model.CandidateMarket,
		Title:       firstNonEmpty(m.Title, m.Name, mid),
		Description: m.Description,
		URL:         firstNonEmpty(m.URL, m.Permalink),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
