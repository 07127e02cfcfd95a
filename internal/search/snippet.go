package search

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/doxa-graph/doxa/internal/util"
	"github.com/doxa-graph/doxa/internal/worker"
)

// SnippetFetcher fetches an evidence page and extracts a short text
// snippet, for search results whose API response carried no content.
// All failures degrade to an empty snippet.
type SnippetFetcher struct {
	httpClient *http.Client
	robots     *util.RobotsChecker
	limiter    *worker.Limiter
	userAgent  string
	maxBytes   int64
}

// NewSnippetFetcher creates a snippet fetcher
func NewSnippetFetcher(userAgent string, timeout time.Duration, maxBytes int64, limiter *worker.Limiter) *SnippetFetcher {
	if maxBytes <= 0 {
		maxBytes = 2 * 1024 * 1024
	}
	if limiter == nil {
		limiter = worker.NewLimiter(2.0, 5)
	}

	return &SnippetFetcher{
		httpClient: &http.Client{Timeout: timeout},
		robots:     util.NewRobotsChecker(userAgent, timeout),
		limiter:    limiter,
		userAgent:  userAgent,
		maxBytes:   maxBytes,
	}
}

// Snippet fetches the page at rawURL and returns its leading visible
// text, or "" when the page is disallowed or unreachable.
func (f *SnippetFetcher) Snippet(ctx context.Context, rawURL string) string {
	if rawURL == "" {
		return ""
	}

	allowed, err := f.robots.CanFetch(ctx, rawURL)
	if err != nil || !allowed {
		return ""
	}

	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return ""
	}

	return ExtractSnippet(string(body), maxSnippetChars)
}

// ExtractSnippet parses HTML and returns up to maxChars of visible
// text, whitespace-collapsed.
func ExtractSnippet(htmlContent string, maxChars int) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if buf.Len() > maxChars*2 {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.Join(strings.Fields(buf.String()), " ")
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return text
}
