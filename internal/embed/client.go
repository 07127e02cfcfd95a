package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/doxa-graph/doxa/internal/cache"
)

const embedMaxRetries = 3

// embedSleepFunc is the sleep function used between retries (injectable for tests)
var embedSleepFunc = time.Sleep

// Embedder computes a semantic embedding for a piece of text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Client is an OpenAI-backed Embedder. Embeddings are memoized per
// distinct text, so repeated labels within one build cost one API call.
type Client struct {
	client *openai.Client
	model  openai.EmbeddingModel
	memo   cache.Cache
}

// NewClient creates an embedding client. Model defaults to
// text-embedding-3-large when empty.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = string(openai.LargeEmbedding3)
	}

	return &Client{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(model),
		memo:   cache.NewMemoryCache(30*time.Minute, 10*time.Minute),
	}, nil
}

// Embed returns the embedding vector for text, retrying transient
// API failures with exponential backoff.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	cleaned := strings.Join(strings.Fields(text), " ")
	key := cache.Key(cleaned)

	if raw, ok := c.memo.Get(key); ok {
		var vec []float64
		if err := json.Unmarshal(raw, &vec); err == nil {
			return vec, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		vec, err := c.embedOnce(ctx, cleaned)
		if err == nil {
			if raw, merr := json.Marshal(vec); merr == nil {
				_ = c.memo.Set(key, raw, 30*time.Minute)
			}
			return vec, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < embedMaxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
			embedSleepFunc(backoff)
		}
	}

	return nil, fmt.Errorf("embed %q: %w", truncate(cleaned, 60), lastErr)
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: c.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float64, len(raw))
	for i, v := range raw {
		vec[i] = float64(v)
	}
	return vec, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
