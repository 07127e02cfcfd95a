package derivatives

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/doxa-graph/doxa/internal/model"
)

const derivativePrompt = `You are a contrarian-but-rigorous thesis exploder.

Given ONE user belief, produce a diverse set of derivative beliefs that could be true if the core belief is true (or that would become more/less likely if it is).

Cover multiple axes: technology milestones, regulation, macro, capital flows, consumer adoption, supply chain, geopolitics, competitive dynamics, and measurable milestones.

Return 6-15 concise derivative beliefs.

Each belief must be:
- Independent and falsifiable (has a measurable claim or milestone).
- Time-bounded when possible.
- Framed in neutral language (no hype).
- Varied in granularity (firm-level, sector-level, policy-level, macro-level).

Output as a JSON object: {"derivatives": ["...", "..."]}. No commentary.

The thesis to explore is: %q`

const (
	minSetSize = 6
	maxSetSize = 15
	minSets    = 3
	maxSets    = 5

	minClaimLen = 12
	maxClaimLen = 220

	generateMaxRetries = 2
)

// generateSleepFunc is the sleep function used between retries (injectable for tests)
var generateSleepFunc = time.Sleep

// Client generates derivative claim sets from a worldview
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a derivatives client. Model defaults to gpt-4.1-mini.
func NewClient(apiKey, chatModel string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if chatModel == "" {
		chatModel = "gpt-4.1-mini"
	}

	return &Client{
		client: openai.NewClient(apiKey),
		model:  chatModel,
	}, nil
}

// GenerateSets produces numSets independent derivative sets for
// self-consistency. numSets is clamped to [3,5]. Individual set
// failures are tolerated; fewer than 2 surviving sets is fatal.
func (c *Client) GenerateSets(ctx context.Context, worldview string, numSets int) ([][]string, error) {
	if numSets < minSets {
		numSets = minSets
	}
	if numSets > maxSets {
		numSets = maxSets
	}

	sets := make([][]string, numSets)
	errs := make([]error, numSets)

	var wg sync.WaitGroup
	for i := 0; i < numSets; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			set, err := c.generateWithRetry(ctx, worldview)
			if err != nil {
				errs[idx] = err
				return
			}
			sets[idx] = set
		}(i)
	}
	wg.Wait()

	var valid [][]string
	var firstErr error
	for i, set := range sets {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		valid = append(valid, set)
	}

	if len(valid) < 2 {
		return nil, &model.ValidationError{
			Msg: fmt.Sprintf("only %d of %d derivative sets succeeded (last error: %v)", len(valid), numSets, firstErr),
		}
	}

	return valid, nil
}

func (c *Client) generateWithRetry(ctx context.Context, worldview string) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < generateMaxRetries; attempt++ {
		set, err := c.generate(ctx, worldview)
		if err == nil {
			return set, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < generateMaxRetries-1 {
			generateSleepFunc(time.Duration(1<<uint(attempt)) * 500 * time.Millisecond)
		}
	}
	return nil, lastErr
}

func (c *Client) generate(ctx context.Context, worldview string) ([]string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You ONLY reply with valid JSON. No commentary.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(derivativePrompt, strings.TrimSpace(worldview)),
			},
		},
		Temperature: 0.4,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate derivatives: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	items, err := parseArray(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return validateSet(items)
}

// parseArray accepts either a bare JSON array of strings or an object
// with a "derivatives" array.
func parseArray(content string) ([]string, error) {
	content = strings.TrimSpace(content)

	var wrapped struct {
		Derivatives []string `json:"derivatives"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil && wrapped.Derivatives != nil {
		return wrapped.Derivatives, nil
	}

	var arr []string
	if err := json.Unmarshal([]byte(content), &arr); err == nil {
		return arr, nil
	}

	return nil, fmt.Errorf("unexpected JSON format for derivatives")
}

// validateSet cleans and bounds one generated set: whitespace-normalized,
// 12-220 chars each, case-insensitive deduped, 6-15 items after cleaning.
func validateSet(items []string) ([]string, error) {
	seen := make(map[string]bool)
	var results []string

	for _, item := range items {
		s := strings.Join(strings.Fields(item), " ")
		if len(s) < minClaimLen || len(s) > maxClaimLen {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		results = append(results, s)
	}

	if len(results) < minSetSize || len(results) > maxSetSize {
		return nil, &model.ValidationError{
			Msg: fmt.Sprintf("derivative set must contain %d-%d items after validation, got %d", minSetSize, maxSetSize, len(results)),
		}
	}

	return results, nil
}
