package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/doxa-graph/doxa/internal/model"
)

const suggestionInstructions = `You are a careful, neutral financial analyst.
Given a worldview and a market title, classify the directional alignment:
- YES: If the worldview implies the market is more likely to resolve YES
- NO: If the worldview implies the market is less likely to resolve YES
- SKIP: If unclear, ambiguous, or unrelated

Return strict JSON with:
{
  "suggestions": [
    { "nodeId": "<id>", "action": "YES|NO|SKIP", "confidence": <0..1>, "rationale": "<short>" }
  ]
}`

const (
	suggestMaxRetries  = 2
	maxRationaleLength = 500
)

// suggestSleepFunc is the sleep function used between retries (injectable for tests)
var suggestSleepFunc = time.Sleep

// Client classifies graph nodes into directional suggestions
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a suggestion client. Model defaults to gpt-4.1-mini.
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

type marketItem struct {
	NodeID     string  `json:"nodeId"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

type suggestPayload struct {
	Worldview string       `json:"worldview"`
	Markets   []marketItem `json:"markets"`
}

type rawSuggestion struct {
	NodeID     string  `json:"nodeId"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Classify returns a directional call per node. Suggestion URLs are
// left empty; the caller fills them from its node index and drops
// suggestions it cannot resolve.
func (c *Client) Classify(ctx context.Context, worldview string, nodes []model.GraphNode) ([]model.Suggestion, error) {
	items := make([]marketItem, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, marketItem{
			NodeID:     n.ID,
			Title:      n.Label,
			Similarity: n.Similarity,
		})
	}

	payload, err := json.Marshal(suggestPayload{Worldview: worldview, Markets: items})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < suggestMaxRetries; attempt++ {
		suggestions, err := c.classifyOnce(ctx, string(payload))
		if err == nil {
			return suggestions, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < suggestMaxRetries-1 {
			suggestSleepFunc(time.Duration(1<<uint(attempt)) * 500 * time.Millisecond)
		}
	}

	return nil, &model.UpstreamError{Op: "classify suggestions", Err: lastErr}
}

func (c *Client) classifyOnce(ctx context.Context, payload string) ([]model.Suggestion, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: suggestionInstructions},
			{Role: openai.ChatMessageRoleUser, Content: payload},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	return parseSuggestions(resp.Choices[0].Message.Content)
}

// parseSuggestions validates the model's reply: unknown actions are
// dropped, rationales capped, out-of-range confidences reset to 0.5.
func parseSuggestions(content string) ([]model.Suggestion, error) {
	var parsed struct {
		Suggestions []rawSuggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("parse suggestions: %w", err)
	}

	out := make([]model.Suggestion, 0, len(parsed.Suggestions))
	for _, r := range parsed.Suggestions {
		action := model.SuggestionAction(strings.ToUpper(strings.TrimSpace(r.Action)))
		switch action {
		case model.ActionYes, model.ActionNo, model.ActionSkip:
		default:
			continue
		}

		rationale := strings.TrimSpace(r.Rationale)
		if len(rationale) > maxRationaleLength {
			rationale = rationale[:maxRationaleLength]
		}
		confidence := r.Confidence
		if confidence < 0 || confidence > 1 {
			confidence = 0.5
		}

		out = append(out, model.Suggestion{
			NodeID:     r.NodeID,
			Action:     action,
			Confidence: confidence,
			Rationale:  rationale,
		})
	}

	return out, nil
}
