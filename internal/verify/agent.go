package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/doxa-graph/doxa/internal/model"
	"github.com/doxa-graph/doxa/internal/search"
)

const verificationSystemPrompt = `You are a rigorous fact-checker with access to web search.

Your task is to verify the plausibility of claims using evidence from the internet.

When given a claim:
1. Use the search_web tool to find relevant evidence
2. You may search multiple times with different queries if needed
3. Evaluate the evidence to determine if the claim is plausible
4. Provide a confidence score (0-1) based on the strength of evidence
5. Write a brief rationale (2-3 sentences) explaining your assessment

Confidence scoring:
- 0.8-1.0: Strong evidence supports the claim
- 0.6-0.8: Moderate evidence, claim is plausible
- 0.4-0.6: Mixed or weak evidence
- 0.2-0.4: Evidence suggests claim is unlikely
- 0.0-0.2: Strong evidence against the claim

Be objective and cite specific sources in your rationale.`

const (
	maxToolIterations = 5 // Prevent unbounded search loops
	maxEvidence       = 10
	verifyMaxRetries  = 2
)

// verifySleepFunc is the sleep function used between retries (injectable for tests)
var verifySleepFunc = time.Sleep

// Agent verifies claims with an LLM that can call a web-search tool
type Agent struct {
	client   *openai.Client
	model    string
	searcher search.Searcher
}

// NewAgent creates a verification agent. Model defaults to gpt-4o.
func NewAgent(apiKey, chatModel string, searcher search.Searcher) (*Agent, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("evidence searcher is required")
	}
	if chatModel == "" {
		chatModel = "gpt-4o"
	}

	return &Agent{
		client:   openai.NewClient(apiKey),
		model:    chatModel,
		searcher: searcher,
	}, nil
}

// Verify assesses one claim and returns the agent's verdict
func (a *Agent) Verify(ctx context.Context, claim string) (*model.Verification, error) {
	return a.VerifyWithHooks(ctx, claim, nil, nil)
}

// VerifyWithHooks is Verify with optional progress callbacks: onQuery
// fires before each search the agent issues, onSource for each
// evidence source found. Either may be nil.
func (a *Agent) VerifyWithHooks(ctx context.Context, claim string, onQuery func(query string), onSource func(src model.EvidenceSource)) (*model.Verification, error) {
	var lastErr error
	for attempt := 0; attempt < verifyMaxRetries; attempt++ {
		verification, err := a.verify(ctx, claim, onQuery, onSource)
		if err == nil {
			return verification, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < verifyMaxRetries-1 {
			verifySleepFunc(time.Duration(1<<uint(attempt)) * 500 * time.Millisecond)
		}
	}
	return nil, &model.UpstreamError{Op: "verify claim", Err: lastErr}
}

func searchToolDefinition() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        "search_web",
			Description: "Search the internet to find relevant articles and information about a topic. Returns articles with titles, URLs, and content snippets.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"query": {
						Type:        jsonschema.String,
						Description: "The search query to find relevant information",
					},
					"num_results": {
						Type:        jsonschema.Integer,
						Description: "Number of results to return (default 5, max 10)",
					},
				},
				Required: []string{"query"},
			},
		},
	}
}

func (a *Agent) verify(ctx context.Context, claim string, onQuery func(string), onSource func(model.EvidenceSource)) (*model.Verification, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: verificationSystemPrompt},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("Please verify this claim and provide your assessment:\n\n%s", claim),
		},
	}
	tools := []openai.Tool{searchToolDefinition()}

	var allEvidence []model.EvidenceSource

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       a.model,
			Messages:    messages,
			Tools:       tools,
			Temperature: 0.2,
		})
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("no response from model")
		}

		assistant := resp.Choices[0].Message
		messages = append(messages, assistant)

		if len(assistant.ToolCalls) == 0 {
			// The model is done reasoning
			break
		}

		for _, call := range assistant.ToolCalls {
			if call.Function.Name != "search_web" {
				continue
			}

			var args struct {
				Query      string `json:"query"`
				NumResults int    `json:"num_results"`
			}
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("parse tool arguments: %w", err)
			}
			if args.NumResults <= 0 {
				args.NumResults = 5
			}

			if onQuery != nil {
				onQuery(args.Query)
			}

			var content string
			sources, err := a.searcher.Search(ctx, args.Query, args.NumResults)
			if err != nil {
				content = fmt.Sprintf("Search failed: %v", err)
			} else {
				content = formatSources(sources)
				allEvidence = append(allEvidence, sources...)
				if onSource != nil {
					for _, src := range sources {
						onSource(src)
					}
				}
			}

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: call.ID,
			})
		}
	}

	verification, err := a.finalAssessment(ctx, messages)
	if err != nil {
		return nil, err
	}

	if len(allEvidence) > maxEvidence {
		allEvidence = allEvidence[:maxEvidence]
	}
	verification.Evidence = allEvidence

	return verification, nil
}

// finalAssessment asks the model for a structured verdict over the
// accumulated search transcript.
func (a *Agent) finalAssessment(ctx context.Context, messages []openai.ChatCompletionMessage) (*model.Verification, error) {
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: `Based on your search results and analysis, provide your final verification assessment as JSON: {"confidence": <0..1>, "rationale": "<2-3 sentences>"}`,
	})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("final assessment: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	var parsed struct {
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("parse verification response: %w", err)
	}

	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}

	return &model.Verification{
		Confidence: parsed.Confidence,
		Rationale:  strings.TrimSpace(parsed.Rationale),
	}, nil
}

// formatSources renders search results for the model's tool transcript
func formatSources(sources []model.EvidenceSource) string {
	if len(sources) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&sb, "%d. %s\n   URL: %s\n   Snippet: %s\n", i+1, src.Title, src.URL, src.Snippet)
	}
	return sb.String()
}
