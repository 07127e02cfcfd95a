package cli

import (
	"fmt"
	"time"

	"github.com/doxa-graph/doxa/internal/derivatives"
	"github.com/doxa-graph/doxa/internal/embed"
	"github.com/doxa-graph/doxa/internal/market"
	"github.com/doxa-graph/doxa/internal/model"
	"github.com/doxa-graph/doxa/internal/search"
	"github.com/doxa-graph/doxa/internal/server"
	"github.com/doxa-graph/doxa/internal/suggest"
	"github.com/doxa-graph/doxa/internal/verify"
	"github.com/doxa-graph/doxa/internal/worker"
)

// buildDeps wires the concrete collaborator clients from configuration
func buildDeps(cfg *model.Config) (server.Deps, error) {
	var deps server.Deps

	embedder, err := embed.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel)
	if err != nil {
		return deps, fmt.Errorf("embedding client: %w", err)
	}

	generator, err := derivatives.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	if err != nil {
		return deps, fmt.Errorf("derivatives client: %w", err)
	}

	limiter := worker.NewLimiter(cfg.HTTP.RequestsPerSecond, cfg.HTTP.Burst)

	fetcher := search.NewSnippetFetcher(
		cfg.HTTP.UserAgent,
		time.Duration(cfg.Exa.TimeoutSeconds)*time.Second,
		cfg.HTTP.MaxBodyBytes,
		limiter,
	)

	searcher, err := search.NewClient(
		cfg.Exa.APIKey,
		cfg.Exa.BaseURL,
		time.Duration(cfg.Exa.TimeoutSeconds)*time.Second,
		limiter,
		fetcher,
	)
	if err != nil {
		return deps, fmt.Errorf("search client: %w", err)
	}

	verifier, err := verify.NewAgent(cfg.OpenAI.APIKey, cfg.OpenAI.VerificationModel, searcher)
	if err != nil {
		return deps, fmt.Errorf("verification agent: %w", err)
	}

	markets := market.NewClient(
		cfg.Kalshi.BaseURL,
		time.Duration(cfg.Kalshi.TimeoutSeconds)*time.Second,
		limiter,
	)

	suggester, err := suggest.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	if err != nil {
		return deps, fmt.Errorf("suggestion client: %w", err)
	}

	deps = server.Deps{
		Embedder:  embedder,
		Generator: generator,
		Verifier:  verifier,
		Markets:   markets,
		Suggester: suggester,
	}
	return deps, nil
}
