package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doxa-graph/doxa/internal/graph"
)

var (
	buildMaxClaims int
	buildSets      int
	buildThreshold float64
	buildOutput    string
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build <worldview>",
	Short: "Build a claim graph for a worldview",
	Long: `Build a complete claim graph for a single worldview and print it
as JSON.

The worldview is expanded into derivative claims, each claim is
verified against web evidence, matching prediction markets are
attached, and claims are connected by semantic similarity.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		worldview := strings.TrimSpace(args[0])
		if len(worldview) < 4 {
			return fmt.Errorf("worldview must be at least 4 characters")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger, err := newLogger()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		deps, err := buildDeps(cfg)
		if err != nil {
			return err
		}

		maxClaims := buildMaxClaims
		if maxClaims <= 0 {
			maxClaims = cfg.Graph.MaxClaims
		}
		threshold := buildThreshold
		if threshold <= 0 {
			threshold = cfg.Graph.Threshold
		}
		numSets := buildSets
		if numSets <= 0 {
			numSets = cfg.Graph.NumDerivativeSets
		}

		log := graph.NewLog()
		builder := graph.NewBuilder(deps.Embedder, deps.Generator, deps.Verifier, deps.Markets, log, logger)

		result, err := builder.BuildFromWorldview(context.Background(), worldview, graph.Options{
			K:                 cfg.Graph.K,
			NumDerivativeSets: numSets,
			MaxClaims:         maxClaims,
			Threshold:         threshold,
			VerifyWorkers:     cfg.Concurrency.VerifyWorkers,
			SearchWorkers:     cfg.Concurrency.SearchWorkers,
		})
		if err != nil {
			return fmt.Errorf("build claim graph: %w", err)
		}

		if verbose {
			for _, ev := range log.Events() {
				fmt.Fprintf(os.Stderr, "event: %s\n", ev.Type)
			}
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal graph: %w", err)
		}

		if buildOutput != "" {
			if err := os.WriteFile(buildOutput, out, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			if verbose {
				fmt.Fprintf(os.Stderr, "✓ Wrote graph: %s\n", buildOutput)
			}
			return nil
		}

		fmt.Println(string(out))
		return nil
	},
}

func init() {
	buildCmd.Flags().IntVar(&buildMaxClaims, "max-claims", 0, "maximum claims to keep after dedupe")
	buildCmd.Flags().IntVar(&buildSets, "sets", 0, "derivative sets to generate (3-5)")
	buildCmd.Flags().Float64Var(&buildThreshold, "threshold", 0, "similarity threshold for edges")
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "write graph JSON to file instead of stdout")

	rootCmd.AddCommand(buildCmd)
}
