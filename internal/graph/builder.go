package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/doxa-graph/doxa/internal/embed"
	"github.com/doxa-graph/doxa/internal/model"
)

const (
	defaultVerifyWorkers = 8
	defaultSearchWorkers = 8

	// Only the top search result is attached, from a capped query
	marketSearchLimit = 3
	marketRelevance   = 0.8
)

// SetGenerator produces derivative claim sets for a worldview
type SetGenerator interface {
	GenerateSets(ctx context.Context, worldview string, numSets int) ([][]string, error)
}

// Verifier assesses the plausibility of a single claim
type Verifier interface {
	Verify(ctx context.Context, claim string) (*model.Verification, error)
}

// MarketSearcher finds prediction-market candidates for a query
type MarketSearcher interface {
	Search(ctx context.Context, query string, k int) ([]model.Candidate, error)
}

// hookVerifier is an optional upgrade a Verifier may implement to
// surface per-search progress while verifying a claim.
type hookVerifier interface {
	VerifyWithHooks(ctx context.Context, claim string, onQuery func(query string), onSource func(src model.EvidenceSource)) (*model.Verification, error)
}

// Options are the tunable parameters of one build
type Options struct {
	K                 int     // Market results per search
	NumDerivativeSets int     // Clamped to [3,5] by the generator
	MaxClaims         int     // Survivors after dedupe
	Threshold         float64 // Minimum similarity for similar_to edges
	VerifyWorkers     int
	SearchWorkers     int
}

func (o *Options) defaults() {
	if o.VerifyWorkers <= 0 {
		o.VerifyWorkers = defaultVerifyWorkers
	}
	if o.SearchWorkers <= 0 {
		o.SearchWorkers = defaultSearchWorkers
	}
	if o.NumDerivativeSets <= 0 {
		o.NumDerivativeSets = 4
	}
	if o.MaxClaims <= 0 {
		o.MaxClaims = 40
	}
}

// Builder runs the worldview claim-graph pipeline. A Builder is
// single-use: construct one per build.
//
// The pipeline proceeds stage by stage with a full join between
// stages; inside a stage each node is owned by exactly one goroutine,
// and nodes/edges are appended only by the stage coordinator, so no
// node-level locking is needed.
type Builder struct {
	embedder  embed.Embedder
	generator SetGenerator
	verifier  Verifier
	markets   MarketSearcher
	sink      Sink
	logger    *zap.Logger

	nodeMap map[string]*model.ClaimNode
	edges   []model.ClaimEdge
}

// NewBuilder creates a builder. sink and logger may be nil.
func NewBuilder(embedder embed.Embedder, generator SetGenerator, verifier Verifier, markets MarketSearcher, sink Sink, logger *zap.Logger) *Builder {
	if sink == nil {
		sink = NewLog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Builder{
		embedder:  embedder,
		generator: generator,
		verifier:  verifier,
		markets:   markets,
		sink:      sink,
		logger:    logger,
		nodeMap:   make(map[string]*model.ClaimNode),
	}
}

// BuildFromWorldview builds the complete claim graph. Fatal failures
// abort the build and return only an error; no partial graph is
// delivered. The final node list is [root] + surviving derivatives.
func (b *Builder) BuildFromWorldview(ctx context.Context, worldview string, opts Options) (*model.ClaimGraph, error) {
	opts.defaults()

	rootID := b.addRoot(worldview)

	sets, err := b.generator.GenerateSets(ctx, worldview, opts.NumDerivativeSets)
	if err != nil {
		return nil, err
	}

	var derivatives []string
	for _, set := range sets {
		derivatives = append(derivatives, set...)
	}

	nodes, err := b.createDerivativeNodes(ctx, worldview, derivatives, rootID)
	if err != nil {
		return nil, err
	}

	b.verifyAll(ctx, nodes, opts.VerifyWorkers)

	merged := mergeDedupe(nodes, opts.MaxClaims)

	b.attachMarkets(ctx, merged, opts.SearchWorkers)

	if err := b.buildSimilarityEdges(ctx, merged, opts.Threshold); err != nil {
		return nil, err
	}

	finalNodes := make([]*model.ClaimNode, 0, len(merged)+1)
	finalNodes = append(finalNodes, b.nodeMap[rootID])
	finalNodes = append(finalNodes, merged...)

	return &model.ClaimGraph{
		Nodes:  finalNodes,
		Edges:  b.edges,
		CoreID: rootID,
	}, nil
}

// newClaimID mints a node id: "claim-" + 12 hex chars
func newClaimID() string {
	return "claim-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// addRoot creates the root node. The root is axiomatically true: it is
// never verified, and its similarity to itself is 1.
func (b *Builder) addRoot(worldview string) string {
	root := &model.ClaimNode{
		ID:         newClaimID(),
		Label:      worldview,
		Status:     model.StatusVerified,
		Sources:    []model.ClaimSource{},
		Similarity: 1.0,
		Hop:        0,
	}
	b.nodeMap[root.ID] = root
	b.sink.Emit(EventClaimGenerated, NodePayload{Node: root})
	return root.ID
}

// createDerivativeNodes embeds the worldview once and every derivative
// in parallel, then creates one node and one root edge per derivative
// in input order. Embedding failures here are fatal.
func (b *Builder) createDerivativeNodes(ctx context.Context, worldview string, derivatives []string, rootID string) ([]*model.ClaimNode, error) {
	worldviewVec, err := b.embedder.Embed(ctx, worldview)
	if err != nil {
		return nil, &model.UpstreamError{Op: "embed worldview", Err: err}
	}

	vecs := make([][]float64, len(derivatives))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultSearchWorkers)
	for i, d := range derivatives {
		i, d := i, d
		g.Go(func() error {
			vec, err := b.embedder.Embed(gctx, d)
			if err != nil {
				return &model.UpstreamError{Op: fmt.Sprintf("embed derivative %d", i), Err: err}
			}
			vecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	nodes := make([]*model.ClaimNode, 0, len(derivatives))
	for i, claim := range derivatives {
		similarity, err := embed.Cosine(worldviewVec, vecs[i])
		if err != nil {
			return nil, &model.StructuralError{Msg: err.Error()}
		}

		node := &model.ClaimNode{
			ID:         newClaimID(),
			Label:      claim,
			Status:     model.StatusGenerated,
			Sources:    []model.ClaimSource{},
			Similarity: similarity,
			Hop:        1, // All derivatives are one hop from root
		}
		nodes = append(nodes, node)
		b.nodeMap[node.ID] = node
		b.sink.Emit(EventClaimGenerated, NodePayload{Node: node})

		b.edges = append(b.edges, model.ClaimEdge{
			Source: rootID,
			Target: node.ID,
			Type:   model.EdgeDerivesFrom,
			Weight: similarity,
		})
	}

	return nodes, nil
}

// verifyAll verifies every node, at most workers at a time. Per-node
// failure is local: the node is marked failed and the batch continues.
// The stage returns only once every node is verified or failed.
func (b *Builder) verifyAll(ctx context.Context, nodes []*model.ClaimNode, workers int) {
	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, node := range nodes {
		wg.Add(1)
		go func(n *model.ClaimNode) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := n.Transition(model.StatusVerifying); err != nil {
				b.logger.Warn("skipping verification", zap.String("node", n.ID), zap.Error(err))
				return
			}
			b.sink.Emit(EventClaimVerifying, VerifyingPayload{NodeID: n.ID, Label: n.Label})

			verification, err := b.verifyNode(ctx, n)
			if err != nil {
				_ = n.Transition(model.StatusFailed)
				b.logger.Warn("verification failed", zap.String("node", n.ID), zap.Error(err))
				b.sink.Emit(EventClaimVerified, VerifiedPayload{NodeID: n.ID, Error: err.Error()})
				return
			}

			n.Sources = append(n.Sources, model.ClaimSource{Verification: verification})
			_ = n.Transition(model.StatusVerified)
			b.sink.Emit(EventClaimVerified, VerifiedPayload{NodeID: n.ID, Verification: verification})
		}(node)
	}

	wg.Wait()
}

// verifyNode runs the verifier for one node, streaming search progress
// into the event trace when the verifier supports it.
func (b *Builder) verifyNode(ctx context.Context, n *model.ClaimNode) (*model.Verification, error) {
	hv, ok := b.verifier.(hookVerifier)
	if !ok {
		return b.verifier.Verify(ctx, n.Label)
	}

	return hv.VerifyWithHooks(ctx, n.Label,
		func(query string) {
			b.sink.Emit(EventVerificationQuery, QueryPayload{NodeID: n.ID, Query: query})
		},
		func(src model.EvidenceSource) {
			b.sink.Emit(EventVerificationSourceFound, EvidencePayload{NodeID: n.ID, Source: src})
		})
}

// attachMarkets searches for a market reference per node, at most
// workers at a time. The top result is merged into the canonical
// source slot, preserving any verification already there. Search
// failures and empty results are no-ops.
func (b *Builder) attachMarkets(ctx context.Context, nodes []*model.ClaimNode, workers int) {
	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, node := range nodes {
		wg.Add(1)
		go func(n *model.ClaimNode) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			candidates, err := b.markets.Search(ctx, n.Label, marketSearchLimit)
			if err != nil {
				b.logger.Warn("market search failed", zap.String("node", n.ID), zap.Error(err))
				return
			}
			if len(candidates) == 0 {
				return
			}

			top := candidates[0]
			market := &model.Market{
				ID:        top.ID,
				Title:     top.Title,
				URL:       top.URL,
				Relevance: marketRelevance,
			}

			// Read-modify-replace of slot 0, not an append
			if len(n.Sources) > 0 {
				n.Sources[0] = model.ClaimSource{
					Verification: n.Sources[0].Verification,
					Market:       market,
				}
			} else {
				n.Sources = append(n.Sources, model.ClaimSource{Market: market})
			}

			b.sink.Emit(EventSourcesFound, SourcesPayload{NodeID: n.ID, Market: market})
		}(node)
	}

	wg.Wait()
}

// buildSimilarityEdges embeds every surviving label and connects each
// unordered pair whose similarity meets the threshold (inclusive).
// Emits no events.
func (b *Builder) buildSimilarityEdges(ctx context.Context, nodes []*model.ClaimNode, threshold float64) error {
	vecs := make([][]float64, len(nodes))
	for i, node := range nodes {
		vec, err := b.embedder.Embed(ctx, node.Label)
		if err != nil {
			return &model.UpstreamError{Op: "embed claim label", Err: err}
		}
		vecs[i] = vec
	}

	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			similarity, err := embed.Cosine(vecs[i], vecs[j])
			if err != nil {
				return &model.StructuralError{Msg: err.Error()}
			}
			if similarity >= threshold {
				b.edges = append(b.edges, model.ClaimEdge{
					Source: nodes[i].ID,
					Target: nodes[j].ID,
					Type:   model.EdgeSimilarTo,
					Weight: similarity,
				})
			}
		}
	}

	return nil
}
