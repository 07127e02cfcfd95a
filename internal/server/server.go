package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/doxa-graph/doxa/internal/embed"
	"github.com/doxa-graph/doxa/internal/graph"
	"github.com/doxa-graph/doxa/internal/model"
	"github.com/doxa-graph/doxa/internal/worker"
)

// Suggester classifies graph nodes into directional suggestions
type Suggester interface {
	Classify(ctx context.Context, worldview string, nodes []model.GraphNode) ([]model.Suggestion, error)
}

// Deps are the collaborators the server wires into each build
type Deps struct {
	Embedder  embed.Embedder
	Generator graph.SetGenerator
	Verifier  graph.Verifier
	Markets   graph.MarketSearcher
	Suggester Suggester
}

// Server exposes the graph builders over HTTP
type Server struct {
	cfg    *model.Config
	deps   Deps
	logger *zap.Logger
	router *gin.Engine
}

// New creates a server with routes registered
func New(cfg *model.Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.POST("/graph", s.handleGraph)
	router.POST("/graph/stream", s.handleGraphStream)

	s.router = router
	return s
}

// Router returns the underlying gin engine (exposed for tests)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the listener fails
func (s *Server) Run() error {
	s.logger.Info("starting server", zap.String("addr", s.cfg.Server.Addr))
	return s.router.Run(s.cfg.Server.Addr)
}

// GraphRequest is the body of both /graph endpoints. Zero-valued
// optional fields fall back to configured defaults; MaxHops and
// Threshold are pointers so an explicit 0 survives binding.
type GraphRequest struct {
	Worldview string   `json:"worldview" binding:"required"`
	K         int      `json:"k"`
	MaxHops   *int     `json:"maxHops"`
	Threshold *float64 `json:"threshold"`
	TopN      int      `json:"topN"`
}

// GraphResponse is the non-streaming /graph reply
type GraphResponse struct {
	Graph       *model.Graph       `json:"graph"`
	Suggestions []model.Suggestion `json:"suggestions"`
	Debug       map[string]any     `json:"debug,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// normalize validates the request and applies configured defaults.
// Returns a non-empty message on invalid input.
func (s *Server) normalize(req *GraphRequest) string {
	req.Worldview = strings.TrimSpace(req.Worldview)
	if len(req.Worldview) < 4 || len(req.Worldview) > 2000 {
		return "worldview must be 4-2000 characters"
	}

	if req.K == 0 {
		req.K = s.cfg.Graph.K
	}
	if req.K < 1 || req.K > 1000 {
		return "k must be in [1,1000]"
	}

	if req.MaxHops == nil {
		req.MaxHops = &s.cfg.Graph.MaxHops
	}
	if *req.MaxHops < 0 || *req.MaxHops > 6 {
		return "maxHops must be in [0,6]"
	}

	if req.Threshold == nil {
		req.Threshold = &s.cfg.Graph.Threshold
	}
	if *req.Threshold < 0 || *req.Threshold > 1 {
		return "threshold must be in [0,1]"
	}

	if req.TopN == 0 {
		req.TopN = s.cfg.Graph.TopN
	}
	if req.TopN < 1 || req.TopN > 100 {
		return "topN must be in [1,100]"
	}

	return ""
}

// searchJob fans one market search out through the worker pool
type searchJob struct {
	query    string
	k        int
	searcher graph.MarketSearcher
}

type searchResult struct {
	candidates []model.Candidate
	err        error
}

func (r *searchResult) GetError() error { return r.err }

func (j *searchJob) Execute(ctx context.Context) worker.Result {
	candidates, err := j.searcher.Search(ctx, j.query, j.k)
	if err != nil {
		// Per-query failure yields no candidates, never aborts the batch
		return &searchResult{err: err}
	}
	return &searchResult{candidates: candidates}
}

// handleGraph is the non-streaming path: derivatives -> market search
// fan-out -> BFS candidate graph -> suggestions.
func (s *Server) handleGraph(c *gin.Context) {
	var req GraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := s.normalize(&req); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	ctx := c.Request.Context()

	sets, err := s.deps.Generator.GenerateSets(ctx, req.Worldview, s.cfg.Graph.NumDerivativeSets)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate derivatives: " + err.Error()})
		return
	}

	derivatives := flattenUnique(sets)

	// Bounded fan-out: one market search per derivative
	pool := worker.NewPool(s.cfg.Concurrency.SearchWorkers)
	pool.Start()
	for _, d := range derivatives {
		pool.Submit(&searchJob{query: d, k: req.K, searcher: s.deps.Markets})
	}

	candidateMap := make(map[string]model.Candidate)
	var order []string
	for _, result := range pool.Wait() {
		sr := result.(*searchResult)
		if sr.err != nil {
			s.logger.Warn("market search failed", zap.Error(sr.err))
			continue
		}
		for _, cand := range sr.candidates {
			if _, ok := candidateMap[cand.ID]; !ok {
				candidateMap[cand.ID] = cand
				order = append(order, cand.ID)
			}
		}
	}

	if len(candidateMap) == 0 {
		c.JSON(http.StatusBadGateway, gin.H{"error": "no market candidates found for the provided worldview"})
		return
	}

	candidates := make([]model.Candidate, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, candidateMap[id])
	}

	g, err := graph.BuildCandidateGraph(ctx, s.deps.Embedder, s.logger, req.Worldview, *req.MaxHops, *req.Threshold, candidates)
	if err != nil {
		status := http.StatusInternalServerError
		var structural *model.StructuralError
		if errors.As(err, &structural) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": "failed to build graph: " + err.Error()})
		return
	}

	suggestions, err := s.classifyTop(ctx, req.Worldview, g, req.TopN)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to classify suggestions: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, GraphResponse{
		Graph:       g,
		Suggestions: suggestions,
		Debug:       map[string]any{"derivatives": derivatives},
	})
}

// classifyTop runs the suggester over the topN nodes ordered by
// (hop asc, similarity desc) and resolves suggestion URLs from the
// graph; suggestions for URL-less nodes are dropped.
func (s *Server) classifyTop(ctx context.Context, worldview string, g *model.Graph, topN int) ([]model.Suggestion, error) {
	nodes := make([]model.GraphNode, len(g.Nodes))
	copy(nodes, g.Nodes)
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Hop != nodes[j].Hop {
			return nodes[i].Hop < nodes[j].Hop
		}
		return nodes[i].Similarity > nodes[j].Similarity
	})
	if len(nodes) > topN {
		nodes = nodes[:topN]
	}

	raw, err := s.deps.Suggester.Classify(ctx, worldview, nodes)
	if err != nil {
		return nil, err
	}

	urls := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.URL != "" {
			urls[n.ID] = n.URL
		}
	}

	suggestions := make([]model.Suggestion, 0, len(raw))
	for _, sg := range raw {
		url, ok := urls[sg.NodeID]
		if !ok {
			continue
		}
		sg.URL = url
		suggestions = append(suggestions, sg)
	}

	return suggestions, nil
}

// handleGraphStream builds the claim graph and replays its event
// trace as SSE. The trace is buffered during the build and delivered
// in order once the build finishes, terminated by graph_complete (or
// a single error event on fatal failure).
func (s *Server) handleGraphStream(c *gin.Context) {
	var req GraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := s.normalize(&req); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering

	log := graph.NewLog()
	builder := graph.NewBuilder(s.deps.Embedder, s.deps.Generator, s.deps.Verifier, s.deps.Markets, log, s.logger)

	claimGraph, err := builder.BuildFromWorldview(c.Request.Context(), req.Worldview, graph.Options{
		K:                 req.K,
		NumDerivativeSets: s.cfg.Graph.NumDerivativeSets,
		MaxClaims:         req.TopN,
		Threshold:         *req.Threshold,
		VerifyWorkers:     s.cfg.Concurrency.VerifyWorkers,
		SearchWorkers:     s.cfg.Concurrency.SearchWorkers,
	})
	if err != nil {
		s.logger.Error("claim graph build failed", zap.Error(err))
		c.SSEvent(string(graph.EventError), graph.ErrorPayload{Error: err.Error()})
		c.Writer.Flush()
		return
	}

	for _, ev := range log.Events() {
		c.SSEvent(string(ev.Type), ev.Data)
	}
	c.SSEvent(string(graph.EventGraphComplete), claimGraph)
	c.Writer.Flush()
}

// flattenUnique flattens derivative sets into one list, dropping
// case-insensitive duplicates across sets.
func flattenUnique(sets [][]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, d := range set {
			key := strings.ToLower(d)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, d)
		}
	}
	return out
}
