package graph

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/doxa-graph/doxa/internal/embed"
	"github.com/doxa-graph/doxa/internal/model"
)

// BuildCandidateGraph builds a market-candidate graph around a
// worldview: each candidate becomes a node scored by similarity to the
// worldview, pairs above threshold become undirected edges, and BFS
// from the most similar node ("core") assigns hop distances. Nodes
// unreachable from the core or beyond maxHops are dropped, along with
// any edge losing an endpoint.
//
// Candidates must already be deduplicated by id. A candidate whose
// embedding fails is skipped; zero valid nodes is fatal.
func BuildCandidateGraph(ctx context.Context, embedder embed.Embedder, logger *zap.Logger, worldview string, maxHops int, threshold float64, candidates []model.Candidate) (*model.Graph, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(candidates) == 0 {
		return nil, &model.StructuralError{Msg: "no candidates to build graph from"}
	}

	worldviewVec, err := embedder.Embed(ctx, worldview)
	if err != nil {
		return nil, &model.UpstreamError{Op: "embed worldview", Err: err}
	}

	// Embed all candidates in parallel; individual failures skip the
	// candidate rather than aborting.
	vecs := make([][]float64, len(candidates))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, defaultSearchWorkers)
	for i, c := range candidates {
		wg.Add(1)
		go func(idx int, cand model.Candidate) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			vec, err := embedder.Embed(ctx, cand.EmbedText())
			if err != nil {
				logger.Warn("candidate embedding failed", zap.String("candidate", cand.ID), zap.Error(err))
				return
			}
			vecs[idx] = vec
		}(i, c)
	}
	wg.Wait()

	var nodes []model.GraphNode
	idToVec := make(map[string][]float64)
	for i, c := range candidates {
		if vecs[i] == nil {
			continue
		}
		sim, err := embed.Cosine(worldviewVec, vecs[i])
		if err != nil {
			return nil, &model.StructuralError{Msg: err.Error()}
		}
		idToVec[c.ID] = vecs[i]
		nodes = append(nodes, model.GraphNode{
			ID:         c.ID,
			Label:      c.Title,
			URL:        c.URL,
			Type:       c.Type,
			Similarity: sim,
			Hop:        model.HopUnassigned,
		})
	}
	if len(nodes) == 0 {
		return nil, &model.StructuralError{Msg: "no valid nodes found from market results"}
	}

	// Core node: argmax similarity, first occurrence wins ties
	coreID := nodes[0].ID
	best := nodes[0].Similarity
	for _, n := range nodes[1:] {
		if n.Similarity > best {
			best = n.Similarity
			coreID = n.ID
		}
	}

	// All-pairs similarity edges over the same embeddings
	var edges []model.GraphEdge
	for i := 0; i < len(nodes); i++ {
		vi := idToVec[nodes[i].ID]
		for j := i + 1; j < len(nodes); j++ {
			w, err := embed.Cosine(vi, idToVec[nodes[j].ID])
			if err != nil {
				return nil, &model.StructuralError{Msg: err.Error()}
			}
			if w >= threshold {
				edges = append(edges, model.GraphEdge{
					Source: nodes[i].ID,
					Target: nodes[j].ID,
					Weight: w,
				})
			}
		}
	}

	// Undirected adjacency for BFS
	adjacency := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		adjacency[n.ID] = nil
	}
	for _, e := range edges {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		adjacency[e.Target] = append(adjacency[e.Target], e.Source)
	}

	// BFS from the core: first-discovery distance is final
	hops := make(map[string]int, len(nodes))
	for id := range adjacency {
		hops[id] = model.HopUnassigned
	}
	hops[coreID] = 0
	queue := []string{coreID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if hops[next] == model.HopUnassigned {
				hops[next] = hops[cur] + 1
				queue = append(queue, next)
			}
		}
	}

	// Drop unreachable nodes and those beyond maxHops
	kept := make(map[string]bool)
	var filteredNodes []model.GraphNode
	for _, n := range nodes {
		hop := hops[n.ID]
		if hop == model.HopUnassigned || hop > maxHops {
			continue
		}
		n.Hop = hop
		kept[n.ID] = true
		filteredNodes = append(filteredNodes, n)
	}

	var filteredEdges []model.GraphEdge
	for _, e := range edges {
		if kept[e.Source] && kept[e.Target] {
			filteredEdges = append(filteredEdges, e)
		}
	}

	return &model.Graph{
		Nodes:  filteredNodes,
		Edges:  filteredEdges,
		CoreID: coreID,
	}, nil
}
