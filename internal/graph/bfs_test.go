package graph

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/doxa-graph/doxa/internal/model"
)

// Chain fixture: worldview = x axis. A sits on the axis, B halfway
// between A and C, C orthogonal to A, D orthogonal to everything.
// At threshold 0.7 the edges are A-B and B-C (both ~0.707), so BFS
// from A yields hops A=0, B=1, C=2 and D unreachable.
func chainEmbedder() *fakeEmbedder {
	h := math.Sqrt(0.5)
	return &fakeEmbedder{vecs: map[string][]float64{
		"markets are efficient": {1, 0, 0},
		"Candidate A":           {1, 0, 0},
		"Candidate B":           {h, h, 0},
		"Candidate C":           {0, 1, 0},
		"Candidate D":           {0, 0, 1},
	}}
}

func chainCandidates() []model.Candidate {
	return []model.Candidate{
		{ID: "market:a", Type: model.CandidateMarket, Title: "Candidate A", URL: "https://example.com/a"},
		{ID: "market:b", Type: model.CandidateMarket, Title: "Candidate B"},
		{ID: "series:c", Type: model.CandidateSeries, Title: "Candidate C"},
		{ID: "market:d", Type: model.CandidateMarket, Title: "Candidate D"},
	}
}

func TestBuildCandidateGraph_EmptyCandidates(t *testing.T) {
	_, err := BuildCandidateGraph(context.Background(), chainEmbedder(), nil, "markets are efficient", 3, 0.7, nil)
	if err == nil {
		t.Fatal("Expected an error for empty candidates")
	}
	var serr *model.StructuralError
	if !errors.As(err, &serr) {
		t.Errorf("Expected a structural error, got %T", err)
	}
}

func TestBuildCandidateGraph_HopsAndReachability(t *testing.T) {
	g, err := BuildCandidateGraph(context.Background(), chainEmbedder(), nil, "markets are efficient", 3, 0.7, chainCandidates())
	if err != nil {
		t.Fatalf("Expected build to succeed, got %v", err)
	}

	if g.CoreID != "market:a" {
		t.Errorf("Expected the most similar candidate as core, got %s", g.CoreID)
	}

	hops := make(map[string]int)
	for _, n := range g.Nodes {
		hops[n.ID] = n.Hop
	}
	want := map[string]int{"market:a": 0, "market:b": 1, "series:c": 2}
	if len(hops) != len(want) {
		t.Fatalf("Expected 3 reachable nodes, got %d", len(hops))
	}
	for id, hop := range want {
		if hops[id] != hop {
			t.Errorf("Expected %s at hop %d, got %d", id, hop, hops[id])
		}
	}
	if _, ok := hops["market:d"]; ok {
		t.Error("Expected the unreachable candidate to be dropped")
	}

	if len(g.Edges) != 2 {
		t.Fatalf("Expected 2 edges, got %d", len(g.Edges))
	}
}

func TestBuildCandidateGraph_MaxHopsFilter(t *testing.T) {
	g, err := BuildCandidateGraph(context.Background(), chainEmbedder(), nil, "markets are efficient", 1, 0.7, chainCandidates())
	if err != nil {
		t.Fatalf("Expected build to succeed, got %v", err)
	}

	ids := make(map[string]bool)
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}
	if len(ids) != 2 || !ids["market:a"] || !ids["market:b"] {
		t.Errorf("Expected only the core and its neighbor within 1 hop, got %v", ids)
	}

	// The B-C edge loses an endpoint and must go with it
	if len(g.Edges) != 1 {
		t.Fatalf("Expected 1 surviving edge, got %d", len(g.Edges))
	}
	e := g.Edges[0]
	if !ids[e.Source] || !ids[e.Target] {
		t.Error("Expected surviving edges to keep both endpoints")
	}
}

func TestBuildCandidateGraph_MaxHopsZeroKeepsOnlyCore(t *testing.T) {
	g, err := BuildCandidateGraph(context.Background(), chainEmbedder(), nil, "markets are efficient", 0, 0.7, chainCandidates())
	if err != nil {
		t.Fatalf("Expected build to succeed, got %v", err)
	}
	if len(g.Nodes) != 1 || g.Nodes[0].ID != g.CoreID {
		t.Fatalf("Expected only the core at maxHops 0, got %d nodes", len(g.Nodes))
	}
	if len(g.Edges) != 0 {
		t.Errorf("Expected no edges at maxHops 0, got %d", len(g.Edges))
	}
}

func TestBuildCandidateGraph_EmbedFailureSkipsCandidate(t *testing.T) {
	cands := append(chainCandidates(), model.Candidate{
		ID: "market:x", Type: model.CandidateMarket, Title: "No embedding here",
	})

	g, err := BuildCandidateGraph(context.Background(), chainEmbedder(), nil, "markets are efficient", 3, 0.7, cands)
	if err != nil {
		t.Fatalf("Expected a per-candidate failure to be tolerated, got %v", err)
	}
	for _, n := range g.Nodes {
		if n.ID == "market:x" {
			t.Error("Expected the failed candidate to be skipped")
		}
	}
}

func TestBuildCandidateGraph_AllEmbedsFailing(t *testing.T) {
	empty := &fakeEmbedder{vecs: map[string][]float64{
		"markets are efficient": {1, 0, 0},
	}}

	_, err := BuildCandidateGraph(context.Background(), empty, nil, "markets are efficient", 3, 0.7, chainCandidates())
	if err == nil {
		t.Fatal("Expected an error when no candidate could be embedded")
	}
	var serr *model.StructuralError
	if !errors.As(err, &serr) {
		t.Errorf("Expected a structural error, got %T", err)
	}
}

func TestBuildCandidateGraph_CoreTieBreaksToFirst(t *testing.T) {
	emb := &fakeEmbedder{vecs: map[string][]float64{
		"markets are efficient": {1, 0},
		"First":                 {1, 0},
		"Second":                {1, 0},
	}}
	cands := []model.Candidate{
		{ID: "market:first", Type: model.CandidateMarket, Title: "First"},
		{ID: "market:second", Type: model.CandidateMarket, Title: "Second"},
	}

	g, err := BuildCandidateGraph(context.Background(), emb, nil, "markets are efficient", 3, 0.9, cands)
	if err != nil {
		t.Fatalf("Expected build to succeed, got %v", err)
	}
	if g.CoreID != "market:first" {
		t.Errorf("Expected ties to resolve to the first candidate, got %s", g.CoreID)
	}
}

func TestBuildCandidateGraph_UsesDescriptionInEmbedText(t *testing.T) {
	emb := &fakeEmbedder{vecs: map[string][]float64{
		"markets are efficient":          {1, 0},
		"Fed decision. Rate cut odds":    {1, 0},
		"Fed decision":                   {0, 1}, // must not be used when a description exists
	}}
	cands := []model.Candidate{
		{ID: "series:fed", Type: model.CandidateSeries, Title: "Fed decision", Description: "Rate cut odds"},
	}

	g, err := BuildCandidateGraph(context.Background(), emb, nil, "markets are efficient", 3, 0.9, cands)
	if err != nil {
		t.Fatalf("Expected build to succeed, got %v", err)
	}
	if len(g.Nodes) != 1 || math.Abs(g.Nodes[0].Similarity-1.0) > 1e-9 {
		t.Error("Expected the title-plus-description embedding to be used")
	}
}
