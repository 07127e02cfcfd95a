package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/doxa-graph/doxa/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubEmbedder struct {
	vecs map[string][]float64
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := s.vecs[text]; ok {
		return vec, nil
	}
	return nil, fmt.Errorf("no embedding for %q", text)
}

type stubGenerator struct {
	sets [][]string
	err  error
}

func (s *stubGenerator) GenerateSets(ctx context.Context, worldview string, numSets int) ([][]string, error) {
	return s.sets, s.err
}

type stubVerifier struct{}

func (s *stubVerifier) Verify(ctx context.Context, claim string) (*model.Verification, error) {
	return &model.Verification{Confidence: 0.7, Rationale: "checked"}, nil
}

type stubMarkets struct {
	candidates []model.Candidate
	err        error
}

func (s *stubMarkets) Search(ctx context.Context, query string, k int) ([]model.Candidate, error) {
	return s.candidates, s.err
}

type stubSuggester struct{}

func (s *stubSuggester) Classify(ctx context.Context, worldview string, nodes []model.GraphNode) ([]model.Suggestion, error) {
	out := make([]model.Suggestion, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, model.Suggestion{
			NodeID:     n.ID,
			Action:     model.ActionYes,
			Confidence: 0.9,
			Rationale:  "aligned",
		})
	}
	return out, nil
}

const stubWorldview = "Rates will stay high for longer"

func stubDeps() Deps {
	return Deps{
		Embedder: &stubEmbedder{vecs: map[string][]float64{
			stubWorldview:          {1, 0},
			"Rates stay elevated":  {1, 0},
			"Inflation stays hot":  {0.8, 0.6},
			"Alpha market":         {1, 0},
			"Beta market":          {0.8, 0.6},
		}},
		Generator: &stubGenerator{sets: [][]string{
			{"Rates stay elevated"},
			{"Inflation stays hot"},
		}},
		Verifier: &stubVerifier{},
		Markets: &stubMarkets{candidates: []model.Candidate{
			{ID: "market:alpha", Type: model.CandidateMarket, Title: "Alpha market", URL: "https://example.com/alpha"},
			{ID: "market:beta", Type: model.CandidateMarket, Title: "Beta market"},
		}},
		Suggester: &stubSuggester{},
	}
}

func testServer(deps Deps) *Server {
	return New(model.DefaultConfig(), deps, nil)
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := testServer(stubDeps())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Errorf("Unexpected health body: %s", w.Body.String())
	}
}

func TestGraph_MissingWorldview(t *testing.T) {
	s := testServer(stubDeps())
	w := postJSON(t, s, "/graph", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a missing worldview, got %d", w.Code)
	}
}

func TestGraph_WorldviewBounds(t *testing.T) {
	s := testServer(stubDeps())

	if w := postJSON(t, s, "/graph", `{"worldview": "abc"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a too-short worldview, got %d", w.Code)
	}

	long, _ := json.Marshal(map[string]string{"worldview": strings.Repeat("x", 2001)})
	if w := postJSON(t, s, "/graph", string(long)); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a too-long worldview, got %d", w.Code)
	}
}

func TestGraph_ParameterBounds(t *testing.T) {
	s := testServer(stubDeps())
	tests := []struct {
		name string
		body string
	}{
		{"k too large", fmt.Sprintf(`{"worldview": %q, "k": 1001}`, stubWorldview)},
		{"negative maxHops", fmt.Sprintf(`{"worldview": %q, "maxHops": -1}`, stubWorldview)},
		{"maxHops too large", fmt.Sprintf(`{"worldview": %q, "maxHops": 7}`, stubWorldview)},
		{"threshold above 1", fmt.Sprintf(`{"worldview": %q, "threshold": 1.5}`, stubWorldview)},
		{"topN too large", fmt.Sprintf(`{"worldview": %q, "topN": 101}`, stubWorldview)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postJSON(t, s, "/graph", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", w.Code)
			}
		})
	}
}

func TestGraph_HappyPath(t *testing.T) {
	s := testServer(stubDeps())
	w := postJSON(t, s, "/graph", fmt.Sprintf(`{"worldview": %q, "threshold": 0.5}`, stubWorldview))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp GraphResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Expected a JSON response, got %v", err)
	}

	if resp.Graph == nil || len(resp.Graph.Nodes) != 2 {
		t.Fatalf("Expected a 2-node graph, got %+v", resp.Graph)
	}
	if resp.Graph.CoreID != "market:alpha" {
		t.Errorf("Expected the most similar market as core, got %s", resp.Graph.CoreID)
	}

	// The URL-less beta node's suggestion is dropped
	if len(resp.Suggestions) != 1 {
		t.Fatalf("Expected 1 suggestion, got %d", len(resp.Suggestions))
	}
	sg := resp.Suggestions[0]
	if sg.NodeID != "market:alpha" || sg.URL != "https://example.com/alpha" {
		t.Errorf("Expected the suggestion URL resolved from the graph, got %+v", sg)
	}
	if sg.Action != model.ActionYes {
		t.Errorf("Expected the classifier action preserved, got %s", sg.Action)
	}
}

func TestGraph_NoCandidates(t *testing.T) {
	deps := stubDeps()
	deps.Markets = &stubMarkets{err: errors.New("upstream down")}
	s := testServer(deps)

	w := postJSON(t, s, "/graph", fmt.Sprintf(`{"worldview": %q}`, stubWorldview))
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 when no candidates are found, got %d", w.Code)
	}
}

func TestGraph_GeneratorFailure(t *testing.T) {
	deps := stubDeps()
	deps.Generator = &stubGenerator{err: &model.ValidationError{Msg: "too few valid sets"}}
	s := testServer(deps)

	w := postJSON(t, s, "/graph", fmt.Sprintf(`{"worldview": %q}`, stubWorldview))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 on generator failure, got %d", w.Code)
	}
}

func TestGraphStream_ReplaysTraceThenCompletes(t *testing.T) {
	s := testServer(stubDeps())
	w := postJSON(t, s, "/graph/stream", fmt.Sprintf(`{"worldview": %q, "threshold": 0.99}`, stubWorldview))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected an SSE content type, got %q", ct)
	}

	body := w.Body.String()
	for _, event := range []string{"claim_generated", "claim_verifying", "claim_verified", "graph_complete"} {
		if !strings.Contains(body, event) {
			t.Errorf("Expected the stream to contain a %s event", event)
		}
	}

	// graph_complete is the terminal event
	if idx := strings.LastIndex(body, "graph_complete"); idx == -1 || strings.Contains(body[idx:], "claim_verified") {
		t.Error("Expected graph_complete to terminate the stream")
	}
}

func TestGraphStream_FatalErrorEmitsErrorEvent(t *testing.T) {
	deps := stubDeps()
	deps.Generator = &stubGenerator{err: &model.ValidationError{Msg: "too few valid sets"}}
	s := testServer(deps)

	w := postJSON(t, s, "/graph/stream", fmt.Sprintf(`{"worldview": %q}`, stubWorldview))
	body := w.Body.String()
	if !strings.Contains(body, "event:error") {
		t.Errorf("Expected a terminal error event, got: %s", body)
	}
	if strings.Contains(body, "graph_complete") {
		t.Error("Expected no graph_complete after a fatal failure")
	}
}
