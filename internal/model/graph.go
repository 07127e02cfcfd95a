package model

// EdgeType classifies the relationship an edge encodes
type EdgeType string

const (
	EdgeDerivesFrom EdgeType = "derives_from" // Root -> derivative claim
	EdgeSimilarTo   EdgeType = "similar_to"   // Claim <-> claim above the similarity threshold
)

// ClaimEdge connects two claim nodes. Weight always equals the
// similarity value that admitted the edge.
type ClaimEdge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
	Weight float64  `json:"weight"`
}

// ClaimGraph is the final output of a worldview build
type ClaimGraph struct {
	Nodes  []*ClaimNode `json:"nodes"`
	Edges  []ClaimEdge  `json:"edges"`
	CoreID string       `json:"coreId"`
}

// CandidateType distinguishes market-search result kinds
type CandidateType string

const (
	CandidateSeries CandidateType = "series"
	CandidateMarket CandidateType = "market"
)

// Candidate is a raw market-search result fed to the BFS graph builder
type Candidate struct {
	ID          string        `json:"id"`
	Type        CandidateType `json:"type"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// EmbedText returns the text to embed for a candidate: the title, or
// "title. description" when a description is present.
func (c Candidate) EmbedText() string {
	if c.Description == "" {
		return c.Title
	}
	return c.Title + ". " + c.Description
}

// HopUnassigned marks a graph node BFS has not reached yet
const HopUnassigned = -1

// GraphNode is a market-backed node in the candidate (BFS) graph
type GraphNode struct {
	ID         string        `json:"id"`
	Label      string        `json:"label"`
	URL        string        `json:"url,omitempty"`
	Type       CandidateType `json:"type"`
	Similarity float64       `json:"similarity"` // Cosine similarity to the worldview, [0,1]
	Hop        int           `json:"hop"`        // HopUnassigned until BFS assigns it
}

// GraphEdge is an undirected similarity edge between candidate nodes
type GraphEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// Graph is the output of the candidate (BFS) builder
type Graph struct {
	Nodes  []GraphNode `json:"nodes"`
	Edges  []GraphEdge `json:"edges"`
	CoreID string      `json:"coreId"`
}

// SuggestionAction is the directional call for a market node
type SuggestionAction string

const (
	ActionYes  SuggestionAction = "YES"
	ActionNo   SuggestionAction = "NO"
	ActionSkip SuggestionAction = "SKIP"
)

// Suggestion is a directional alignment call for one graph node
type Suggestion struct {
	NodeID     string           `json:"nodeId"`
	Action     SuggestionAction `json:"action"`
	Confidence float64          `json:"confidence"`
	Rationale  string           `json:"rationale"`
	URL        string           `json:"url"`
}
