package model

import "fmt"

// NodeStatus tracks a claim node through its verification lifecycle
type NodeStatus string

const (
	StatusGenerated NodeStatus = "generated" // Created, not yet verified
	StatusVerifying NodeStatus = "verifying" // Verification in flight
	StatusVerified  NodeStatus = "verified"  // Verification succeeded (or root, true by fiat)
	StatusFailed    NodeStatus = "failed"    // Verification raised an error
)

// statusOrder encodes the only legal transitions:
// generated -> verifying -> {verified, failed}. Never reversed.
var statusOrder = map[NodeStatus][]NodeStatus{
	StatusGenerated: {StatusVerifying},
	StatusVerifying: {StatusVerified, StatusFailed},
	StatusVerified:  {},
	StatusFailed:    {},
}

// ClaimNode is a single claim in the graph. The root claim has hop 0;
// every derivative claim sits at hop 1 from it.
type ClaimNode struct {
	ID         string        `json:"id"`
	Label      string        `json:"label"`
	Status     NodeStatus    `json:"status"`
	Sources    []ClaimSource `json:"sources"`
	Similarity float64       `json:"similarity"` // Cosine similarity to the worldview, [0,1]
	Hop        int           `json:"hop"`
}

// Transition advances the node's status, enforcing the monotonic
// lifecycle. Any backwards or skipping move is an error.
func (n *ClaimNode) Transition(to NodeStatus) error {
	for _, allowed := range statusOrder[n.Status] {
		if to == allowed {
			n.Status = to
			return nil
		}
	}
	return fmt.Errorf("illegal status transition %s -> %s for node %s", n.Status, to, n.ID)
}

// Confidence returns the verification confidence of the canonical
// (first) source, or 0 when the node carries no verification result.
// Failed nodes always report 0.
func (n *ClaimNode) Confidence() float64 {
	if len(n.Sources) > 0 && n.Sources[0].Verification != nil {
		return n.Sources[0].Verification.Confidence
	}
	return 0.0
}

// ClaimSource backs a claim with evidence. Both fields may be present:
// market attachment updates the slot without discarding verification.
type ClaimSource struct {
	Verification *Verification `json:"verification,omitempty"`
	Market       *Market       `json:"market,omitempty"`
}

// Verification is the verification agent's assessment of one claim
type Verification struct {
	Confidence float64          `json:"confidence"` // [0,1] plausibility estimate
	Rationale  string           `json:"rationale"`
	Evidence   []EvidenceSource `json:"evidence,omitempty"`
}

// EvidenceSource is a single web source cited during verification
type EvidenceSource struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Market is a prediction-market reference attached to a claim
type Market struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	URL       string  `json:"url,omitempty"`
	Relevance float64 `json:"relevance"`
}
