package graph

import (
	"sync"

	"github.com/doxa-graph/doxa/internal/model"
)

// EventType names a progress event in the build trace
type EventType string

const (
	EventClaimGenerated          EventType = "claim_generated"
	EventClaimVerifying          EventType = "claim_verifying"
	EventClaimVerified           EventType = "claim_verified"
	EventSourcesFound            EventType = "sources_found"
	EventVerificationQuery       EventType = "verification_query"
	EventVerificationSourceFound EventType = "verification_source_found"
	EventGraphComplete           EventType = "graph_complete"
	EventError                   EventType = "error"
)

// Event is one entry in a build's progress trace
type Event struct {
	Type EventType
	Data any
}

// Sink receives progress events during a build
type Sink interface {
	Emit(t EventType, data any)
}

// Log is an ordered, append-only event sink. The build collects its
// whole trace here and the transport replays it once the build
// finishes, so clients always see a consistent, replayable ordering.
type Log struct {
	mu     sync.Mutex
	events []Event
}

// NewLog creates an empty event log
func NewLog() *Log {
	return &Log{}
}

// Emit appends an event to the log. Safe for concurrent use.
func (l *Log) Emit(t EventType, data any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Type: t, Data: data})
}

// Events returns a copy of the collected events in emission order
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Event payloads. Field names match the wire format consumed by the
// frontend, hence the camelCase keys.

// NodePayload carries a freshly generated claim node
type NodePayload struct {
	Node *model.ClaimNode `json:"node"`
}

// VerifyingPayload marks the start of a node's verification
type VerifyingPayload struct {
	NodeID string `json:"nodeId"`
	Label  string `json:"label"`
}

// VerifiedPayload carries a verification result, or the error that
// failed the node. Exactly one of the two is set.
type VerifiedPayload struct {
	NodeID       string              `json:"nodeId"`
	Verification *model.Verification `json:"verification,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// SourcesPayload carries a market reference attached to a node
type SourcesPayload struct {
	NodeID string        `json:"nodeId"`
	Market *model.Market `json:"market"`
}

// QueryPayload carries a search query issued during verification
type QueryPayload struct {
	NodeID string `json:"nodeId"`
	Query  string `json:"query"`
}

// EvidencePayload carries one evidence source found during verification
type EvidencePayload struct {
	NodeID string               `json:"nodeId"`
	Source model.EvidenceSource `json:"source"`
}

// ErrorPayload is the terminal payload of a failed build
type ErrorPayload struct {
	Error string `json:"error"`
}
