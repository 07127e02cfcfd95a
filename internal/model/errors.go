package model

import "fmt"

// ValidationError reports invalid generated data: a derivative set out
// of bounds after cleaning, or too few sets succeeding. Fatal.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// UpstreamError reports a collaborator call that exhausted its retries.
// Fatal during root/factory/embedding/edge stages; per-node and
// non-fatal during verification and market search.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StructuralError reports an internally inconsistent build: an empty
// valid node set feeding the BFS builder, or mismatched embedding
// vector lengths. Fatal.
type StructuralError struct {
	Msg string
}

func (e *StructuralError) Error() string {
	return "structural: " + e.Msg
}
