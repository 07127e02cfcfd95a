package model

import "testing"

func TestTransition_LegalPath(t *testing.T) {
	n := &ClaimNode{ID: "claim-1", Status: StatusGenerated}

	for _, to := range []NodeStatus{StatusVerifying, StatusVerified} {
		if err := n.Transition(to); err != nil {
			t.Fatalf("Expected transition to %s to succeed, got %v", to, err)
		}
	}
	if n.Status != StatusVerified {
		t.Errorf("Expected final status verified, got %s", n.Status)
	}
}

func TestTransition_VerifyingToFailed(t *testing.T) {
	n := &ClaimNode{ID: "claim-2", Status: StatusVerifying}

	if err := n.Transition(StatusFailed); err != nil {
		t.Fatalf("Expected transition to failed to succeed, got %v", err)
	}
}

func TestTransition_SkippingIsIllegal(t *testing.T) {
	n := &ClaimNode{ID: "claim-3", Status: StatusGenerated}

	if err := n.Transition(StatusVerified); err == nil {
		t.Error("Expected generated -> verified to be rejected")
	}
	if n.Status != StatusGenerated {
		t.Errorf("Expected status unchanged after illegal transition, got %s", n.Status)
	}
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, from := range []NodeStatus{StatusVerified, StatusFailed} {
		n := &ClaimNode{ID: "claim-4", Status: from}
		for _, to := range []NodeStatus{StatusGenerated, StatusVerifying, StatusVerified, StatusFailed} {
			if err := n.Transition(to); err == nil {
				t.Errorf("Expected %s -> %s to be rejected", from, to)
			}
		}
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name string
		node ClaimNode
		want float64
	}{
		{"no sources", ClaimNode{}, 0},
		{"source without verification", ClaimNode{Sources: []ClaimSource{{Market: &Market{ID: "m1"}}}}, 0},
		{"verified source", ClaimNode{Sources: []ClaimSource{{Verification: &Verification{Confidence: 0.85}}}}, 0.85},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.Confidence(); got != tt.want {
				t.Errorf("Expected confidence %f, got %f", tt.want, got)
			}
		})
	}
}
