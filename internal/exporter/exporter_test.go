package exporter

import (
	"testing"

	"parseltongue/internal/types"
)

func makeEntities(n int) []types.Entity {
	out := make([]types.Entity, n)
	for i := range out {
		out[i] = types.Entity{
			ISGL1Key:    "go:fn:f:path:1-1",
			CurrentInd:  true,
			FutureInd:   true,
			EntityClass: types.ClassCode,
			Kind:        types.KindFunc,
			InterfaceSignature: types.InterfaceSignature{
				Name:          "f",
				Documentation: "a fairly long doc comment to burn through the token budget quickly across many entities",
			},
		}
	}
	return out
}

// TestTokenBudgetTruncation mirrors spec.md §8 scenario 4: requesting a
// small budget against many entities truncates and reports token_estimate <= B.
func TestTokenBudgetTruncation(t *testing.T) {
	entities := makeEntities(1000)
	exp := Build(LevelL2, entities, nil, 500)

	if !exp.Metadata.Truncated {
		t.Fatal("expected truncated=true")
	}
	if len(exp.Nodes) >= 1000 {
		t.Fatalf("expected fewer than 1000 nodes emitted, got %d", len(exp.Nodes))
	}
	if exp.Metadata.TokenEstimate > 500 {
		t.Fatalf("token_estimate %d exceeds budget 500", exp.Metadata.TokenEstimate)
	}
}

func TestL0OmitsDetailFields(t *testing.T) {
	exp := Build(LevelL0, makeEntities(1), []types.DependencyEdge{
		{FromKey: "a", ToKey: "b", EdgeType: types.EdgeCalls},
	}, 0)
	if len(exp.Edges) != 1 {
		t.Fatalf("expected L0 to include edges, got %d", len(exp.Edges))
	}
	if exp.Nodes[0].Visibility != "" || exp.Nodes[0].Interface != nil {
		t.Fatalf("L0 node should carry only terse fields, got %+v", exp.Nodes[0])
	}
}

func TestBulkIncludesCode(t *testing.T) {
	entities := makeEntities(1)
	entities[0].CurrentCode = "func f() {}"
	exp := Build(LevelBulk, entities, nil, 0)
	if exp.Nodes[0].CurrentCode == "" {
		t.Fatal("expected Bulk level to carry current_code")
	}
}

func TestEstimateTokensIsCeilBytesOverFour(t *testing.T) {
	if got := EstimateTokens(4); got != 1 {
		t.Fatalf("EstimateTokens(4) = %d, want 1", got)
	}
	if got := EstimateTokens(5); got != 2 {
		t.Fatalf("EstimateTokens(5) = %d, want 2", got)
	}
}
