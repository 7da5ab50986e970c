package mangle

import (
	"context"
	"testing"

	"parseltongue/internal/store"
	"parseltongue/internal/types"
)

func seedStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemStore()

	caller := types.Entity{
		ISGL1Key:   "go:fn:caller:lib.go:1-3",
		CurrentInd: true,
		FutureInd:  true,
		FutureAction: types.ActionNone,
		EntityClass: types.ClassCode,
		Language:   types.LangGo,
		Kind:       types.KindFunc,
		InterfaceSignature: types.InterfaceSignature{
			Name:       "caller",
			Visibility: types.VisibilityPrivate,
		},
	}
	callee := types.Entity{
		ISGL1Key:   "go:fn:callee:lib.go:5-7",
		CurrentInd: true,
		FutureInd:  true,
		FutureAction: types.ActionNone,
		EntityClass: types.ClassCode,
		Language:   types.LangGo,
		Kind:       types.KindFunc,
		InterfaceSignature: types.InterfaceSignature{
			Name:       "callee",
			Visibility: types.VisibilityPrivate,
		},
	}
	if err := s.UpsertEntities([]types.Entity{caller, callee}); err != nil {
		t.Fatalf("seed entities: %v", err)
	}

	edge := types.DependencyEdge{
		FromKey:  caller.ISGL1Key,
		ToKey:    callee.ISGL1Key,
		EdgeType: types.EdgeCalls,
	}
	if err := s.UpsertEdges([]types.DependencyEdge{edge}); err != nil {
		t.Fatalf("seed edge: %v", err)
	}
	return s
}

func TestHydrateFromStoreLoadsEntities(t *testing.T) {
	s := seedStore(t)
	e, err := HydrateFromStore(context.Background(), s)
	if err != nil {
		t.Fatalf("HydrateFromStore: %v", err)
	}

	facts, err := e.GetFacts("code_entity")
	if err != nil {
		t.Fatalf("GetFacts(code_entity): %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 code_entity facts, got %d: %+v", len(facts), facts)
	}

	names := map[string]bool{}
	for _, f := range facts {
		if len(f.Args) < 2 {
			t.Fatalf("expected at least 2 args per code_entity fact, got %+v", f)
		}
		name, ok := f.Args[1].(string)
		if !ok {
			t.Fatalf("expected code_entity arg 1 to be a string, got %T", f.Args[1])
		}
		names[name] = true
	}
	if !names["caller"] || !names["callee"] {
		t.Fatalf("expected both caller and callee to be hydrated, got %+v", names)
	}
}

func TestHydrateFromStoreLoadsEdges(t *testing.T) {
	s := seedStore(t)
	e, err := HydrateFromStore(context.Background(), s)
	if err != nil {
		t.Fatalf("HydrateFromStore: %v", err)
	}

	facts, err := e.GetFacts("code_edge")
	if err != nil {
		t.Fatalf("GetFacts(code_edge): %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 code_edge fact, got %d: %+v", len(facts), facts)
	}
	from, fromOK := facts[0].Args[0].(string)
	to, toOK := facts[0].Args[1].(string)
	if !fromOK || !toOK || from != "go:fn:caller:lib.go:1-3" || to != "go:fn:callee:lib.go:5-7" {
		t.Fatalf("unexpected edge fact: %+v", facts[0])
	}
}

func TestHydrateFromStoreEmptyStore(t *testing.T) {
	s := store.NewMemStore()
	e, err := HydrateFromStore(context.Background(), s)
	if err != nil {
		t.Fatalf("HydrateFromStore on empty store: %v", err)
	}

	facts, err := e.GetFacts("code_entity")
	if err != nil {
		t.Fatalf("GetFacts(code_entity): %v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("expected no facts from an empty store, got %d", len(facts))
	}
}
