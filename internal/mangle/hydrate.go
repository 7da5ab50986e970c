package mangle

import (
	"context"
	"fmt"

	"parseltongue/internal/logging"
	"parseltongue/internal/store"
	"parseltongue/internal/types"
)

// HydrateFromStore loads every entity and edge from s into a fresh Engine,
// scoped to one ad hoc query. The engine is not kept durable across calls —
// the Store is always the source of truth, and only ad hoc queries go
// through Mangle (the core catalog runs in internal/queryengine).
func HydrateFromStore(ctx context.Context, s store.Store) (*Engine, error) {
	timer := logging.StartTimer(logging.CategoryMangle, "HydrateFromStore")
	defer timer.Stop()

	e, err := NewEngine(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	entities, err := s.ListEntities(store.EntityFilter{})
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	var facts []Fact
	for _, ent := range entities {
		for _, f := range types.EntityFacts(ent.ISGL1Key, ent.InterfaceSignature.Name, ent.Kind, ent.Language,
			ent.EntityClass, ent.InterfaceSignature.Visibility, ent.CurrentInd, ent.FutureInd, ent.FutureAction) {
			facts = append(facts, Fact{Predicate: f.Predicate, Args: f.Args})
		}

		edges, err := s.ForwardDeps(ent.ISGL1Key, nil)
		if err != nil {
			return nil, fmt.Errorf("forward deps for %s: %w", ent.ISGL1Key, err)
		}
		for _, edge := range edges {
			ef := types.EdgeFact(edge)
			facts = append(facts, Fact{Predicate: ef.Predicate, Args: ef.Args})
		}
	}

	if err := e.AddFactsContext(ctx, facts); err != nil {
		return nil, fmt.Errorf("add facts: %w", err)
	}
	logging.Mangle("hydrated %d entities into datalog escape hatch", len(entities))
	return e, nil
}
