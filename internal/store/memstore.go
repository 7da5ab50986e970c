package store

import (
	"sort"
	"sync"

	"parseltongue/internal/logging"
	"parseltongue/internal/types"
)

// MemStore is the "mem" backend (spec §6.1): ephemeral, in-process, used by
// tests and as the default connection. It implements the same invariants
// as the durable backends so tests written against it generalize.
type MemStore struct {
	mu       sync.RWMutex
	entities map[string]types.Entity
	edges    map[string]types.DependencyEdge
	// reverse[to_key] -> set of edge keys, the secondary index spec §9 calls
	// out explicitly ("maintain it explicitly as a second relation").
	reverse map[string]map[string]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{
		entities: make(map[string]types.Entity),
		edges:    make(map[string]types.DependencyEdge),
		reverse:  make(map[string]map[string]struct{}),
	}
}

func (s *MemStore) CreateSchema() error { return nil }

func (s *MemStore) DropTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case RelationCodeGraph:
		s.entities = make(map[string]types.Entity)
	case RelationDependencyEdges:
		s.edges = make(map[string]types.DependencyEdge)
		s.reverse = make(map[string]map[string]struct{})
	default:
		return newError(ErrConstraintViolation, "unknown relation "+name, nil)
	}
	return nil
}

func (s *MemStore) UpsertEntities(batch []types.Entity) error {
	timer := logging.StartTimer(logging.CategoryStore, "MemStore.UpsertEntities")
	defer timer.Stop()

	for _, e := range batch {
		if err := validateEntity(e); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range batch {
		s.entities[e.ISGL1Key] = e
	}
	return nil
}

func (s *MemStore) UpsertEdges(batch []types.DependencyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range batch {
		key := e.Key()
		s.edges[key] = e
		if s.reverse[e.ToKey] == nil {
			s.reverse[e.ToKey] = make(map[string]struct{})
		}
		s.reverse[e.ToKey][key] = struct{}{}
	}
	return nil
}

func (s *MemStore) UpdateTemporal(key string, delta TemporalDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[key]
	if !ok {
		return ErrNotFound
	}
	next, err := applyTemporalDelta(e, delta)
	if err != nil {
		return err
	}
	s.entities[key] = next
	return nil
}

func (s *MemStore) EntityByKey(key string) (types.Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[key]
	return e, ok, nil
}

func (s *MemStore) ListEntities(filter EntityFilter) ([]types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Entity
	for _, e := range s.entities {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	sortEntities(out)
	return out, nil
}

func (s *MemStore) ChangedEntities() ([]types.Entity, error) {
	return s.ListEntities(EntityFilter{ChangedOnly: true})
}

func (s *MemStore) ForwardDeps(key string, edgeTypes []types.EdgeType) ([]types.DependencyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.DependencyEdge
	for _, e := range s.edges {
		if e.FromKey == key && edgeTypeAllowed(e.EdgeType, edgeTypes) {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

func (s *MemStore) ReverseDeps(key string, edgeTypes []types.EdgeType) ([]types.DependencyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.DependencyEdge
	for ekey := range s.reverse[key] {
		e := s.edges[ekey]
		if edgeTypeAllowed(e.EdgeType, edgeTypes) {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

func (s *MemStore) Close() error { return nil }

func edgeTypeAllowed(t types.EdgeType, allowed []types.EdgeType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

func sortEntities(es []types.Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].ISGL1Key < es[j].ISGL1Key })
}

func sortEdges(es []types.DependencyEdge) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].FromKey != es[j].FromKey {
			return es[i].FromKey < es[j].FromKey
		}
		return es[i].ToKey < es[j].ToKey
	})
}
