// Package queryengine implements the fixed read catalog of spec.md §4.4:
// list_entities, entity_by_key, forward_deps, reverse_deps, blast_radius and
// transitive_closure, each materialized against a store.Store. The Datalog
// escape hatch (`query datalog`) lives in internal/mangle, not here — this
// package is the predictable-cost core catalog only.
package queryengine

import (
	"sort"
	"time"

	"parseltongue/internal/logging"
	"parseltongue/internal/store"
	"parseltongue/internal/types"
)

// blastRadiusBudget is spec §4.3's "bounded BFS to depth 5 on 10^4 nodes: < 50ms"
// performance contract, turned into a StopWithThreshold warning threshold.
const blastRadiusBudget = 50 * time.Millisecond

// Engine executes the core catalog against one Store.
type Engine struct {
	store store.Store
}

func New(s store.Store) *Engine {
	return &Engine{store: s}
}

func (e *Engine) ListEntities(filter store.EntityFilter) ([]types.Entity, error) {
	return e.store.ListEntities(filter)
}

func (e *Engine) EntityByKey(key string) (types.Entity, bool, error) {
	return e.store.EntityByKey(key)
}

func (e *Engine) ForwardDeps(key string, edgeTypes []types.EdgeType) ([]types.DependencyEdge, error) {
	return e.store.ForwardDeps(key, edgeTypes)
}

func (e *Engine) ReverseDeps(key string, edgeTypes []types.EdgeType) ([]types.DependencyEdge, error) {
	return e.store.ReverseDeps(key, edgeTypes)
}

func (e *Engine) ChangedEntities() ([]types.Entity, error) {
	return e.store.ChangedEntities()
}

// Reachable is one row of a blast_radius or transitive_closure result.
type Reachable struct {
	Key      string
	Distance int
}

// BlastRadius is a bounded BFS over reverse edges: "what would break if this
// entity changed" (spec §4.4). A negative maxHops defaults to 5. Distance is the
// minimum hop count over any path; diamond shapes are collapsed to their
// shortest distance, never double counted.
//
// blast_radius(k, 0) is defined to return the empty set: the starting node
// is distance 0 from itself and is conventionally excluded from its own
// blast radius (spec §9 open question — pinned here; see DESIGN.md).
func (e *Engine) BlastRadius(key string, maxHops int) ([]Reachable, error) {
	timer := logging.StartTimer(logging.CategoryQuery, "BlastRadius")
	defer timer.StopWithThreshold(blastRadiusBudget)

	if maxHops < 0 {
		maxHops = 5
	}

	distance := map[string]int{key: 0}
	frontier := []string{key}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, k := range frontier {
			edges, err := e.store.ReverseDeps(k, nil)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				if _, seen := distance[edge.FromKey]; seen {
					continue // already reached at an equal-or-shorter distance (BFS invariant)
				}
				distance[edge.FromKey] = hop
				next = append(next, edge.FromKey)
			}
		}
		frontier = next
	}

	out := make([]Reachable, 0, len(distance))
	for k, d := range distance {
		if k == key {
			continue
		}
		out = append(out, Reachable{Key: k, Distance: d})
	}
	sortReachable(out)
	return out, nil
}

// Direction selects which edge direction transitive_closure walks.
type Direction string

const (
	DirectionForward Direction = "forward" // follow ForwardDeps (what key depends on)
	DirectionReverse Direction = "reverse" // follow ReverseDeps (what depends on key)
)

// TransitiveClosure is an unbounded (or depth-bounded) walk with a visited
// set, guaranteeing termination on cyclic graphs (spec §4.4 hard requirement:
// A->B->A terminates with {A, B} each visited exactly once). The start key
// appears in the result only when a cycle leads back to it, at the depth it
// is first reached again. maxDepth <= 0 means unbounded.
func (e *Engine) TransitiveClosure(key string, dir Direction, maxDepth int) ([]Reachable, error) {
	timer := logging.StartTimer(logging.CategoryQuery, "TransitiveClosure")
	defer timer.Stop()

	visited := map[string]int{key: 0}
	frontier := []string{key}
	selfDepth := 0 // depth at which a cycle first returns to key; 0 = never

	for depth := 1; ; depth++ {
		if maxDepth > 0 && depth > maxDepth {
			break
		}
		if len(frontier) == 0 {
			break
		}
		var next []string
		for _, k := range frontier {
			var edges []types.DependencyEdge
			var err error
			if dir == DirectionReverse {
				edges, err = e.store.ReverseDeps(k, nil)
			} else {
				edges, err = e.store.ForwardDeps(k, nil)
			}
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				target := edge.ToKey
				if dir == DirectionReverse {
					target = edge.FromKey
				}
				if target == key && selfDepth == 0 {
					selfDepth = depth
				}
				if _, seen := visited[target]; seen {
					continue
				}
				visited[target] = depth
				next = append(next, target)
			}
		}
		frontier = next
	}

	out := make([]Reachable, 0, len(visited))
	for k, d := range visited {
		if k == key {
			continue
		}
		out = append(out, Reachable{Key: k, Distance: d})
	}
	if selfDepth > 0 {
		out = append(out, Reachable{Key: key, Distance: selfDepth})
	}
	sortReachable(out)
	return out, nil
}

func sortReachable(rs []Reachable) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Distance != rs[j].Distance {
			return rs[i].Distance < rs[j].Distance
		}
		return rs[i].Key < rs[j].Key
	})
}
