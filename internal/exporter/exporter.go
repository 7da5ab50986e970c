// Package exporter implements progressive disclosure (spec.md §4.5):
// projecting query results into one of four JSON levels (L0/L1/L2/Bulk)
// under a token budget, without ever mutating the Store.
package exporter

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"parseltongue/internal/logging"
	"parseltongue/internal/types"
)

// Level is a progressive-disclosure tier (spec §4.5).
type Level string

const (
	LevelL0   Level = "L0"
	LevelL1   Level = "L1"
	LevelL2   Level = "L2"
	LevelBulk Level = "Bulk"
)

// DefaultTokenBudget is spec §4.5's "default: 100k tokens".
const DefaultTokenBudget = 100_000

// Node is one projected entity; fields populated depend on Level.
type Node struct {
	Key           string                   `json:"key"`
	Name          string                   `json:"name"`
	Type          types.EntityKind         `json:"type"`
	Visibility    types.Visibility         `json:"visibility,omitempty"`
	StartLine     int                      `json:"start_line,omitempty"`
	EndLine       int                      `json:"end_line,omitempty"`
	EntityClass   types.EntityClass        `json:"entity_class,omitempty"`
	CurrentInd    *bool                    `json:"current_ind,omitempty"`
	FutureInd     *bool                    `json:"future_ind,omitempty"`
	FutureAction  types.FutureAction       `json:"future_action,omitempty"`
	Interface     *types.InterfaceSignature `json:"interface_signature,omitempty"`
	ModulePath    string                   `json:"module_path,omitempty"`
	Documentation string                   `json:"documentation,omitempty"`
	CurrentCode   string                   `json:"current_code,omitempty"`
	FutureCode    string                   `json:"future_code,omitempty"`
}

// Edge is one projected DependencyEdge row.
type Edge struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Type     types.EdgeType `json:"type"`
	Location string         `json:"location,omitempty"`
}

// Metadata is the export summary block (spec §4.5 Output shape).
type Metadata struct {
	NodeCount        int            `json:"node_count"`
	EdgeCount        int            `json:"edge_count"`
	Truncated        bool           `json:"truncated"`
	TokenEstimate    int            `json:"token_estimate"`
	EdgeTypeHistogram map[types.EdgeType]int `json:"edge_type_histogram,omitempty"`
}

// Export is the exporter's JSON output shape (spec §4.5).
type Export struct {
	Level       Level    `json:"level"`
	GeneratedAt string   `json:"generated_at"`
	Nodes       []Node   `json:"nodes"`
	Edges       []Edge   `json:"edges"`
	Metadata    Metadata `json:"metadata"`
}

// EstimateTokens is spec §4.5's "cheap deterministic heuristic":
// ceil(bytes/4), documented as an estimate, not a real tokenizer count.
func EstimateTokens(n int) int {
	return int(math.Ceil(float64(n) / 4.0))
}

// Build projects entities/edges at level, stopping once the token budget
// would be exceeded. Entities are consumed in the order given — callers
// that want L0's "maximize edge coverage" ordering should sort entities by
// degree before calling Build (spec §4.5: "the emitter SHOULD sort...").
// budget <= 0 uses DefaultTokenBudget.
func Build(level Level, entities []types.Entity, edges []types.DependencyEdge, budget int) Export {
	timer := logging.StartTimer(logging.CategoryExport, "Build:"+string(level))
	defer timer.Stop()

	if budget <= 0 {
		budget = DefaultTokenBudget
	}

	exp := Export{
		Level:       level,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	spent := 0
	truncated := false
	included := 0
	for _, e := range entities {
		node := projectNode(level, e)
		encoded, err := json.Marshal(node)
		if err != nil {
			continue
		}
		cost := EstimateTokens(len(encoded))
		if spent+cost > budget {
			truncated = true
			break
		}
		spent += cost
		exp.Nodes = append(exp.Nodes, node)
		included++
	}

	includeEdges := level == LevelL0 || level == LevelL2 || level == LevelBulk
	histogram := make(map[types.EdgeType]int)
	if includeEdges {
		for _, e := range edges {
			edge := Edge{From: e.FromKey, To: e.ToKey, Type: e.EdgeType, Location: e.SourceLocation}
			encoded, err := json.Marshal(edge)
			if err != nil {
				continue
			}
			cost := EstimateTokens(len(encoded))
			if spent+cost > budget {
				truncated = true
				break
			}
			spent += cost
			exp.Edges = append(exp.Edges, edge)
			histogram[e.EdgeType]++
		}
	}

	exp.Metadata = Metadata{
		NodeCount:         len(exp.Nodes),
		EdgeCount:         len(exp.Edges),
		Truncated:         truncated || included < len(entities),
		TokenEstimate:     spent,
		EdgeTypeHistogram: histogram,
	}
	return exp
}

func projectNode(level Level, e types.Entity) Node {
	n := Node{Key: e.ISGL1Key, Name: e.InterfaceSignature.Name, Type: e.Kind}
	if level == LevelL0 {
		return n
	}

	n.Visibility = e.InterfaceSignature.Visibility
	n.StartLine = e.InterfaceSignature.StartLine
	n.EndLine = e.InterfaceSignature.EndLine
	n.EntityClass = e.EntityClass
	current, future := e.CurrentInd, e.FutureInd
	n.CurrentInd = &current
	n.FutureInd = &future
	n.FutureAction = e.FutureAction
	if level == LevelL1 {
		return n
	}

	sig := e.InterfaceSignature
	n.Interface = &sig
	n.ModulePath = e.InterfaceSignature.ModulePath
	n.Documentation = e.InterfaceSignature.Documentation
	if level == LevelBulk {
		n.CurrentCode = e.CurrentCode
		n.FutureCode = e.FutureCode
	}
	return n
}

// WriteFile serializes exp as the one JSON side effect this stage is
// permitted (spec §4.5: "Writes one JSON file; never mutates the Store").
func WriteFile(path string, exp Export) error {
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
