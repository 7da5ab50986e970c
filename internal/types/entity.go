// Package types holds the data model shared across parseltongue's engine
// packages: the two relations (CodeGraph, DependencyEdges), their ISGL1 keys,
// and the temporal state machine that governs pending changes.
package types

import "fmt"

// Language identifies the parsed source language.
type Language string

const (
	LangGo         Language = "go"
	LangRust       Language = "rust"
	LangPython     Language = "python"
	LangJavaScript Language = "js"
	LangTypeScript Language = "ts"
	LangJava       Language = "java"
)

// EntityKind is the abbreviated kind used in ISGL1 keys (spec §3.2).
type EntityKind string

const (
	KindFunc      EntityKind = "fn"
	KindStruct    EntityKind = "struct"
	KindEnum      EntityKind = "enum"
	KindTrait     EntityKind = "trait"
	KindMod       EntityKind = "mod"
	KindImpl      EntityKind = "impl"
	KindInterface EntityKind = "interface"
	KindClass     EntityKind = "class"
)

// Visibility of an entity's declaration.
type Visibility string

const (
	VisibilityPublic  Visibility = "Public"
	VisibilityPrivate Visibility = "Private"
	VisibilityCrate   Visibility = "Crate" // Rust pub(crate)/pub(super) collapse here
)

// EdgeType labels a DependencyEdges row (spec §3.1).
type EdgeType string

const (
	EdgeCalls      EdgeType = "Calls"
	EdgeUses       EdgeType = "Uses"
	EdgeImplements EdgeType = "Implements"
)

// FutureAction is the pending action on an entity, or empty for none.
type FutureAction string

const (
	ActionNone   FutureAction = ""
	ActionCreate FutureAction = "Create"
	ActionEdit   FutureAction = "Edit"
	ActionDelete FutureAction = "Delete"
)

// TemporalState is the five-valued enum spec.md §9 recommends collapsing the
// (current_ind, future_ind, future_action) triple into. The triple remains
// the wire/storage representation (§3.1); this enum is the type-level view
// that makes invariant 3 a compile-time-checkable property in application
// code that only ever constructs a TemporalState, never a bare triple.
type TemporalState int

const (
	StateUnchanged TemporalState = iota
	StatePendingEdit
	StatePendingDelete
	StatePendingCreate
	stateInvalid // not exported: the (false,false,*) tombstone, never persisted
)

// Triple returns the (current_ind, future_ind, future_action) wire form.
func (s TemporalState) Triple() (currentInd, futureInd bool, action FutureAction) {
	switch s {
	case StateUnchanged:
		return true, true, ActionNone
	case StatePendingEdit:
		return true, true, ActionEdit
	case StatePendingDelete:
		return true, false, ActionDelete
	case StatePendingCreate:
		return false, true, ActionCreate
	default:
		return false, false, ActionNone
	}
}

// TemporalStateFromTriple validates and converts the wire triple into the
// enum, enforcing invariant 3 (spec §3.3). Returns an error for any of the
// tuples not in the five-valued list, including the (false,false,*) tombstone.
func TemporalStateFromTriple(currentInd, futureInd bool, action FutureAction) (TemporalState, error) {
	switch {
	case currentInd && futureInd && action == ActionNone:
		return StateUnchanged, nil
	case currentInd && futureInd && action == ActionEdit:
		return StatePendingEdit, nil
	case currentInd && !futureInd && action == ActionDelete:
		return StatePendingDelete, nil
	case !currentInd && futureInd && action == ActionCreate:
		return StatePendingCreate, nil
	default:
		return stateInvalid, fmt.Errorf("invalid temporal triple: current_ind=%v future_ind=%v future_action=%q", currentInd, futureInd, action)
	}
}

// EntityClass is the reliable half of tdd_classification (spec §3.1, §9
// open question): only entity_class is honestly derivable from static
// parsing, so the other four classifier fields are not modeled at all.
type EntityClass string

const (
	ClassCode EntityClass = "Code"
	ClassTest EntityClass = "Test"
)

// LanguageSpecific carries the language-tagged sum mentioned in spec §3.1 and
// §9 ("model them as tagged sum types"). Only the fields relevant to Language
// are populated; the rest stay at zero value.
type LanguageSpecific struct {
	Decorators        []string `json:"decorators,omitempty"`         // Python
	StructTags        []string `json:"struct_tags,omitempty"`        // Go
	IsAsync           bool     `json:"is_async,omitempty"`            // Python, JS, TS
	IsGeneric         bool     `json:"is_generic,omitempty"`          // Rust, Go, Java, TS
	Implements        []string `json:"implements,omitempty"`          // Java, TS
	Extends           []string `json:"extends,omitempty"`             // Java, TS, Python
	ReceiverType      string   `json:"receiver_type,omitempty"`       // Go, Rust impl
	IsPointerReceiver bool     `json:"is_pointer_receiver,omitempty"` // Go
	Lifetimes         []string `json:"lifetimes,omitempty"`           // Rust
	TraitBounds       []string `json:"trait_bounds,omitempty"`        // Rust generics
}

// InterfaceSignature is the structured record from spec §3.1.
type InterfaceSignature struct {
	Name           string           `json:"name"`
	Visibility     Visibility       `json:"visibility"`
	StartLine      int              `json:"start_line"`
	EndLine        int              `json:"end_line"`
	ModulePath     string           `json:"module_path,omitempty"`
	Documentation  string           `json:"documentation,omitempty"`
	LanguageSpecific LanguageSpecific `json:"language_specific,omitempty"`
}

// Metadata carries the extensible record from spec §3.1.
type Metadata struct {
	CreatedAt   string            `json:"created_at"`
	ModifiedAt  string            `json:"modified_at"`
	ContentHash string            `json:"content_hash,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Entity is one row of the CodeGraph relation (spec §3.1). lsp_meta_data is
// deliberately absent: the reference LSP integration is a stub that never
// emits real data (spec §9, "do not ship the stub") — see DESIGN.md.
type Entity struct {
	ISGL1Key    string `json:"isgl1_key"`
	CurrentCode string `json:"current_code,omitempty"`
	FutureCode  string `json:"future_code,omitempty"`

	InterfaceSignature InterfaceSignature `json:"interface_signature"`
	EntityClass        EntityClass        `json:"entity_class"`

	CurrentInd   bool         `json:"current_ind"`
	FutureInd    bool         `json:"future_ind"`
	FutureAction FutureAction `json:"future_action,omitempty"`

	Metadata Metadata `json:"metadata"`

	// Denormalized from the key for query convenience; recomputable via
	// keysynth.Parse(ISGL1Key) for line-based keys (hash keys are opaque).
	Language Language   `json:"language"`
	Kind     EntityKind `json:"kind"`
}

// State returns the entity's temporal state, or an error if the stored
// triple violates invariant 3 — this should never happen for entities that
// passed through Store.UpsertEntities or Store.UpdateTemporal, since both
// validate on the way in.
func (e Entity) State() (TemporalState, error) {
	return TemporalStateFromTriple(e.CurrentInd, e.FutureInd, e.FutureAction)
}

// ValidateCodeFields enforces invariant 4 (spec §3.3): Create requires
// future_code and no current_code; Edit requires both; Delete requires
// current_code.
func (e Entity) ValidateCodeFields() error {
	switch e.FutureAction {
	case ActionCreate:
		if e.FutureCode == "" || e.CurrentCode != "" {
			return fmt.Errorf("%s: Create requires future_code set and current_code absent", e.ISGL1Key)
		}
	case ActionEdit:
		if e.FutureCode == "" || e.CurrentCode == "" {
			return fmt.Errorf("%s: Edit requires both current_code and future_code", e.ISGL1Key)
		}
	case ActionDelete:
		if e.CurrentCode == "" {
			return fmt.Errorf("%s: Delete requires current_code", e.ISGL1Key)
		}
	}
	return nil
}

// DependencyEdge is one row of the DependencyEdges relation (spec §3.1),
// keyed by the composite (FromKey, ToKey, EdgeType) — invariant 5.
type DependencyEdge struct {
	FromKey        string   `json:"from_key"`
	ToKey          string   `json:"to_key"`
	EdgeType       EdgeType `json:"edge_type"`
	SourceLocation string   `json:"source_location,omitempty"`
}

// Key returns the composite primary key used for deduplication (spec invariant 5).
func (e DependencyEdge) Key() string {
	return e.FromKey + "\x00" + e.ToKey + "\x00" + string(e.EdgeType)
}
