package types

import (
	"fmt"
	"strings"

	"github.com/google/mangle/ast"
)

// MangleAtom represents a Mangle name constant (starting with /), kept as an
// explicit type to avoid ambiguity between plain strings and atoms when
// building Fact.Args.
type MangleAtom string

// Fact is a single Datalog fact hydrated from an Entity or DependencyEdge for
// the optional `query datalog` escape hatch (SPEC_FULL.md §3.4). The core
// catalog queries never go through Mangle; only ad hoc queries do.
type Fact struct {
	Predicate string
	Args      []interface{}
}

// String renders the Datalog text form, e.g. `code_edge("a", "b", /Calls).`.
func (f Fact) String() string {
	args := make([]string, 0, len(f.Args))
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case MangleAtom:
			args = append(args, string(v))
		case string:
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		case bool:
			if v {
				args = append(args, "/true")
			} else {
				args = append(args, "/false")
			}
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// ToAtom converts a Fact into a google/mangle AST atom for direct insertion
// into the engine's fact store, bypassing text parsing.
func (f Fact) ToAtom() (ast.Atom, error) {
	terms := make([]ast.BaseTerm, 0, len(f.Args))
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case MangleAtom:
			c, err := ast.Name(string(v))
			if err != nil {
				return ast.Atom{}, err
			}
			terms = append(terms, c)
		case string:
			if strings.HasPrefix(v, "/") {
				c, err := ast.Name(v)
				if err != nil {
					return ast.Atom{}, err
				}
				terms = append(terms, c)
			} else {
				terms = append(terms, ast.String(v))
			}
		case int:
			terms = append(terms, ast.Number(int64(v)))
		case int64:
			terms = append(terms, ast.Number(v))
		case bool:
			if v {
				terms = append(terms, ast.TrueConstant)
			} else {
				terms = append(terms, ast.FalseConstant)
			}
		default:
			terms = append(terms, ast.String(fmt.Sprintf("%v", v)))
		}
	}
	return ast.NewAtom(f.Predicate, terms...), nil
}

// EntityFacts projects an Entity into its Datalog facts:
// code_entity(Key, Name, Kind, Language, EntityClass).
// entity_visibility(Key, Visibility).
// entity_temporal(Key, CurrentInd, FutureInd, FutureAction).
func EntityFacts(key, name string, kind EntityKind, lang Language, class EntityClass, vis Visibility, currentInd, futureInd bool, action FutureAction) []Fact {
	facts := []Fact{
		{Predicate: "code_entity", Args: []interface{}{key, name, string(kind), string(lang), string(class)}},
		{Predicate: "entity_visibility", Args: []interface{}{key, string(vis)}},
		{Predicate: "entity_temporal", Args: []interface{}{key, currentInd, futureInd, string(action)}},
	}
	return facts
}

// EdgeFact projects a DependencyEdge into code_edge(From, To, Type, Location).
func EdgeFact(e DependencyEdge) Fact {
	return Fact{
		Predicate: "code_edge",
		Args:      []interface{}{e.FromKey, e.ToKey, string(e.EdgeType), e.SourceLocation},
	}
}
