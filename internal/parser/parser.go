// Package parser implements the Parser stage (spec.md §4.1): turning a
// file's raw bytes into CodeGraph entities and (best-effort, locally
// resolvable) DependencyEdges. One Parser per language; Go uses go/ast
// directly (SPEC_FULL.md §0), everything else walks a tree-sitter grammar
// through the shared table-driven walker in treesitter.go.
package parser

import (
	"fmt"
	"path/filepath"

	"parseltongue/internal/types"
)

// ParseError is a non-fatal parse warning (spec §4.1: partial-parse
// recovery — a syntax error in one function must not drop the rest of
// the file).
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e ParseError) String() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// Parser extracts entities and edges from one file's content.
type Parser interface {
	// Parse never returns a fatal error for recoverable syntax problems;
	// it reports them via the ParseError slice and returns whatever
	// entities it could still recover.
	Parse(path string, content []byte) ([]types.Entity, []types.DependencyEdge, []ParseError)
	SupportedExtensions() []string
	Language() types.Language
}

// Registry dispatches a file to the Parser registered for its extension.
type Registry struct {
	byExt map[string]Parser
}

// NewRegistry builds the registry with one Parser per supported language.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Parser)}
	r.register(NewGoParser())
	r.register(NewTreeSitterParser(rustSpec))
	r.register(NewTreeSitterParser(pythonSpec))
	r.register(NewTreeSitterParser(typescriptSpec))
	r.register(NewTreeSitterParser(javascriptSpec))
	r.register(NewTreeSitterParser(javaSpec))
	return r
}

func (r *Registry) register(p Parser) {
	for _, ext := range p.SupportedExtensions() {
		r.byExt[ext] = p
	}
}

// ForPath returns the Parser registered for path's extension, or false if
// the file's language isn't supported (callers skip such files silently,
// per spec §4.6's streamer walk).
func (r *Registry) ForPath(path string) (Parser, bool) {
	p, ok := r.byExt[filepath.Ext(path)]
	return p, ok
}

// Parse is the one-shot convenience entrypoint the streamer uses per file.
func (r *Registry) Parse(path string, content []byte) ([]types.Entity, []types.DependencyEdge, []ParseError) {
	p, ok := r.ForPath(path)
	if !ok {
		return nil, nil, nil
	}
	return p.Parse(path, content)
}

// visibilityOf classifies an identifier the way Go does: capitalized is
// public. GoParser uses it; the tree-sitter languages apply their own
// rules in treesitter.go (Rust pub, Java modifiers, Python leading
// underscore, TypeScript/JavaScript always Public).
func visibilityOf(name string) types.Visibility {
	if len(name) > 0 && name[0] >= 'A' && name[0] <= 'Z' {
		return types.VisibilityPublic
	}
	return types.VisibilityPrivate
}
