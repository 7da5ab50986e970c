package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	tstypescript "github.com/smacker/go-tree-sitter/typescript/typescript"

	"parseltongue/internal/keysynth"
	"parseltongue/internal/logging"
	"parseltongue/internal/types"
)

// languageSpec is the table a TreeSitterParser walks against: which grammar
// to load, which node types count as an entity, and how to read its name
// and visibility. Rust, Python, TypeScript, JavaScript and Java are similar
// enough (a tree-sitter grammar, a handful of declaration node types, an
// optional visibility modifier) that one walker parameterized this way
// replaces five near-duplicate per-language parsers.
type languageSpec struct {
	lang       types.Language
	extensions []string
	grammar    func() *sitter.Language
	nodeKinds  map[string]types.EntityKind
	nameField  string
	visibility func(n *sitter.Node, content []byte) types.Visibility
	callNode   string // node type representing a call expression
	calleeText func(n *sitter.Node, content []byte) string
}

func childHasType(n *sitter.Node, t string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == t {
			return true
		}
	}
	return false
}

var rustSpec = languageSpec{
	lang:       types.LangRust,
	extensions: []string{".rs"},
	grammar:    rust.GetLanguage,
	nodeKinds: map[string]types.EntityKind{
		"function_item": types.KindFunc,
		"struct_item":   types.KindStruct,
		"enum_item":     types.KindEnum,
		"trait_item":    types.KindTrait,
		"impl_item":     types.KindImpl,
		"mod_item":      types.KindMod,
	},
	nameField: "name",
	visibility: func(n *sitter.Node, content []byte) types.Visibility {
		if !childHasType(n, "visibility_modifier") {
			return types.VisibilityPrivate
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if c := n.Child(i); c.Type() == "visibility_modifier" && strings.HasPrefix(c.Content(content), "pub(") {
				return types.VisibilityCrate
			}
		}
		return types.VisibilityPublic
	},
	callNode: "call_expression",
	calleeText: func(n *sitter.Node, content []byte) string {
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return ""
		}
		return fn.Content(content)
	},
}

var pythonSpec = languageSpec{
	lang:       types.LangPython,
	extensions: []string{".py"},
	grammar:    python.GetLanguage,
	nodeKinds: map[string]types.EntityKind{
		"function_definition": types.KindFunc,
		"class_definition":    types.KindClass,
	},
	nameField: "name",
	visibility: func(n *sitter.Node, content []byte) types.Visibility {
		name := n.ChildByFieldName("name")
		if name == nil {
			return types.VisibilityPublic
		}
		text := name.Content(content)
		if strings.HasPrefix(text, "_") {
			return types.VisibilityPrivate
		}
		return types.VisibilityPublic
	},
	callNode: "call",
	calleeText: func(n *sitter.Node, content []byte) string {
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return ""
		}
		return fn.Content(content)
	},
}

var typescriptSpec = languageSpec{
	lang:       types.LangTypeScript,
	extensions: []string{".ts", ".tsx"},
	grammar:    tstypescript.GetLanguage,
	nodeKinds: map[string]types.EntityKind{
		"function_declaration":  types.KindFunc,
		"method_definition":     types.KindFunc,
		"class_declaration":     types.KindClass,
		"interface_declaration": types.KindInterface,
	},
	nameField: "name",
	visibility: func(n *sitter.Node, content []byte) types.Visibility {
		// export_statement wraps the declaration and tree-sitter exposes no
		// direct parent pointer here, so every declaration is reported as
		// Public; whether it is exported is not inspected.
		return types.VisibilityPublic
	},
	callNode: "call_expression",
	calleeText: func(n *sitter.Node, content []byte) string {
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return ""
		}
		return fn.Content(content)
	},
}

var javascriptSpec = languageSpec{
	lang:       types.LangJavaScript,
	extensions: []string{".js", ".jsx"},
	grammar:    javascript.GetLanguage,
	nodeKinds: map[string]types.EntityKind{
		"function_declaration": types.KindFunc,
		"method_definition":    types.KindFunc,
		"class_declaration":    types.KindClass,
	},
	nameField:  "name",
	visibility: typescriptSpec.visibility,
	callNode:   "call_expression",
	calleeText: typescriptSpec.calleeText,
}

var javaSpec = languageSpec{
	lang:       types.LangJava,
	extensions: []string{".java"},
	grammar:    java.GetLanguage,
	nodeKinds: map[string]types.EntityKind{
		"class_declaration":     types.KindClass,
		"interface_declaration": types.KindInterface,
		"method_declaration":    types.KindFunc,
	},
	nameField: "name",
	visibility: func(n *sitter.Node, content []byte) types.Visibility {
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child.Type() != "modifiers" {
				continue
			}
			if strings.Contains(child.Content(content), "public") {
				return types.VisibilityPublic
			}
			return types.VisibilityPrivate
		}
		// no modifiers node at all: package-private
		return types.VisibilityPrivate
	},
	callNode: "method_invocation",
	calleeText: func(n *sitter.Node, content []byte) string {
		name := n.ChildByFieldName("name")
		if name == nil {
			return ""
		}
		return name.Content(content)
	},
}

// TreeSitterParser implements Parser for one languageSpec.
type TreeSitterParser struct {
	spec   languageSpec
	parser *sitter.Parser
}

func NewTreeSitterParser(spec languageSpec) *TreeSitterParser {
	p := sitter.NewParser()
	p.SetLanguage(spec.grammar())
	return &TreeSitterParser{spec: spec, parser: p}
}

func (p *TreeSitterParser) Language() types.Language      { return p.spec.lang }
func (p *TreeSitterParser) SupportedExtensions() []string { return p.spec.extensions }

func (p *TreeSitterParser) Parse(path string, content []byte) ([]types.Entity, []types.DependencyEdge, []ParseError) {
	timer := logging.StartTimer(logging.CategoryParser, "TreeSitterParser.Parse:"+string(p.spec.lang))
	defer timer.Stop()

	tree, err := p.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, nil, []ParseError{{Message: err.Error()}}
	}
	defer tree.Close()

	lines := strings.Split(string(content), "\n")
	var entities []types.Entity
	nameKeys := make(map[string]string) // unqualified name -> key, for local call resolution

	var walkEntities func(n *sitter.Node)
	walkEntities = func(n *sitter.Node) {
		if kind, ok := p.spec.nodeKinds[n.Type()]; ok {
			if e, ok := p.buildEntity(n, kind, path, content, lines); ok {
				entities = append(entities, e)
				nameKeys[e.InterfaceSignature.Name] = e.ISGL1Key
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walkEntities(n.Child(i))
		}
	}
	walkEntities(tree.RootNode())

	var edges []types.DependencyEdge
	if p.spec.callNode != "" {
		edges = p.extractCallEdges(path, tree.RootNode(), content, nameKeys)
	}
	edges = append(edges, p.extractUsesEdges(path, tree.RootNode(), content, nameKeys)...)

	var errs []ParseError
	if tree.RootNode().HasError() {
		errs = append(errs, ParseError{Message: "syntax error: tree contains ERROR nodes; entities outside them were still extracted"})
	}
	return entities, edges, errs
}

func (p *TreeSitterParser) buildEntity(n *sitter.Node, kind types.EntityKind, path string, content []byte, lines []string) (types.Entity, bool) {
	nameNode := n.ChildByFieldName(p.spec.nameField)
	if nameNode == nil {
		return types.Entity{}, false
	}
	name := nameNode.Content(content)
	if name == "" {
		return types.Entity{}, false
	}
	start := int(n.StartPoint().Row) + 1
	end := int(n.EndPoint().Row) + 1
	key := keysynth.LineKey(p.spec.lang, kind, name, path, start, end)

	vis := types.VisibilityPublic
	if p.spec.visibility != nil {
		vis = p.spec.visibility(n, content)
	}

	return types.Entity{
		ISGL1Key:    key,
		CurrentCode: n.Content(content),
		CurrentInd:  true,
		FutureInd:   true,
		EntityClass: classify(path),
		Language:    p.spec.lang,
		Kind:        kind,
		InterfaceSignature: types.InterfaceSignature{
			Name:       name,
			Visibility: vis,
			StartLine:  start,
			EndLine:    end,
		},
		Metadata: types.Metadata{CreatedAt: nowRFC3339(), ModifiedAt: nowRFC3339()},
	}, true
}

// extractCallEdges mirrors GoParser's local-resolution approach: only calls
// to names declared in the same file become edges; calls to any other name
// produce no edge.
func (p *TreeSitterParser) extractCallEdges(path string, root *sitter.Node, content []byte, nameKeys map[string]string) []types.DependencyEdge {
	var edges []types.DependencyEdge

	// go-tree-sitter nodes carry no parent pointer, so track the enclosing
	// function by walking top-down instead of walking up from each call.
	var walk func(n *sitter.Node, currentKey string)
	walk = func(n *sitter.Node, currentKey string) {
		if kind, ok := p.spec.nodeKinds[n.Type()]; ok && kind == types.KindFunc {
			if nameNode := n.ChildByFieldName(p.spec.nameField); nameNode != nil {
				if key, ok := nameKeys[nameNode.Content(content)]; ok {
					currentKey = key
				}
			}
		}
		if n.Type() == p.spec.callNode && currentKey != "" && p.spec.calleeText != nil {
			callee := p.spec.calleeText(n, content)
			if to, ok := nameKeys[callee]; ok && to != currentKey {
				line := int(n.StartPoint().Row) + 1
				edges = append(edges, types.DependencyEdge{
					FromKey:        currentKey,
					ToKey:          to,
					EdgeType:       types.EdgeCalls,
					SourceLocation: fmt.Sprintf("%s:%d", path, line),
				})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), currentKey)
		}
	}
	walk(root, "")
	return dedupeEdges(edges)
}

// extractUsesEdges looks for a "type" field on any node beneath the nearest
// enclosing entity (a function's parameter/return type, a struct or class
// field's declared type) and, where that type names another entity declared
// in this same file, emits a Uses edge (spec §4.1: "type references in
// signatures, fields, local variable annotations"). Field-name conventions
// vary across grammars, so this is a best-effort pass: it catches every
// language whose grammar exposes a "type" field on the declaration node,
// which covers Rust, TypeScript, and Java; plain JavaScript and Python carry
// no static type annotations to resolve here.
func (p *TreeSitterParser) extractUsesEdges(path string, root *sitter.Node, content []byte, nameKeys map[string]string) []types.DependencyEdge {
	var edges []types.DependencyEdge
	seen := make(map[string]bool)

	var walk func(n *sitter.Node, currentKey string)
	walk = func(n *sitter.Node, currentKey string) {
		if _, ok := p.spec.nodeKinds[n.Type()]; ok {
			if nameNode := n.ChildByFieldName(p.spec.nameField); nameNode != nil {
				if key, ok := nameKeys[nameNode.Content(content)]; ok {
					currentKey = key
				}
			}
		}

		if typeNode := n.ChildByFieldName("type"); typeNode != nil && currentKey != "" {
			if to, ok := nameKeys[identifierText(typeNode, content)]; ok && to != currentKey {
				edgeKey := currentKey + "\x00" + to
				if !seen[edgeKey] {
					seen[edgeKey] = true
					line := int(n.StartPoint().Row) + 1
					edges = append(edges, types.DependencyEdge{
						FromKey:        currentKey,
						ToKey:          to,
						EdgeType:       types.EdgeUses,
						SourceLocation: fmt.Sprintf("%s:%d", path, line),
					})
				}
			}
		}

		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), currentKey)
		}
	}
	walk(root, "")
	return edges
}

// identifierText unwraps a type node (which may be a generic, array, or
// pointer/reference wrapper) down to the first bare identifier it contains.
func identifierText(n *sitter.Node, content []byte) string {
	switch n.Type() {
	case "identifier", "type_identifier":
		return n.Content(content)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if txt := identifierText(n.Child(i), content); txt != "" {
			return txt
		}
	}
	return ""
}

func dedupeEdges(edges []types.DependencyEdge) []types.DependencyEdge {
	seen := make(map[string]bool, len(edges))
	out := edges[:0]
	for _, e := range edges {
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		out = append(out, e)
	}
	return out
}
