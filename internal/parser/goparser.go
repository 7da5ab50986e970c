package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"time"

	"parseltongue/internal/keysynth"
	"parseltongue/internal/logging"
	"parseltongue/internal/types"
)

// GoParser extracts entities from Go source using go/ast — the one
// language in the catalog with a standard-library grammar good enough
// that reaching for tree-sitter would be redundant (SPEC_FULL.md §0).
type GoParser struct{}

func NewGoParser() *GoParser { return &GoParser{} }

func (p *GoParser) Language() types.Language     { return types.LangGo }
func (p *GoParser) SupportedExtensions() []string { return []string{".go"} }

func (p *GoParser) Parse(path string, content []byte) ([]types.Entity, []types.DependencyEdge, []ParseError) {
	timer := logging.StartTimer(logging.CategoryParser, "GoParser.Parse")
	defer timer.Stop()

	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if node == nil {
		return nil, nil, []ParseError{{Message: err.Error()}}
	}

	lines := strings.Split(string(content), "\n")
	pkgName := node.Name.Name

	// receiver type name -> its struct/interface entity, for method
	// Implements-style linking and for Uses field/parameter resolution.
	typeKeys := make(map[string]string)
	structLine := make(map[string]int)
	ifaceMethods := make(map[string][]string) // interface name -> declared method names
	structSpecs := make(map[string]*ast.StructType)

	for _, decl := range node.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok || genDecl.Tok != token.TYPE {
			continue
		}
		for _, spec := range genDecl.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			start, end := fset.Position(ts.Pos()).Line, fset.Position(ts.End()).Line
			switch t := ts.Type.(type) {
			case *ast.InterfaceType:
				typeKeys[ts.Name.Name] = keysynth.LineKey(types.LangGo, types.KindInterface, ts.Name.Name, path, start, end)
				ifaceMethods[ts.Name.Name] = interfaceMethodNames(t)
			case *ast.StructType:
				typeKeys[ts.Name.Name] = keysynth.LineKey(types.LangGo, types.KindStruct, ts.Name.Name, path, start, end)
				structLine[ts.Name.Name] = start
				structSpecs[ts.Name.Name] = t
			default:
				typeKeys[ts.Name.Name] = keysynth.LineKey(types.LangGo, types.KindStruct, ts.Name.Name, path, start, end)
			}
		}
	}

	var entities []types.Entity
	var edges []types.DependencyEdge
	var errs []ParseError
	if err != nil {
		// go/parser still returns the declarations it could recover.
		errs = append(errs, ParseError{Message: err.Error()})
	}

	// funcKeys maps an unqualified function/method name to its key so that
	// calls within this file resolve immediately; calls to names not
	// declared in this file produce no edge.
	funcKeys := make(map[string]string)
	structMethods := make(map[string]map[string]bool) // receiver type name -> method name set

	for _, decl := range node.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e := p.funcEntity(fset, d, path, pkgName, lines, typeKeys)
			entities = append(entities, e)
			funcKeys[funcLookupName(d)] = e.ISGL1Key

			if d.Recv != nil && len(d.Recv.List) > 0 {
				recvType, _ := extractReceiverTypeInfo(d.Recv.List[0].Type)
				if structMethods[recvType] == nil {
					structMethods[recvType] = make(map[string]bool)
				}
				structMethods[recvType][d.Name.Name] = true
			}

		case *ast.GenDecl:
			es, perr := p.genDeclEntities(fset, d, path, pkgName, lines)
			entities = append(entities, es...)
			errs = append(errs, perr...)
		}
	}

	for _, decl := range node.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		from, ok := funcKeys[funcLookupName(fd)]
		if !ok {
			continue
		}
		edges = append(edges, extractCallEdges(fset, path, fd, from, funcKeys)...)
		edges = append(edges, usesEdgesForFunc(fset, path, fd, from, typeKeys)...)
	}

	edges = append(edges, implementsEdges(path, typeKeys, structLine, ifaceMethods, structMethods)...)
	for name, st := range structSpecs {
		edges = append(edges, usesEdgesForStruct(fset, path, typeKeys[name], st, typeKeys)...)
	}

	return entities, edges, errs
}

// interfaceMethodNames collects the directly declared method names of an
// interface; embedded interfaces are left unexpanded — Implements checks
// against them only through their own explicit methods, a conservative
// under-approximation rather than a wrong over-approximation.
func interfaceMethodNames(it *ast.InterfaceType) []string {
	if it.Methods == nil {
		return nil
	}
	var names []string
	for _, field := range it.Methods.List {
		if _, ok := field.Type.(*ast.FuncType); !ok {
			continue // embedded interface name, not a method
		}
		for _, n := range field.Names {
			names = append(names, n.Name)
		}
	}
	return names
}

// implementsEdges emits an Implements edge from every struct type declared in
// this file to every interface type (declared in this file) whose full
// method set the struct satisfies — interface satisfaction is statically
// checkable from the method-name sets already collected during the type and
// function-declaration passes, without needing full type-checking.
func implementsEdges(path string, typeKeys map[string]string, structLine map[string]int, ifaceMethods map[string][]string, structMethods map[string]map[string]bool) []types.DependencyEdge {
	var edges []types.DependencyEdge
	for structName, line := range structLine {
		structKey := typeKeys[structName]
		methods := structMethods[structName]
		for ifaceName, want := range ifaceMethods {
			if len(want) == 0 {
				continue // the empty interface is satisfied by everything; not informative
			}
			ifaceKey := typeKeys[ifaceName]
			if satisfiesAll(methods, want) {
				edges = append(edges, types.DependencyEdge{
					FromKey:        structKey,
					ToKey:          ifaceKey,
					EdgeType:       types.EdgeImplements,
					SourceLocation: fmt.Sprintf("%s:%d", path, line),
				})
			}
		}
	}
	return edges
}

func satisfiesAll(have map[string]bool, want []string) bool {
	if have == nil {
		return false
	}
	for _, m := range want {
		if !have[m] {
			return false
		}
	}
	return true
}

// usesEdgesForStruct emits a Uses edge for every field whose declared type
// resolves to another type declared in this file (spec §4.1: "type
// references in signatures, fields, local variable annotations").
func usesEdgesForStruct(fset *token.FileSet, path, fromKey string, st *ast.StructType, typeKeys map[string]string) []types.DependencyEdge {
	if st.Fields == nil || fromKey == "" {
		return nil
	}
	var edges []types.DependencyEdge
	seen := make(map[string]bool)
	for _, field := range st.Fields.List {
		toKey, ok := typeKeys[baseTypeName(field.Type)]
		if !ok || toKey == fromKey || seen[toKey] {
			continue
		}
		seen[toKey] = true
		line := fset.Position(field.Pos()).Line
		edges = append(edges, types.DependencyEdge{
			FromKey:        fromKey,
			ToKey:          toKey,
			EdgeType:       types.EdgeUses,
			SourceLocation: fmt.Sprintf("%s:%d", path, line),
		})
	}
	return edges
}

// usesEdgesForFunc emits a Uses edge for every parameter, result, and local
// variable annotation whose declared type resolves to another type declared
// in this file.
func usesEdgesForFunc(fset *token.FileSet, path string, d *ast.FuncDecl, fromKey string, typeKeys map[string]string) []types.DependencyEdge {
	var edges []types.DependencyEdge
	seen := make(map[string]bool)

	add := func(expr ast.Expr, pos token.Pos) {
		toKey, ok := typeKeys[baseTypeName(expr)]
		if !ok || toKey == fromKey || seen[toKey] {
			return
		}
		seen[toKey] = true
		line := fset.Position(pos).Line
		edges = append(edges, types.DependencyEdge{
			FromKey:        fromKey,
			ToKey:          toKey,
			EdgeType:       types.EdgeUses,
			SourceLocation: fmt.Sprintf("%s:%d", path, line),
		})
	}

	if d.Type.Params != nil {
		for _, f := range d.Type.Params.List {
			add(f.Type, f.Pos())
		}
	}
	if d.Type.Results != nil {
		for _, f := range d.Type.Results.List {
			add(f.Type, f.Pos())
		}
	}
	if d.Body != nil {
		ast.Inspect(d.Body, func(n ast.Node) bool {
			decl, ok := n.(*ast.GenDecl)
			if !ok || decl.Tok != token.VAR {
				return true
			}
			for _, spec := range decl.Specs {
				vs, ok := spec.(*ast.ValueSpec)
				if !ok || vs.Type == nil {
					continue
				}
				add(vs.Type, vs.Pos())
			}
			return true
		})
	}
	return edges
}

// baseTypeName unwraps pointer/slice type expressions to the underlying
// identifier, or "" for qualified (cross-package) and otherwise unresolvable
// expressions — cross-file/cross-package Uses resolution is left to a future
// whole-project pass, same as call edges.
func baseTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return baseTypeName(t.X)
	case *ast.ArrayType:
		return baseTypeName(t.Elt)
	default:
		return ""
	}
}

func funcLookupName(d *ast.FuncDecl) string {
	if d.Recv != nil && len(d.Recv.List) > 0 {
		recv, _ := extractReceiverTypeInfo(d.Recv.List[0].Type)
		return recv + "." + d.Name.Name
	}
	return d.Name.Name
}

func (p *GoParser) funcEntity(fset *token.FileSet, d *ast.FuncDecl, path, pkgName string, lines []string, typeKeys map[string]string) types.Entity {
	name := d.Name.Name
	start, end := fset.Position(d.Pos()).Line, fset.Position(d.End()).Line

	kind := types.KindFunc
	var langSpecific types.LanguageSpecific
	if d.Recv != nil && len(d.Recv.List) > 0 {
		recvType, isPointer := extractReceiverTypeInfo(d.Recv.List[0].Type)
		langSpecific.ReceiverType = recvType
		langSpecific.IsPointerReceiver = isPointer
	}
	if d.Type.TypeParams != nil && len(d.Type.TypeParams.List) > 0 {
		langSpecific.IsGeneric = true
	}

	sig := signatureLine(lines, start)
	body := extractBody(lines, start, end)
	key := keysynth.LineKey(types.LangGo, kind, name, path, start, end)

	return types.Entity{
		ISGL1Key:    key,
		CurrentCode: body,
		CurrentInd:  true,
		FutureInd:   true,
		EntityClass: classify(path),
		Language:    types.LangGo,
		Kind:        kind,
		InterfaceSignature: types.InterfaceSignature{
			Name:             name,
			Visibility:       visibilityOf(name),
			StartLine:        start,
			EndLine:          end,
			ModulePath:       pkgName,
			Documentation:    d.Doc.Text(),
			LanguageSpecific: langSpecific,
		},
		Metadata: types.Metadata{
			CreatedAt:  nowRFC3339(),
			ModifiedAt: nowRFC3339(),
			Extra:      map[string]string{"signature": sig},
		},
	}
}

func (p *GoParser) genDeclEntities(fset *token.FileSet, d *ast.GenDecl, path, pkgName string, lines []string) ([]types.Entity, []ParseError) {
	if d.Tok != token.TYPE {
		return nil, nil
	}
	var out []types.Entity
	for _, spec := range d.Specs {
		ts, ok := spec.(*ast.TypeSpec)
		if !ok {
			continue
		}
		kind := types.KindFunc // placeholder, overwritten below
		switch ts.Type.(type) {
		case *ast.StructType:
			kind = types.KindStruct
		case *ast.InterfaceType:
			kind = types.KindInterface
		default:
			continue // type aliases aren't modeled as a distinct EntityKind
		}
		start, end := fset.Position(ts.Pos()).Line, fset.Position(ts.End()).Line
		if d.Lparen == 0 {
			start, end = fset.Position(d.Pos()).Line, fset.Position(d.End()).Line
		}
		name := ts.Name.Name
		key := keysynth.LineKey(types.LangGo, kind, name, path, start, end)
		out = append(out, types.Entity{
			ISGL1Key:    key,
			CurrentCode: extractBody(lines, start, end),
			CurrentInd:  true,
			FutureInd:   true,
			EntityClass: classify(path),
			Language:    types.LangGo,
			Kind:        kind,
			InterfaceSignature: types.InterfaceSignature{
				Name:          name,
				Visibility:    visibilityOf(name),
				StartLine:     start,
				EndLine:       end,
				ModulePath:    pkgName,
				Documentation: d.Doc.Text(),
			},
			Metadata: types.Metadata{CreatedAt: nowRFC3339(), ModifiedAt: nowRFC3339()},
		})
	}
	return out, nil
}

// extractCallEdges walks a function body for call expressions that resolve
// to another function/method declared in the same file (spec §3.1's Calls
// edge type). Calls into other packages or stdlib are out of scope for a
// single-file parse and are left for a future cross-file resolution pass.
func extractCallEdges(fset *token.FileSet, path string, d *ast.FuncDecl, from string, funcKeys map[string]string) []types.DependencyEdge {
	var edges []types.DependencyEdge
	if d.Body == nil {
		return edges
	}
	seen := make(map[string]bool)
	ast.Inspect(d.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		name := calleeLookupName(call.Fun)
		if name == "" {
			return true
		}
		to, ok := funcKeys[name]
		if !ok || to == from || seen[to] {
			return true
		}
		seen[to] = true
		line := fset.Position(call.Pos()).Line
		edges = append(edges, types.DependencyEdge{
			FromKey:        from,
			ToKey:          to,
			EdgeType:       types.EdgeCalls,
			SourceLocation: fmt.Sprintf("%s:%d", path, line),
		})
		return true
	})
	return edges
}

func calleeLookupName(expr ast.Expr) string {
	switch f := expr.(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		if ident, ok := f.X.(*ast.Ident); ok {
			return ident.Name + "." + f.Sel.Name
		}
		return f.Sel.Name
	}
	return ""
}

func extractReceiverTypeInfo(expr ast.Expr) (typeName string, isPointer bool) {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name, false
	case *ast.StarExpr:
		name, _ := extractReceiverTypeInfo(t.X)
		return name, true
	}
	return "", false
}

func signatureLine(lines []string, line int) string {
	if line > 0 && line <= len(lines) {
		return strings.TrimSpace(lines[line-1])
	}
	return ""
}

func extractBody(lines []string, start, end int) string {
	if start < 1 || end > len(lines) || start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// classify implements the entity_class half of tdd_classification (spec §3.1,
// §9): anything under a _test.go / test_ / .test. naming convention is Test,
// everything else is Code.
func classify(path string) types.EntityClass {
	lower := strings.ToLower(path)
	if strings.Contains(lower, "_test.") || strings.Contains(lower, "/test_") || strings.Contains(lower, ".test.") {
		return types.ClassTest
	}
	return types.ClassCode
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
