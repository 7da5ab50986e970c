package parser

import (
	"strings"
	"testing"

	"parseltongue/internal/types"
)

func TestGoParser_Parse(t *testing.T) {
	content := []byte(`package sample

type User struct {
	ID   int
	Name string
}

func NewUser(id int, name string) *User {
	return &User{ID: id, Name: name}
}

func (u *User) GetName() string {
	return describe(u)
}

func describe(u *User) string {
	return u.Name
}
`)
	p := NewGoParser()

	if got := p.SupportedExtensions(); len(got) != 1 || got[0] != ".go" {
		t.Fatalf("SupportedExtensions() = %v", got)
	}
	if p.Language() != types.LangGo {
		t.Fatalf("Language() = %q", p.Language())
	}

	entities, edges, errs := p.Parse("sample.go", content)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if len(entities) != 4 {
		t.Fatalf("expected 4 entities (User, NewUser, GetName, describe), got %d: %+v", len(entities), entityNames(entities))
	}

	var getName, describeKey string
	for _, e := range entities {
		switch e.InterfaceSignature.Name {
		case "GetName":
			getName = e.ISGL1Key
		case "describe":
			describeKey = e.ISGL1Key
		}
	}
	if getName == "" || describeKey == "" {
		t.Fatalf("missing expected entities in %+v", entityNames(entities))
	}

	var callEdge *types.DependencyEdge
	for i := range edges {
		if edges[i].FromKey == getName && edges[i].ToKey == describeKey && edges[i].EdgeType == types.EdgeCalls {
			callEdge = &edges[i]
		}
	}
	if callEdge == nil {
		t.Fatalf("expected a Calls edge GetName -> describe, got %+v", edges)
	}
	if callEdge.SourceLocation != "sample.go:13" {
		t.Errorf("SourceLocation = %q, want %q", callEdge.SourceLocation, "sample.go:13")
	}

	var userKey string
	for _, e := range entities {
		if e.InterfaceSignature.Name == "User" {
			userKey = e.ISGL1Key
		}
	}

	usesFound := false
	for _, e := range edges {
		if e.ToKey == userKey && e.EdgeType == types.EdgeUses {
			usesFound = true
			if !strings.HasPrefix(e.SourceLocation, "sample.go:") {
				t.Errorf("Uses edge SourceLocation = %q, want sample.go:<line>", e.SourceLocation)
			}
		}
	}
	if !usesFound {
		t.Fatalf("expected at least one Uses edge into User, got %+v", edges)
	}
}

func TestGoParser_ImplementsEdge(t *testing.T) {
	content := []byte(`package sample

type Greeter interface {
	Greet() string
}

type englishGreeter struct{}

func (g *englishGreeter) Greet() string {
	return "hello"
}

type mute struct{}
`)
	p := NewGoParser()
	entities, edges, errs := p.Parse("greeter.go", content)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}

	var greeterKey, englishKey, muteKey string
	for _, e := range entities {
		switch e.InterfaceSignature.Name {
		case "Greeter":
			greeterKey = e.ISGL1Key
		case "englishGreeter":
			englishKey = e.ISGL1Key
		case "mute":
			muteKey = e.ISGL1Key
		}
	}
	if greeterKey == "" || englishKey == "" || muteKey == "" {
		t.Fatalf("missing expected type entities in %+v", entityNames(entities))
	}

	var implementsEdge *types.DependencyEdge
	for i := range edges {
		if edges[i].EdgeType == types.EdgeImplements {
			implementsEdge = &edges[i]
		}
	}
	if implementsEdge == nil {
		t.Fatalf("expected an Implements edge, got %+v", edges)
	}
	if implementsEdge.FromKey != englishKey || implementsEdge.ToKey != greeterKey {
		t.Errorf("Implements edge = %+v, want englishGreeter -> Greeter", implementsEdge)
	}
	if implementsEdge.SourceLocation == "" {
		t.Error("Implements edge SourceLocation should not be empty")
	}

	for _, e := range edges {
		if e.EdgeType == types.EdgeImplements && e.FromKey == muteKey {
			t.Fatalf("mute does not implement Greet(), should not get an Implements edge: %+v", e)
		}
	}
}

func TestGoParser_PartialRecoveryOnSyntaxError(t *testing.T) {
	p := NewGoParser()
	_, _, errs := p.Parse("broken.go", []byte("package broken\nfunc (("))
	if len(errs) == 0 {
		t.Fatal("expected a ParseError for invalid syntax")
	}
}

func TestTreeSitterParser_Rust(t *testing.T) {
	content := []byte(`
pub struct Point {
    x: i32,
    y: i32,
}

fn helper() -> i32 {
    42
}

pub fn compute() -> i32 {
    helper()
}
`)
	p := NewTreeSitterParser(rustSpec)
	if p.Language() != types.LangRust {
		t.Fatalf("Language() = %q", p.Language())
	}

	entities, edges, errs := p.Parse("lib.rs", content)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	names := entityNames(entities)
	if !names["Point"] || !names["helper"] || !names["compute"] {
		t.Fatalf("missing expected entities: %+v", names)
	}

	var pointEntity types.Entity
	for _, e := range entities {
		if e.InterfaceSignature.Name == "Point" {
			pointEntity = e
		}
	}
	if pointEntity.InterfaceSignature.Visibility != types.VisibilityPublic {
		t.Fatalf("expected Point to be public, got %+v", pointEntity.InterfaceSignature)
	}

	if len(edges) == 0 {
		t.Fatal("expected a Calls edge compute -> helper")
	}
}

func TestTreeSitterParser_Python(t *testing.T) {
	content := []byte(`
class Greeter:
    def greet(self, name):
        return _format(name)

def _format(name):
    return "hi " + name
`)
	p := NewTreeSitterParser(pythonSpec)
	entities, _, errs := p.Parse("greeter.py", content)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	names := entityNames(entities)
	if !names["Greeter"] || !names["greet"] || !names["_format"] {
		t.Fatalf("missing expected entities: %+v", names)
	}
	for _, e := range entities {
		if e.InterfaceSignature.Name == "_format" && e.InterfaceSignature.Visibility != types.VisibilityPrivate {
			t.Fatalf("expected leading-underscore name to be private, got %v", e.InterfaceSignature.Visibility)
		}
	}
}

func TestTreeSitterParser_Java(t *testing.T) {
	content := []byte(`
public class Greeter {
    public String greet(String name) {
        return format(name);
    }

    private String format(String name) {
        return "hi " + name;
    }
}
`)
	p := NewTreeSitterParser(javaSpec)
	if p.Language() != types.LangJava {
		t.Fatalf("Language() = %q", p.Language())
	}
	if got := p.SupportedExtensions(); len(got) != 1 || got[0] != ".java" {
		t.Fatalf("SupportedExtensions() = %v", got)
	}

	entities, edges, errs := p.Parse("Greeter.java", content)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	names := entityNames(entities)
	if !names["Greeter"] || !names["greet"] || !names["format"] {
		t.Fatalf("missing expected entities: %+v", names)
	}

	var greet, format string
	for _, e := range entities {
		switch e.InterfaceSignature.Name {
		case "greet":
			greet = e.ISGL1Key
			if e.InterfaceSignature.Visibility != types.VisibilityPublic {
				t.Errorf("greet should be public, got %v", e.InterfaceSignature.Visibility)
			}
		case "format":
			format = e.ISGL1Key
			if e.InterfaceSignature.Visibility != types.VisibilityPrivate {
				t.Errorf("format should be private, got %v", e.InterfaceSignature.Visibility)
			}
		}
	}

	found := false
	for _, e := range edges {
		if e.FromKey == greet && e.ToKey == format && e.EdgeType == types.EdgeCalls {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a Calls edge greet -> format, got %+v", edges)
	}
}

func entityNames(entities []types.Entity) map[string]bool {
	out := make(map[string]bool, len(entities))
	for _, e := range entities {
		out[e.InterfaceSignature.Name] = true
	}
	return out
}
