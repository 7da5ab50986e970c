package mangle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewEngine_LoadsCodeGraphSchema(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	for _, pred := range []string{PredicateCodeEntity, PredicateEntityVisibility, PredicateEntityTemporal, PredicateCodeEdge} {
		if _, err := engine.GetFacts(pred); err != nil {
			t.Errorf("GetFacts(%s) on a fresh engine should succeed (predicate declared), got: %v", pred, err)
		}
	}
}

func TestEngineAddFact_CodeEntity(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	err = engine.AddFact(PredicateCodeEntity, "go:fn:main:main.go:1-3", "main", "fn", "go", "code")
	if err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}

	facts, err := engine.GetFacts(PredicateCodeEntity)
	if err != nil {
		t.Fatalf("GetFacts() error = %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 code_entity fact, got %d", len(facts))
	}
	if name, ok := facts[0].Args[1].(string); !ok || name != "main" {
		t.Errorf("expected arg 1 to be %q, got %+v", "main", facts[0].Args[1])
	}
}

func TestEngineAddFacts_CodeEdge(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	edges := []Fact{
		{Predicate: PredicateCodeEdge, Args: []interface{}{"main_key", "helper_key", "/Calls", "src/lib.rs:1"}},
		{Predicate: PredicateCodeEdge, Args: []interface{}{"helper_key", "util_key", "/Calls", "src/lib.rs:5"}},
	}
	if err := engine.AddFacts(edges); err != nil {
		t.Fatalf("AddFacts() error = %v", err)
	}

	facts, err := engine.GetFacts(PredicateCodeEdge)
	if err != nil {
		t.Fatalf("GetFacts() error = %v", err)
	}
	if len(facts) != 2 {
		t.Errorf("expected 2 code_edge facts, got %d", len(facts))
	}
}

func TestEngineQuery_CodeEdge(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if err := engine.AddFact(PredicateCodeEdge, "main_key", "helper_key", "/Calls", "src/lib.rs:1"); err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := engine.Query(ctx, "code_edge(From, To, Type, Location)")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d: %+v", len(result.Bindings), result.Bindings)
	}
	if result.Bindings[0]["From"] != "main_key" || result.Bindings[0]["To"] != "helper_key" {
		t.Errorf("unexpected binding: %+v", result.Bindings[0])
	}
}

func TestEngineQuery_UndeclaredPredicate(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if _, err := engine.Query(context.Background(), "not_a_real_predicate(X)"); err == nil {
		t.Fatal("Query() against an undeclared predicate should fail")
	}
}

func TestEngineClear(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if err := engine.AddFact(PredicateCodeEntity, "k", "n", "fn", "go", "code"); err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}

	engine.Clear()

	facts, err := engine.GetFacts(PredicateCodeEntity)
	if err != nil {
		t.Fatalf("GetFacts() after Clear() error = %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("GetFacts() after Clear() returned %d facts, want 0", len(facts))
	}
}

func TestEngineGetStats(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if err := engine.AddFact(PredicateCodeEntity, "k", "n", "fn", "go", "code"); err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}

	stats := engine.GetStats()
	if stats.TotalFacts < 1 {
		t.Errorf("Stats.TotalFacts = %d, want >= 1", stats.TotalFacts)
	}
	if stats.PredicateCounts[PredicateCodeEntity] != 1 {
		t.Errorf("PredicateCounts[code_entity] = %d, want 1", stats.PredicateCounts[PredicateCodeEntity])
	}
}

func TestFactString(t *testing.T) {
	tests := []struct {
		name string
		fact Fact
		want string
	}{
		{
			name: "code entity",
			fact: Fact{Predicate: PredicateCodeEntity, Args: []interface{}{"k", "main", "fn", "go", "code"}},
			want: `code_entity("k", "main", "fn", "go", "code").`,
		},
		{
			name: "code edge with name constant",
			fact: Fact{Predicate: PredicateCodeEdge, Args: []interface{}{"a", "b", "/Calls", "f.go:1"}},
			want: `code_edge("a", "b", /Calls, "f.go:1").`,
		},
		{
			name: "int arg",
			fact: Fact{Predicate: "num", Args: []interface{}{int64(42)}},
			want: `num(42).`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fact.String(); got != tt.want {
				t.Errorf("Fact.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FactLimit != 100000 {
		t.Errorf("FactLimit = %d, want 100000", cfg.FactLimit)
	}
	if cfg.QueryTimeout != 30 {
		t.Errorf("QueryTimeout = %d, want 30", cfg.QueryTimeout)
	}
	if !cfg.AutoEval {
		t.Error("AutoEval should be true by default")
	}
}

func TestFactLimitEnforcement(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FactLimit = 3
	cfg.AutoEval = false
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	// Keys must be distinct: identical facts dedupe in the fact store and
	// never increment factCount, so repeating one fact would never trip
	// the limit.
	for i, key := range []string{"k1", "k2", "k3"} {
		if err := engine.AddFact(PredicateCodeEntity, key, "n", "fn", "go", "code"); err != nil {
			t.Fatalf("AddFact() #%d should succeed under limit: %v", i, err)
		}
	}

	err = engine.AddFact(PredicateCodeEntity, "k4", "n", "fn", "go", "code")
	if err == nil {
		t.Fatal("AddFact() should have returned an error when exceeding FactLimit")
	}
	if !strings.Contains(err.Error(), "fact limit exceeded") {
		t.Errorf("expected 'fact limit exceeded' error, got: %v", err)
	}
}

func TestPredicateArityMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoEval = false
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if err := engine.AddFact(PredicateCodeEntity, "only_one_arg"); err == nil {
		t.Error("AddFact with too few args should fail (arity mismatch)")
	}
	if err := engine.AddFact(PredicateCodeEntity, "a", "b", "c", "d", "e", "f"); err == nil {
		t.Error("AddFact with too many args should fail (arity mismatch)")
	}
	if err := engine.AddFact(PredicateCodeEntity, "k", "n", "fn", "go", "code"); err != nil {
		t.Fatalf("AddFact with correct arity should succeed: %v", err)
	}
}

func TestUndeclaredPredicateRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoEval = false
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if err := engine.AddFact("not_in_the_schema", "x"); err == nil {
		t.Error("AddFact against an undeclared predicate should fail")
	}
}

func TestPartialBatchFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoEval = false
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	// One fact in the batch has the wrong arity; AddFacts is not atomic, so
	// the valid facts ahead of it may already be inserted by the time it fails.
	batch := []Fact{
		{Predicate: PredicateCodeEntity, Args: []interface{}{"a", "n", "fn", "go", "code"}},
		{Predicate: PredicateCodeEntity, Args: []interface{}{"bad_arity"}},
	}
	if err := engine.AddFacts(batch); err == nil {
		t.Fatal("AddFacts with an arity mismatch in the batch should fail")
	}

	facts, _ := engine.GetFacts(PredicateCodeEntity)
	if len(facts) != 1 {
		t.Errorf("expected the one valid fact ahead of the bad one to survive, got %d", len(facts))
	}
}

func TestEdgeTypeStoredAsLiteralString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoEval = false
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	// code_edge's Type column is bound /string, not /name, so a leading "/"
	// is kept as ordinary string content rather than promoted to an atom:
	// "/Calls" and "Calls" are distinct facts, not the same one twice.
	if err := engine.AddFact(PredicateCodeEdge, "a", "b", "/Calls", "f.go:1"); err != nil {
		t.Fatalf("AddFact with leading-slash arg failed: %v", err)
	}
	if err := engine.AddFact(PredicateCodeEdge, "a", "b", "Calls", "f.go:1"); err != nil {
		t.Fatalf("AddFact with identifier-like string failed: %v", err)
	}

	facts, err := engine.GetFacts(PredicateCodeEdge)
	if err != nil {
		t.Fatalf("GetFacts() error = %v", err)
	}
	if len(facts) != 2 {
		t.Errorf("expected 2 distinct facts ('Calls' != '/Calls' as /string content), got %d", len(facts))
	}
}

func TestConcurrentAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoEval = false
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	const goroutines = 10
	const factsPerGoroutine = 50
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			for i := 0; i < factsPerGoroutine; i++ {
				key := strings.Repeat("k", 1) + string(rune('a'+gid))
				_ = engine.AddFact(PredicateCodeEntity, key, "n", "fn", "go", "code")
			}
		}(g)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = engine.GetFacts(PredicateCodeEntity)
		}
	}()

	wg.Wait()

	if _, err := engine.GetFacts(PredicateCodeEntity); err != nil {
		t.Fatalf("GetFacts() after concurrent access: %v", err)
	}
}

func TestEngineTemporalFact(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoEval = false
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if err := engine.AddFact(PredicateEntityTemporal, "k", true, false, "Delete"); err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}
	facts, err := engine.GetFacts(PredicateEntityTemporal)
	if err != nil {
		t.Fatalf("GetFacts() error = %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	if len(facts[0].Args) != 4 {
		t.Fatalf("expected 4 args, got %+v", facts[0].Args)
	}
}
