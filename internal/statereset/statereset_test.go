package statereset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"parseltongue/internal/config"
	"parseltongue/internal/store"
	"parseltongue/internal/streamer"
	"parseltongue/internal/types"
)

// TestRunClearsFutureStateAndReindexes mirrors spec.md §8 scenario 3: a
// pending-create entity, once its file exists on disk, loses its future_*
// fields and gains a line-based key after reset.
func TestRunClearsFutureStateAndReindexes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "new_mod.go"), []byte("package newmod\n\nfunc myFn() {}\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	s := store.NewMemStore()
	// Simulate a pending-create entity staged before the file existed.
	pending := types.Entity{
		ISGL1Key:    "new_mod-myFn-fn-ab12cd34",
		FutureCode:  "func myFn() {}",
		CurrentInd:  false,
		FutureInd:   true,
		FutureAction: types.ActionCreate,
		EntityClass: types.ClassCode,
		Language:    types.LangGo,
		Kind:        types.KindFunc,
		InterfaceSignature: types.InterfaceSignature{Name: "myFn"},
	}
	if err := s.UpsertEntities([]types.Entity{pending}); err != nil {
		t.Fatalf("seed pending entity: %v", err)
	}

	st := streamer.New(s, config.DefaultConfig().Streamer)
	result, err := Run(context.Background(), s, st, dir, "", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Summary.Status != "ok" {
		t.Fatalf("expected re-index to succeed, got %+v", result)
	}

	_, found, err := s.EntityByKey(pending.ISGL1Key)
	if err != nil {
		t.Fatalf("EntityByKey: %v", err)
	}
	if found {
		t.Fatal("expected the hash-keyed pending entity to be gone after reset")
	}

	entities, err := s.ListEntities(store.EntityFilter{})
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	var myFn *types.Entity
	for i := range entities {
		if entities[i].InterfaceSignature.Name == "myFn" {
			myFn = &entities[i]
		}
	}
	if myFn == nil {
		t.Fatal("expected myFn to be re-indexed under a line-based key")
	}
	if myFn.FutureAction != types.ActionNone || !myFn.CurrentInd || !myFn.FutureInd {
		t.Fatalf("expected unchanged temporal state post-reset, got %+v", myFn)
	}
}

func TestDryRunLeavesStoreUntouched(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemStore()
	if err := s.UpsertEntities([]types.Entity{{
		ISGL1Key:    "go:fn:f:path:1-1",
		CurrentInd:  true,
		FutureInd:   true,
		EntityClass: types.ClassCode,
		Language:    types.LangGo,
		Kind:        types.KindFunc,
		InterfaceSignature: types.InterfaceSignature{Name: "f"},
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	st := streamer.New(s, config.DefaultConfig().Streamer)
	result, err := Run(context.Background(), s, st, dir, "", true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.DryRun {
		t.Fatal("expected DryRun=true in result")
	}

	entities, err := s.ListEntities(store.EntityFilter{})
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected the seeded entity to survive a dry run, got %d entities", len(entities))
	}
}
