package streamer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"parseltongue/internal/config"
	"parseltongue/internal/store"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// TestRunIndexesAndFlushes mirrors spec.md §8 scenario 1: a small Go tree
// indexes to the expected entity/edge counts.
func TestRunIndexesAndFlushes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.go", `package lib

func main() {
	helper()
}

func helper() {}
`)

	s := store.NewMemStore()
	defer s.Close()
	cfg := config.DefaultConfig().Streamer
	cfg.Workers = 2

	st := New(s, cfg)
	summary, err := st.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Status != "ok" {
		t.Fatalf("expected status ok, got %+v", summary)
	}
	if summary.FilesProcessed != 1 {
		t.Fatalf("expected 1 file processed, got %+v", summary)
	}
	if summary.EntitiesWritten != 2 {
		t.Fatalf("expected 2 entities written, got %+v", summary)
	}
	if summary.EdgesWritten != 1 {
		t.Fatalf("expected 1 edge written, got %+v", summary)
	}

	entities, err := s.ListEntities(store.EntityFilter{})
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	var mainKey string
	for _, e := range entities {
		if e.InterfaceSignature.Name == "main" {
			mainKey = e.ISGL1Key
		}
	}
	if mainKey == "" {
		t.Fatalf("expected a main entity, got %+v", entities)
	}
	edges, err := s.ForwardDeps(mainKey, nil)
	if err != nil {
		t.Fatalf("ForwardDeps: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 forward edge from main, got %+v", edges)
	}
	if edges[0].SourceLocation != "lib.go:4" {
		t.Errorf("SourceLocation = %q, want %q", edges[0].SourceLocation, "lib.go:4")
	}
}

// TestRunIsIdempotent mirrors spec.md §8's round-trip law: index(D); index(D)
// yields the same logical entity/edge sets as a single index(D).
func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lib.go", "package lib\n\nfunc solo() {}\n")

	s := store.NewMemStore()
	cfg := config.DefaultConfig().Streamer
	st := New(s, cfg)

	if _, err := st.Run(context.Background(), dir); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, err := s.ListEntities(store.EntityFilter{})
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}

	if _, err := st.Run(context.Background(), dir); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, err := s.ListEntities(store.EntityFilter{})
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("expected stable entity count across re-runs: %d vs %d", len(first), len(second))
	}
}

func TestRunSkipsOversizeFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.go", "package lib\n\nfunc f() {}\n")

	s := store.NewMemStore()
	cfg := config.DefaultConfig().Streamer
	cfg.MaxSizeBytes = 1 // smaller than the file we just wrote
	st := New(s, cfg)

	summary, err := st.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.FilesSkipped != 1 || summary.FilesProcessed != 0 {
		t.Fatalf("expected the oversize file to be skipped, got %+v", summary)
	}
}

func TestRunOnEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemStore()
	st := New(s, config.DefaultConfig().Streamer)

	summary, err := st.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run on empty directory should not error: %v", err)
	}
	if summary.Status != "ok" || summary.FilesProcessed != 0 {
		t.Fatalf("expected a clean empty-store run, got %+v", summary)
	}
}
