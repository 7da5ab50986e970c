// Package streamer implements end-to-end directory indexing (spec.md §4.6):
// walk -> filter -> parse -> synthesize keys -> batch -> flush, with
// file-level worker parallelism (golang.org/x/sync/errgroup) and a single
// serialized write path through the Store.
package streamer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"parseltongue/internal/config"
	"parseltongue/internal/keysynth"
	"parseltongue/internal/lockfile"
	"parseltongue/internal/logging"
	"parseltongue/internal/parser"
	"parseltongue/internal/store"
	"parseltongue/internal/types"
)

// Warning is a non-fatal, file-scoped problem encountered during a run
// (spec §7: "File-level errors never abort a run").
type Warning struct {
	Path    string
	Message string
}

// Summary is the run report (spec §7: "counts of files processed/skipped/
// failed, entities/edges inserted, warnings list, and a single top-level
// status") — SPEC_FULL.md §3 supplement adds RunID for correlating a run
// across log lines and a sidecar JSON.
type Summary struct {
	RunID          string
	FilesProcessed int
	FilesSkipped   int
	FilesFailed    int
	EntitiesWritten int
	EdgesWritten    int
	Warnings       []Warning
	Status         string // "ok" or "failed"
}

// Streamer orchestrates one indexing run against a Store.
type Streamer struct {
	store    store.Store
	registry *parser.Registry
	cfg      config.StreamerConfig
	lockPath string
}

func New(s store.Store, cfg config.StreamerConfig) *Streamer {
	return &Streamer{store: s, registry: parser.NewRegistry(), cfg: cfg}
}

// WithLockPath sets the advisory lock file's base path (SPEC_FULL.md §3
// supplement 5); Run takes the lock at "<path>.lock" for its duration. An
// unset or empty path (the default, and always the case for the "mem"
// store) makes locking a no-op.
func (s *Streamer) WithLockPath(path string) *Streamer {
	s.lockPath = path
	return s
}

// Run walks root, applying include/exclude globs, and indexes every
// surviving file (spec §4.6 pipeline steps 1-5).
func (s *Streamer) Run(ctx context.Context, root string) (Summary, error) {
	runID := uuid.NewString()
	timer := logging.StartTimer(logging.CategoryStreamer, "Run")
	defer timer.Stop()
	logging.Streamer("run %s: indexing %s", runID, root)

	lock, err := lockfile.Acquire(s.lockPath, logging.StreamerWarn)
	if err != nil {
		return Summary{RunID: runID, Status: "failed"}, fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Release()

	paths, err := s.walk(root)
	if err != nil {
		return Summary{RunID: runID, Status: "failed"}, err
	}

	existingHashes, err := s.contentHashesByPath()
	if err != nil {
		return Summary{RunID: runID, Status: "failed"}, fmt.Errorf("load existing content hashes: %w", err)
	}

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	var mu sync.Mutex
	summary := Summary{RunID: runID}

	var pendingEntities []types.Entity
	var pendingEdges []types.DependencyEdge

	flush := func() error {
		if len(pendingEntities) == 0 && len(pendingEdges) == 0 {
			return nil
		}
		if len(pendingEntities) > 0 {
			if err := s.store.UpsertEntities(pendingEntities); err != nil {
				return fmt.Errorf("flush entities: %w", err)
			}
			summary.EntitiesWritten += len(pendingEntities)
		}
		if len(pendingEdges) > 0 {
			if err := s.store.UpsertEdges(pendingEdges); err != nil {
				return fmt.Errorf("flush edges: %w", err)
			}
			summary.EdgesWritten += len(pendingEdges)
		}
		pendingEntities = nil
		pendingEdges = nil
		return nil
	}

	results := make(chan fileResult, workers*2)

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)

	go func() {
		defer close(results)
		var wg sync.WaitGroup
		for _, p := range paths {
			p := p
			select {
			case <-gctx.Done():
				return
			default:
			}
			wg.Add(1)
			sem <- struct{}{}
			g.Go(func() error {
				defer wg.Done()
				defer func() { <-sem }()
				results <- s.parseOne(root, p, existingHashes)
				return nil
			})
		}
		wg.Wait()
	}()

	for r := range results {
		mu.Lock()
		switch {
		case r.skipped:
			summary.FilesSkipped++
		case r.warning != nil:
			summary.FilesFailed++
			summary.Warnings = append(summary.Warnings, *r.warning)
		default:
			summary.FilesProcessed++
			pendingEntities = append(pendingEntities, r.entities...)
			pendingEdges = append(pendingEdges, r.edges...)
			if len(pendingEntities) >= batchSize {
				if err := flush(); err != nil {
					summary.Status = "failed"
					mu.Unlock()
					return summary, err
				}
			}
		}
		mu.Unlock()
	}

	if err := g.Wait(); err != nil {
		summary.Status = "failed"
		return summary, err
	}
	if err := flush(); err != nil {
		summary.Status = "failed"
		return summary, err
	}

	summary.Status = "ok"
	logging.Streamer("run %s: processed=%d skipped=%d failed=%d entities=%d edges=%d",
		runID, summary.FilesProcessed, summary.FilesSkipped, summary.FilesFailed, summary.EntitiesWritten, summary.EdgesWritten)
	return summary, nil
}

// fileResult is one worker's parse outcome, fed back to the single
// flush-owning goroutine over the results channel.
type fileResult struct {
	path     string
	entities []types.Entity
	edges    []types.DependencyEdge
	skipped  bool
	warning  *Warning
}

func (s *Streamer) parseOne(root, path string, existingHashes map[string]string) fileResult {
	p, ok := s.registry.ForPath(path)
	if !ok {
		return fileResult{path: path, skipped: true}
	}
	// Keys and edge locations use the path relative to the indexed root.
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	info, err := os.Stat(path)
	if err != nil {
		return fileResult{path: path, warning: &Warning{Path: path, Message: err.Error()}}
	}
	maxSize := s.cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = 2 << 20
	}
	if info.Size() > maxSize {
		return fileResult{path: path, skipped: true}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fileResult{path: path, warning: &Warning{Path: path, Message: err.Error()}}
	}

	// content_hash fast-path (SPEC_FULL.md §3 supplement 6): a file whose
	// bytes are unchanged since the last index run already has correct
	// entities on record, so it's skipped rather than re-parsed.
	hash := hashContent(content)
	if existingHashes[keysynth.Sanitize(rel)] == hash {
		return fileResult{path: path, skipped: true}
	}

	entities, edges, parseErrs := p.Parse(rel, content)
	if len(entities) == 0 && len(parseErrs) > 0 {
		// hard error: nothing recoverable
		return fileResult{path: path, warning: &Warning{Path: path, Message: parseErrs[0].String()}}
	}
	for i := range entities {
		entities[i].Metadata.ContentHash = hash
	}
	for _, pe := range parseErrs {
		logging.StreamerWarn("%s: %s", path, pe.String())
	}
	return fileResult{path: path, entities: entities, edges: edges}
}

func (s *Streamer) walk(root string) ([]string, error) {
	include := s.cfg.IncludeGlobs
	if len(include) == 0 {
		include = []string{"**/*"}
	}

	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		if !matchesAny(include, rel) {
			return nil
		}
		if matchesAny(s.cfg.ExcludeGlobs, rel) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// matchesAny checks rel against a set of globs. filepath.Match doesn't
// support "**", so a leading/trailing "**/" segment is treated as "match
// anywhere under this directory" — sufficient for the include/exclude
// patterns spec §4.6 and SPEC_FULL.md's default config use.
func matchesAny(globs []string, rel string) bool {
	if len(globs) == 0 {
		return true
	}
	relSlash := filepath.ToSlash(rel)
	for _, g := range globs {
		if globMatch(g, relSlash) {
			return true
		}
	}
	return false
}

func globMatch(pattern, path string) bool {
	pattern = filepath.ToSlash(pattern)
	switch {
	case pattern == "**/*":
		return true
	case len(pattern) > 4 && pattern[:3] == "**/" && pattern[len(pattern)-2:] == "/**":
		mid := pattern[3 : len(pattern)-2]
		return containsSegment(path, mid)
	case len(pattern) > 3 && pattern[:3] == "**/":
		suffix := pattern[3:]
		ok, _ := filepath.Match(suffix, filepath.Base(path))
		return ok || containsSegment(path, suffix)
	default:
		ok, _ := filepath.Match(pattern, path)
		return ok
	}
}

func containsSegment(path, segment string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// hashContent is the xxhash64 of a file's bytes, rendered as hex — the same
// family of hash keysynth.HashKey uses, kept consistent across the codebase.
func hashContent(content []byte) string {
	return strconv.FormatUint(xxhash.Sum64(content), 16)
}

// contentHashesByPath snapshots the store's current content_hash per
// sanitized path, once per run, so parseOne's fast-path check never needs a
// per-file store round trip.
func (s *Streamer) contentHashesByPath() (map[string]string, error) {
	entities, err := s.store.ListEntities(store.EntityFilter{})
	if err != nil {
		return nil, err
	}
	hashes := make(map[string]string, len(entities))
	for _, e := range entities {
		if e.Metadata.ContentHash == "" {
			continue
		}
		parts, err := keysynth.Parse(e.ISGL1Key)
		if err != nil {
			continue // hash-keyed pending entities have no on-disk path
		}
		hashes[parts.SanitizedPath] = e.Metadata.ContentHash
	}
	return hashes, nil
}
