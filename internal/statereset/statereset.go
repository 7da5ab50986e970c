// Package statereset implements StateReset (spec.md §4.7): drop both
// relations, recreate the schema, and re-run the Streamer over the project
// root so pending-future state (already materialized on disk by Stages 4/5)
// becomes the new current state.
package statereset

import (
	"context"
	"fmt"

	"parseltongue/internal/lockfile"
	"parseltongue/internal/logging"
	"parseltongue/internal/store"
	"parseltongue/internal/streamer"
)

// Result reports what StateReset did (SPEC_FULL.md §3 supplement: a
// structured result instead of bare side effects, consistent with the
// Streamer's Summary).
type Result struct {
	DryRun  bool
	Summary streamer.Summary
}

// Run executes the protocol in spec §4.7: drop, recreate, re-index.
//
// If dryRun is true (SPEC_FULL.md §3 supplement 2), no table is dropped and
// no re-index happens; Run only reports what it would have done. This
// exists because the protocol's failure semantics are unforgiving — "no
// rollback to the pre-reset state" — and a caller about to reset a
// production store benefits from a no-op preview first.
//
// lockPath is the advisory lock's base path (SPEC_FULL.md §3 supplement 5):
// Run holds "<lockPath>.lock" for the whole drop/recreate/re-index sequence,
// not just the re-index. An empty lockPath (the "mem" store, or callers that
// don't need cross-process coordination) makes locking a no-op.
func Run(ctx context.Context, s store.Store, st *streamer.Streamer, projectRoot, lockPath string, dryRun bool) (Result, error) {
	timer := logging.StartTimer(logging.CategoryReset, "Run")
	defer timer.Stop()

	if dryRun {
		logging.Reset("dry-run: would drop CodeGraph/DependencyEdges and re-index %s", projectRoot)
		return Result{DryRun: true}, nil
	}

	lock, err := lockfile.Acquire(lockPath, logging.ResetWarn)
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Release()

	logging.Reset("dropping CodeGraph")
	if err := s.DropTable(store.RelationCodeGraph); err != nil {
		return Result{}, fmt.Errorf("drop CodeGraph: %w", err)
	}
	logging.Reset("dropping DependencyEdges")
	if err := s.DropTable(store.RelationDependencyEdges); err != nil {
		return Result{}, fmt.Errorf("drop DependencyEdges: %w", err)
	}

	if err := s.CreateSchema(); err != nil {
		return Result{}, fmt.Errorf("recreate schema: %w", err)
	}

	// Per spec §4.7 failure semantics: if the re-index below fails, the
	// store is left empty but schema-present, and the caller (or the next
	// `index` invocation) must retry — no rollback is attempted.
	summary, err := st.Run(ctx, projectRoot)
	if err != nil {
		return Result{Summary: summary}, fmt.Errorf("re-index after reset: %w", err)
	}
	return Result{Summary: summary}, nil
}
