package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"parseltongue/internal/logging"
	"parseltongue/internal/store"
	"parseltongue/internal/streamer"
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Walk a source tree and write its entities/edges into the store",
	Long: `index runs the Streamer: it walks the given path (default: current
directory), parses every file the configured include/exclude globs admit,
and flushes entities and dependency edges to the store in batches.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	s, err := store.Open(cfg.Store.Connection)
	if err != nil {
		return fmt.Errorf("open store %q: %w", cfg.Store.Connection, err)
	}
	defer s.Close()

	if err := s.CreateSchema(); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	dbPath := dbFilePath(cfg.Store.Connection)
	st := streamer.New(s, cfg.Streamer).WithLockPath(dbPath)
	logger.Info("indexing", zap.String("root", root), zap.String("store", cfg.Store.Connection))

	summary, err := st.Run(cmd.Context(), root)
	if err != nil {
		return fmt.Errorf("index run failed: %w", err)
	}
	if err := writeSummarySidecar(dbPath, summary); err != nil {
		logging.StreamerWarn("failed to write summary sidecar: %v", err)
	}

	fmt.Printf("run_id:           %s\n", summary.RunID)
	fmt.Printf("status:           %s\n", summary.Status)
	fmt.Printf("files_processed:  %d\n", summary.FilesProcessed)
	fmt.Printf("files_skipped:    %d\n", summary.FilesSkipped)
	fmt.Printf("files_failed:     %d\n", summary.FilesFailed)
	fmt.Printf("entities_written: %d\n", summary.EntitiesWritten)
	fmt.Printf("edges_written:    %d\n", summary.EdgesWritten)
	if len(summary.Warnings) > 0 {
		fmt.Printf("warnings:\n")
		for _, w := range summary.Warnings {
			fmt.Printf("  %s: %s\n", w.Path, w.Message)
		}
	}

	logging.Streamer("index run %s complete: %d files, %d entities, %d edges",
		summary.RunID, summary.FilesProcessed, summary.EntitiesWritten, summary.EdgesWritten)

	if summary.Status != "ok" {
		return fmt.Errorf("index run finished with status %q", summary.Status)
	}
	return nil
}
