package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"parseltongue/internal/logging"
	"parseltongue/internal/statereset"
	"parseltongue/internal/store"
	"parseltongue/internal/streamer"
)

var resetCmd = &cobra.Command{
	Use:   "reset [path]",
	Short: "Drop the store and re-index, clearing all pending future state (StateReset)",
	Long: `reset executes the protocol in spec §4.7: drop CodeGraph, drop
DependencyEdges, recreate the schema, then re-run the Streamer over path
(default: current directory). There is no rollback if re-indexing fails
partway through — the store is left schema-present but possibly empty.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

var resetDryRun bool

func init() {
	resetCmd.Flags().BoolVar(&resetDryRun, "dry-run", false, "report what would happen without dropping or re-indexing anything")
}

func runReset(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	s, err := store.Open(cfg.Store.Connection)
	if err != nil {
		return fmt.Errorf("open store %q: %w", cfg.Store.Connection, err)
	}
	defer s.Close()

	dbPath := dbFilePath(cfg.Store.Connection)
	st := streamer.New(s, cfg.Streamer)
	result, err := statereset.Run(cmd.Context(), s, st, root, dbPath, resetDryRun)
	if err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}

	if result.DryRun {
		fmt.Printf("dry-run: would drop CodeGraph/DependencyEdges and re-index %s\n", root)
		return nil
	}

	if err := writeSummarySidecar(dbPath, result.Summary); err != nil {
		logging.ResetWarn("failed to write summary sidecar: %v", err)
	}

	fmt.Printf("run_id:           %s\n", result.Summary.RunID)
	fmt.Printf("status:           %s\n", result.Summary.Status)
	fmt.Printf("files_processed:  %d\n", result.Summary.FilesProcessed)
	fmt.Printf("entities_written: %d\n", result.Summary.EntitiesWritten)
	fmt.Printf("edges_written:    %d\n", result.Summary.EdgesWritten)
	return nil
}
