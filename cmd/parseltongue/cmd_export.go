package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"parseltongue/internal/exporter"
	"parseltongue/internal/logging"
	"parseltongue/internal/store"
	"parseltongue/internal/types"
)

var exportCmd = &cobra.Command{
	Use:   "export <output.json>",
	Short: "Write a progressive-disclosure JSON snapshot of the store (Exporter)",
	Long: `export serializes the store's entities and edges at the requested
disclosure level (L0/L1/L2/Bulk), truncating and flagging "truncated": true
if the token budget would be exceeded rather than erroring.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var (
	exportLevel  string
	exportBudget int
)

func init() {
	exportCmd.Flags().StringVar(&exportLevel, "level", "L1", "disclosure level: L0, L1, L2, Bulk")
	exportCmd.Flags().IntVar(&exportBudget, "token-budget", 0, "token budget (0 uses the configured default)")
}

func runExport(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.Store.Connection)
	if err != nil {
		return fmt.Errorf("open store %q: %w", cfg.Store.Connection, err)
	}
	defer s.Close()

	level := exporter.Level(exportLevel)
	switch level {
	case exporter.LevelL0, exporter.LevelL1, exporter.LevelL2, exporter.LevelBulk:
	default:
		return fmt.Errorf("unknown export level %q (want L0, L1, L2, or Bulk)", exportLevel)
	}

	entities, err := s.ListEntities(store.EntityFilter{})
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}

	budget := exportBudget
	if budget <= 0 {
		budget = cfg.Exporter.DefaultTokenBudget
	}

	// The Store has no bulk edge listing, so edges are gathered per entity's
	// forward deps and deduped on their composite key.
	seen := make(map[string]bool)
	var edges []types.DependencyEdge
	for _, e := range entities {
		forward, err := s.ForwardDeps(e.ISGL1Key, nil)
		if err != nil {
			return fmt.Errorf("forward deps for %s: %w", e.ISGL1Key, err)
		}
		for _, edge := range forward {
			if key := edge.Key(); !seen[key] {
				seen[key] = true
				edges = append(edges, edge)
			}
		}
	}

	exp := exporter.Build(level, entities, edges, budget)

	if err := exporter.WriteFile(args[0], exp); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	logging.Export("exported %d nodes, %d edges at level %s (truncated=%v) to %s",
		exp.Metadata.NodeCount, exp.Metadata.EdgeCount, exp.Level, exp.Metadata.Truncated, args[0])
	fmt.Printf("wrote %s: %d nodes, %d edges, truncated=%v\n",
		args[0], exp.Metadata.NodeCount, exp.Metadata.EdgeCount, exp.Metadata.Truncated)
	return nil
}
