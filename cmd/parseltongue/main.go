// Package main implements the parseltongue CLI - one subcommand per pipeline
// stage, addressable per spec §6.4: `<stage> [--db <conn>] [stage-specific flags]`.
//
// # File Index
//
//	main.go      - entry point, rootCmd, global flags, init()
//	cmd_index.go - indexCmd (Streamer)
//	cmd_query.go - queryCmd and its subcommands (QueryEngine, Mangle escape hatch)
//	cmd_export.go - exportCmd (Exporter)
//	cmd_reset.go - resetCmd (StateReset)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"parseltongue/internal/config"
	"parseltongue/internal/logging"
)

var (
	// Global flags
	verbose    bool
	dbConn     string
	configPath string

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "parseltongue",
	Short: "Parseltongue - a six-stage semantic code-graph indexer",
	Long: `Parseltongue builds and serves a semantic code graph (entities, dependency
edges, and temporal create/edit/delete state) over a source tree.

Each stage of the pipeline is addressable as its own subcommand:

  index   - walk, parse, and write entities/edges into the store (Streamer)
  query   - list/inspect entities and edges, blast-radius, transitive-closure (QueryEngine)
  export  - emit a progressive-disclosure JSON snapshot (Exporter)
  reset   - drop and re-index the store, clearing pending future state (StateReset)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		ws, _ := os.Getwd()
		if err := logging.Initialize(ws); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if dbConn != "" {
			loaded.Store.Connection = dbConn
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&dbConn, "db", "", "store connection string: mem, sqlite:<path>, rocksdb:<path> (overrides config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "parseltongue.yaml", "path to YAML config file")

	rootCmd.AddCommand(indexCmd, queryCmd, exportCmd, resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
