package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"parseltongue/internal/mangle"
	"parseltongue/internal/queryengine"
	"parseltongue/internal/store"
	"parseltongue/internal/types"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Inspect entities and edges in the store (QueryEngine)",
}

var queryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entities, optionally filtered by language/kind/entity_class",
	RunE:  runQueryList,
}

var queryGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Look up a single entity by its ISGL1 key",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryGet,
}

var queryForwardCmd = &cobra.Command{
	Use:   "forward-deps <key>",
	Short: "List the outgoing dependency edges for a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryForward,
}

var queryReverseCmd = &cobra.Command{
	Use:   "reverse-deps <key>",
	Short: "List the incoming dependency edges for a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryReverse,
}

var queryChangedCmd = &cobra.Command{
	Use:   "changed",
	Short: "List entities with pending (non-None) future_action",
	RunE:  runQueryChanged,
}

var queryBlastRadiusCmd = &cobra.Command{
	Use:   "blast-radius <key>",
	Short: "Bounded BFS over reverse dependency edges from a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryBlastRadius,
}

var queryClosureCmd = &cobra.Command{
	Use:   "transitive-closure <key>",
	Short: "Walk forward or reverse dependency edges from a key until it terminates or hits max-depth",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryClosure,
}

var queryDatalogCmd = &cobra.Command{
	Use:   "datalog <query>",
	Short: "Ad hoc Datalog query over a one-shot Mangle hydration of the store (escape hatch)",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryDatalog,
}

var (
	filterLanguage string
	filterKind     string
	filterClass    string
	blastMaxHops   int
	closureDir     string
	closureMaxDep  int
)

func init() {
	queryListCmd.Flags().StringVar(&filterLanguage, "language", "", "filter by language (go, rust, python, js, ts, java)")
	queryListCmd.Flags().StringVar(&filterKind, "kind", "", "filter by entity kind (fn, struct, class, ...)")
	queryListCmd.Flags().StringVar(&filterClass, "class", "", "filter by entity_class (Code, Test)")

	queryBlastRadiusCmd.Flags().IntVar(&blastMaxHops, "max-hops", 0, "maximum hop count (0 uses the configured query_engine.max_hops)")

	queryClosureCmd.Flags().StringVar(&closureDir, "direction", "forward", "forward or reverse")
	queryClosureCmd.Flags().IntVar(&closureMaxDep, "max-depth", 0, "maximum depth (0 is unbounded)")

	queryCmd.AddCommand(
		queryListCmd,
		queryGetCmd,
		queryForwardCmd,
		queryReverseCmd,
		queryChangedCmd,
		queryBlastRadiusCmd,
		queryClosureCmd,
		queryDatalogCmd,
	)
}

func openEngine() (store.Store, *queryengine.Engine, error) {
	s, err := store.Open(cfg.Store.Connection)
	if err != nil {
		return nil, nil, fmt.Errorf("open store %q: %w", cfg.Store.Connection, err)
	}
	return s, queryengine.New(s), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runQueryList(cmd *cobra.Command, args []string) error {
	s, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	filter := store.EntityFilter{}
	if filterLanguage != "" {
		filter.Language = types.Language(filterLanguage)
	}
	if filterKind != "" {
		filter.EntityType = types.EntityKind(filterKind)
	}
	if filterClass != "" {
		filter.EntityClass = types.EntityClass(filterClass)
	}

	entities, err := eng.ListEntities(filter)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	return printJSON(entities)
}

func runQueryGet(cmd *cobra.Command, args []string) error {
	s, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	ent, found, err := eng.EntityByKey(args[0])
	if err != nil {
		return fmt.Errorf("entity by key: %w", err)
	}
	if !found {
		return fmt.Errorf("no entity with key %q", args[0])
	}
	return printJSON(ent)
}

func runQueryForward(cmd *cobra.Command, args []string) error {
	s, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	edges, err := eng.ForwardDeps(args[0], nil)
	if err != nil {
		return fmt.Errorf("forward deps: %w", err)
	}
	return printJSON(edges)
}

func runQueryReverse(cmd *cobra.Command, args []string) error {
	s, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	edges, err := eng.ReverseDeps(args[0], nil)
	if err != nil {
		return fmt.Errorf("reverse deps: %w", err)
	}
	return printJSON(edges)
}

func runQueryChanged(cmd *cobra.Command, args []string) error {
	s, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	entities, err := eng.ChangedEntities()
	if err != nil {
		return fmt.Errorf("changed entities: %w", err)
	}
	return printJSON(entities)
}

func runQueryBlastRadius(cmd *cobra.Command, args []string) error {
	s, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	hops := blastMaxHops
	if hops <= 0 {
		hops = cfg.QueryEngine.MaxHops
	}
	reachable, err := eng.BlastRadius(args[0], hops)
	if err != nil {
		return fmt.Errorf("blast radius: %w", err)
	}
	return printJSON(reachable)
}

func runQueryClosure(cmd *cobra.Command, args []string) error {
	s, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	dir := queryengine.DirectionForward
	if closureDir == "reverse" {
		dir = queryengine.DirectionReverse
	}

	reachable, err := eng.TransitiveClosure(args[0], dir, closureMaxDep)
	if err != nil {
		return fmt.Errorf("transitive closure: %w", err)
	}
	return printJSON(reachable)
}

func runQueryDatalog(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.Store.Connection)
	if err != nil {
		return fmt.Errorf("open store %q: %w", cfg.Store.Connection, err)
	}
	defer s.Close()

	e, err := mangle.HydrateFromStore(cmd.Context(), s)
	if err != nil {
		return fmt.Errorf("hydrate datalog engine: %w", err)
	}

	result, err := e.Query(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("datalog query: %w", err)
	}
	return printJSON(result)
}
