package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"parseltongue/internal/logging"
	"parseltongue/internal/types"
)

// SQLiteStore is the "sqlite:<path>" backend (spec §6.1), a single-writer
// relational store over the two relations plus a secondary index on to_key
// for reverse_deps (spec §9, "maintain it explicitly as a second relation").
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteStore opens (or creates) the database at path, applying the same
// WAL/synchronous tuning the teacher's embedded store uses for single-writer
// workloads.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, newError(ErrIO, "create directory "+dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, newError(ErrIO, "open "+path, err)
	}
	db.SetMaxOpenConns(1) // single-writer model, spec §5
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL", // WAL already gives crash recovery
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreWarn("pragma %q failed: %v", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.CreateSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("sqlite store ready at %s", path)
	return s, nil
}

func (s *SQLiteStore) CreateSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS code_graph (
		isgl1_key            TEXT PRIMARY KEY,
		current_code          TEXT,
		future_code            TEXT,
		interface_signature    TEXT NOT NULL,
		entity_class           TEXT NOT NULL,
		current_ind            BOOLEAN NOT NULL,
		future_ind              BOOLEAN NOT NULL,
		future_action           TEXT,
		metadata                TEXT NOT NULL,
		language                TEXT NOT NULL,
		kind                    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_code_graph_kind ON code_graph(kind);
	CREATE INDEX IF NOT EXISTS idx_code_graph_language ON code_graph(language);
	CREATE INDEX IF NOT EXISTS idx_code_graph_future_action ON code_graph(future_action);

	CREATE TABLE IF NOT EXISTS dependency_edges (
		from_key         TEXT NOT NULL,
		to_key            TEXT NOT NULL,
		edge_type         TEXT NOT NULL,
		source_location   TEXT,
		PRIMARY KEY (from_key, to_key, edge_type)
	);
	CREATE INDEX IF NOT EXISTS idx_dependency_edges_to_key ON dependency_edges(to_key);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return newError(ErrSchemaMismatch, "create schema", err)
	}
	return nil
}

func (s *SQLiteStore) DropTable(name string) error {
	var table string
	switch name {
	case RelationCodeGraph:
		table = "code_graph"
	case RelationDependencyEdges:
		table = "dependency_edges"
	default:
		return newError(ErrConstraintViolation, "unknown relation "+name, nil)
	}
	if _, err := s.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
		return newError(ErrIO, "drop table "+table, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertEntities(batch []types.Entity) error {
	timer := logging.StartTimer(logging.CategoryStore, "SQLiteStore.UpsertEntities")
	defer timer.StopWithThreshold(sqliteBatchBudget(len(batch)))

	for _, e := range batch {
		if err := validateEntity(e); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return newError(ErrIO, "begin transaction", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO code_graph (isgl1_key, current_code, future_code, interface_signature, entity_class, current_ind, future_ind, future_action, metadata, language, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(isgl1_key) DO UPDATE SET
			current_code=excluded.current_code,
			future_code=excluded.future_code,
			interface_signature=excluded.interface_signature,
			entity_class=excluded.entity_class,
			current_ind=excluded.current_ind,
			future_ind=excluded.future_ind,
			future_action=excluded.future_action,
			metadata=excluded.metadata,
			language=excluded.language,
			kind=excluded.kind
	`)
	if err != nil {
		tx.Rollback()
		return newError(ErrIO, "prepare upsert", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		sig, err := json.Marshal(e.InterfaceSignature)
		if err != nil {
			tx.Rollback()
			return newError(ErrConstraintViolation, "marshal interface_signature", err)
		}
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			tx.Rollback()
			return newError(ErrConstraintViolation, "marshal metadata", err)
		}
		if _, err := stmt.Exec(e.ISGL1Key, e.CurrentCode, e.FutureCode, string(sig), string(e.EntityClass),
			e.CurrentInd, e.FutureInd, string(e.FutureAction), string(meta), string(e.Language), string(e.Kind)); err != nil {
			tx.Rollback()
			return newError(ErrTransactionAborted, "upsert entity "+e.ISGL1Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return newError(ErrTransactionAborted, "commit", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertEdges(batch []types.DependencyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return newError(ErrIO, "begin transaction", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO dependency_edges (from_key, to_key, edge_type, source_location)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(from_key, to_key, edge_type) DO UPDATE SET source_location=excluded.source_location
	`)
	if err != nil {
		tx.Rollback()
		return newError(ErrIO, "prepare upsert", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.FromKey, e.ToKey, string(e.EdgeType), e.SourceLocation); err != nil {
			tx.Rollback()
			return newError(ErrTransactionAborted, "upsert edge", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return newError(ErrTransactionAborted, "commit", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTemporal(key string, delta TemporalDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok, err := s.entityByKeyLocked(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	next, err := applyTemporalDelta(e, delta)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return newError(ErrIO, "begin transaction", err)
	}
	if _, err := tx.Exec(`UPDATE code_graph SET future_code=?, future_ind=?, future_action=? WHERE isgl1_key=?`,
		next.FutureCode, next.FutureInd, string(next.FutureAction), key); err != nil {
		tx.Rollback()
		return newError(ErrTransactionAborted, "update temporal", err)
	}
	if err := tx.Commit(); err != nil {
		return newError(ErrTransactionAborted, "commit", err)
	}
	return nil
}

func (s *SQLiteStore) entityByKeyLocked(key string) (types.Entity, bool, error) {
	row := s.db.QueryRow(`
		SELECT isgl1_key, current_code, future_code, interface_signature, entity_class, current_ind, future_ind, future_action, metadata, language, kind
		FROM code_graph WHERE isgl1_key = ?`, key)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return types.Entity{}, false, nil
	}
	if err != nil {
		return types.Entity{}, false, newError(ErrIO, "scan entity", err)
	}
	return e, true, nil
}

func (s *SQLiteStore) EntityByKey(key string) (types.Entity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entityByKeyLocked(key)
}

func (s *SQLiteStore) ListEntities(filter EntityFilter) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT isgl1_key, current_code, future_code, interface_signature, entity_class, current_ind, future_ind, future_action, metadata, language, kind FROM code_graph WHERE 1=1`
	var args []interface{}
	if filter.EntityType != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.EntityType))
	}
	if filter.EntityClass != "" {
		query += " AND entity_class = ?"
		args = append(args, string(filter.EntityClass))
	}
	if filter.KeyPrefix != "" {
		query += " AND isgl1_key LIKE ?"
		args = append(args, filter.KeyPrefix+"%")
	}
	if filter.ChangedOnly {
		query += " AND future_action IS NOT NULL AND future_action != ''"
	}
	if filter.Language != "" {
		query += " AND language = ?"
		args = append(args, string(filter.Language))
	}
	query += " ORDER BY isgl1_key"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, newError(ErrIO, "list entities", err)
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, newError(ErrIO, "scan entity row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ChangedEntities() ([]types.Entity, error) {
	return s.ListEntities(EntityFilter{ChangedOnly: true})
}

func (s *SQLiteStore) forwardOrReverse(column, key string, edgeTypes []types.EdgeType) ([]types.DependencyEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT from_key, to_key, edge_type, source_location FROM dependency_edges WHERE %s = ?`, column)
	args := []interface{}{key}
	if len(edgeTypes) > 0 {
		placeholders := ""
		for i, t := range edgeTypes {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, string(t))
		}
		query += " AND edge_type IN (" + placeholders + ")"
	}
	query += " ORDER BY from_key, to_key"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, newError(ErrIO, "query edges", err)
	}
	defer rows.Close()

	var out []types.DependencyEdge
	for rows.Next() {
		var e types.DependencyEdge
		var loc sql.NullString
		if err := rows.Scan(&e.FromKey, &e.ToKey, &e.EdgeType, &loc); err != nil {
			return nil, newError(ErrIO, "scan edge", err)
		}
		e.SourceLocation = loc.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ForwardDeps(key string, edgeTypes []types.EdgeType) ([]types.DependencyEdge, error) {
	return s.forwardOrReverse("from_key", key, edgeTypes)
}

func (s *SQLiteStore) ReverseDeps(key string, edgeTypes []types.EdgeType) ([]types.DependencyEdge, error) {
	return s.forwardOrReverse("to_key", key, edgeTypes)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row scanner) (types.Entity, error) {
	var e types.Entity
	var currentCode, futureCode, futureAction sql.NullString
	var sig, meta string
	if err := row.Scan(&e.ISGL1Key, &currentCode, &futureCode, &sig, &e.EntityClass, &e.CurrentInd, &e.FutureInd, &futureAction, &meta, &e.Language, &e.Kind); err != nil {
		return types.Entity{}, err
	}
	e.CurrentCode = currentCode.String
	e.FutureCode = futureCode.String
	e.FutureAction = types.FutureAction(futureAction.String)
	if err := json.Unmarshal([]byte(sig), &e.InterfaceSignature); err != nil {
		return types.Entity{}, err
	}
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return types.Entity{}, err
	}
	return e, nil
}

// sqliteBatchBudget derives a performance-contract threshold from batch size
// (spec §4.3: single insert <5ms, batch of 100 <50ms) for StopWithThreshold
// to warn against, without hard-failing on a budget overrun.
func sqliteBatchBudget(n int) time.Duration {
	if n <= 1 {
		return 5 * time.Millisecond
	}
	return time.Duration(n) * 500 * time.Microsecond
}
