package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/iammorganparry/cmem/internal/models"
)

func init() {
	// Registers vec_* SQL functions on every new go-sqlite3 connection.
	sqlite_vec.Auto()
}

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// Querier is satisfied by both *sql.DB and *sql.Tx so store methods can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db}, nil
}

// WithTransaction runs fn inside a single transaction, committing on nil and
// rolling back on error or panic. fn must only use tx: with one open
// connection, touching db inside fn deadlocks.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping reports whether the database answers a trivial query.
func (db *DB) Ping(ctx context.Context) error {
	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// runMigrations applies incremental schema changes that were added after the
// initial schema. Each migration is idempotent so it is safe to call on every
// database open.
func runMigrations(db *sql.DB) error {
	// --- Migration v1: queue failure diagnostics ---
	hasLastError, err := columnExists(db, "queue_items", "last_error")
	if err != nil {
		return fmt.Errorf("check last_error column: %w", err)
	}
	if !hasLastError {
		migrations := []string{
			`ALTER TABLE queue_items ADD COLUMN last_error TEXT`,
			`ALTER TABLE queue_items ADD COLUMN failure_class TEXT`,
		}
		for _, m := range migrations {
			if _, err := db.Exec(m); err != nil {
				return fmt.Errorf("run migration v1: %w", err)
			}
		}
	}

	// --- Migration v2: per-project retention ---
	if err := runRetentionMigration(db); err != nil {
		return err
	}

	return nil
}

// runRetentionMigration creates the retention tables (Migration v2).
func runRetentionMigration(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS project_activity (
			project TEXT PRIMARY KEY,
			last_accessed_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS retention_policies (
			project TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL DEFAULT 1,
			pinned INTEGER NOT NULL DEFAULT 0,
			ttl_days INTEGER,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create retention tables: %w", err)
	}
	return nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  external_session_id TEXT NOT NULL UNIQUE,
  memory_session_id TEXT UNIQUE,
  project TEXT NOT NULL DEFAULT '',
  initial_prompt TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  started_at INTEGER NOT NULL,
  completed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project);

CREATE TABLE IF NOT EXISTS prompts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  external_session_id TEXT NOT NULL,
  prompt_number INTEGER NOT NULL,
  text TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  last_accessed_at INTEGER NOT NULL,
  deleted_at INTEGER,
  UNIQUE(external_session_id, prompt_number)
);

CREATE INDEX IF NOT EXISTS idx_prompts_created_at ON prompts(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_prompts_deleted_at ON prompts(deleted_at);

CREATE TABLE IF NOT EXISTS observations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  memory_session_id TEXT NOT NULL,
  project TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  subtitle TEXT,
  facts TEXT NOT NULL DEFAULT '[]',
  narrative TEXT NOT NULL DEFAULT '',
  concepts TEXT NOT NULL DEFAULT '[]',
  files_read TEXT NOT NULL DEFAULT '[]',
  files_modified TEXT NOT NULL DEFAULT '[]',
  prompt_number INTEGER NOT NULL DEFAULT 0,
  source_item_id INTEGER,
  created_at INTEGER NOT NULL,
  last_accessed_at INTEGER NOT NULL,
  deleted_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_observations_project ON observations(project);
CREATE INDEX IF NOT EXISTS idx_observations_created_at ON observations(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_observations_type ON observations(type);
CREATE INDEX IF NOT EXISTS idx_observations_deleted_at ON observations(deleted_at);
CREATE INDEX IF NOT EXISTS idx_observations_source ON observations(memory_session_id, source_item_id);

CREATE TABLE IF NOT EXISTS summaries (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  memory_session_id TEXT NOT NULL,
  project TEXT NOT NULL,
  request TEXT NOT NULL DEFAULT '',
  investigated TEXT NOT NULL DEFAULT '',
  learned TEXT NOT NULL DEFAULT '',
  completed TEXT NOT NULL DEFAULT '',
  next_steps TEXT NOT NULL DEFAULT '',
  notes TEXT,
  prompt_number INTEGER NOT NULL DEFAULT 0,
  source_item_id INTEGER,
  created_at INTEGER NOT NULL,
  last_accessed_at INTEGER NOT NULL,
  deleted_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_summaries_project ON summaries(project);
CREATE INDEX IF NOT EXISTS idx_summaries_created_at ON summaries(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_summaries_deleted_at ON summaries(deleted_at);
CREATE INDEX IF NOT EXISTS idx_summaries_source ON summaries(memory_session_id, source_item_id);

CREATE TABLE IF NOT EXISTS queue_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id INTEGER NOT NULL,
  external_session_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  dedupe_key TEXT,
  payload TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  retry_count INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  claimed_at INTEGER,
  failed_at INTEGER,
  UNIQUE(session_id, kind, dedupe_key)
);

CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status);
CREATE INDEX IF NOT EXISTS idx_queue_session_status ON queue_items(session_id, status, id);

CREATE TABLE IF NOT EXISTS dedupe_ledger (
  session_id INTEGER NOT NULL,
  kind TEXT NOT NULL,
  dedupe_key TEXT NOT NULL,
  queue_item_id INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  PRIMARY KEY (session_id, kind, dedupe_key)
);

CREATE TABLE IF NOT EXISTS observation_embeddings (
  observation_id INTEGER PRIMARY KEY,
  project TEXT NOT NULL,
  embedding BLOB NOT NULL,
  dimension INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observation_embeddings_project ON observation_embeddings(project);

CREATE TABLE IF NOT EXISTS embedding_cache (
  content_hash TEXT PRIMARY KEY,
  embedding BLOB NOT NULL,
  dimension INTEGER NOT NULL,
  model TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// columnExists checks if a column exists in a table. It properly closes the
// rows cursor before returning, avoiding deadlocks with MaxOpenConns(1).
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(
		fmt.Sprintf("SELECT name FROM pragma_table_info('%s') WHERE name = ?", table),
		column,
	)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}

// nowMillis is the store's clock. Timestamps are unix milliseconds.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// inClause returns "?,?,?" and the matching args for an IN (...) list.
func inClause[T any](values []T) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ","), args
}

// filterConditions builds the shared project/type/date conditions for a read.
// typeCol is empty for kinds without a type.
func filterConditions(f models.ListFilter, projectCol, createdCol, typeCol string) ([]string, []any) {
	var conditions []string
	var args []any

	if f.Project != "" {
		conditions = append(conditions, projectCol+" = ?")
		args = append(args, f.Project)
	}
	if typeCol != "" && len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		ph, typeArgs := inClause(types)
		conditions = append(conditions, fmt.Sprintf("%s IN (%s)", typeCol, ph))
		args = append(args, typeArgs...)
	}
	if f.From > 0 {
		conditions = append(conditions, createdCol+" >= ?")
		args = append(args, f.From)
	}
	if f.To > 0 {
		conditions = append(conditions, createdCol+" <= ?")
		args = append(args, f.To)
	}
	return conditions, args
}

// pageBounds normalizes page and limit the same way every list does.
func pageBounds(page, limit int) (int, int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	return page, limit, (page - 1) * limit
}
