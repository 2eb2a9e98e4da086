// Package store persists traces, spans, replay runs, and prompt versions in a
// single embedded SQLite file. Foreign keys enforce the ownership chain
// (trace → span → {replay run, prompt version}) with cascade delete.
//
// Writes go through a unit-of-work Tx obtained from Begin; everything inside
// one Tx is visible to later statements in the same Tx and becomes durable on
// Commit. The aggregator (aggregate.go) runs inside the same Tx as the span
// write so trace rollups can never drift from committed spans.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS traces (
	trace_id       TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	start_time     REAL NOT NULL,
	end_time       REAL,
	span_count     INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'unset',
	total_cost_usd REAL NOT NULL DEFAULT 0,
	total_tokens   INTEGER NOT NULL DEFAULT 0,
	tags           TEXT NOT NULL DEFAULT '{}',
	sdk_language   TEXT,
	created_at     REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traces_created_at ON traces(created_at);
CREATE INDEX IF NOT EXISTS idx_traces_status ON traces(status);

CREATE TABLE IF NOT EXISTS spans (
	span_id        TEXT PRIMARY KEY,
	trace_id       TEXT NOT NULL,
	parent_span_id TEXT,
	name           TEXT NOT NULL,
	span_type      TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'unset',
	error_message  TEXT,
	start_time     REAL NOT NULL,
	end_time       REAL,
	attributes     TEXT NOT NULL DEFAULT '{}',
	annotations    TEXT NOT NULL DEFAULT '[]',
	sdk_language   TEXT,
	FOREIGN KEY (trace_id) REFERENCES traces(trace_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_spans_trace_id ON spans(trace_id);
CREATE INDEX IF NOT EXISTS idx_spans_parent_span_id ON spans(parent_span_id);
CREATE INDEX IF NOT EXISTS idx_spans_name ON spans(name);
CREATE INDEX IF NOT EXISTS idx_spans_start_time ON spans(start_time);
CREATE INDEX IF NOT EXISTS idx_spans_span_type ON spans(span_type);

CREATE TABLE IF NOT EXISTS replay_runs (
	replay_id      TEXT PRIMARY KEY,
	span_id        TEXT NOT NULL,
	trace_id       TEXT NOT NULL,
	modified_input TEXT NOT NULL DEFAULT '{}',
	new_output     TEXT NOT NULL DEFAULT '',
	diff_old       TEXT NOT NULL DEFAULT '',
	diff_new       TEXT NOT NULL DEFAULT '',
	diff_changed   INTEGER NOT NULL DEFAULT 0,
	created_at     REAL NOT NULL,
	FOREIGN KEY (span_id) REFERENCES spans(span_id) ON DELETE CASCADE,
	FOREIGN KEY (trace_id) REFERENCES traces(trace_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_replay_runs_span_id ON replay_runs(span_id);

CREATE TABLE IF NOT EXISTS prompt_versions (
	version_id  TEXT PRIMARY KEY,
	span_id     TEXT NOT NULL,
	prompt_text TEXT NOT NULL,
	label       TEXT,
	created_at  REAL NOT NULL,
	FOREIGN KEY (span_id) REFERENCES spans(span_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_prompt_versions_span_id ON prompt_versions(span_id);
`

// Store is the embedded database handle. Safe for concurrent use; SQLite
// serializes writers on the single pooled connection.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and ensures the schema
// is current. The parent directory is created automatically.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// One writer at a time; modernc/sqlite returns SQLITE_BUSY under
	// concurrent writers otherwise.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: initialize schema: %w", err)
	}
	return nil
}

// migrate applies forward-only column additions so databases created by older
// releases keep working. Defaults match what the code expects to read.
func (s *Store) migrate() error {
	type columnAdd struct {
		table, column, ddl string
	}
	adds := []columnAdd{
		{"spans", "annotations", `ALTER TABLE spans ADD COLUMN annotations TEXT NOT NULL DEFAULT '[]'`},
		{"spans", "sdk_language", `ALTER TABLE spans ADD COLUMN sdk_language TEXT`},
		{"traces", "sdk_language", `ALTER TABLE traces ADD COLUMN sdk_language TEXT`},
	}
	for _, add := range adds {
		ok, err := s.hasColumn(add.table, add.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := s.db.Exec(add.ddl); err != nil {
			return fmt.Errorf("store: add column %s.%s: %w", add.table, add.column, err)
		}
		s.logger.Info("applied schema migration", "table", add.table, "column", add.column)
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("store: inspect table %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Begin starts a unit of work.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats summarizes database size and row counts for the /stats endpoint.
type Stats struct {
	DatabaseSizeBytes int64 `json:"database_size_bytes"`
	TraceCount        int64 `json:"trace_count"`
	SpanCount         int64 `json:"span_count"`
	ReplayRunCount    int64 `json:"replay_run_count"`
	PromptVersionCnt  int64 `json:"prompt_version_count"`
}

// Stats returns current database statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseSizeBytes = info.Size()
	}
	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM traces", &stats.TraceCount},
		{"SELECT COUNT(*) FROM spans", &stats.SpanCount},
		{"SELECT COUNT(*) FROM replay_runs", &stats.ReplayRunCount},
		{"SELECT COUNT(*) FROM prompt_versions", &stats.PromptVersionCnt},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("store: count rows: %w", err)
		}
	}
	return stats, nil
}
