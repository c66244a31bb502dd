// Package store provides the SQLite-backed document store for brandrag.
// It persists per-user vector records, feedback events and aggregates, the
// system configuration document, and per-user rate-limit overrides.
//
// All tables are partitioned by user_id; no query reads across users except
// ListUsers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/brandrag/internal/apperr"
)

// SQLiteStore is the document store backed by a local SQLite database.
// It is safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the database.
// It resolves to ~/.brandrag/brandrag.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".brandrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "brandrag.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := newWithDB(db)
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS vectors (
    id                TEXT    PRIMARY KEY,
    user_id           TEXT    NOT NULL,
    content_type      TEXT    NOT NULL,
    content_id        TEXT    NOT NULL,
    embedding         BLOB    NOT NULL,  -- little-endian float32
    text_content      TEXT    NOT NULL,
    metadata          TEXT    NOT NULL,  -- JSON
    performance       REAL    NOT NULL,
    created_at        INTEGER NOT NULL,  -- Unix milliseconds
    version           INTEGER NOT NULL,
    source_collection TEXT    NOT NULL DEFAULT '',
    source_doc_id     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_vectors_user_type    ON vectors (user_id, content_type);
CREATE INDEX IF NOT EXISTS idx_vectors_user_content ON vectors (user_id, content_id);
CREATE INDEX IF NOT EXISTS idx_vectors_user_created ON vectors (user_id, created_at);

CREATE TABLE IF NOT EXISTS feedback (
    id           TEXT    PRIMARY KEY,
    user_id      TEXT    NOT NULL,
    content_id   TEXT    NOT NULL,
    content_type TEXT    NOT NULL,
    rating       INTEGER NOT NULL CHECK(rating BETWEEN 1 AND 5),
    was_helpful  INTEGER NOT NULL,
    comment      TEXT    NOT NULL DEFAULT '',
    rag_enhanced INTEGER NOT NULL,
    patterns     TEXT    NOT NULL DEFAULT '[]',  -- JSON
    created_at   INTEGER NOT NULL  -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_feedback_user_created ON feedback (user_id, created_at);

CREATE TABLE IF NOT EXISTS performance_metrics (
    user_id TEXT PRIMARY KEY,
    data    TEXT NOT NULL  -- JSON
);

CREATE TABLE IF NOT EXISTS pattern_stats (
    user_id       TEXT    NOT NULL,
    pattern       TEXT    NOT NULL,
    success_count INTEGER NOT NULL,
    total_count   INTEGER NOT NULL,
    avg_rating    REAL    NOT NULL,
    last_used     INTEGER NOT NULL,  -- Unix milliseconds
    PRIMARY KEY (user_id, pattern)
);

CREATE TABLE IF NOT EXISTS system_config (
    id         INTEGER PRIMARY KEY CHECK(id = 1),
    data       TEXT    NOT NULL,  -- JSON
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_limits (
    user_id        TEXT    PRIMARY KEY,
    custom_enabled INTEGER NOT NULL,
    max_per_hour   INTEGER NOT NULL,
    max_per_day    INTEGER NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: migrate")
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name returns the dependency label used in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: begin "+op)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailure, "store: commit "+op)
	}
	return nil
}
