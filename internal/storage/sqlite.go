package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite job table at path and
// ensures the tables the dispatcher reads exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := requireLocalSQLite(path, filesystemType); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the job table and its lookup tables if missing.
// The layout mirrors the front end's schema, restricted to the columns the
// dispatcher consumes.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS estates (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS models (
  id      INTEGER PRIMARY KEY,
  tarball TEXT NOT NULL,
  name    TEXT NOT NULL,
  estate  INTEGER REFERENCES estates(id),
  md5     TEXT
);`,
		`CREATE TABLE IF NOT EXISTS results (
  id        INTEGER PRIMARY KEY,
  sim_start TEXT NOT NULL,
  sim_stop  TEXT NOT NULL,
  model     INTEGER,
  pam       INTEGER,
  result    INTEGER DEFAULT 0
);`,
		`CREATE INDEX IF NOT EXISTS results_result_idx ON results(result);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
