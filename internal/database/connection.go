package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// OpenLocal opens the on-device sqlite database and creates the cache tables
func OpenLocal(ctx context.Context, path string) (*sqlx.DB, error) {
	// Create data directory if it doesn't exist
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to local database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := InitLocalSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenRemote connects to the shared postgres database and creates its tables
func OpenRemote(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote database: %w", err)
	}
	if err := InitRemoteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitLocalSchema creates the device-scoped tables if they don't exist
func InitLocalSchema(ctx context.Context, db *sqlx.DB) error {
	stmts := []struct {
		name  string
		query string
	}{
		{"local_progress", `
			CREATE TABLE IF NOT EXISTS local_progress (
				progress_key TEXT PRIMARY KEY,
				record_id TEXT NOT NULL,
				unit_id INTEGER NOT NULL,
				kind TEXT NOT NULL,
				sub_index INTEGER NOT NULL,
				completed BOOLEAN NOT NULL DEFAULT false,
				score REAL,
				completed_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)
		`},
		{"local_attempts", `
			CREATE TABLE IF NOT EXISTS local_attempts (
				record_id TEXT PRIMARY KEY,
				progress_key TEXT NOT NULL,
				unit_id INTEGER NOT NULL,
				kind TEXT NOT NULL,
				sub_index INTEGER NOT NULL,
				completed BOOLEAN NOT NULL DEFAULT false,
				score REAL,
				completed_at TIMESTAMP NOT NULL
			)
		`},
		{"local_attempts index", `CREATE INDEX IF NOT EXISTS idx_local_attempts_key ON local_attempts (progress_key, completed_at)`},
		{"outbox", `
			CREATE TABLE IF NOT EXISTS outbox (
				progress_key TEXT PRIMARY KEY,
				record_id TEXT NOT NULL,
				unit_id INTEGER NOT NULL,
				kind TEXT NOT NULL,
				sub_index INTEGER NOT NULL,
				completed BOOLEAN NOT NULL DEFAULT false,
				score REAL,
				completed_at TIMESTAMP NOT NULL,
				tries INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				enqueued_at TIMESTAMP NOT NULL
			)
		`},
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}
	return nil
}

// InitRemoteSchema creates the multi-device tables. The statements run on
// both postgres and sqlite so the store can be exercised without a server.
func InitRemoteSchema(ctx context.Context, db *sqlx.DB) error {
	stmts := []struct {
		name  string
		query string
	}{
		{"progress_records", `
			CREATE TABLE IF NOT EXISTS progress_records (
				user_id TEXT NOT NULL,
				unit_id INTEGER NOT NULL,
				kind TEXT NOT NULL,
				sub_index INTEGER NOT NULL,
				record_id TEXT NOT NULL,
				completed BOOLEAN NOT NULL DEFAULT false,
				score DOUBLE PRECISION,
				completed_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				PRIMARY KEY (user_id, unit_id, kind, sub_index)
			)
		`},
		{"progress_attempts", `
			CREATE TABLE IF NOT EXISTS progress_attempts (
				record_id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				unit_id INTEGER NOT NULL,
				kind TEXT NOT NULL,
				sub_index INTEGER NOT NULL,
				completed BOOLEAN NOT NULL DEFAULT false,
				score DOUBLE PRECISION,
				completed_at TIMESTAMP NOT NULL
			)
		`},
		{"progress_attempts index", `CREATE INDEX IF NOT EXISTS idx_progress_attempts_user ON progress_attempts (user_id, unit_id, kind, sub_index)`},
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}
	return nil
}
