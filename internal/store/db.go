// Package store owns the local transactional store for mirrored tickets
// and sync sessions.
//
// The database is embedded SQLite (WAL mode for concurrent reads) opened
// through the ncruces driver, or a libSQL remote replica when the path
// uses a libsql:// DSN. The schema holds three tables: projects, tickets,
// and sync_sessions. Nothing outside this package touches the store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/tursodatabase/go-libsql"
)

// DB wraps the database connection.
type DB struct {
	conn     *sql.DB
	path     string
	embedded bool
}

// Open creates a database connection.
//
// A plain filesystem path opens an embedded SQLite database (created if
// absent, parent directory included). A libsql:// DSN opens a remote
// libSQL replica instead; pragma tuning is skipped for replicas.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open(".ticketmirror/mirror.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	embedded := !strings.HasPrefix(path, "libsql://")

	var conn *sql.DB
	var err error
	if embedded {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		conn, err = sql.Open("sqlite3", "file:"+path)
	} else {
		conn, err = sql.Open("libsql", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path, embedded: embedded}

	if embedded {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.conn.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
			}
		}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint on embedded databases to flush changes.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if db.embedded {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		synced_at TEXT
	);

	CREATE TABLE IF NOT EXISTS tickets (
		key TEXT PRIMARY KEY CHECK (key <> ''),
		project_key TEXT NOT NULL CHECK (project_key <> ''),
		summary TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		priority TEXT,
		assignee TEXT,
		issue_type TEXT,
		created_at TEXT,
		updated_at TEXT,

		-- Opaque attribute bag for remote fields without a fixed column
		attrs TEXT NOT NULL DEFAULT '{}',

		synced_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_sessions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		projects TEXT NOT NULL,   -- JSON array
		progress TEXT NOT NULL,   -- JSON snapshot (includes error log)
		started_at TEXT NOT NULL,
		ended_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_project ON tickets(project_key);
	CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
	CREATE INDEX IF NOT EXISTS idx_tickets_assignee ON tickets(assignee);
	CREATE INDEX IF NOT EXISTS idx_tickets_updated ON tickets(updated_at);

	CREATE INDEX IF NOT EXISTS idx_sessions_kind_status
	    ON sync_sessions(kind, status, started_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// timeToNullString converts a time to a nullable string for SQL.
func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time.
// Unparseable or NULL values come back zero.
func nullStringToTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
