// Package db opens the SQLite files used by roam and applies their schema
// migrations. Both the persistent local store and the worker's cache buckets
// live in SQLite databases opened through this package.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/roam/internal/config"
	_ "modernc.org/sqlite"
)

// Migration upgrades a database to Version. Statements must be idempotent
// (CREATE ... IF NOT EXISTS) so that re-running a migration never fails.
type Migration struct {
	Version int
	SQL     string
}

// Open opens (creating if absent) the SQLite database at path and applies
// every migration whose version is above the stored user_version.
func Open(path string, migrations []Migration) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	// Best effort; MkdirAll leaves an existing directory's mode alone.
	_ = os.Chmod(dir, 0700)

	// Pragmas in the DSN are applied to every pooled connection.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := requireWAL(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := migrate(conn, migrations); err != nil {
		conn.Close()
		return nil, err
	}

	_ = os.Chmod(path, 0600)
	return conn, nil
}

// ConfigurePool applies the pool limits from cfg. Zero values keep the
// database/sql defaults.
func ConfigurePool(conn *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// migrate applies pending migrations in order. Each one runs in its own
// transaction together with the user_version bump, so a failed step leaves
// the schema at the previous version.
func migrate(conn *sql.DB, migrations []Migration) error {
	current, err := GetUserVersion(conn)
	if err != nil {
		return err
	}

	for i, m := range migrations {
		if i > 0 && m.Version <= migrations[i-1].Version {
			return fmt.Errorf("migration %d is out of order", m.Version)
		}
		if m.Version <= current {
			continue
		}
		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := SetUserVersion(tx, m.Version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.Version, err)
		}
		current = m.Version
	}
	return nil
}

// requireWAL fails unless the DSN pragma switched the journal to WAL.
func requireWAL(conn *sql.DB) error {
	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("read journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("journal mode is %q, want wal", mode)
	}
	return nil
}

// GetUserVersion returns the schema version stored in the user_version pragma.
func GetUserVersion(conn *sql.DB) (int, error) {
	var v int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// SetUserVersion records the schema version. It accepts a transaction so
// migrations can bump the version atomically with their DDL.
func SetUserVersion(e execer, version int) error {
	if _, err := e.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("write user_version: %w", err)
	}
	return nil
}
