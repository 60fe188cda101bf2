// Package catalog owns the relational store backing the file index: the
// versioned SQLite schema, sessions with get-or-create uniquing, and the
// read accessors used by the query engine and CLI.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"nccatalog/internal/logging"
)

// ErrIncompatibleVersion is returned when an existing catalog's stamped
// schema version differs from SchemaVersion.
var ErrIncompatibleVersion = errors.New("incompatible catalog version")

// DB is an open catalog. Writes are single-writer: mutation happens through
// one Session at a time, and concurrent writers against the same catalog
// file are not supported.
type DB struct {
	sql  *sql.DB
	path string
	log  *zap.Logger
}

// Open opens or creates the catalog at path. A fresh catalog is stamped
// with SchemaVersion; an existing one with a different stamped version
// fails with ErrIncompatibleVersion before any schema mutation.
func Open(path string) (*DB, error) {
	log := logging.L(logging.CategoryCatalog)

	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := sqldb.Exec(pragma); err != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	db := &DB{sql: sqldb, path: path, log: log}
	if err := db.initialize(); err != nil {
		sqldb.Close()
		return nil, err
	}
	return db, nil
}

// initialize checks the stamped version before touching the schema, then
// creates and stamps the schema for a fresh catalog.
func (db *DB) initialize() error {
	var version int
	if err := db.sql.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read catalog version: %w", err)
	}

	if version == 0 {
		var tables int
		err := db.sql.QueryRow(
			"SELECT count(*) FROM sqlite_master WHERE type = 'table'").Scan(&tables)
		if err != nil {
			return fmt.Errorf("inspect catalog: %w", err)
		}
		if tables > 0 {
			// populated but unstamped: predates versioning entirely
			return fmt.Errorf("%w: expected %d, catalog is unversioned",
				ErrIncompatibleVersion, SchemaVersion)
		}
		if _, err := db.sql.Exec(schema); err != nil {
			return fmt.Errorf("create catalog schema: %w", err)
		}
		if _, err := db.sql.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			return fmt.Errorf("stamp catalog version: %w", err)
		}
		db.log.Info("created catalog",
			zap.String("path", db.path), zap.Int("version", SchemaVersion))
		return nil
	}

	if version != SchemaVersion {
		return fmt.Errorf("%w: expected %d, got %d",
			ErrIncompatibleVersion, SchemaVersion, version)
	}
	db.log.Debug("opened catalog",
		zap.String("path", db.path), zap.Int("version", version))
	return nil
}

// Path returns the catalog file path.
func (db *DB) Path() string { return db.path }

func (db *DB) Close() error { return db.sql.Close() }

// Begin starts a mutation session with fresh uniquing caches.
func (db *DB) Begin() (*Session, error) {
	tx, err := db.sql.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin catalog transaction: %w", err)
	}
	return newSession(tx), nil
}
