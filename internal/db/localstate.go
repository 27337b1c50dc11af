package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// LocalStateDB is the embedded SQLite database holding the sync-state and
// deletion-tracking tables. The file lives outside the versioned data
// directory so branch operations never touch it.
type LocalStateDB struct {
	db   *sql.DB
	path string
}

// localStateMigrations are applied in order; schema_migrations records which
// have run.
var localStateMigrations = []string{
	`CREATE TABLE IF NOT EXISTS sync_state (
		repo_path        TEXT NOT NULL,
		branch           TEXT NOT NULL,
		collection_name  TEXT NOT NULL,
		last_sync_commit TEXT NOT NULL DEFAULT '',
		last_sync_at     TEXT NOT NULL DEFAULT '',
		document_count   INTEGER NOT NULL DEFAULT 0,
		chunk_count      INTEGER NOT NULL DEFAULT 0,
		sync_status      TEXT NOT NULL DEFAULT 'synced',
		error_message    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (repo_path, branch, collection_name)
	)`,
	`CREATE TABLE IF NOT EXISTS deletion_records (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_path             TEXT NOT NULL,
		collection_name       TEXT NOT NULL,
		doc_id                TEXT NOT NULL DEFAULT '',
		operation_type        TEXT NOT NULL,
		original_content_hash TEXT NOT NULL DEFAULT '',
		original_name         TEXT NOT NULL DEFAULT '',
		new_name              TEXT NOT NULL DEFAULT '',
		is_committed          INTEGER NOT NULL DEFAULT 0,
		created_at            TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deletion_pending
		ON deletion_records (repo_path, is_committed)`,
}

// NewLocalStateDB opens (or creates) the SQLite file at path and runs
// migrations.
func NewLocalStateDB(path string) (*LocalStateDB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// single writer, embedded file
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	if err := migrateLocalState(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &LocalStateDB{db: sqlDB, path: path}, nil
}

func migrateLocalState(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := sqlDB.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i, stmt := range localStateMigrations {
		version := i + 1
		if applied[version] {
			continue
		}
		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

// DB exposes the underlying handle for the repositories built on this store.
func (s *LocalStateDB) DB() *sql.DB {
	return s.db
}

// Path returns the on-disk location of the state file.
func (s *LocalStateDB) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *LocalStateDB) Close() error {
	return s.db.Close()
}
