package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dolt-chroma-sync/internal/db"
	"dolt-chroma-sync/internal/models"
)

// SyncStateRepository persists the (repo, branch, collection) → last-sync
// bookkeeping outside the versioned data. All operations are idempotent.
type SyncStateRepository interface {
	Get(ctx context.Context, repoPath, branch, collection string) (*models.SyncStateRecord, error)
	Upsert(ctx context.Context, record *models.SyncStateRecord) error
	UpdateCommitHash(ctx context.Context, repoPath, branch, collection, commitHash string) error
	Delete(ctx context.Context, repoPath, branch, collection string) error
	ListByRepo(ctx context.Context, repoPath string) ([]*models.SyncStateRecord, error)
	ListByBranch(ctx context.Context, repoPath, branch string) ([]*models.SyncStateRecord, error)
	ClearBranch(ctx context.Context, repoPath, branch string) error
	ReconstructForBranch(ctx context.Context, repoPath, branch, collection, headCommit string) (*models.SyncStateRecord, error)
}

// SyncStateRepositoryError represents errors from the sync-state store.
type SyncStateRepositoryError struct {
	Operation string
	Err       error
}

func (e *SyncStateRepositoryError) Error() string {
	return "sync_state " + e.Operation + ": " + e.Err.Error()
}

func (e *SyncStateRepositoryError) Unwrap() error {
	return e.Err
}

// SQLiteSyncStateRepository implements SyncStateRepository on the embedded
// local state database.
type SQLiteSyncStateRepository struct {
	db *sql.DB
}

// NewSQLiteSyncStateRepository creates a sync-state repository on the local
// state DB.
func NewSQLiteSyncStateRepository(state *db.LocalStateDB) SyncStateRepository {
	return &SQLiteSyncStateRepository{db: state.DB()}
}

const syncStateColumns = `repo_path, branch, collection_name, last_sync_commit,
	last_sync_at, document_count, chunk_count, sync_status, error_message`

// Get returns the record for one (repo, branch, collection), or nil when no
// sync has been recorded yet.
func (r *SQLiteSyncStateRepository) Get(ctx context.Context, repoPath, branch, collection string) (*models.SyncStateRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+syncStateColumns+` FROM sync_state
		 WHERE repo_path = ? AND branch = ? AND collection_name = ?`,
		repoPath, branch, collection)

	record, err := scanSyncState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &SyncStateRepositoryError{Operation: "get", Err: err}
	}
	return record, nil
}

// Upsert inserts or replaces the record for its (repo, branch, collection).
func (r *SQLiteSyncStateRepository) Upsert(ctx context.Context, record *models.SyncStateRecord) error {
	if record.LastSyncAt.IsZero() {
		record.LastSyncAt = time.Now().UTC()
	}
	if record.SyncStatus == "" {
		record.SyncStatus = models.SyncStateSynced
	}

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sync_state (`+syncStateColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(repo_path, branch, collection_name) DO UPDATE SET
				last_sync_commit = excluded.last_sync_commit,
				last_sync_at     = excluded.last_sync_at,
				document_count   = excluded.document_count,
				chunk_count      = excluded.chunk_count,
				sync_status      = excluded.sync_status,
				error_message    = excluded.error_message`,
			record.RepoPath, record.Branch, record.CollectionName,
			record.LastSyncCommit, record.LastSyncAt.Format(time.RFC3339Nano),
			record.DocumentCount, record.ChunkCount, record.SyncStatus, record.ErrorMessage)
		return err
	})
	if err != nil {
		return &SyncStateRepositoryError{Operation: "upsert", Err: err}
	}
	return nil
}

// UpdateCommitHash moves the last-sync pointer for an existing record; a
// missing record is created.
func (r *SQLiteSyncStateRepository) UpdateCommitHash(ctx context.Context, repoPath, branch, collection, commitHash string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sync_state SET last_sync_commit = ?, last_sync_at = ?, sync_status = ?
			 WHERE repo_path = ? AND branch = ? AND collection_name = ?`,
			commitHash, time.Now().UTC().Format(time.RFC3339Nano), models.SyncStateSynced,
			repoPath, branch, collection)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO sync_state (repo_path, branch, collection_name, last_sync_commit, last_sync_at, sync_status)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				repoPath, branch, collection, commitHash,
				time.Now().UTC().Format(time.RFC3339Nano), models.SyncStateSynced)
		}
		return err
	})
	if err != nil {
		return &SyncStateRepositoryError{Operation: "update_commit_hash", Err: err}
	}
	return nil
}

// Delete removes the record for one (repo, branch, collection).
func (r *SQLiteSyncStateRepository) Delete(ctx context.Context, repoPath, branch, collection string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM sync_state WHERE repo_path = ? AND branch = ? AND collection_name = ?`,
			repoPath, branch, collection)
		return err
	})
	if err != nil {
		return &SyncStateRepositoryError{Operation: "delete", Err: err}
	}
	return nil
}

// ListByRepo returns every record for a repository, across branches.
func (r *SQLiteSyncStateRepository) ListByRepo(ctx context.Context, repoPath string) ([]*models.SyncStateRecord, error) {
	return r.list(ctx,
		`SELECT `+syncStateColumns+` FROM sync_state
		 WHERE repo_path = ? ORDER BY branch, collection_name`, repoPath)
}

// ListByBranch returns every record for one branch of a repository.
func (r *SQLiteSyncStateRepository) ListByBranch(ctx context.Context, repoPath, branch string) ([]*models.SyncStateRecord, error) {
	return r.list(ctx,
		`SELECT `+syncStateColumns+` FROM sync_state
		 WHERE repo_path = ? AND branch = ? ORDER BY collection_name`, repoPath, branch)
}

// ClearBranch removes all records for one branch. Records for other branches
// are untouched.
func (r *SQLiteSyncStateRepository) ClearBranch(ctx context.Context, repoPath, branch string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM sync_state WHERE repo_path = ? AND branch = ?`, repoPath, branch)
		return err
	})
	if err != nil {
		return &SyncStateRepositoryError{Operation: "clear_branch", Err: err}
	}
	return nil
}

// ReconstructForBranch returns the record for (repo, branch, collection),
// seeding one from the supplied head commit when none exists. A branch that
// was never tracked is treated as synced at the commit it was created from.
func (r *SQLiteSyncStateRepository) ReconstructForBranch(ctx context.Context, repoPath, branch, collection, headCommit string) (*models.SyncStateRecord, error) {
	record, err := r.Get(ctx, repoPath, branch, collection)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	record = &models.SyncStateRecord{
		RepoPath:       repoPath,
		Branch:         branch,
		CollectionName: collection,
		LastSyncCommit: headCommit,
		LastSyncAt:     time.Now().UTC(),
		SyncStatus:     models.SyncStateSynced,
	}
	if err := r.Upsert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *SQLiteSyncStateRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.SyncStateRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &SyncStateRepositoryError{Operation: "list", Err: err}
	}
	defer rows.Close()

	var records []*models.SyncStateRecord
	for rows.Next() {
		record, err := scanSyncState(rows)
		if err != nil {
			return nil, &SyncStateRepositoryError{Operation: "list", Err: err}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &SyncStateRepositoryError{Operation: "list", Err: err}
	}
	return records, nil
}

func (r *SQLiteSyncStateRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSyncState(row rowScanner) (*models.SyncStateRecord, error) {
	var record models.SyncStateRecord
	var lastSyncAt string
	if err := row.Scan(
		&record.RepoPath, &record.Branch, &record.CollectionName,
		&record.LastSyncCommit, &lastSyncAt,
		&record.DocumentCount, &record.ChunkCount,
		&record.SyncStatus, &record.ErrorMessage,
	); err != nil {
		return nil, err
	}
	if lastSyncAt != "" {
		t, err := time.Parse(time.RFC3339Nano, lastSyncAt)
		if err != nil {
			return nil, fmt.Errorf("parse last_sync_at: %w", err)
		}
		record.LastSyncAt = t
	}
	return &record, nil
}
