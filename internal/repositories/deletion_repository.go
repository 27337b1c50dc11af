package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dolt-chroma-sync/internal/db"
	"dolt-chroma-sync/internal/models"
)

// DeletionRepository records deletions and collection-level operations seen
// on the vector store that the versioning engine cannot reconstruct on its
// own. The store is append-only; CleanupCommitted removes records that have
// been durably reflected in a versioned commit.
type DeletionRepository interface {
	RecordDocumentDeletion(ctx context.Context, repoPath, collection, docID, originalHash string) error
	RecordCollectionOperation(ctx context.Context, repoPath, collection, opType, originalName, newNameOrMetadata string) error
	GetPendingDocumentDeletions(ctx context.Context, repoPath, collection string) ([]*models.DeletionRecord, error)
	GetPendingCollectionOperations(ctx context.Context, repoPath string) ([]*models.DeletionRecord, error)
	MarkCommitted(ctx context.Context, repoPath, identifier, opType string) error
	CleanupCommitted(ctx context.Context, repoPath string) error
}

// DeletionRepositoryError represents errors from the deletion tracker.
type DeletionRepositoryError struct {
	Operation string
	Err       error
}

func (e *DeletionRepositoryError) Error() string {
	return "deletion_tracker " + e.Operation + ": " + e.Err.Error()
}

func (e *DeletionRepositoryError) Unwrap() error {
	return e.Err
}

// SQLiteDeletionRepository implements DeletionRepository on the embedded
// local state database.
type SQLiteDeletionRepository struct {
	db *sql.DB
}

// NewSQLiteDeletionRepository creates a deletion tracker on the local state
// DB.
func NewSQLiteDeletionRepository(state *db.LocalStateDB) DeletionRepository {
	return &SQLiteDeletionRepository{db: state.DB()}
}

const deletionColumns = `id, repo_path, collection_name, doc_id, operation_type,
	original_content_hash, original_name, new_name, is_committed, created_at`

// RecordDocumentDeletion records that a document disappeared from the vector
// store. Recording the same pending deletion twice is a no-op.
func (r *SQLiteDeletionRepository) RecordDocumentDeletion(ctx context.Context, repoPath, collection, docID, originalHash string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM deletion_records
			 WHERE repo_path = ? AND collection_name = ? AND doc_id = ?
			   AND operation_type = ? AND is_committed = 0`,
			repoPath, collection, docID, models.OpDocumentDelete).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO deletion_records
			 (repo_path, collection_name, doc_id, operation_type, original_content_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			repoPath, collection, docID, models.OpDocumentDelete, originalHash,
			time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return &DeletionRepositoryError{Operation: "record_document_deletion", Err: err}
	}
	return nil
}

// RecordCollectionOperation records a collection deletion, rename, or
// metadata update. For renames newNameOrMetadata carries the new name; for
// metadata updates it carries the serialized new metadata.
func (r *SQLiteDeletionRepository) RecordCollectionOperation(ctx context.Context, repoPath, collection, opType, originalName, newNameOrMetadata string) error {
	switch opType {
	case models.OpCollectionDelete, models.OpCollectionRename, models.OpCollectionMetadata:
	default:
		return &DeletionRepositoryError{
			Operation: "record_collection_operation",
			Err:       fmt.Errorf("unknown operation type %q", opType),
		}
	}

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deletion_records
			 (repo_path, collection_name, operation_type, original_name, new_name, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			repoPath, collection, opType, originalName, newNameOrMetadata,
			time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return &DeletionRepositoryError{Operation: "record_collection_operation", Err: err}
	}
	return nil
}

// GetPendingDocumentDeletions returns uncommitted document deletions for one
// collection, oldest first.
func (r *SQLiteDeletionRepository) GetPendingDocumentDeletions(ctx context.Context, repoPath, collection string) ([]*models.DeletionRecord, error) {
	return r.list(ctx,
		`SELECT `+deletionColumns+` FROM deletion_records
		 WHERE repo_path = ? AND collection_name = ? AND operation_type = ? AND is_committed = 0
		 ORDER BY id`,
		repoPath, collection, models.OpDocumentDelete)
}

// GetPendingCollectionOperations returns uncommitted collection-level
// operations for a repository, oldest first.
func (r *SQLiteDeletionRepository) GetPendingCollectionOperations(ctx context.Context, repoPath string) ([]*models.DeletionRecord, error) {
	return r.list(ctx,
		`SELECT `+deletionColumns+` FROM deletion_records
		 WHERE repo_path = ? AND operation_type != ? AND is_committed = 0
		 ORDER BY id`,
		repoPath, models.OpDocumentDelete)
}

// MarkCommitted flags the pending records matching the identifier (doc ID for
// document deletions, collection name otherwise) as reflected in a commit.
func (r *SQLiteDeletionRepository) MarkCommitted(ctx context.Context, repoPath, identifier, opType string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if opType == models.OpDocumentDelete {
			_, err = tx.ExecContext(ctx,
				`UPDATE deletion_records SET is_committed = 1
				 WHERE repo_path = ? AND doc_id = ? AND operation_type = ? AND is_committed = 0`,
				repoPath, identifier, opType)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE deletion_records SET is_committed = 1
				 WHERE repo_path = ? AND collection_name = ? AND operation_type = ? AND is_committed = 0`,
				repoPath, identifier, opType)
		}
		return err
	})
	if err != nil {
		return &DeletionRepositoryError{Operation: "mark_committed", Err: err}
	}
	return nil
}

// CleanupCommitted removes records that have been durably reflected in a
// versioned commit.
func (r *SQLiteDeletionRepository) CleanupCommitted(ctx context.Context, repoPath string) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM deletion_records WHERE repo_path = ? AND is_committed = 1`, repoPath)
		return err
	})
	if err != nil {
		return &DeletionRepositoryError{Operation: "cleanup_committed", Err: err}
	}
	return nil
}

func (r *SQLiteDeletionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.DeletionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &DeletionRepositoryError{Operation: "list", Err: err}
	}
	defer rows.Close()

	var records []*models.DeletionRecord
	for rows.Next() {
		var record models.DeletionRecord
		var committed int
		var createdAt string
		if err := rows.Scan(
			&record.ID, &record.RepoPath, &record.CollectionName, &record.DocID,
			&record.OperationType, &record.OriginalContentHash,
			&record.OriginalName, &record.NewName, &committed, &createdAt,
		); err != nil {
			return nil, &DeletionRepositoryError{Operation: "list", Err: err}
		}
		record.IsCommitted = committed != 0
		if createdAt != "" {
			if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
				record.CreatedAt = t
			}
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, &DeletionRepositoryError{Operation: "list", Err: err}
	}
	return records, nil
}

func (r *SQLiteDeletionRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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
