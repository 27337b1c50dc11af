package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"dolt-chroma-sync/internal/db"
	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"
)

// DoltDeltaService computes what changed on the versioned side: documents
// pending sync to the vector store, documents deleted since the last sync,
// and commit-to-commit diffs. A missing table means a fresh repository and is
// treated as empty, never as an error.
type DoltDeltaService struct {
	version repositories.VersionRepository
	logger  *log.Logger
}

// NewDoltDeltaService creates a new versioned-side delta detector.
func NewDoltDeltaService(version repositories.VersionRepository, logger *log.Logger) *DoltDeltaService {
	return &DoltDeltaService{version: version, logger: logger}
}

// PendingSyncDocuments returns documents whose current content hash differs
// from, or is absent in, the sync log for the dolt→chroma direction.
func (s *DoltDeltaService) PendingSyncDocuments(ctx context.Context, collection string) (newDocs, modified []*models.Document, err error) {
	rows, err := s.version.Query(ctx,
		`SELECT d.doc_id, d.collection_name, d.content, d.content_hash, d.title, d.doc_type, d.metadata,
		        s.content_hash AS synced_hash
		 FROM documents d
		 LEFT JOIN document_sync_log s
		   ON s.doc_id = d.doc_id AND s.collection_name = d.collection_name AND s.sync_direction = ?
		 WHERE d.collection_name = ?`,
		string(models.DirectionDoltToChroma), collection)
	if err != nil {
		if db.IsTableNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to query pending documents: %w", err)
	}

	for _, row := range rows {
		doc := models.DocumentFromRow(row, "")
		syncedHash, hasLog := row.GetString("synced_hash")
		switch {
		case !hasLog:
			newDocs = append(newDocs, doc)
		case syncedHash != doc.ContentHash:
			modified = append(modified, doc)
		}
	}
	return newDocs, modified, nil
}

// DeletedDocuments returns documents present in the sync log but absent from
// the documents table.
func (s *DoltDeltaService) DeletedDocuments(ctx context.Context, collection string) ([]models.DeletedDocument, error) {
	rows, err := s.version.Query(ctx,
		`SELECT s.doc_id, s.content_hash
		 FROM document_sync_log s
		 LEFT JOIN documents d
		   ON d.doc_id = s.doc_id AND d.collection_name = s.collection_name
		 WHERE s.collection_name = ? AND s.sync_direction = ? AND d.doc_id IS NULL`,
		collection, string(models.DirectionDoltToChroma))
	if err != nil {
		if db.IsTableNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query deleted documents: %w", err)
	}

	deleted := make([]models.DeletedDocument, 0, len(rows))
	for _, row := range rows {
		docID, _ := row.GetString("doc_id")
		hash, _ := row.GetString("content_hash")
		deleted = append(deleted, models.DeletedDocument{
			DocID:          docID,
			CollectionName: collection,
			ContentHash:    hash,
		})
	}
	return deleted, nil
}

// CommitDiff wraps the engine's native diff relation over the documents
// table between two commits, optionally restricted to one collection.
func (s *DoltDeltaService) CommitDiff(ctx context.Context, fromCommit, toCommit, collection string) (*models.CommitDiff, error) {
	rows, err := s.version.Diff(ctx, fromCommit, toCommit, TableDocuments)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", fromCommit, toCommit, err)
	}

	diff := &models.CommitDiff{}
	for _, row := range rows {
		diffType, _ := row.GetString("diff_type")
		switch strings.ToLower(diffType) {
		case "added":
			doc := models.DocumentFromRow(row, "to_")
			if collection == "" || doc.CollectionName == collection {
				diff.Added = append(diff.Added, doc)
			}
		case "modified":
			doc := models.DocumentFromRow(row, "to_")
			if collection == "" || doc.CollectionName == collection {
				diff.Modified = append(diff.Modified, doc)
			}
		case "removed":
			doc := models.DocumentFromRow(row, "from_")
			if collection == "" || doc.CollectionName == collection {
				diff.Removed = append(diff.Removed, models.DeletedDocument{
					DocID:          doc.DocID,
					CollectionName: doc.CollectionName,
					ContentHash:    doc.ContentHash,
				})
			}
		}
	}
	return diff, nil
}

// AllDocuments returns every document of a collection, for full rebuilds.
func (s *DoltDeltaService) AllDocuments(ctx context.Context, collection string) ([]*models.Document, error) {
	rows, err := s.version.Query(ctx,
		`SELECT doc_id, collection_name, content, content_hash, title, doc_type, metadata
		 FROM documents WHERE collection_name = ? ORDER BY doc_id`, collection)
	if err != nil {
		if db.IsTableNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	docs := make([]*models.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, models.DocumentFromRow(row, ""))
	}
	return docs, nil
}

// DocumentIDs returns the document IDs of a collection.
func (s *DoltDeltaService) DocumentIDs(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.version.Query(ctx,
		`SELECT doc_id FROM documents WHERE collection_name = ? ORDER BY doc_id`, collection)
	if err != nil {
		if db.IsTableNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query document ids: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row.GetString("doc_id"); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DocumentsByIDs fetches a batch of documents by ID, returning a map keyed by
// doc_id. Used to classify candidate local changes in one round trip.
func (s *DoltDeltaService) DocumentsByIDs(ctx context.Context, collection string, ids []string) (map[string]*models.Document, error) {
	result := make(map[string]*models.Document, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.version.Query(ctx,
		`SELECT doc_id, collection_name, content, content_hash, title, doc_type, metadata
		 FROM documents WHERE collection_name = ? AND doc_id IN (`+placeholders+`)`, args...)
	if err != nil {
		if db.IsTableNotFound(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to query documents by ids: %w", err)
	}

	for _, row := range rows {
		doc := models.DocumentFromRow(row, "")
		result[doc.DocID] = doc
	}
	return result, nil
}

// AvailableCollections returns the distinct collection names present in the
// documents table, merged with the collections table.
func (s *DoltDeltaService) AvailableCollections(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	rows, err := s.version.Query(ctx, `SELECT DISTINCT collection_name FROM documents`)
	if err != nil && !db.IsTableNotFound(err) {
		return nil, fmt.Errorf("failed to list document collections: %w", err)
	}
	for _, row := range rows {
		if name, ok := row.GetString("collection_name"); ok && name != "" {
			seen[name] = struct{}{}
		}
	}

	rows, err = s.version.Query(ctx, `SELECT collection_name FROM collections`)
	if err != nil && !db.IsTableNotFound(err) {
		return nil, fmt.Errorf("failed to list collections table: %w", err)
	}
	for _, row := range rows {
		if name, ok := row.GetString("collection_name"); ok && name != "" {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RecordSync upserts one entry into the sync log for a (doc, collection,
// direction).
func (s *DoltDeltaService) RecordSync(ctx context.Context, docID, collection, contentHash string, chunkIDs []string, direction models.SyncDirection, action models.SyncAction) error {
	idsJSON, err := json.Marshal(chunkIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk ids: %w", err)
	}

	err = s.version.Exec(ctx,
		`INSERT INTO document_sync_log
		 (doc_id, collection_name, content_hash, chroma_chunk_ids, sync_direction, sync_action, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
			content_hash = VALUES(content_hash),
			chroma_chunk_ids = VALUES(chroma_chunk_ids),
			sync_action = VALUES(sync_action),
			synced_at = VALUES(synced_at)`,
		docID, collection, contentHash, string(idsJSON),
		string(direction), string(action), time.Now().UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return fmt.Errorf("failed to record sync for %s: %w", docID, err)
	}
	return nil
}

// ClearSyncLog removes sync-log entries for a document. Used when a deletion
// has been replicated so the document stops appearing as "seen".
func (s *DoltDeltaService) ClearSyncLog(ctx context.Context, docID, collection string) error {
	err := s.version.Exec(ctx,
		`DELETE FROM document_sync_log WHERE doc_id = ? AND collection_name = ?`, docID, collection)
	if err != nil && !db.IsTableNotFound(err) {
		return fmt.Errorf("failed to clear sync log for %s: %w", docID, err)
	}
	return nil
}

// GetSyncState reads the legacy in-engine sync-state row for a collection.
// The canonical store is the local sync-state repository; this table is kept
// for compatibility with older tooling that inspects the database directly.
func (s *DoltDeltaService) GetSyncState(ctx context.Context, collection string) (models.Row, error) {
	rows, err := s.version.Query(ctx,
		`SELECT * FROM chroma_sync_state WHERE collection_name = ?`, collection)
	if err != nil {
		if db.IsTableNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read chroma_sync_state: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// UpdateSyncState upserts the legacy in-engine sync-state row.
func (s *DoltDeltaService) UpdateSyncState(ctx context.Context, collection, lastCommit string, docCount, chunkCount int, status string) error {
	err := s.version.Exec(ctx,
		`INSERT INTO chroma_sync_state
		 (collection_name, last_sync_commit, last_sync_at, document_count, chunk_count, sync_status, local_changes_count)
		 VALUES (?, ?, ?, ?, ?, ?, 0)
		 ON DUPLICATE KEY UPDATE
			last_sync_commit = VALUES(last_sync_commit),
			last_sync_at = VALUES(last_sync_at),
			document_count = VALUES(document_count),
			chunk_count = VALUES(chunk_count),
			sync_status = VALUES(sync_status)`,
		collection, lastCommit, time.Now().UTC().Format("2006-01-02 15:04:05"),
		docCount, chunkCount, status)
	if err != nil && !db.IsTableNotFound(err) {
		return fmt.Errorf("failed to update chroma_sync_state: %w", err)
	}
	return nil
}
