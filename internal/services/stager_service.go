package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"dolt-chroma-sync/internal/db"
	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"
)

// StagerService writes detected local changes into the versioned tables so
// they can be committed. It never talks to the vector store; the detector
// hands it fully reassembled documents.
type StagerService struct {
	version   repositories.VersionRepository
	deletions repositories.DeletionRepository
	repoPath  string
	logger    *log.Logger
}

// NewStagerService creates a stager over the versioning engine.
func NewStagerService(version repositories.VersionRepository, deletions repositories.DeletionRepository, repoPath string, logger *log.Logger) *StagerService {
	return &StagerService{
		version:   version,
		deletions: deletions,
		repoPath:  repoPath,
		logger:    logger,
	}
}

// EnsureSchema applies the versioned-table DDL. Safe to call repeatedly.
func (s *StagerService) EnsureSchema(ctx context.Context) error {
	for _, ddl := range doltSchema {
		if err := s.version.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// StageLocalChanges writes one collection's detected changes into the
// documents table. Returns the number of rows touched.
func (s *StagerService) StageLocalChanges(ctx context.Context, collection string, changes *models.LocalChanges) (int, error) {
	if changes == nil || !changes.HasChanges() {
		return 0, nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return 0, err
	}

	staged := 0
	for _, doc := range changes.New {
		if err := s.upsertDocument(ctx, collection, doc); err != nil {
			return staged, err
		}
		staged++
	}
	for _, doc := range changes.Modified {
		if err := s.upsertDocument(ctx, collection, doc); err != nil {
			return staged, err
		}
		staged++
	}
	for _, del := range changes.Deleted {
		err := s.version.Exec(ctx,
			`DELETE FROM documents WHERE doc_id = ? AND collection_name = ?`,
			del.DocID, collection)
		if err != nil && !db.IsTableNotFound(err) {
			return staged, fmt.Errorf("failed to stage deletion of %s: %w", del.DocID, err)
		}
		staged++
	}

	s.logger.Printf("staged %d change(s) for collection %s", staged, collection)
	return staged, nil
}

func (s *StagerService) upsertDocument(ctx context.Context, collection string, doc *models.Document) error {
	doc.EnsureHash()
	metaJSON := "{}"
	if len(doc.Metadata) > 0 {
		raw, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", doc.DocID, err)
		}
		metaJSON = string(raw)
	}

	err := s.version.Exec(ctx,
		`INSERT INTO documents (doc_id, collection_name, content, content_hash, title, doc_type, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
			content = VALUES(content),
			content_hash = VALUES(content_hash),
			title = VALUES(title),
			doc_type = VALUES(doc_type),
			metadata = VALUES(metadata)`,
		doc.DocID, collection, doc.Content, doc.ContentHash, doc.Title, doc.DocType, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to stage document %s: %w", doc.DocID, err)
	}
	return nil
}

// StageCollectionOperations replays pending collection-level operations
// (delete, rename, metadata update) into the versioned tables. Returns the
// records that were applied so the caller can mark them committed after the
// commit succeeds.
func (s *StagerService) StageCollectionOperations(ctx context.Context) ([]*models.DeletionRecord, error) {
	ops, err := s.deletions.GetPendingCollectionOperations(ctx, s.repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending collection operations: %w", err)
	}
	if len(ops) == 0 {
		return nil, nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	// A delete recorded for a collection makes later rename or metadata ops
	// on the same name moot.
	deletedNames := make(map[string]struct{})
	var applied []*models.DeletionRecord

	for _, op := range ops {
		if _, gone := deletedNames[op.CollectionName]; gone && op.OperationType != models.OpCollectionDelete {
			s.logger.Printf("skipping %s on deleted collection %s", op.OperationType, op.CollectionName)
			applied = append(applied, op)
			continue
		}

		switch op.OperationType {
		case models.OpCollectionDelete:
			if err := s.stageCollectionDelete(ctx, op.CollectionName); err != nil {
				return applied, err
			}
			deletedNames[op.CollectionName] = struct{}{}
		case models.OpCollectionRename:
			if err := s.stageCollectionRename(ctx, op.CollectionName, op.NewName); err != nil {
				return applied, err
			}
		case models.OpCollectionMetadata:
			if err := s.stageCollectionMetadata(ctx, op.CollectionName, op.NewName); err != nil {
				return applied, err
			}
		default:
			s.logger.Printf("WARN: ignoring unknown collection operation %q", op.OperationType)
			continue
		}
		applied = append(applied, op)
	}
	return applied, nil
}

func (s *StagerService) stageCollectionDelete(ctx context.Context, collection string) error {
	// documents first so a partial failure never orphans rows under a
	// missing collection entry
	err := s.version.Exec(ctx, `DELETE FROM documents WHERE collection_name = ?`, collection)
	if err != nil && !db.IsTableNotFound(err) {
		return fmt.Errorf("failed to delete documents of %s: %w", collection, err)
	}
	err = s.version.Exec(ctx, `DELETE FROM document_sync_log WHERE collection_name = ?`, collection)
	if err != nil && !db.IsTableNotFound(err) {
		return fmt.Errorf("failed to delete sync log of %s: %w", collection, err)
	}
	err = s.version.Exec(ctx, `DELETE FROM collections WHERE collection_name = ?`, collection)
	if err != nil && !db.IsTableNotFound(err) {
		return fmt.Errorf("failed to delete collection %s: %w", collection, err)
	}
	err = s.version.Exec(ctx, `DELETE FROM chroma_sync_state WHERE collection_name = ?`, collection)
	if err != nil && !db.IsTableNotFound(err) {
		return fmt.Errorf("failed to delete sync state of %s: %w", collection, err)
	}
	return nil
}

func (s *StagerService) stageCollectionRename(ctx context.Context, oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("rename of %s has no target name", oldName)
	}
	err := s.version.Exec(ctx,
		`UPDATE documents SET collection_name = ? WHERE collection_name = ?`, newName, oldName)
	if err != nil && !db.IsTableNotFound(err) {
		return fmt.Errorf("failed to rename documents of %s: %w", oldName, err)
	}
	err = s.version.Exec(ctx,
		`UPDATE collections SET collection_name = ? WHERE collection_name = ?`, newName, oldName)
	if err != nil && !db.IsTableNotFound(err) {
		return fmt.Errorf("failed to rename collection %s: %w", oldName, err)
	}
	err = s.version.Exec(ctx,
		`UPDATE document_sync_log SET collection_name = ? WHERE collection_name = ?`, newName, oldName)
	if err != nil && !db.IsTableNotFound(err) {
		return fmt.Errorf("failed to rename sync log of %s: %w", oldName, err)
	}
	return nil
}

// stageCollectionMetadata applies a metadata update; the record's NewName
// field carries the JSON metadata payload for this operation type.
func (s *StagerService) stageCollectionMetadata(ctx context.Context, collection, metadataJSON string) error {
	if metadataJSON == "" {
		metadataJSON = "{}"
	}
	err := s.version.Exec(ctx,
		`INSERT INTO collections (collection_name, metadata) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE metadata = VALUES(metadata)`,
		collection, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to update metadata of %s: %w", collection, err)
	}
	return nil
}

// UpsertCollectionRecord keeps the collections table in step with a vector
// collection that has documents staged.
func (s *StagerService) UpsertCollectionRecord(ctx context.Context, info *repositories.CollectionInfo, docCount int) error {
	metaJSON := "{}"
	if info != nil && len(info.Metadata) > 0 {
		raw, err := json.Marshal(info.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal collection metadata: %w", err)
		}
		metaJSON = string(raw)
	}
	name := ""
	if info != nil {
		name = info.Name
	}
	if name == "" {
		return fmt.Errorf("collection record has no name")
	}

	err := s.version.Exec(ctx,
		`INSERT INTO collections (collection_name, document_count, metadata)
		 VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE
			document_count = VALUES(document_count),
			metadata = VALUES(metadata)`,
		name, docCount, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert collection %s: %w", name, err)
	}
	return nil
}

// Add stages the versioned tables with the engine's staging area.
func (s *StagerService) Add(ctx context.Context) error {
	if err := s.version.AddAll(ctx); err != nil {
		return fmt.Errorf("failed to add staged tables: %w", err)
	}
	return nil
}
