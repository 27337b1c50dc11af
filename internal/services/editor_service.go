package services

import (
	"context"
	"fmt"
	"log"

	"dolt-chroma-sync/internal/chunker"
	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"
)

// DocumentEditorService is the write surface of the vector store. Every edit
// it makes is flagged as a local change so the sync pipelines can later
// stage and commit it.
type DocumentEditorService struct {
	vector    repositories.VectorRepository
	deletions repositories.DeletionRepository
	chunker   *chunker.Chunker
	repoPath  string
	logger    *log.Logger
}

// NewDocumentEditorService creates the editor over the vector store.
func NewDocumentEditorService(
	vector repositories.VectorRepository,
	deletions repositories.DeletionRepository,
	ck *chunker.Chunker,
	repoPath string,
	logger *log.Logger,
) *DocumentEditorService {
	return &DocumentEditorService{
		vector:    vector,
		deletions: deletions,
		chunker:   ck,
		repoPath:  repoPath,
		logger:    logger,
	}
}

// PutDocument writes or replaces one document in a collection. The chunks
// are flagged so change detection picks them up without a full scan.
func (s *DocumentEditorService) PutDocument(ctx context.Context, collection string, doc *models.Document) (int, error) {
	if collection == "" {
		return 0, &NoCollectionError{}
	}
	doc.CollectionName = collection
	if err := doc.Validate(); err != nil {
		return 0, err
	}

	exists, err := s.vector.CollectionExists(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	if !exists {
		if err := s.vector.CreateCollection(ctx, collection, nil); err != nil {
			return 0, err
		}
	}

	chunks, err := s.chunker.Chunk(doc)
	if err != nil {
		return 0, err
	}

	// Clear any previous version first so a shrinking document leaves no
	// stale trailing chunks behind.
	candidates := s.chunker.CandidateChunkIDs(doc.DocID, s.chunker.EstimateChunkCount(doc.Content))
	if err := s.vector.DeleteChunks(ctx, collection, candidates); err != nil {
		return 0, fmt.Errorf("failed to clear previous chunks of %s: %w", doc.DocID, err)
	}
	if err := s.vector.AddChunks(ctx, collection, chunks, "", true); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", doc.DocID, err)
	}
	s.logger.Printf("wrote %s to %s as %d chunk(s)", doc.DocID, collection, len(chunks))
	return len(chunks), nil
}

// GetDocument reassembles one document from its chunks.
func (s *DocumentEditorService) GetDocument(ctx context.Context, collection, docID string) (*models.Document, error) {
	n := s.chunker.EstimateChunkCount("")
	chunks, err := s.vector.GetChunks(ctx, collection, s.chunker.CandidateChunkIDs(docID, n), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks of %s: %w", docID, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document not found: %s", docID)
	}
	// The candidate range may undershoot for large documents; when the
	// first chunk names a bigger total, fetch the exact range.
	if total := chunks[0].TotalChunks; total > len(chunks) {
		chunks, err = s.vector.GetChunks(ctx, collection, s.chunker.CandidateChunkIDs(docID, total), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunks of %s: %w", docID, err)
		}
	}
	doc, err := s.chunker.Reassemble(chunks)
	if err != nil {
		return nil, err
	}
	doc.CollectionName = collection
	return doc, nil
}

// DeleteDocument removes a document from the collection and records the
// deletion so it survives until the next commit.
func (s *DocumentEditorService) DeleteDocument(ctx context.Context, collection, docID string) error {
	doc, err := s.GetDocument(ctx, collection, docID)
	if err != nil {
		return err
	}
	if err := s.deletions.RecordDocumentDeletion(ctx, s.repoPath, collection, docID, doc.ContentHash); err != nil {
		return fmt.Errorf("failed to record deletion of %s: %w", docID, err)
	}

	candidates := s.chunker.CandidateChunkIDs(docID, s.chunker.EstimateChunkCount(doc.Content))
	if err := s.vector.DeleteChunks(ctx, collection, candidates); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", docID, err)
	}
	s.logger.Printf("deleted %s from %s", docID, collection)
	return nil
}

// ListDocuments returns the distinct document IDs of a collection.
func (s *DocumentEditorService) ListDocuments(ctx context.Context, collection string) ([]string, error) {
	return s.vector.ListDocumentIDs(ctx, collection)
}

// DeleteCollection drops a collection from the vector store and records the
// operation for the next commit.
func (s *DocumentEditorService) DeleteCollection(ctx context.Context, collection string) error {
	if err := s.vector.DeleteCollection(ctx, collection); err != nil {
		return err
	}
	if err := s.deletions.RecordCollectionOperation(ctx, s.repoPath, collection, models.OpCollectionDelete, collection, ""); err != nil {
		return fmt.Errorf("failed to record deletion of collection %s: %w", collection, err)
	}
	return nil
}

// RenameCollection renames a collection and records the operation.
func (s *DocumentEditorService) RenameCollection(ctx context.Context, collection, newName string) error {
	if newName == "" {
		return fmt.Errorf("rename of %s has no target name", collection)
	}
	if err := s.vector.RenameCollection(ctx, collection, newName); err != nil {
		return err
	}
	if err := s.deletions.RecordCollectionOperation(ctx, s.repoPath, collection, models.OpCollectionRename, collection, newName); err != nil {
		return fmt.Errorf("failed to record rename of collection %s: %w", collection, err)
	}
	return nil
}

// UpdateCollectionMetadata updates a collection's metadata and records the
// operation with the serialized payload.
func (s *DocumentEditorService) UpdateCollectionMetadata(ctx context.Context, collection, metadataJSON string, metadata map[string]interface{}) error {
	if err := s.vector.UpdateCollectionMetadata(ctx, collection, metadata); err != nil {
		return err
	}
	if err := s.deletions.RecordCollectionOperation(ctx, s.repoPath, collection, models.OpCollectionMetadata, collection, metadataJSON); err != nil {
		return fmt.Errorf("failed to record metadata update of %s: %w", collection, err)
	}
	return nil
}
