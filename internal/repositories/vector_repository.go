package repositories

import (
	"context"

	"dolt-chroma-sync/internal/models"
)

// VectorRepository defines the interface for vector store operations.
// This abstracts ChromaDB and allows for easy testing and implementation
// swapping.
type VectorRepository interface {
	// Collection management
	CreateCollection(ctx context.Context, name string, metadata map[string]interface{}) error
	DeleteCollection(ctx context.Context, name string) error
	GetCollection(ctx context.Context, name string) (*CollectionInfo, error)
	ListCollections(ctx context.Context) ([]string, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	CollectionCount(ctx context.Context, name string) (int, error)
	RenameCollection(ctx context.Context, name, newName string) error
	UpdateCollectionMetadata(ctx context.Context, name string, metadata map[string]interface{}) error

	// Chunk operations. doltCommit tags every chunk with the commit it was
	// written from; markLocalChange controls the is_local_change flag.
	AddChunks(ctx context.Context, collection string, chunks []*models.Chunk, doltCommit string, markLocalChange bool) error
	UpdateChunks(ctx context.Context, collection string, chunks []*models.Chunk, doltCommit string, markLocalChange bool) error
	GetChunks(ctx context.Context, collection string, ids []string, where map[string]interface{}) ([]*models.Chunk, error)
	DeleteChunks(ctx context.Context, collection string, ids []string) error
	ListChunkIDs(ctx context.Context, collection string) ([]string, error)
	ListDocumentIDs(ctx context.Context, collection string) ([]string, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// CollectionInfo represents metadata about a collection.
type CollectionInfo struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata"`
}

// VectorRepositoryError represents errors from the vector repository.
type VectorRepositoryError struct {
	Operation string
	Err       error
	Message   string
}

func (e *VectorRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Operation + ": " + e.Err.Error()
	}
	return e.Operation + ": unknown error"
}

func (e *VectorRepositoryError) Unwrap() error {
	return e.Err
}

// NewVectorRepositoryError creates a new vector repository error.
func NewVectorRepositoryError(operation string, err error, message string) *VectorRepositoryError {
	return &VectorRepositoryError{
		Operation: operation,
		Err:       err,
		Message:   message,
	}
}

// CollectionNotFoundError reports a missing collection.
func CollectionNotFoundError(name string) error {
	return NewVectorRepositoryError("get_collection", nil, "collection not found: "+name)
}

// CollectionAlreadyExistsError reports a duplicate collection name.
func CollectionAlreadyExistsError(name string) error {
	return NewVectorRepositoryError("create_collection", nil, "collection already exists: "+name)
}
