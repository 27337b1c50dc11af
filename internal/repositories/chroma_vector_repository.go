package repositories

import (
	"context"
	"sort"

	"dolt-chroma-sync/internal/db"
	"dolt-chroma-sync/internal/models"
)

// ChromaVectorRepository implements VectorRepository using ChromaDB.
type ChromaVectorRepository struct {
	client *db.ChromaDBClient
}

// NewChromaVectorRepository creates a new ChromaDB-backed vector repository.
func NewChromaVectorRepository(client *db.ChromaDBClient) VectorRepository {
	return &ChromaVectorRepository{
		client: client,
	}
}

// CreateCollection creates a new collection.
func (r *ChromaVectorRepository) CreateCollection(ctx context.Context, name string, metadata map[string]interface{}) error {
	exists, err := r.CollectionExists(ctx, name)
	if err != nil {
		return NewVectorRepositoryError("create_collection", err, "")
	}
	if exists {
		return CollectionAlreadyExistsError(name)
	}

	if _, err := r.client.CreateCollection(ctx, name, metadata); err != nil {
		return NewVectorRepositoryError("create_collection", err, "failed to create collection: "+name)
	}
	return nil
}

// DeleteCollection deletes a collection.
func (r *ChromaVectorRepository) DeleteCollection(ctx context.Context, name string) error {
	if err := r.client.DeleteCollection(ctx, name); err != nil {
		return NewVectorRepositoryError("delete_collection", err, "failed to delete collection: "+name)
	}
	return nil
}

// GetCollection retrieves collection information.
func (r *ChromaVectorRepository) GetCollection(ctx context.Context, name string) (*CollectionInfo, error) {
	collection, err := r.client.GetCollection(ctx, name)
	if err != nil {
		return nil, CollectionNotFoundError(name)
	}
	return &CollectionInfo{
		ID:       collection.ID,
		Name:     collection.Name,
		Metadata: collection.Metadata,
	}, nil
}

// ListCollections returns all collection names.
func (r *ChromaVectorRepository) ListCollections(ctx context.Context) ([]string, error) {
	collections, err := r.client.ListCollections(ctx)
	if err != nil {
		return nil, NewVectorRepositoryError("list_collections", err, "")
	}
	names := make([]string, len(collections))
	for i, col := range collections {
		names[i] = col.Name
	}
	sort.Strings(names)
	return names, nil
}

// CollectionExists checks if a collection exists.
func (r *ChromaVectorRepository) CollectionExists(ctx context.Context, name string) (bool, error) {
	if _, err := r.client.GetCollection(ctx, name); err != nil {
		// Assume not found error means collection doesn't exist
		return false, nil
	}
	return true, nil
}

// CollectionCount returns the number of chunk rows in a collection.
func (r *ChromaVectorRepository) CollectionCount(ctx context.Context, name string) (int, error) {
	count, err := r.client.CountCollection(ctx, name)
	if err != nil {
		return 0, NewVectorRepositoryError("collection_count", err, "failed to count collection: "+name)
	}
	return count, nil
}

// RenameCollection renames a collection in place.
func (r *ChromaVectorRepository) RenameCollection(ctx context.Context, name, newName string) error {
	if err := r.client.UpdateCollection(ctx, name, newName, nil); err != nil {
		return NewVectorRepositoryError("rename_collection", err, "failed to rename collection: "+name)
	}
	return nil
}

// UpdateCollectionMetadata replaces a collection's metadata.
func (r *ChromaVectorRepository) UpdateCollectionMetadata(ctx context.Context, name string, metadata map[string]interface{}) error {
	if err := r.client.UpdateCollection(ctx, name, "", metadata); err != nil {
		return NewVectorRepositoryError("update_collection_metadata", err, "failed to update collection metadata: "+name)
	}
	return nil
}

// AddChunks writes chunk rows to a collection, tagging each with the source
// commit and the local-change flag.
func (r *ChromaVectorRepository) AddChunks(ctx context.Context, collection string, chunks []*models.Chunk, doltCommit string, markLocalChange bool) error {
	if len(chunks) == 0 {
		return nil
	}

	ids, texts, metadatas := flattenChunks(collection, chunks, doltCommit, markLocalChange)
	if err := r.client.AddDocuments(ctx, collection, ids, texts, metadatas); err != nil {
		return NewVectorRepositoryError("add_chunks", err, "")
	}
	return nil
}

// UpdateChunks rewrites existing chunk rows in place.
func (r *ChromaVectorRepository) UpdateChunks(ctx context.Context, collection string, chunks []*models.Chunk, doltCommit string, markLocalChange bool) error {
	if len(chunks) == 0 {
		return nil
	}

	ids, texts, metadatas := flattenChunks(collection, chunks, doltCommit, markLocalChange)
	if err := r.client.UpdateDocuments(ctx, collection, ids, texts, metadatas); err != nil {
		return NewVectorRepositoryError("update_chunks", err, "")
	}
	return nil
}

// GetChunks fetches chunk rows by ID and/or metadata filter.
func (r *ChromaVectorRepository) GetChunks(ctx context.Context, collection string, ids []string, where map[string]interface{}) ([]*models.Chunk, error) {
	resp, err := r.client.GetDocuments(ctx, collection, ids, where, 0, 0)
	if err != nil {
		return nil, NewVectorRepositoryError("get_chunks", err, "")
	}

	chunks := make([]*models.Chunk, 0, len(resp.IDs))
	for i, id := range resp.IDs {
		text := ""
		if i < len(resp.Documents) {
			text = resp.Documents[i]
		}
		var metadata map[string]interface{}
		if i < len(resp.Metadatas) {
			metadata = resp.Metadatas[i]
		}
		chunks = append(chunks, models.ChunkFromVector(id, text, metadata))
	}
	return chunks, nil
}

// DeleteChunks deletes chunk rows by ID. Unknown IDs are ignored by the
// store, which makes over-estimated candidate ranges safe.
func (r *ChromaVectorRepository) DeleteChunks(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.client.DeleteDocuments(ctx, collection, ids); err != nil {
		return NewVectorRepositoryError("delete_chunks", err, "")
	}
	return nil
}

// ListChunkIDs returns every chunk ID in a collection.
func (r *ChromaVectorRepository) ListChunkIDs(ctx context.Context, collection string) ([]string, error) {
	resp, err := r.client.GetDocuments(ctx, collection, nil, nil, 0, 0)
	if err != nil {
		return nil, NewVectorRepositoryError("list_chunk_ids", err, "")
	}
	ids := make([]string, len(resp.IDs))
	copy(ids, resp.IDs)
	sort.Strings(ids)
	return ids, nil
}

// ListDocumentIDs returns the distinct base document IDs in a collection.
func (r *ChromaVectorRepository) ListDocumentIDs(ctx context.Context, collection string) ([]string, error) {
	chunkIDs, err := r.ListChunkIDs(ctx, collection)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var docIDs []string
	for _, id := range chunkIDs {
		base := models.ExtractBaseID(id)
		if _, ok := seen[base]; !ok {
			seen[base] = struct{}{}
			docIDs = append(docIDs, base)
		}
	}
	sort.Strings(docIDs)
	return docIDs, nil
}

// Ping checks the vector store is reachable.
func (r *ChromaVectorRepository) Ping(ctx context.Context) error {
	if err := r.client.Heartbeat(ctx); err != nil {
		return NewVectorRepositoryError("ping", err, "")
	}
	return nil
}

// Close releases client resources.
func (r *ChromaVectorRepository) Close() error {
	r.client.Close()
	return nil
}

func flattenChunks(collection string, chunks []*models.Chunk, doltCommit string, markLocalChange bool) ([]string, []string, []map[string]interface{}) {
	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	metadatas := make([]map[string]interface{}, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
		texts[i] = chunk.Text
		metadatas[i] = chunk.VectorMetadata(collection, doltCommit, markLocalChange)
	}
	return ids, texts, metadatas
}
