package models

import (
	"fmt"
	"strings"
)

// Metadata keys carried on every chunk written to the vector store.
const (
	MetaChunkIndex     = "chunk_index"
	MetaTotalChunks    = "total_chunks"
	MetaSourceID       = "source_id"
	MetaCollectionName = "collection_name"
	MetaContentHash    = "content_hash"
	MetaIsLocalChange  = "is_local_change"
	MetaDoltCommit     = "dolt_commit"
	MetaTitle          = "title"
	MetaDocType        = "doc_type"
)

// chunkIDSeparator joins a base document ID and a chunk index.
const chunkIDSeparator = "_chunk_"

// Chunk is one physical piece of a document as stored in the vector store.
// Metadata holds the document-level user metadata; the system fields are
// typed on the struct and merged in by VectorMetadata.
type Chunk struct {
	ID          string                 `json:"id"`
	DocID       string                 `json:"doc_id"`
	Text        string                 `json:"text"`
	ChunkIndex  int                    `json:"chunk_index"`
	TotalChunks int                    `json:"total_chunks"`
	ContentHash string                 `json:"content_hash"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ChunkID builds the deterministic chunk identifier for a document and index.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s%s%d", docID, chunkIDSeparator, index)
}

// ExtractBaseID recovers the base document ID from a chunk ID by splitting on
// the last occurrence of "_chunk_". Returns the input unchanged when no
// separator is present.
func ExtractBaseID(chunkID string) string {
	idx := strings.LastIndex(chunkID, chunkIDSeparator)
	if idx < 0 {
		return chunkID
	}
	return chunkID[:idx]
}

// IsChunkID reports whether id parses as "<base>_chunk_<i>".
func IsChunkID(id string) bool {
	return strings.LastIndex(id, chunkIDSeparator) > 0
}

// VectorMetadata builds the full metadata map written alongside the chunk
// text: user metadata first, then the system fields, which always win.
func (c *Chunk) VectorMetadata(collectionName, doltCommit string, isLocalChange bool) map[string]interface{} {
	md := make(map[string]interface{}, len(c.Metadata)+7)
	for k, v := range c.Metadata {
		md[k] = v
	}
	md[MetaChunkIndex] = c.ChunkIndex
	md[MetaTotalChunks] = c.TotalChunks
	md[MetaSourceID] = c.DocID
	md[MetaCollectionName] = collectionName
	md[MetaContentHash] = c.ContentHash
	md[MetaIsLocalChange] = isLocalChange
	md[MetaDoltCommit] = doltCommit
	return md
}

// ChunkFromVector rebuilds a Chunk from a raw vector-store row. System fields
// are pulled out of the metadata map; whatever remains is user metadata.
func ChunkFromVector(id, text string, metadata map[string]interface{}) *Chunk {
	c := &Chunk{
		ID:       id,
		DocID:    ExtractBaseID(id),
		Text:     text,
		Metadata: make(map[string]interface{}),
	}
	for k, v := range metadata {
		switch k {
		case MetaChunkIndex:
			c.ChunkIndex = toInt(v)
		case MetaTotalChunks:
			c.TotalChunks = toInt(v)
		case MetaSourceID:
			if s, ok := v.(string); ok && s != "" {
				c.DocID = s
			}
		case MetaContentHash:
			if s, ok := v.(string); ok {
				c.ContentHash = s
			}
		case MetaCollectionName, MetaIsLocalChange, MetaDoltCommit:
			// book-keeping fields, not user metadata
		default:
			c.Metadata[k] = v
		}
	}
	return c
}

// MetadataBool reads a boolean metadata value, tolerating the numeric forms
// JSON decoding produces.
func MetadataBool(metadata map[string]interface{}, key string) bool {
	switch v := metadata[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
