package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// Document represents a logical, versioned document. It is unique within a
// collection by DocID and carries the canonical content hash of its text.
type Document struct {
	DocID          string                 `json:"doc_id"`
	CollectionName string                 `json:"collection_name"`
	Content        string                 `json:"content"`
	ContentHash    string                 `json:"content_hash"`
	Title          string                 `json:"title,omitempty"`
	DocType        string                 `json:"doc_type,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// HashContent computes the canonical content hash: SHA-256 over the UTF-8
// bytes of content, encoded as lowercase hex.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// EnsureHash fills in ContentHash from Content when it is empty and returns
// the resulting hash.
func (d *Document) EnsureHash() string {
	if d.ContentHash == "" {
		d.ContentHash = HashContent(d.Content)
	}
	return d.ContentHash
}

// Validate checks if the document is valid.
func (d *Document) Validate() error {
	if d.DocID == "" {
		return &ValidationError{Field: "doc_id", Message: "document ID is required"}
	}
	if d.CollectionName == "" {
		return &ValidationError{Field: "collection_name", Message: "collection is required"}
	}
	return nil
}

// DocPair identifies one document version by ID and content hash. Sets of
// DocPairs are compared to decide whether two sides hold the same content.
type DocPair struct {
	DocID       string
	ContentHash string
}

// PairSet is a lookup set of (doc_id, content_hash) pairs.
type PairSet map[DocPair]struct{}

// NewPairSet builds a PairSet from documents.
func NewPairSet(docs []*Document) PairSet {
	set := make(PairSet, len(docs))
	for _, d := range docs {
		set[DocPair{DocID: d.DocID, ContentHash: d.ContentHash}] = struct{}{}
	}
	return set
}

// Add inserts one pair into the set.
func (s PairSet) Add(docID, contentHash string) {
	s[DocPair{DocID: docID, ContentHash: contentHash}] = struct{}{}
}

// SamePairs reports whether two sets hold the same (doc_id, content_hash)
// pairs.
func SamePairs(a, b PairSet) bool {
	if len(a) != len(b) {
		return false
	}
	for p := range a {
		if _, ok := b[p]; !ok {
			return false
		}
	}
	return true
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
