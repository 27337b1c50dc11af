package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"
	"dolt-chroma-sync/internal/services"
)

// CollectionHandler handles HTTP requests for collections and the documents
// inside them. All writes go through the editor service so they are tracked
// as local changes.
type CollectionHandler struct {
	editor *services.DocumentEditorService
	vector repositories.VectorRepository
	logger *log.Logger
}

// NewCollectionHandler creates a new collection handler.
func NewCollectionHandler(editor *services.DocumentEditorService, vector repositories.VectorRepository, logger *log.Logger) *CollectionHandler {
	return &CollectionHandler{
		editor: editor,
		vector: vector,
		logger: logger,
	}
}

// CollectionListResponse lists collection names.
type CollectionListResponse struct {
	Collections []string `json:"collections"`
	Count       int      `json:"count"`
}

// CollectionInfoResponse describes one collection.
type CollectionInfoResponse struct {
	Name       string                 `json:"name"`
	ID         string                 `json:"id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	ChunkCount int                    `json:"chunk_count"`
}

// DocumentListResponse lists document IDs in a collection.
type DocumentListResponse struct {
	Collection string   `json:"collection"`
	Documents  []string `json:"documents"`
	Count      int      `json:"count"`
}

// PutDocumentResponse reports a document write.
type PutDocumentResponse struct {
	DocID      string `json:"doc_id"`
	Collection string `json:"collection"`
	Chunks     int    `json:"chunks"`
}

// ListCollections handles collection list requests
// @Summary List collections
// @Description Get all collection names in the vector store
// @Tags collections
// @Produce json
// @Success 200 {object} CollectionListResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/collections [get]
func (h *CollectionHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.vector.ListCollections(r.Context())
	if err != nil {
		h.logger.Printf("Failed to list collections: %v", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to list collections")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, CollectionListResponse{
		Collections: names,
		Count:       len(names),
	})
}

// CreateCollection handles collection creation
// @Summary Create a collection
// @Description Create a new collection in the vector store
// @Tags collections
// @Accept json
// @Produce json
// @Param request body object true "Collection name and metadata"
// @Success 201 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/collections [post]
func (h *CollectionHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string                 `json:"name"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Collection name is required")
		return
	}

	if err := h.vector.CreateCollection(r.Context(), req.Name, req.Metadata); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			writeError(w, h.logger, http.StatusConflict, err.Error())
			return
		}
		h.logger.Printf("Failed to create collection %s: %v", req.Name, err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to create collection")
		return
	}
	h.logger.Printf("Created collection %s", req.Name)
	writeJSON(w, h.logger, http.StatusCreated, SuccessResponse{
		Success: true,
		Message: "Collection created: " + req.Name,
	})
}

// GetCollection handles collection info requests
// @Summary Get collection info
// @Description Get metadata and chunk count for one collection
// @Tags collections
// @Produce json
// @Param name path string true "Collection name"
// @Success 200 {object} CollectionInfoResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/collections/{name} [get]
func (h *CollectionHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	info, err := h.vector.GetCollection(r.Context(), name)
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, "Collection not found: "+name)
		return
	}
	count, err := h.vector.CollectionCount(r.Context(), name)
	if err != nil {
		h.logger.Printf("Failed to count collection %s: %v", name, err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to count collection")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, CollectionInfoResponse{
		Name:       info.Name,
		ID:         info.ID,
		Metadata:   info.Metadata,
		ChunkCount: count,
	})
}

// DeleteCollection handles collection deletion
// @Summary Delete a collection
// @Description Delete a collection and record the operation for the next commit
// @Tags collections
// @Produce json
// @Param name path string true "Collection name"
// @Success 200 {object} SuccessResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/collections/{name} [delete]
func (h *CollectionHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.editor.DeleteCollection(r.Context(), name); err != nil {
		h.logger.Printf("Failed to delete collection %s: %v", name, err)
		writeError(w, h.logger, http.StatusInternalServerError, fmt.Sprintf("Failed to delete collection: %v", err))
		return
	}
	h.logger.Printf("Deleted collection %s", name)
	writeJSON(w, h.logger, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Collection deleted: " + name,
	})
}

// RenameCollection handles collection renames
// @Summary Rename a collection
// @Description Rename a collection and record the operation for the next commit
// @Tags collections
// @Accept json
// @Produce json
// @Param name path string true "Collection name"
// @Param request body object true "New name"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/collections/{name}/rename [post]
func (h *CollectionHandler) RenameCollection(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req struct {
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.NewName == "" {
		writeError(w, h.logger, http.StatusBadRequest, "New name is required")
		return
	}

	if err := h.editor.RenameCollection(r.Context(), name, req.NewName); err != nil {
		h.logger.Printf("Failed to rename collection %s: %v", name, err)
		writeError(w, h.logger, http.StatusInternalServerError, fmt.Sprintf("Failed to rename collection: %v", err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SuccessResponse{
		Success: true,
		Message: fmt.Sprintf("Collection renamed: %s -> %s", name, req.NewName),
	})
}

// UpdateCollectionMetadata handles metadata updates
// @Summary Update collection metadata
// @Description Replace a collection's metadata and record the operation for the next commit
// @Tags collections
// @Accept json
// @Produce json
// @Param name path string true "Collection name"
// @Param metadata body object true "New metadata"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/collections/{name}/metadata [put]
func (h *CollectionHandler) UpdateCollectionMetadata(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var metadata map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Metadata is not serializable")
		return
	}

	if err := h.editor.UpdateCollectionMetadata(r.Context(), name, string(payload), metadata); err != nil {
		h.logger.Printf("Failed to update metadata of %s: %v", name, err)
		writeError(w, h.logger, http.StatusInternalServerError, fmt.Sprintf("Failed to update metadata: %v", err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Collection metadata updated: " + name,
	})
}

// ListDocuments handles document list requests
// @Summary List documents
// @Description Get the distinct document IDs in a collection
// @Tags documents
// @Produce json
// @Param name path string true "Collection name"
// @Success 200 {object} DocumentListResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/collections/{name}/documents [get]
func (h *CollectionHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	docs, err := h.editor.ListDocuments(r.Context(), name)
	if err != nil {
		h.logger.Printf("Failed to list documents of %s: %v", name, err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to list documents")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, DocumentListResponse{
		Collection: name,
		Documents:  docs,
		Count:      len(docs),
	})
}

// PutDocument handles document writes
// @Summary Write a document
// @Description Create or replace a document; chunks are flagged as local changes
// @Tags documents
// @Accept json
// @Produce json
// @Param name path string true "Collection name"
// @Param doc_id path string true "Document ID"
// @Param request body object true "Document content and metadata"
// @Success 200 {object} PutDocumentResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/collections/{name}/documents/{doc_id} [put]
func (h *CollectionHandler) PutDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, docID := vars["name"], vars["doc_id"]

	var req struct {
		Content  string                 `json:"content"`
		Title    string                 `json:"title,omitempty"`
		DocType  string                 `json:"doc_type,omitempty"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Document content is required")
		return
	}

	doc := &models.Document{
		DocID:    docID,
		Content:  req.Content,
		Title:    req.Title,
		DocType:  req.DocType,
		Metadata: req.Metadata,
	}
	chunks, err := h.editor.PutDocument(r.Context(), name, doc)
	if err != nil {
		h.logger.Printf("Failed to write %s/%s: %v", name, docID, err)
		writeError(w, h.logger, http.StatusInternalServerError, fmt.Sprintf("Failed to write document: %v", err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, PutDocumentResponse{
		DocID:      docID,
		Collection: name,
		Chunks:     chunks,
	})
}

// GetDocument handles document reads
// @Summary Get a document
// @Description Reassemble a document from its chunks
// @Tags documents
// @Produce json
// @Param name path string true "Collection name"
// @Param doc_id path string true "Document ID"
// @Success 200 {object} models.Document
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/collections/{name}/documents/{doc_id} [get]
func (h *CollectionHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, docID := vars["name"], vars["doc_id"]

	doc, err := h.editor.GetDocument(r.Context(), name, docID)
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, fmt.Sprintf("Document not found: %s", docID))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, doc)
}

// DeleteDocument handles document deletion
// @Summary Delete a document
// @Description Delete a document and record a tombstone for the next commit
// @Tags documents
// @Produce json
// @Param name path string true "Collection name"
// @Param doc_id path string true "Document ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/collections/{name}/documents/{doc_id} [delete]
func (h *CollectionHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, docID := vars["name"], vars["doc_id"]

	if err := h.editor.DeleteDocument(r.Context(), name, docID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, h.logger, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Printf("Failed to delete %s/%s: %v", name, docID, err)
		writeError(w, h.logger, http.StatusInternalServerError, fmt.Sprintf("Failed to delete document: %v", err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SuccessResponse{
		Success: true,
		Message: fmt.Sprintf("Document deleted: %s/%s", name, docID),
	})
}
