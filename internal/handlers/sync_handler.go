package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"
	"dolt-chroma-sync/internal/services"
)

// SyncHandler exposes the sync pipelines over HTTP. Each mutating endpoint
// accepts "async": true in its body to queue the run instead of executing
// it inline.
type SyncHandler struct {
	sync   *services.SyncService
	jobs   repositories.JobRepository
	logger *log.Logger
}

// NewSyncHandler creates a new sync handler. jobs may be nil, in which case
// async requests are rejected.
func NewSyncHandler(sync *services.SyncService, jobs repositories.JobRepository, logger *log.Logger) *SyncHandler {
	return &SyncHandler{
		sync:   sync,
		jobs:   jobs,
		logger: logger,
	}
}

// syncRequest is the shared body of all pipeline endpoints. Unused fields
// are ignored per endpoint.
type syncRequest struct {
	Message              string             `json:"message,omitempty"`
	Collection           string             `json:"collection,omitempty"`
	Remote               string             `json:"remote,omitempty"`
	Branch               string             `json:"branch,omitempty"`
	Ref                  string             `json:"ref,omitempty"`
	CreateNew            bool               `json:"create_new,omitempty"`
	PreserveLocalChanges bool               `json:"preserve_local_changes,omitempty"`
	ForceReset           bool               `json:"force_reset,omitempty"`
	Hard                 bool               `json:"hard,omitempty"`
	Documents            []*models.Document `json:"documents,omitempty"`
	Async                bool               `json:"async,omitempty"`
}

func (h *SyncHandler) decode(w http.ResponseWriter, r *http.Request) (*syncRequest, bool) {
	req := &syncRequest{}
	if r.Body == nil || r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return nil, false
	}
	return req, true
}

// enqueue stores a job for the background worker and answers 202.
func (h *SyncHandler) enqueue(w http.ResponseWriter, r *http.Request, jobType models.JobType, payload map[string]interface{}) {
	if h.jobs == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "Job queue is not available")
		return
	}
	job := &models.SyncJob{
		ID:         uuid.NewString(),
		Type:       jobType,
		MaxRetries: 3,
		Payload:    payload,
	}
	if err := h.jobs.EnqueueJob(r.Context(), job); err != nil {
		h.logger.Printf("Failed to enqueue %s job: %v", jobType, err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}
	h.logger.Printf("Queued %s job %s", jobType, job.ID)
	writeJSON(w, h.logger, http.StatusAccepted, JobAcceptedResponse{
		JobID:  job.ID,
		Status: string(models.JobStatusQueued),
	})
}

// respond writes the pipeline outcome, translating the missing-collection
// error to 404.
func (h *SyncHandler) respond(w http.ResponseWriter, result *models.SyncResult, err error) {
	if err != nil {
		var noCol *services.NoCollectionError
		if errors.As(err, &noCol) {
			writeError(w, h.logger, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Printf("Pipeline failed: %v", err)
		writeError(w, h.logger, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// Status handles sync status requests
// @Summary Sync status
// @Description Reports branch, head commit, and pending changes on both sides
// @Tags sync
// @Produce json
// @Param collection query string false "Limit local change detection to one collection"
// @Success 200 {object} models.StatusReport
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sync/status [get]
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.sync.Status(r.Context(), r.URL.Query().Get("collection"))
	if err != nil {
		h.logger.Printf("Status failed: %v", err)
		writeError(w, h.logger, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, report)
}

// Initialize handles repository initialization
// @Summary Initialize sync
// @Description Applies the versioned schema and runs a full sync for every known collection
// @Tags sync
// @Accept json
// @Produce json
// @Success 200 {object} models.SyncResult
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sync/init [post]
func (h *SyncHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Async {
		h.enqueue(w, r, models.JobTypeInitialize, nil)
		return
	}
	result, err := h.sync.Initialize(r.Context())
	h.respond(w, result, err)
}

// Commit handles commit requests
// @Summary Commit local changes
// @Description Stages vector-side changes into the versioned store and commits them
// @Tags sync
// @Accept json
// @Produce json
// @Param request body syncRequest true "Commit options"
// @Success 200 {object} models.SyncResult
// @Success 202 {object} JobAcceptedResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/sync/commit [post]
func (h *SyncHandler) Commit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Message == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Commit message is required")
		return
	}
	if req.Async {
		h.enqueue(w, r, models.JobTypeCommit, map[string]interface{}{
			"message":    req.Message,
			"collection": req.Collection,
		})
		return
	}
	result, err := h.sync.Commit(r.Context(), req.Message, req.Collection)
	h.respond(w, result, err)
}

// Pull handles pull requests
// @Summary Pull from remote
// @Description Pulls the current branch from a remote and replays the changes into the vector store
// @Tags sync
// @Accept json
// @Produce json
// @Param request body syncRequest true "Pull options"
// @Success 200 {object} models.SyncResult
// @Success 202 {object} JobAcceptedResponse
// @Router /api/v1/sync/pull [post]
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Async {
		h.enqueue(w, r, models.JobTypePull, map[string]interface{}{"remote": req.Remote})
		return
	}
	result, err := h.sync.Pull(r.Context(), req.Remote)
	h.respond(w, result, err)
}

// Push handles push requests
// @Summary Push to remote
// @Description Pushes the current branch to a remote
// @Tags sync
// @Accept json
// @Produce json
// @Param request body syncRequest true "Push options"
// @Success 200 {object} models.SyncResult
// @Success 202 {object} JobAcceptedResponse
// @Router /api/v1/sync/push [post]
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Async {
		h.enqueue(w, r, models.JobTypePush, map[string]interface{}{
			"remote": req.Remote,
			"branch": req.Branch,
		})
		return
	}
	result, err := h.sync.Push(r.Context(), req.Remote, req.Branch)
	h.respond(w, result, err)
}

// Checkout handles branch checkout requests
// @Summary Checkout a branch
// @Description Switches branches and reconciles the vector store with the new head
// @Tags sync
// @Accept json
// @Produce json
// @Param request body syncRequest true "Checkout options"
// @Success 200 {object} models.SyncResult
// @Success 202 {object} JobAcceptedResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/sync/checkout [post]
func (h *SyncHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Branch == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Branch name is required")
		return
	}
	if req.Async {
		h.enqueue(w, r, models.JobTypeCheckout, map[string]interface{}{
			"branch":                 req.Branch,
			"create_new":             req.CreateNew,
			"preserve_local_changes": req.PreserveLocalChanges,
			"force_reset":            req.ForceReset,
		})
		return
	}
	result, err := h.sync.Checkout(r.Context(), req.Branch, req.CreateNew, req.PreserveLocalChanges, req.ForceReset)
	h.respond(w, result, err)
}

// Merge handles merge requests
// @Summary Merge a branch
// @Description Merges a branch into the current one and replays the result, or reports conflicts
// @Tags sync
// @Accept json
// @Produce json
// @Param request body syncRequest true "Merge options"
// @Success 200 {object} models.SyncResult
// @Success 202 {object} JobAcceptedResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/sync/merge [post]
func (h *SyncHandler) Merge(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Branch == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Branch name is required")
		return
	}
	if req.Async {
		h.enqueue(w, r, models.JobTypeMerge, map[string]interface{}{"branch": req.Branch})
		return
	}
	result, err := h.sync.Merge(r.Context(), req.Branch)
	h.respond(w, result, err)
}

// Reset handles reset requests
// @Summary Reset to a commit
// @Description Soft reset moves the staged set; hard reset also rebuilds the vector store
// @Tags sync
// @Accept json
// @Produce json
// @Param request body syncRequest true "Reset options"
// @Success 200 {object} models.SyncResult
// @Success 202 {object} JobAcceptedResponse
// @Router /api/v1/sync/reset [post]
func (h *SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Async {
		h.enqueue(w, r, models.JobTypeReset, map[string]interface{}{
			"ref":  req.Ref,
			"hard": req.Hard,
		})
		return
	}
	result, err := h.sync.Reset(r.Context(), req.Ref, req.Hard)
	h.respond(w, result, err)
}

// FullSync handles full sync requests
// @Summary Full sync of one collection
// @Description Rebuilds the vector collection from the versioned store head
// @Tags sync
// @Accept json
// @Produce json
// @Param request body syncRequest true "Sync options"
// @Success 200 {object} models.SyncResult
// @Success 202 {object} JobAcceptedResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sync/full [post]
func (h *SyncHandler) FullSync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Collection == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Collection name is required")
		return
	}
	if req.Async {
		h.enqueue(w, r, models.JobTypeFullSync, map[string]interface{}{"collection": req.Collection})
		return
	}
	result, err := h.sync.FullSync(r.Context(), req.Collection)
	h.respond(w, result, err)
}

// IncrementalSync handles incremental sync requests
// @Summary Incremental sync of one collection
// @Description Replays the commit diff since the last synced commit into the vector store
// @Tags sync
// @Accept json
// @Produce json
// @Param request body syncRequest true "Sync options"
// @Success 200 {object} models.SyncResult
// @Success 202 {object} JobAcceptedResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sync/incremental [post]
func (h *SyncHandler) IncrementalSync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Collection == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Collection name is required")
		return
	}
	if req.Async {
		h.enqueue(w, r, models.JobTypeIncrementalSync, map[string]interface{}{"collection": req.Collection})
		return
	}
	result, err := h.sync.IncrementalSync(r.Context(), req.Collection)
	h.respond(w, result, err)
}

// Import handles bulk document imports
// @Summary Import documents
// @Description Writes documents directly into the versioned store, commits, and syncs
// @Tags sync
// @Accept json
// @Produce json
// @Param request body syncRequest true "Documents and commit message"
// @Success 200 {object} models.SyncResult
// @Success 202 {object} JobAcceptedResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/sync/import [post]
func (h *SyncHandler) Import(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Collection == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Collection name is required")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, "At least one document is required")
		return
	}
	if req.Async {
		docs := make([]interface{}, len(req.Documents))
		for i, doc := range req.Documents {
			docs[i] = doc
		}
		h.enqueue(w, r, models.JobTypeImport, map[string]interface{}{
			"collection": req.Collection,
			"message":    req.Message,
			"documents":  docs,
		})
		return
	}
	result, err := h.sync.Import(r.Context(), req.Collection, req.Documents, req.Message)
	h.respond(w, result, err)
}

// ApplyManifest handles manifest application
// @Summary Apply a repository manifest
// @Description Clones or fetches the declared remote, checks out the declared ref, and syncs the listed collections
// @Tags sync
// @Accept json
// @Produce json
// @Param manifest body models.Manifest true "Target repository state"
// @Success 200 {object} models.SyncResult
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/sync/manifest [post]
func (h *SyncHandler) ApplyManifest(w http.ResponseWriter, r *http.Request) {
	var manifest models.Manifest
	if err := json.NewDecoder(r.Body).Decode(&manifest); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, fmt.Sprintf("Invalid manifest: %v", err))
		return
	}
	result, err := h.sync.ApplyManifest(r.Context(), &manifest)
	h.respond(w, result, err)
}
