package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"
	"dolt-chroma-sync/internal/workers"
)

// JobHandler exposes the sync job queue: job lookup, listing, deletion, and
// worker statistics.
type JobHandler struct {
	jobs   repositories.JobRepository
	worker *workers.SyncWorker
	logger *log.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobs repositories.JobRepository, worker *workers.SyncWorker, logger *log.Logger) *JobHandler {
	return &JobHandler{
		jobs:   jobs,
		worker: worker,
		logger: logger,
	}
}

// JobListResponse lists jobs.
type JobListResponse struct {
	Jobs  []*models.SyncJob `json:"jobs"`
	Count int               `json:"count"`
}

// QueueDepthResponse reports the queue backlog.
type QueueDepthResponse struct {
	Depth int64 `json:"depth"`
}

// GetJob handles job lookup requests
// @Summary Get a job
// @Description Get the status, progress, and result of one sync job
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.SyncJob
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/jobs/{id} [get]
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, "Job not found: "+id)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, job)
}

// ListJobs handles job list requests
// @Summary List jobs
// @Description List jobs by status, or the active ones when no status is given
// @Tags jobs
// @Produce json
// @Param status query string false "Job status filter"
// @Success 200 {object} JobListResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/jobs [get]
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var (
		jobs []*models.SyncJob
		err  error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		jobs, err = h.jobs.ListJobsByStatus(r.Context(), models.JobStatus(status))
	} else {
		jobs, err = h.jobs.GetActiveJobs(r.Context())
	}
	if err != nil {
		h.logger.Printf("Failed to list jobs: %v", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, JobListResponse{
		Jobs:  jobs,
		Count: len(jobs),
	})
}

// DeleteJob handles job deletion requests
// @Summary Delete a job
// @Description Remove a job record from the queue store
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/jobs/{id} [delete]
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.jobs.DeleteJob(r.Context(), id); err != nil {
		writeError(w, h.logger, http.StatusNotFound, "Job not found: "+id)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Job deleted: " + id,
	})
}

// QueueDepth handles queue depth requests
// @Summary Queue depth
// @Description Number of jobs waiting in the queue
// @Tags jobs
// @Produce json
// @Success 200 {object} QueueDepthResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/jobs/queue/depth [get]
func (h *JobHandler) QueueDepth(w http.ResponseWriter, r *http.Request) {
	depth, err := h.jobs.QueueDepth(r.Context())
	if err != nil {
		h.logger.Printf("Failed to read queue depth: %v", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to read queue depth")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, QueueDepthResponse{Depth: depth})
}

// WorkerStats handles worker statistics requests
// @Summary Worker statistics
// @Description Processing counters and uptime of the sync worker
// @Tags jobs
// @Produce json
// @Success 200 {object} workers.WorkerStats
// @Router /api/v1/workers/stats [get]
func (h *JobHandler) WorkerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.worker.Stats())
}
