package repositories

import (
	"context"
	"time"

	"dolt-chroma-sync/internal/models"
)

// JobRepository defines the interface for the sync job queue. Pipelines
// requested over the API are queued here and picked up by the sync worker.
type JobRepository interface {
	// Job management
	CreateJob(ctx context.Context, job *models.SyncJob) error
	GetJob(ctx context.Context, jobID string) (*models.SyncJob, error)
	UpdateJob(ctx context.Context, job *models.SyncJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, progress int, message string) error
	UpdateJobResult(ctx context.Context, jobID string, result *models.SyncResult) error
	DeleteJob(ctx context.Context, jobID string) error

	// Queries
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.SyncJob, error)
	GetActiveJobs(ctx context.Context) ([]*models.SyncJob, error)

	// Queue operations. All pipelines share one queue because runs are
	// serialized per repository anyway.
	EnqueueJob(ctx context.Context, job *models.SyncJob) error
	DequeueJob(ctx context.Context) (*models.SyncJob, error)
	QueueDepth(ctx context.Context) (int64, error)

	// Cleanup
	CleanupCompletedJobs(ctx context.Context, olderThan time.Duration) (int, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// JobRepositoryError represents errors from the job repository.
type JobRepositoryError struct {
	Operation string
	JobID     string
	Err       error
	Message   string
}

func (e *JobRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Operation + " (" + e.JobID + "): " + e.Err.Error()
	}
	return e.Operation + " (" + e.JobID + "): unknown error"
}

func (e *JobRepositoryError) Unwrap() error {
	return e.Err
}

// NewJobRepositoryError creates a new job repository error.
func NewJobRepositoryError(operation, jobID string, err error, message string) *JobRepositoryError {
	return &JobRepositoryError{
		Operation: operation,
		JobID:     jobID,
		Err:       err,
		Message:   message,
	}
}

// JobNotFoundError reports a missing job.
func JobNotFoundError(jobID string) error {
	return NewJobRepositoryError("get_job", jobID, nil, "job not found: "+jobID)
}

// JobAlreadyExistsError reports a duplicate job ID.
func JobAlreadyExistsError(jobID string) error {
	return NewJobRepositoryError("create_job", jobID, nil, "job already exists: "+jobID)
}
