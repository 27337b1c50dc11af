package models

import (
	"time"
)

// SyncJob represents a queued sync pipeline run processed by a background
// worker.
type SyncJob struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Priority    int                    `json:"priority"` // Higher = more important
	Progress    int                    `json:"progress"` // 0-100
	Message     string                 `json:"message"`
	Payload     map[string]interface{} `json:"payload"` // Pipeline options
	Result      *SyncResult            `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
	WorkerID    string                 `json:"worker_id,omitempty"`
}

// JobType maps one-to-one onto a sync pipeline.
type JobType string

const (
	JobTypeCommit          JobType = "sync_commit"
	JobTypePull            JobType = "sync_pull"
	JobTypePush            JobType = "sync_push"
	JobTypeCheckout        JobType = "sync_checkout"
	JobTypeMerge           JobType = "sync_merge"
	JobTypeReset           JobType = "sync_reset"
	JobTypeFullSync        JobType = "sync_full"
	JobTypeIncrementalSync JobType = "sync_incremental"
	JobTypeInitialize      JobType = "sync_initialize"
	JobTypeImport          JobType = "sync_import"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusRetrying   JobStatus = "retrying"
)

// IsValid checks if the job type is one of the known pipelines.
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeCommit, JobTypePull, JobTypePush, JobTypeCheckout, JobTypeMerge,
		JobTypeReset, JobTypeFullSync, JobTypeIncrementalSync, JobTypeInitialize, JobTypeImport:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Validate checks if the job is valid.
func (j *SyncJob) Validate() error {
	if j.ID == "" {
		return &ValidationError{Field: "id", Message: "job ID is required"}
	}
	if !j.Type.IsValid() {
		return &ValidationError{Field: "type", Message: "unknown job type: " + string(j.Type)}
	}
	return nil
}

// PayloadString reads a string field from the job payload.
func (j *SyncJob) PayloadString(key string) string {
	if j.Payload == nil {
		return ""
	}
	if s, ok := j.Payload[key].(string); ok {
		return s
	}
	return ""
}

// PayloadBool reads a boolean field from the job payload.
func (j *SyncJob) PayloadBool(key string) bool {
	if j.Payload == nil {
		return false
	}
	return MetadataBool(j.Payload, key)
}
