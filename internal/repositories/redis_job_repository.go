package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"dolt-chroma-sync/internal/models"
)

const (
	// Redis key prefixes for jobs
	jobKeyPrefix    = "syncjob:"
	jobIndexKey     = "syncjobs:index"
	jobQueueKey     = "syncjobs:queue"
	jobStatusPrefix = "syncjob:status:"
)

// RedisJobRepository implements JobRepository using Redis.
type RedisJobRepository struct {
	client *redis.Client
}

// NewRedisJobRepository creates a new Redis-based job repository.
func NewRedisJobRepository(client *redis.Client) JobRepository {
	return &RedisJobRepository{
		client: client,
	}
}

// CreateJob creates a new job record.
func (r *RedisJobRepository) CreateJob(ctx context.Context, job *models.SyncJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	exists, err := r.jobExists(ctx, job.ID)
	if err != nil {
		return NewJobRepositoryError("create_job", job.ID, err, "")
	}
	if exists {
		return JobAlreadyExistsError(job.ID)
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return NewJobRepositoryError("create_job", job.ID, err, "failed to marshal job")
	}

	// Use transaction for atomicity
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, jobJSON, 0)
	pipe.SAdd(ctx, jobIndexKey, job.ID)
	pipe.SAdd(ctx, jobStatusPrefix+string(job.Status), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewJobRepositoryError("create_job", job.ID, err, "")
	}
	return nil
}

// GetJob retrieves a job by ID.
func (r *RedisJobRepository) GetJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	data, err := r.client.Get(ctx, jobKeyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, JobNotFoundError(jobID)
	}
	if err != nil {
		return nil, NewJobRepositoryError("get_job", jobID, err, "")
	}

	var job models.SyncJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, NewJobRepositoryError("get_job", jobID, err, "failed to unmarshal job")
	}
	return &job, nil
}

// UpdateJob replaces a job record, maintaining the status indexes.
func (r *RedisJobRepository) UpdateJob(ctx context.Context, job *models.SyncJob) error {
	current, err := r.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}

	job.UpdatedAt = time.Now()
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return NewJobRepositoryError("update_job", job.ID, err, "failed to marshal job")
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, jobJSON, 0)
	if current.Status != job.Status {
		pipe.SRem(ctx, jobStatusPrefix+string(current.Status), job.ID)
		pipe.SAdd(ctx, jobStatusPrefix+string(job.Status), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return NewJobRepositoryError("update_job", job.ID, err, "")
	}
	return nil
}

// UpdateJobStatus updates status, progress, and message for a job.
func (r *RedisJobRepository) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, progress int, message string) error {
	job, err := r.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = status
	job.Progress = progress
	job.Message = message

	now := time.Now()
	switch status {
	case models.JobStatusProcessing:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		job.CompletedAt = &now
	}
	return r.UpdateJob(ctx, job)
}

// UpdateJobResult attaches the pipeline result to a job.
func (r *RedisJobRepository) UpdateJobResult(ctx context.Context, jobID string, result *models.SyncResult) error {
	job, err := r.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Result = result
	return r.UpdateJob(ctx, job)
}

// DeleteJob removes a job and its index entries.
func (r *RedisJobRepository) DeleteJob(ctx context.Context, jobID string) error {
	job, err := r.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, jobKeyPrefix+jobID)
	pipe.SRem(ctx, jobIndexKey, jobID)
	pipe.SRem(ctx, jobStatusPrefix+string(job.Status), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewJobRepositoryError("delete_job", jobID, err, "")
	}
	return nil
}

// ListJobsByStatus returns all jobs with the given status.
func (r *RedisJobRepository) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.SyncJob, error) {
	ids, err := r.client.SMembers(ctx, jobStatusPrefix+string(status)).Result()
	if err != nil {
		return nil, NewJobRepositoryError("list_jobs_by_status", "", err, "")
	}
	return r.getBatch(ctx, ids)
}

// GetActiveJobs returns jobs that are queued or processing.
func (r *RedisJobRepository) GetActiveJobs(ctx context.Context) ([]*models.SyncJob, error) {
	var active []*models.SyncJob
	for _, status := range []models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing} {
		jobs, err := r.ListJobsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		active = append(active, jobs...)
	}
	return active, nil
}

// EnqueueJob stores the job record and pushes it onto the queue. An
// existing record is updated in place so retried jobs re-enter the queue.
func (r *RedisJobRepository) EnqueueJob(ctx context.Context, job *models.SyncJob) error {
	job.Status = models.JobStatusQueued
	exists, err := r.jobExists(ctx, job.ID)
	if err != nil {
		return NewJobRepositoryError("enqueue_job", job.ID, err, "")
	}
	if exists {
		if err := r.UpdateJob(ctx, job); err != nil {
			return err
		}
	} else if err := r.CreateJob(ctx, job); err != nil {
		return err
	}
	if err := r.client.LPush(ctx, jobQueueKey, job.ID).Err(); err != nil {
		return NewJobRepositoryError("enqueue_job", job.ID, err, "")
	}
	return nil
}

// DequeueJob pops the oldest queued job, or returns nil when the queue is
// empty.
func (r *RedisJobRepository) DequeueJob(ctx context.Context) (*models.SyncJob, error) {
	jobID, err := r.client.RPop(ctx, jobQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, NewJobRepositoryError("dequeue_job", "", err, "")
	}
	return r.GetJob(ctx, jobID)
}

// QueueDepth returns the number of queued jobs. Exposed as the worker's
// backlog metric.
func (r *RedisJobRepository) QueueDepth(ctx context.Context) (int64, error) {
	depth, err := r.client.LLen(ctx, jobQueueKey).Result()
	if err != nil {
		return 0, NewJobRepositoryError("queue_depth", "", err, "")
	}
	return depth, nil
}

// CleanupCompletedJobs deletes terminal jobs older than the given age.
func (r *RedisJobRepository) CleanupCompletedJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for _, status := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled} {
		jobs, err := r.ListJobsByStatus(ctx, status)
		if err != nil {
			return deleted, err
		}
		for _, job := range jobs {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				if err := r.DeleteJob(ctx, job.ID); err != nil {
					return deleted, err
				}
				deleted++
			}
		}
	}
	return deleted, nil
}

// Ping checks the Redis connection.
func (r *RedisJobRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisJobRepository) Close() error {
	return r.client.Close()
}

func (r *RedisJobRepository) jobExists(ctx context.Context, jobID string) (bool, error) {
	n, err := r.client.Exists(ctx, jobKeyPrefix+jobID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisJobRepository) getBatch(ctx context.Context, jobIDs []string) ([]*models.SyncJob, error) {
	jobs := make([]*models.SyncJob, 0, len(jobIDs))
	for _, id := range jobIDs {
		job, err := r.GetJob(ctx, id)
		if err != nil {
			// index may be ahead of a concurrent delete
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
