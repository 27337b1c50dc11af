package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"
)

// SyncPipelines is the surface the worker drives. It matches SyncService so
// tests can substitute a fake.
type SyncPipelines interface {
	Initialize(ctx context.Context) (*models.SyncResult, error)
	Commit(ctx context.Context, message, collection string) (*models.SyncResult, error)
	Pull(ctx context.Context, remote string) (*models.SyncResult, error)
	Push(ctx context.Context, remote, branch string) (*models.SyncResult, error)
	Checkout(ctx context.Context, branch string, createNew, preserveLocalChanges, forceReset bool) (*models.SyncResult, error)
	Merge(ctx context.Context, branch string) (*models.SyncResult, error)
	Reset(ctx context.Context, ref string, hard bool) (*models.SyncResult, error)
	FullSync(ctx context.Context, collection string) (*models.SyncResult, error)
	IncrementalSync(ctx context.Context, collection string) (*models.SyncResult, error)
	Import(ctx context.Context, collection string, docs []*models.Document, message string) (*models.SyncResult, error)
}

// queueWarnInterval throttles queue-depth warnings.
const queueWarnInterval = time.Minute

// SyncWorker drains the job queue and runs sync pipelines. One goroutine is
// enough: pipelines are serialized per repository, so extra concurrency
// would only contend on the pipeline mutex.
type SyncWorker struct {
	*BaseWorker
	jobs      repositories.JobRepository
	pipelines SyncPipelines
	logger    *log.Logger

	queueWarnDepth int64
	lastQueueWarn  time.Time
	cancel         context.CancelFunc
	done           chan struct{}
}

// SyncWorkerConfig holds configuration for the sync worker.
type SyncWorkerConfig struct {
	WorkerConfig   WorkerConfig
	Jobs           repositories.JobRepository
	Pipelines      SyncPipelines
	Logger         *log.Logger
	QueueWarnDepth int64
}

// NewSyncWorker creates a new sync worker.
func NewSyncWorker(config SyncWorkerConfig) *SyncWorker {
	warnDepth := config.QueueWarnDepth
	if warnDepth <= 0 {
		warnDepth = 50
	}
	return &SyncWorker{
		BaseWorker:     NewBaseWorker(config.WorkerConfig),
		jobs:           config.Jobs,
		pipelines:      config.Pipelines,
		logger:         config.Logger,
		queueWarnDepth: warnDepth,
	}
}

// Start begins draining the queue.
func (w *SyncWorker) Start(ctx context.Context) error {
	if w.IsRunning() {
		return NewWorkerError(w.Name(), "start", nil, "worker already running")
	}
	w.setRunning(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.logger.Printf("sync worker %s started", w.Name())

	go w.run(runCtx)
	return nil
}

// Stop shuts the worker down, waiting up to the configured timeout for the
// in-flight job to finish.
func (w *SyncWorker) Stop(ctx context.Context) error {
	if !w.IsRunning() {
		return nil
	}
	w.logger.Printf("sync worker %s stopping", w.Name())
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Printf("WARN: sync worker %s shutdown timed out", w.Name())
	case <-ctx.Done():
	}
	w.setRunning(false)
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkQueueDepth(ctx)

			job, err := w.jobs.DequeueJob(ctx)
			if err != nil {
				w.logger.Printf("ERROR: failed to dequeue job: %v", err)
				continue
			}
			if job == nil {
				continue
			}
			w.processJob(ctx, job)
		}
	}
}

// checkQueueDepth warns, at most once per interval, when the queue is
// backing up faster than the worker drains it.
func (w *SyncWorker) checkQueueDepth(ctx context.Context) {
	depth, err := w.jobs.QueueDepth(ctx)
	if err != nil {
		return
	}
	if depth >= w.queueWarnDepth && time.Since(w.lastQueueWarn) >= queueWarnInterval {
		w.logger.Printf("WARN: sync queue depth %d exceeds %d", depth, w.queueWarnDepth)
		w.lastQueueWarn = time.Now()
	}
}

func (w *SyncWorker) processJob(ctx context.Context, job *models.SyncJob) {
	startTime := w.recordJobStart()
	w.logger.Printf("processing job %s (%s)", job.ID, job.Type)

	job.WorkerID = w.Name()
	if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing, 10, "pipeline running"); err != nil {
		w.logger.Printf("WARN: failed to mark job %s processing: %v", job.ID, err)
	}

	result, err := w.executeWithRecovery(ctx, job)
	if err != nil {
		w.handleFailure(ctx, job, err, startTime)
		return
	}

	if err := w.jobs.UpdateJobResult(ctx, job.ID, result); err != nil {
		w.logger.Printf("WARN: failed to store result of job %s: %v", job.ID, err)
	}
	status := models.JobStatusCompleted
	message := string(result.Status)
	if result.Status == models.SyncStatusFailed {
		status = models.JobStatusFailed
		message = result.Error
	}
	if err := w.jobs.UpdateJobStatus(ctx, job.ID, status, 100, message); err != nil {
		w.logger.Printf("WARN: failed to finish job %s: %v", job.ID, err)
	}

	if status == models.JobStatusFailed {
		w.recordJobFailure(startTime)
	} else {
		w.recordJobSuccess(startTime)
	}
	w.logger.Printf("job %s finished: %s", job.ID, message)
}

func (w *SyncWorker) executeWithRecovery(ctx context.Context, job *models.SyncJob) (result *models.SyncResult, err error) {
	if w.config.EnableRecovery {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Printf("ERROR: panic in job %s: %v", job.ID, r)
				result = nil
				err = &WorkerPanicError{Panic: r}
			}
		}()
	}
	return w.executePipeline(ctx, job)
}

// executePipeline dispatches one job to its pipeline.
func (w *SyncWorker) executePipeline(ctx context.Context, job *models.SyncJob) (*models.SyncResult, error) {
	collection := job.PayloadString("collection")
	switch job.Type {
	case models.JobTypeInitialize:
		return w.pipelines.Initialize(ctx)
	case models.JobTypeCommit:
		return w.pipelines.Commit(ctx, job.PayloadString("message"), collection)
	case models.JobTypePull:
		return w.pipelines.Pull(ctx, job.PayloadString("remote"))
	case models.JobTypePush:
		return w.pipelines.Push(ctx, job.PayloadString("remote"), job.PayloadString("branch"))
	case models.JobTypeCheckout:
		return w.pipelines.Checkout(ctx, job.PayloadString("branch"),
			job.PayloadBool("create_new"), job.PayloadBool("preserve_local_changes"),
			job.PayloadBool("force_reset"))
	case models.JobTypeMerge:
		return w.pipelines.Merge(ctx, job.PayloadString("branch"))
	case models.JobTypeReset:
		return w.pipelines.Reset(ctx, job.PayloadString("ref"), job.PayloadBool("hard"))
	case models.JobTypeFullSync:
		return w.pipelines.FullSync(ctx, collection)
	case models.JobTypeIncrementalSync:
		return w.pipelines.IncrementalSync(ctx, collection)
	case models.JobTypeImport:
		docs, err := decodeImportDocuments(job.Payload["documents"])
		if err != nil {
			return nil, err
		}
		return w.pipelines.Import(ctx, collection, docs, job.PayloadString("message"))
	default:
		return nil, fmt.Errorf("unknown job type %q", job.Type)
	}
}

// decodeImportDocuments rebuilds the document list from the job payload. The
// payload went through JSON, so the list arrives as generic maps.
func decodeImportDocuments(raw interface{}) ([]*models.Document, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid documents payload: %w", err)
	}
	var docs []*models.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("invalid documents payload: %w", err)
	}
	return docs, nil
}

func (w *SyncWorker) handleFailure(ctx context.Context, job *models.SyncJob, jobErr error, startTime time.Time) {
	w.recordJobFailure(startTime)
	w.logger.Printf("ERROR: job %s failed: %v", job.ID, jobErr)

	// Context cancellation and unknown job types are not retryable.
	retryable := ctx.Err() == nil && !strings.Contains(jobErr.Error(), "unknown job type")
	if retryable && job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Status = models.JobStatusRetrying
		job.Error = jobErr.Error()
		if err := w.jobs.UpdateJob(ctx, job); err != nil {
			w.logger.Printf("WARN: failed to update job %s for retry: %v", job.ID, err)
		}
		if err := w.jobs.EnqueueJob(ctx, job); err != nil {
			w.logger.Printf("WARN: failed to re-enqueue job %s: %v", job.ID, err)
		}
		return
	}
	if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, 100, jobErr.Error()); err != nil {
		w.logger.Printf("WARN: failed to mark job %s failed: %v", job.ID, err)
	}
}
