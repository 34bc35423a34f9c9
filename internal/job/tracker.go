package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/pkg/logger"
)

// Tracker owns job lifecycle and progress accounting. Every counter mutation
// for a job goes through its entry's mutex, so status reads never observe a
// half-applied update.
type Tracker struct {
	store  Store
	logger logger.Logger

	mu   sync.Mutex
	live map[string]*jobEntry
}

type jobEntry struct {
	mu        sync.Mutex
	cancelled bool
}

func NewTracker(store Store, log logger.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: log,
		live:   make(map[string]*jobEntry),
	}
}

// Submit creates a Job in queued state and returns it. jobID may be empty,
// in which case one is generated.
func (t *Tracker) Submit(ctx context.Context, jobID string, files []models.SourceFile, analyze models.AnalyzeConfig, webhook *models.WebhookSettings, metadata map[string]string) (*models.Job, error) {
	if jobID == "" {
		jobID = uuid.New().String()
	}

	job := &models.Job{
		ID:          jobID,
		Status:      models.StatusQueued,
		TotalCount:  len(files),
		Files:       files,
		Analyze:     analyze,
		Webhook:     webhook,
		Metadata:    metadata,
		SubmittedAt: time.Now(),
	}

	if err := t.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	t.mu.Lock()
	t.live[job.ID] = &jobEntry{}
	t.mu.Unlock()

	t.logger.Info("Job submitted",
		logger.String("jobId", job.ID),
		logger.Int("totalCount", job.TotalCount),
	)

	return job, nil
}

// Start flips the job to processing.
func (t *Tracker) Start(ctx context.Context, jobID string) error {
	return t.mutate(ctx, jobID, func(job *models.Job, _ *jobEntry) {
		if job.Status == models.StatusQueued {
			job.Status = models.StatusProcessing
			job.StartedAt = time.Now()
		}
	})
}

// RecordResult applies one terminal per-file result to the job's counters and
// returns the updated snapshot. When every item is accounted for the job
// transitions to a terminal state: cancelled if cancellation was requested,
// otherwise completed (partial failure is still completion).
func (t *Tracker) RecordResult(ctx context.Context, jobID string, result models.BatchResult) (*models.Job, error) {
	if !result.Final {
		return t.Status(ctx, jobID)
	}

	var snapshot *models.Job
	err := t.mutate(ctx, jobID, func(job *models.Job, entry *jobEntry) {
		if result.Success {
			job.CompletedCount++
		} else {
			job.FailedCount++
		}
		if job.CompletedCount+job.FailedCount >= job.TotalCount && !job.Status.Terminal() {
			t.finalize(job, entry.cancelled)
		}
		snapshot = cloneJob(job)
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Finish forces the job into its terminal state once the result stream has
// drained, whether or not every item produced a result (cancellation leaves
// a shortfall).
func (t *Tracker) Finish(ctx context.Context, jobID string) (*models.Job, error) {
	var snapshot *models.Job
	err := t.mutate(ctx, jobID, func(job *models.Job, entry *jobEntry) {
		if !job.Status.Terminal() {
			t.finalize(job, entry.cancelled)
		}
		snapshot = cloneJob(job)
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	delete(t.live, jobID)
	t.mu.Unlock()

	return snapshot, nil
}

// finalize runs inside mutate with the entry's lock held, so the cancelled
// flag is passed in rather than re-read through the lock.
func (t *Tracker) finalize(job *models.Job, cancelled bool) {
	if cancelled {
		job.Status = models.StatusCancelled
	} else {
		job.Status = models.StatusCompleted
	}
	job.CompletedAt = time.Now()

	t.logger.Info("Job finished",
		logger.String("jobId", job.ID),
		logger.String("status", string(job.Status)),
		logger.Int("completed", job.CompletedCount),
		logger.Int("failed", job.FailedCount),
	)
}

// Fail marks a job failed before its pipeline ran, recording the cause.
// Used when handoff to the worker fails after submission.
func (t *Tracker) Fail(ctx context.Context, jobID string, cause error) error {
	err := t.mutate(ctx, jobID, func(job *models.Job, _ *jobEntry) {
		if job.Status.Terminal() {
			return
		}
		job.Status = models.StatusFailed
		job.Error = cause.Error()
		job.CompletedAt = time.Now()
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.live, jobID)
	t.mu.Unlock()

	t.logger.Warn("Job failed before processing",
		logger.String("jobId", jobID),
		logger.Error(cause),
	)
	return nil
}

// Cancel requests cooperative cancellation. The scheduler checks the flag
// between batch dispatches; in-flight work finishes.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	job, err := t.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}

	entry := t.entry(jobID)
	entry.mu.Lock()
	entry.cancelled = true
	entry.mu.Unlock()

	t.logger.Info("Job cancellation requested", logger.String("jobId", jobID))
	return nil
}

// IsCancelled reports whether cancellation was requested for the job.
func (t *Tracker) IsCancelled(jobID string) bool {
	return t.isCancelled(jobID)
}

func (t *Tracker) isCancelled(jobID string) bool {
	t.mu.Lock()
	entry, ok := t.live[jobID]
	t.mu.Unlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.cancelled
}

// Status returns a consistent snapshot of the job.
func (t *Tracker) Status(ctx context.Context, jobID string) (*models.Job, error) {
	entry := t.entry(jobID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	return t.store.Get(ctx, jobID)
}

func (t *Tracker) entry(jobID string) *jobEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.live[jobID]
	if !ok {
		entry = &jobEntry{}
		t.live[jobID] = entry
	}
	return entry
}

// mutate runs fn under the job's single-writer lock and persists the result.
// fn receives the locked entry so it can read the cancellation flag without
// taking the lock again.
func (t *Tracker) mutate(ctx context.Context, jobID string, fn func(*models.Job, *jobEntry)) error {
	entry := t.entry(jobID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	job, err := t.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	fn(job, entry)

	if err := t.store.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}
