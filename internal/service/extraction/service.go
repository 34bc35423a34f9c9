package extraction

import (
	"context"
	"mime/multipart"

	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/internal/pipeline"
)

// SubmitOptions carries the per-job configuration alongside the files.
type SubmitOptions struct {
	Analyze models.AnalyzeConfig
	Webhook *models.WebhookSettings
	// Async hands the job to the background worker instead of leaving it
	// for a streaming caller.
	Async bool
}

// Service is the caller-facing surface of the processing core.
type Service interface {
	// Submit validates and registers the files, creates the job, and
	// returns its id immediately.
	Submit(ctx context.Context, files []*multipart.FileHeader, opts SubmitOptions) (*models.Job, error)
	// Stream runs a queued job and yields one message per file as it
	// completes.
	Stream(ctx context.Context, jobID string) (<-chan pipeline.ResultMessage, error)
	// Process runs a queued job to completion without a streaming caller.
	Process(ctx context.Context, jobID string) error
	// Status returns the current job snapshot.
	Status(ctx context.Context, jobID string) (*models.Job, error)
	// Cancel requests cooperative cancellation.
	Cancel(ctx context.Context, jobID string) error
}
