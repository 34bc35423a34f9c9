package pipeline

import (
	"context"
	"fmt"

	"github.com/wzhao556/docflow/internal/batch"
	"github.com/wzhao556/docflow/internal/convert"
	"github.com/wzhao556/docflow/internal/filestore"
	"github.com/wzhao556/docflow/internal/inference"
	"github.com/wzhao556/docflow/internal/job"
	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/internal/webhook"
	"github.com/wzhao556/docflow/pkg/logger"
)

// ResultMessage is one streamed per-file outcome plus the running totals.
type ResultMessage struct {
	models.BatchResult
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// Pipeline runs one job end to end: converter pool feeds the batch scheduler,
// every result updates the tracker, lifecycle transitions go out as webhooks,
// and the managed files are released once the stream drains.
type Pipeline struct {
	files    *filestore.Store
	pool     *convert.Pool
	analyzer inference.Analyzer
	tracker  *job.Tracker
	webhooks *webhook.Dispatcher
	logger   logger.Logger
	batchCfg batch.Config
}

func New(
	files *filestore.Store,
	pool *convert.Pool,
	analyzer inference.Analyzer,
	tracker *job.Tracker,
	webhooks *webhook.Dispatcher,
	log logger.Logger,
	batchCfg batch.Config,
) *Pipeline {
	return &Pipeline{
		files:    files,
		pool:     pool,
		analyzer: analyzer,
		tracker:  tracker,
		webhooks: webhooks,
		logger:   log,
		batchCfg: batchCfg,
	}
}

// Run starts processing and returns a stream with one message per file,
// emitted the moment that file's result is ready. The channel closes after
// the job reaches a terminal state. Processing is detached from ctx: a
// streaming caller going away stops delivery, not the job. Stopping the job
// itself goes through the tracker's cancellation flag.
func (p *Pipeline) Run(ctx context.Context, files []models.SourceFile, analyzeCfg models.AnalyzeConfig, jobID string) (<-chan ResultMessage, error) {
	proc := context.WithoutCancel(ctx)

	if err := p.tracker.Start(proc, jobID); err != nil {
		return nil, fmt.Errorf("failed to start job: %w", err)
	}
	p.notify(jobID, webhook.EventJobProcessing, nil)

	items := p.pool.ConvertAll(proc, files)

	scheduler := batch.NewScheduler(p.analyzer, p.logger, p.batchCfg)
	results := scheduler.Run(proc, items, analyzeCfg, func() bool {
		return p.tracker.IsCancelled(jobID)
	})

	out := make(chan ResultMessage)
	go func() {
		defer close(out)

		includeResults := false
		if j, err := p.tracker.Status(proc, jobID); err == nil && j.Webhook != nil {
			includeResults = j.Webhook.IncludeResults
		}

		for result := range results {
			snapshot, err := p.tracker.RecordResult(proc, jobID, result)
			if err != nil {
				p.logger.Error("Failed to record result",
					logger.String("jobId", jobID),
					logger.String("filename", result.Filename),
					logger.Error(err),
				)
				continue
			}

			if includeResults {
				p.notify(jobID, webhook.EventResultReady, &result)
			}

			msg := ResultMessage{
				BatchResult: result,
				Completed:   snapshot.CompletedCount,
				Failed:      snapshot.FailedCount,
				Total:       snapshot.TotalCount,
				Percent:     snapshot.Progress(),
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				// Caller went away; keep draining so accounting finishes.
			}
		}

		final, err := p.tracker.Finish(context.Background(), jobID)
		if err != nil {
			p.logger.Error("Failed to finalize job",
				logger.String("jobId", jobID),
				logger.Error(err),
			)
		} else {
			event := webhook.EventJobCompleted
			if final.Status == models.StatusCancelled {
				event = webhook.EventJobCancelled
			}
			p.notify(jobID, event, nil)
		}

		p.files.MarkStreamComplete(jobID)
	}()

	return out, nil
}

// RunAndWait drains the stream itself. Used by the async worker, where no
// caller is attached to the result channel.
func (p *Pipeline) RunAndWait(ctx context.Context, files []models.SourceFile, analyzeCfg models.AnalyzeConfig, jobID string) error {
	out, err := p.Run(ctx, files, analyzeCfg, jobID)
	if err != nil {
		return err
	}
	for range out {
	}
	return nil
}

// notify delivers a webhook in the background. Delivery failure is logged by
// the dispatcher and never affects the job.
func (p *Pipeline) notify(jobID string, event webhook.Event, result *models.BatchResult) {
	snapshot, err := p.tracker.Status(context.Background(), jobID)
	if err != nil {
		return
	}
	if snapshot.Webhook == nil || snapshot.Webhook.URL == "" {
		return
	}
	go func() {
		_ = p.webhooks.Notify(context.Background(), snapshot, event, result)
	}()
}
