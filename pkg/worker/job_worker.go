package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/wzhao556/docflow/internal/service/extraction"
	"github.com/wzhao556/docflow/pkg/logger"
	"github.com/wzhao556/docflow/pkg/queue"
)

// JobWorker pulls queued jobs off redis and runs them through the pipeline.
type JobWorker struct {
	BaseWorker
	service extraction.Service
}

func NewJobWorker(cfg *Config, service extraction.Service, log logger.Logger) *JobWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Queues == nil {
		cfg.Queues = map[string]int{"default": 1}
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
		},
	)

	w := &JobWorker{
		BaseWorker: BaseWorker{
			server: server,
			mux:    asynq.NewServeMux(),
			logger: log,
		},
		service: service,
	}

	w.mux.HandleFunc(queue.TaskTypeJobProcess, w.handleJobProcess)
	return w
}

func (w *JobWorker) handleJobProcess(ctx context.Context, t *asynq.Task) error {
	var payload queue.JobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload missing job id")
	}

	w.logger.Info("Processing job", logger.String("jobId", payload.JobID))

	if err := w.service.Process(ctx, payload.JobID); err != nil {
		w.logger.Error("Job processing failed",
			logger.String("jobId", payload.JobID),
			logger.Error(err),
		)
		return err
	}
	return nil
}

func (w *JobWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
