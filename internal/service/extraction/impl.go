package extraction

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wzhao556/docflow/internal/convert"
	"github.com/wzhao556/docflow/internal/filestore"
	"github.com/wzhao556/docflow/internal/job"
	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/internal/pipeline"
	"github.com/wzhao556/docflow/internal/webhook"
	"github.com/wzhao556/docflow/pkg/logger"
	"github.com/wzhao556/docflow/pkg/queue"
)

type ServiceConfig struct {
	MaxFileSize  int64
	AllowedTypes []string
}

type ExtractionService struct {
	files    *filestore.Store
	tracker  *job.Tracker
	pipe     *pipeline.Pipeline
	queue    queue.Queue
	webhooks *webhook.Dispatcher
	logger   logger.Logger
	config   *ServiceConfig
}

func NewService(
	files *filestore.Store,
	tracker *job.Tracker,
	pipe *pipeline.Pipeline,
	q queue.Queue,
	webhooks *webhook.Dispatcher,
	log logger.Logger,
	cfg *ServiceConfig,
) Service {
	if cfg == nil {
		cfg = &ServiceConfig{
			MaxFileSize:  50 * 1024 * 1024, // 50MB
			AllowedTypes: []string{".pdf", ".jpg", ".jpeg", ".png", ".tiff", ".txt", ".md"},
		}
	}

	return &ExtractionService{
		files:    files,
		tracker:  tracker,
		pipe:     pipe,
		queue:    q,
		webhooks: webhooks,
		logger:   log,
		config:   cfg,
	}
}

// Submit registers every upload with the managed file store, creates the job,
// and (for the async variant) enqueues it. The job id comes back immediately;
// processing happens on the stream or in the worker.
func (s *ExtractionService) Submit(ctx context.Context, uploads []*multipart.FileHeader, opts SubmitOptions) (*models.Job, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("no files provided")
	}

	for _, header := range uploads {
		if err := s.validateFile(header); err != nil {
			return nil, err
		}
	}

	jobID := uuid.New().String()
	sources := make([]models.SourceFile, len(uploads))

	g, gctx := errgroup.WithContext(ctx)
	for i, header := range uploads {
		g.Go(func() error {
			file, err := header.Open()
			if err != nil {
				return fmt.Errorf("failed to open file %s: %w", header.Filename, err)
			}
			defer file.Close()

			mimeType, _ := convert.MimeTypeForExt(filepath.Ext(header.Filename))
			fileID, err := s.files.Register(gctx, jobID, header.Filename, mimeType, header.Size, file)
			if err != nil {
				return fmt.Errorf("failed to register file %s: %w", header.Filename, err)
			}

			sources[i] = models.SourceFile{
				FileID:   fileID,
				Filename: header.Filename,
				MimeType: mimeType,
				Size:     header.Size,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Orphaned registrations are reclaimed by the retention sweep.
		s.files.MarkStreamComplete(jobID)
		return nil, err
	}

	jobRecord, err := s.tracker.Submit(ctx, jobID, sources, opts.Analyze, opts.Webhook, nil)
	if err != nil {
		s.files.MarkStreamComplete(jobID)
		return nil, err
	}

	go func() {
		_ = s.webhooks.Notify(context.Background(), jobRecord, webhook.EventJobQueued, nil)
	}()

	if opts.Async {
		if err := s.queue.Enqueue(ctx, jobID); err != nil {
			// The job would otherwise sit queued forever with no worker
			// coming for it.
			if failErr := s.tracker.Fail(ctx, jobID, err); failErr != nil {
				s.logger.Error("Failed to mark unenqueued job failed",
					logger.String("jobId", jobID),
					logger.Error(failErr),
				)
			}
			s.files.MarkStreamComplete(jobID)
			return nil, fmt.Errorf("failed to enqueue job: %w", err)
		}
	}

	s.logger.Info("Job accepted",
		logger.String("jobId", jobID),
		logger.Int("files", len(sources)),
		logger.Bool("async", opts.Async),
	)

	return jobRecord, nil
}

func (s *ExtractionService) Stream(ctx context.Context, jobID string) (<-chan pipeline.ResultMessage, error) {
	jobRecord, err := s.tracker.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if jobRecord.Status != models.StatusQueued {
		return nil, fmt.Errorf("job %s is %s, not queued", jobID, jobRecord.Status)
	}

	return s.pipe.Run(ctx, jobRecord.Files, jobRecord.Analyze, jobID)
}

func (s *ExtractionService) Process(ctx context.Context, jobID string) error {
	jobRecord, err := s.tracker.Status(ctx, jobID)
	if err != nil {
		return err
	}
	if jobRecord.Status != models.StatusQueued {
		return fmt.Errorf("job %s is %s, not queued", jobID, jobRecord.Status)
	}

	return s.pipe.RunAndWait(ctx, jobRecord.Files, jobRecord.Analyze, jobID)
}

func (s *ExtractionService) Status(ctx context.Context, jobID string) (*models.Job, error) {
	return s.tracker.Status(ctx, jobID)
}

func (s *ExtractionService) Cancel(ctx context.Context, jobID string) error {
	if err := s.tracker.Cancel(ctx, jobID); err != nil {
		return err
	}

	s.logger.Info("Job cancelled", logger.String("jobId", jobID))
	return nil
}

func (s *ExtractionService) validateFile(header *multipart.FileHeader) error {
	if header.Size > s.config.MaxFileSize {
		return fmt.Errorf("file %s exceeds maximum size of %d bytes", header.Filename, s.config.MaxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	for _, t := range s.config.AllowedTypes {
		if t == ext {
			return nil
		}
	}
	return fmt.Errorf("unsupported file type: %s", ext)
}
