package convert

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/pkg/logger"
)

// FileSource is where the pool reads file bytes from. Acquire/Release pair
// around every read so the managed file store never deletes a file mid-read.
type FileSource interface {
	Acquire(ctx context.Context, fileID string) (io.ReadCloser, error)
	Release(fileID string)
}

type PoolConfig struct {
	Workers     int
	QueueSize   int
	FileTimeout time.Duration
}

// Pool converts files concurrently with a fixed worker count. Results are
// emitted in completion order, one BatchItem per file; conversion failures
// produce an error-carrying item instead of aborting the run.
type Pool struct {
	registry *Registry
	files    FileSource
	logger   logger.Logger
	cfg      PoolConfig
}

func NewPool(registry *Registry, files FileSource, log logger.Logger, cfg *PoolConfig) *Pool {
	c := PoolConfig{Workers: 4, QueueSize: 64, FileTimeout: 2 * time.Minute}
	if cfg != nil {
		if cfg.Workers > 0 {
			c.Workers = cfg.Workers
		}
		if cfg.QueueSize > 0 {
			c.QueueSize = cfg.QueueSize
		}
		if cfg.FileTimeout > 0 {
			c.FileTimeout = cfg.FileTimeout
		}
	}

	return &Pool{
		registry: registry,
		files:    files,
		logger:   log,
		cfg:      c,
	}
}

type convertJob struct {
	file models.SourceFile
	seq  int
}

// ConvertAll streams one BatchItem per source file. The input queue is
// bounded, so feeding blocks instead of growing without limit. The returned
// channel closes once every file is accounted for or ctx is cancelled.
func (p *Pool) ConvertAll(ctx context.Context, files []models.SourceFile) <-chan models.BatchItem {
	out := make(chan models.BatchItem)
	in := make(chan convertJob, p.cfg.QueueSize)

	go func() {
		defer close(in)
		for i, f := range files {
			select {
			case in <- convertJob{file: f, seq: i}:
			case <-ctx.Done():
				return
			}
		}
	}()

	g := new(errgroup.Group)
	for w := 0; w < p.cfg.Workers; w++ {
		g.Go(func() error {
			for job := range in {
				item := p.convertOne(ctx, job)
				select {
				case out <- item:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		if err := g.Wait(); err != nil {
			p.logger.Debug("Converter pool stopped early", logger.Error(err))
		}
		close(out)
	}()

	return out
}

func (p *Pool) convertOne(ctx context.Context, job convertJob) (item models.BatchItem) {
	item = models.BatchItem{
		FileID:   job.file.FileID,
		Seq:      job.seq,
		Filename: job.file.Filename,
	}
	// Named return so the timestamp lands on the item actually emitted,
	// whichever path produced it.
	defer func() {
		item.EnqueuedAt = time.Now()
	}()

	data, err := p.readFile(ctx, job.file.FileID)
	if err != nil {
		item.ConvertErr = err.Error()
		return item
	}

	converter, err := p.registry.Get(job.file.MimeType)
	if err != nil {
		item.ConvertErr = err.Error()
		return item
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.FileTimeout)
	defer cancel()

	type result struct {
		markdown string
		err      error
	}
	done := make(chan result, 1)
	go func() {
		md, err := converter.Convert(cctx, data)
		done <- result{markdown: md, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			p.logger.Warn("Conversion failed",
				logger.String("filename", job.file.Filename),
				logger.Error(r.err),
			)
			item.ConvertErr = r.err.Error()
			return item
		}
		item.Markdown = r.markdown
	case <-cctx.Done():
		p.logger.Warn("Conversion timed out",
			logger.String("filename", job.file.Filename),
			logger.Duration("timeout", p.cfg.FileTimeout),
		)
		item.ConvertErr = fmt.Sprintf("conversion timed out after %s", p.cfg.FileTimeout)
	}

	return item
}

// readFile pulls the file contents under an acquire/release pair. Bytes are
// buffered in memory so the reference can be dropped before conversion runs.
func (p *Pool) readFile(ctx context.Context, fileID string) ([]byte, error) {
	reader, err := p.files.Acquire(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire file: %w", err)
	}
	defer p.files.Release(fileID)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}
