package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wzhao556/docflow/internal/inference"
	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/pkg/logger"
)

type Config struct {
	// MinSize and MaxSize clamp the adaptive batch size.
	MinSize int
	MaxSize int
	// InitialSize is the starting target batch size.
	InitialSize int
	// MaxWait bounds how long the oldest buffered item waits before a
	// partial batch is dispatched anyway.
	MaxWait time.Duration
	// TargetLatency is the batch duration the sizer steers toward.
	TargetLatency time.Duration
	// MaxInFlight caps concurrently dispatched batches.
	MaxInFlight int64
	// BatchTimeout is the ceiling for a dispatched batch; unresolved items
	// are failed with a timeout error when it elapses.
	BatchTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MinSize <= 0 {
		c.MinSize = 1
	}
	if c.MaxSize < c.MinSize {
		c.MaxSize = c.MinSize
	}
	if c.InitialSize < c.MinSize {
		c.InitialSize = c.MinSize
	}
	if c.InitialSize > c.MaxSize {
		c.InitialSize = c.MaxSize
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 500 * time.Millisecond
	}
	if c.TargetLatency <= 0 {
		c.TargetLatency = 30 * time.Second
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 3
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Minute
	}
}

// Scheduler groups converted items into adaptively-sized batches, dispatches
// them to the inference collaborator, and streams each item's result the
// moment it resolves. A Scheduler instance serves one run.
type Scheduler struct {
	analyzer inference.Analyzer
	logger   logger.Logger
	cfg      Config
	sem      *semaphore.Weighted

	mu         sync.Mutex
	targetSize int
}

func NewScheduler(analyzer inference.Analyzer, log logger.Logger, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		analyzer:   analyzer,
		logger:     log,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.MaxInFlight),
		targetSize: cfg.InitialSize,
	}
}

// TargetSize returns the current adaptive batch size.
func (s *Scheduler) TargetSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetSize
}

// Run consumes converted items and produces one BatchResult per item. A batch
// dispatches when the buffer reaches the target size or the max-wait timer
// fires, whichever comes first. cancelled is consulted at dispatch boundaries
// only; in-flight batches run to completion or timeout. The returned channel
// closes once every consumed item has a result.
func (s *Scheduler) Run(ctx context.Context, items <-chan models.BatchItem, analyzeCfg models.AnalyzeConfig, cancelled func() bool) <-chan models.BatchResult {
	out := make(chan models.BatchResult)
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	go func() {
		defer close(out)

		var inFlight sync.WaitGroup
		var buffer []models.BatchItem

		timer := time.NewTimer(s.cfg.MaxWait)
		if !timer.Stop() {
			<-timer.C
		}
		timerArmed := false

		dispatch := func() {
			if len(buffer) == 0 {
				return
			}
			if timerArmed {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timerArmed = false
			}
			toDispatch := buffer
			buffer = nil
			if cancelled() {
				return
			}
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			inFlight.Add(1)
			go func() {
				defer inFlight.Done()
				defer s.sem.Release(1)
				s.runBatch(ctx, toDispatch, analyzeCfg, out)
			}()
		}

	consume:
		for {
			select {
			case item, ok := <-items:
				if !ok {
					break consume
				}
				if cancelled() {
					// Drain remaining input without dispatching.
					buffer = nil
					continue
				}
				if item.Failed() {
					// Conversion already failed; no inference needed.
					s.emit(ctx, out, models.BatchResult{
						FileID:   item.FileID,
						Filename: item.Filename,
						Success:  false,
						Error:    item.ConvertErr,
						Final:    true,
					})
					continue
				}
				buffer = append(buffer, item)
				if len(buffer) == 1 {
					timer.Reset(s.cfg.MaxWait)
					timerArmed = true
				}
				if len(buffer) >= s.TargetSize() {
					dispatch()
				}
			case <-timer.C:
				timerArmed = false
				dispatch()
			case <-ctx.Done():
				break consume
			}
		}

		if ctx.Err() == nil {
			dispatch()
		}
		inFlight.Wait()
	}()

	return out
}

// runBatch resolves every item in the batch with concurrent per-item calls.
// Each result hits the output stream as soon as its call returns; nothing is
// held back for siblings.
func (s *Scheduler) runBatch(ctx context.Context, items []models.BatchItem, analyzeCfg models.AnalyzeConfig, out chan<- models.BatchResult) {
	start := time.Now()
	bctx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()

	s.logger.Debug("Dispatching batch",
		logger.Int("size", len(items)),
	)

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item models.BatchItem) {
			defer wg.Done()
			s.emit(ctx, out, s.analyzeItem(bctx, item, analyzeCfg))
		}(item)
	}
	wg.Wait()

	elapsed := time.Since(start)
	s.adapt(elapsed)

	s.logger.Debug("Batch drained",
		logger.Int("size", len(items)),
		logger.Duration("elapsed", elapsed),
		logger.Int("nextTargetSize", s.TargetSize()),
	)
}

func (s *Scheduler) analyzeItem(bctx context.Context, item models.BatchItem, analyzeCfg models.AnalyzeConfig) models.BatchResult {
	itemStart := time.Now()
	result := models.BatchResult{
		FileID:   item.FileID,
		Filename: item.Filename,
		Final:    true,
	}

	type analyzeOut struct {
		payload []byte
		err     error
	}
	done := make(chan analyzeOut, 1)
	go func() {
		payload, err := s.analyzer.Analyze(bctx, item.Markdown, analyzeCfg)
		done <- analyzeOut{payload: payload, err: err}
	}()

	select {
	case r := <-done:
		result.Elapsed = time.Since(itemStart)
		if r.err != nil {
			result.Error = r.err.Error()
			return result
		}
		result.Success = true
		result.Payload = r.payload
	case <-bctx.Done():
		// Batch ceiling reached; unresolved items fail with a timeout so
		// the slot can be released.
		result.Elapsed = time.Since(itemStart)
		result.Error = fmt.Sprintf("batch timed out after %s", s.cfg.BatchTimeout)
	}
	return result
}

// adapt nudges the target batch size one step toward the configured bound
// implied by the last batch's duration. Single-step moves avoid oscillation.
func (s *Scheduler) adapt(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case elapsed > s.cfg.TargetLatency:
		if s.targetSize > s.cfg.MinSize {
			s.targetSize--
		}
	case elapsed < s.cfg.TargetLatency/2:
		if s.targetSize < s.cfg.MaxSize {
			s.targetSize++
		}
	}
}

func (s *Scheduler) emit(ctx context.Context, out chan<- models.BatchResult, result models.BatchResult) {
	select {
	case out <- result:
	case <-ctx.Done():
	}
}
