package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wzhao556/docflow/pkg/logger"
	"github.com/wzhao556/docflow/pkg/storage"
)

var (
	ErrNotFound = errors.New("file not found")
	ErrDeleted  = errors.New("file already deleted")
)

// State is the lifecycle state of a managed file.
type State string

const (
	StateRegistered State = "registered"
	StateInUse      State = "in_use"
	StateReleased   State = "released"
	StateDeleted    State = "deleted"
)

type managedFile struct {
	id          string
	jobID       string
	filename    string
	mimeType    string
	size        int64
	key         string
	refs        int
	state       State
	retainUntil time.Time
}

// Store tracks temporary artifacts and their reference counts. A file is
// deleted only when its refcount is zero and either its retention deadline
// passed or the owning job signalled stream completion. Deletion never happens
// on a timer alone while a reader still holds a reference.
type Store struct {
	backend       storage.Storage
	logger        logger.Logger
	retention     time.Duration
	sweepInterval time.Duration

	mu         sync.Mutex
	files      map[string]*managedFile
	streamDone map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Config struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

func NewStore(backend storage.Storage, log logger.Logger, cfg *Config) *Store {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	return &Store{
		backend:       backend,
		logger:        log,
		retention:     cfg.Retention,
		sweepInterval: cfg.SweepInterval,
		files:         make(map[string]*managedFile),
		streamDone:    make(map[string]bool),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background cleanup sweep.
func (s *Store) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the background sweep.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Register stores the reader's contents and begins tracking the file.
func (s *Store) Register(ctx context.Context, jobID, filename, mimeType string, size int64, reader io.Reader) (string, error) {
	fileID := uuid.New().String()
	key := path.Join("uploads", jobID, fileID, filename)

	if _, err := s.backend.Store(ctx, reader, key); err != nil {
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	s.mu.Lock()
	s.files[fileID] = &managedFile{
		id:          fileID,
		jobID:       jobID,
		filename:    filename,
		mimeType:    mimeType,
		size:        size,
		key:         key,
		state:       StateRegistered,
		retainUntil: time.Now().Add(s.retention),
	}
	s.mu.Unlock()

	return fileID, nil
}

// Acquire increments the file's reference count and opens it for reading.
// Every Acquire must be paired with a Release.
func (s *Store) Acquire(ctx context.Context, fileID string) (io.ReadCloser, error) {
	s.mu.Lock()
	f, ok := s.files[fileID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if f.state == StateDeleted {
		s.mu.Unlock()
		return nil, ErrDeleted
	}
	f.refs++
	f.state = StateInUse
	key := f.key
	s.mu.Unlock()

	reader, err := s.backend.Get(ctx, key)
	if err != nil {
		s.Release(fileID)
		return nil, fmt.Errorf("failed to open file %s: %w", fileID, err)
	}
	return reader, nil
}

// Release decrements the file's reference count.
func (s *Store) Release(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		return
	}
	if f.refs > 0 {
		f.refs--
	}
	if f.refs == 0 && f.state == StateInUse {
		f.state = StateReleased
	}
}

// MarkStreamComplete signals that every file belonging to jobID has finished
// its terminal consumption. Idempotent. The next sweep deletes the job's
// files as soon as their refcounts drain.
func (s *Store) MarkStreamComplete(jobID string) {
	s.mu.Lock()
	s.streamDone[jobID] = true
	s.mu.Unlock()
}

// State reports the lifecycle state of a file.
func (s *Store) State(fileID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		return "", ErrNotFound
	}
	return f.state, nil
}

// Sweep deletes every file whose refcount is zero and whose job completed
// or whose retention deadline passed. Per-file delete errors are logged and
// retried on the next interval, never escalated.
func (s *Store) Sweep(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var victims []*managedFile
	for _, f := range s.files {
		if f.state == StateDeleted || f.refs > 0 {
			continue
		}
		if s.streamDone[f.jobID] || now.After(f.retainUntil) {
			f.state = StateDeleted
			victims = append(victims, f)
		}
	}
	s.mu.Unlock()

	for _, f := range victims {
		if err := s.backend.Delete(ctx, f.key); err != nil {
			s.logger.Warn("File cleanup failed, will retry next sweep",
				logger.String("fileId", f.id),
				logger.String("key", f.key),
				logger.Error(err),
			)
			s.mu.Lock()
			f.state = StateReleased
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		delete(s.files, f.id)
		s.mu.Unlock()

		s.logger.Debug("Deleted managed file",
			logger.String("fileId", f.id),
			logger.String("jobId", f.jobID),
		)
	}

	// Forget completed jobs once all their files are gone.
	s.mu.Lock()
	for jobID := range s.streamDone {
		live := false
		for _, f := range s.files {
			if f.jobID == jobID {
				live = true
				break
			}
		}
		if !live {
			delete(s.streamDone, jobID)
		}
	}
	s.mu.Unlock()
}
