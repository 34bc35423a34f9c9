package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wzhao556/docflow/internal/models"
)

// ErrNotFound is returned for unknown or purged jobs.
var ErrNotFound = errors.New("job not found")

// Store persists Job records. Implementations must retain finished jobs for
// the configured retention window and report ErrNotFound after purge.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
}

type memoryEntry struct {
	job       *models.Job
	expiresAt time.Time
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*memoryEntry
	retention time.Duration
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryStore{
		jobs:      make(map[string]*memoryEntry),
		retention: retention,
	}
}

func (m *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = &memoryEntry{job: cloneJob(job)}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.RLock()
	entry, ok := m.jobs[jobID]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.jobs, jobID)
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return cloneJob(entry.job), nil
}

func (m *MemoryStore) Update(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	entry.job = cloneJob(job)
	if job.Status.Terminal() {
		entry.expiresAt = time.Now().Add(m.retention)
	}
	return nil
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	c.Files = append([]models.SourceFile(nil), j.Files...)
	if j.Metadata != nil {
		c.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	if j.Webhook != nil {
		w := *j.Webhook
		c.Webhook = &w
	}
	return &c
}
