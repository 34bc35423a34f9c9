package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzhao556/docflow/pkg/logger"
)

// fakeBackend is an in-memory storage.Storage that records deletions.
type fakeBackend struct {
	mu          sync.Mutex
	objects     map[string][]byte
	deleteCount map[string]int
	failDeletes int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		objects:     make(map[string][]byte),
		deleteCount: make(map[string]int),
	}
}

func (f *fakeBackend) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return key, nil
}

func (f *fakeBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeletes > 0 {
		f.failDeletes--
		return fmt.Errorf("delete failed")
	}
	f.deleteCount[key]++
	delete(f.objects, key)
	return nil
}

func (f *fakeBackend) CleanupBefore(ctx context.Context, threshold time.Time) error {
	return nil
}

func (f *fakeBackend) deletions(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCount[key]
}

func newTestStore(t *testing.T, backend *fakeBackend, retention time.Duration) *Store {
	t.Helper()
	return NewStore(backend, logger.NewTestLogger(), &Config{
		Retention:     retention,
		SweepInterval: time.Hour, // sweeps run manually in tests
	})
}

func register(t *testing.T, s *Store, jobID, name string) string {
	t.Helper()
	id, err := s.Register(context.Background(), jobID, name, "text/plain", 5, strings.NewReader("hello"))
	require.NoError(t, err)
	return id
}

func TestAcquireBlocksSweep(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, time.Hour)

	id := register(t, s, "job-1", "a.txt")

	reader, err := s.Acquire(context.Background(), id)
	require.NoError(t, err)

	// Stream complete but a reference is still held: no deletion.
	s.MarkStreamComplete("job-1")
	s.Sweep(context.Background())

	state, err := s.State(id)
	require.NoError(t, err)
	assert.NotEqual(t, StateDeleted, state)

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	reader.Close()
	s.Release(id)

	// Reference dropped: next sweep deletes exactly once.
	s.Sweep(context.Background())
	_, err = s.State(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, backend.deletions("uploads/job-1/"+id+"/a.txt"))
}

func TestSweepWithoutCompletionSignalRespectsRetention(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, time.Hour)

	id := register(t, s, "job-1", "a.txt")
	s.Release(id) // no-op, refs already zero

	// No stream-complete signal and retention not elapsed: file stays.
	s.Sweep(context.Background())
	state, err := s.State(id)
	require.NoError(t, err)
	assert.NotEqual(t, StateDeleted, state)
}

func TestRetentionDeadlineFallback(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, 10*time.Millisecond)

	id := register(t, s, "job-1", "a.txt")
	time.Sleep(20 * time.Millisecond)

	// Leaked reference scenario: no stream-complete, deadline passed.
	s.Sweep(context.Background())
	_, err := s.State(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteErrorRetriedNextSweep(t *testing.T) {
	backend := newFakeBackend()
	backend.failDeletes = 1
	s := newTestStore(t, backend, time.Hour)

	id := register(t, s, "job-1", "a.txt")
	s.MarkStreamComplete("job-1")

	// First sweep fails to delete; the file must remain tracked.
	s.Sweep(context.Background())
	state, err := s.State(id)
	require.NoError(t, err)
	assert.Equal(t, StateReleased, state)

	s.Sweep(context.Background())
	_, err = s.State(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcquireAfterDelete(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, time.Hour)

	id := register(t, s, "job-1", "a.txt")
	s.MarkStreamComplete("job-1")
	s.Sweep(context.Background())

	_, err := s.Acquire(context.Background(), id)
	assert.Error(t, err)
}

func TestConcurrentAcquireReleaseSweep(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, time.Hour)

	const nFiles = 8
	ids := make([]string, nFiles)
	for i := range ids {
		ids[i] = register(t, s, "job-1", fmt.Sprintf("f%d.txt", i))
	}

	ctx := context.Background()
	var wg sync.WaitGroup

	// Readers: an acquired file must always read back intact.
	for _, id := range ids {
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					reader, err := s.Acquire(ctx, id)
					if err != nil {
						// Acceptable only once the file is gone for good.
						_, stateErr := s.State(id)
						assert.ErrorIs(t, stateErr, ErrNotFound)
						return
					}
					data, readErr := io.ReadAll(reader)
					assert.NoError(t, readErr)
					assert.Equal(t, "hello", string(data))
					reader.Close()
					s.Release(id)
				}
			}(id)
		}
	}

	// Sweeper racing the readers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.Sweep(ctx)
		}
	}()

	wg.Wait()

	// All references dropped, stream completes: everything is deleted once.
	s.MarkStreamComplete("job-1")
	s.Sweep(ctx)
	for i, id := range ids {
		_, err := s.State(id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1, backend.deletions(fmt.Sprintf("uploads/job-1/%s/f%d.txt", id, i)))
	}
}
