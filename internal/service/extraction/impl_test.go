package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzhao556/docflow/internal/batch"
	"github.com/wzhao556/docflow/internal/convert"
	"github.com/wzhao556/docflow/internal/filestore"
	"github.com/wzhao556/docflow/internal/job"
	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/internal/pipeline"
	"github.com/wzhao556/docflow/internal/webhook"
	"github.com/wzhao556/docflow/pkg/logger"
)

type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte)}
}

func (m *memBackend) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return key, nil
}

func (m *memBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *memBackend) CleanupBefore(ctx context.Context, threshold time.Time) error {
	return nil
}

type okAnalyzer struct{}

func (okAnalyzer) Analyze(ctx context.Context, markdown string, cfg models.AnalyzeConfig) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(ctx context.Context, jobID string) error {
	return fmt.Errorf("redis unavailable")
}

func newTestService(t *testing.T, tracker *job.Tracker) Service {
	t.Helper()
	log := logger.NewTestLogger()

	files := filestore.NewStore(newMemBackend(), log, &filestore.Config{
		Retention:     time.Hour,
		SweepInterval: time.Hour,
	})

	registry := convert.NewRegistry(log)
	registry.Register(convert.NewTextConverter(), "text/plain", "text/markdown")
	pool := convert.NewPool(registry, files, log, nil)

	dispatcher := webhook.NewDispatcher(log, &webhook.Config{
		Secret:      "test-secret",
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		Timeout:     time.Second,
	})

	pipe := pipeline.New(files, pool, okAnalyzer{}, tracker, dispatcher, log, batch.Config{
		MinSize: 1, MaxSize: 4, InitialSize: 2,
		MaxWait: 20 * time.Millisecond, MaxInFlight: 2,
	})

	return NewService(files, tracker, pipe, brokenQueue{}, dispatcher, log, nil)
}

func uploadForm(t *testing.T, names ...string) []*multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, name := range names {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte("contents of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(body, w.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	return form.File["files"]
}

func TestSubmitSyncLeavesJobQueued(t *testing.T) {
	tracker := job.NewTracker(job.NewMemoryStore(time.Hour), logger.NewTestLogger())
	svc := newTestService(t, tracker)

	jobRecord, err := svc.Submit(context.Background(), uploadForm(t, "a.txt", "b.txt"), SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, jobRecord.Status)
	assert.Equal(t, 2, jobRecord.TotalCount)

	snap, err := svc.Status(context.Background(), jobRecord.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, snap.Status)
}

func TestSubmitAsyncEnqueueFailureFailsJob(t *testing.T) {
	tracker := job.NewTracker(job.NewMemoryStore(time.Hour), logger.NewTestLogger())
	svc := newTestService(t, tracker)

	// The queued notification carries the job id; capture it so the record
	// can be inspected after the submission error.
	var mu sync.Mutex
	var jobID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhook.Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			mu.Lock()
			jobID = payload.Job.ID
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := svc.Submit(context.Background(), uploadForm(t, "a.txt"), SubmitOptions{
		Async:   true,
		Webhook: &models.WebhookSettings{URL: srv.URL},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue")

	// The record must not sit queued waiting for a worker that never comes.
	assert.Eventually(t, func() bool {
		mu.Lock()
		id := jobID
		mu.Unlock()
		if id == "" {
			return false
		}
		snap, err := tracker.Status(context.Background(), id)
		return err == nil &&
			snap.Status == models.StatusFailed &&
			snap.Error == "redis unavailable"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSubmitRejectsDisallowedExtension(t *testing.T) {
	tracker := job.NewTracker(job.NewMemoryStore(time.Hour), logger.NewTestLogger())
	svc := newTestService(t, tracker)

	_, err := svc.Submit(context.Background(), uploadForm(t, "malware.exe"), SubmitOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}
