package job

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/pkg/logger"
)

func newTestTracker(retention time.Duration) *Tracker {
	return NewTracker(NewMemoryStore(retention), logger.NewTestLogger())
}

func sources(n int) []models.SourceFile {
	files := make([]models.SourceFile, n)
	for i := range files {
		files[i] = models.SourceFile{
			FileID:   fmt.Sprintf("file-%d", i),
			Filename: fmt.Sprintf("doc-%d.pdf", i),
			MimeType: "application/pdf",
		}
	}
	return files
}

func result(fileID string, success bool) models.BatchResult {
	return models.BatchResult{FileID: fileID, Filename: fileID + ".pdf", Success: success, Final: true}
}

func TestSubmitCreatesQueuedJob(t *testing.T) {
	tr := newTestTracker(time.Hour)
	ctx := context.Background()

	job, err := tr.Submit(ctx, "", sources(3), models.AnalyzeConfig{}, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.Equal(t, 3, job.TotalCount)
	assert.Len(t, job.Files, 3)

	// Repeated status reads with no new results are identical snapshots.
	first, err := tr.Status(ctx, job.ID)
	require.NoError(t, err)
	second, err := tr.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRecordResultAccounting(t *testing.T) {
	tr := newTestTracker(time.Hour)
	ctx := context.Background()

	job, err := tr.Submit(ctx, "", sources(3), models.AnalyzeConfig{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Start(ctx, job.ID))

	snap, err := tr.RecordResult(ctx, job.ID, result("file-0", true))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.CompletedCount)
	assert.Equal(t, models.StatusProcessing, snap.Status)

	snap, err = tr.RecordResult(ctx, job.ID, result("file-1", false))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.FailedCount)
	assert.False(t, snap.Status.Terminal())

	// Final item. A partially failed job still completes.
	snap, err = tr.RecordResult(ctx, job.ID, result("file-2", true))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.CompletedCount)
	assert.Equal(t, 1, snap.FailedCount)
	assert.Equal(t, snap.TotalCount, snap.CompletedCount+snap.FailedCount)
	assert.False(t, snap.CompletedAt.IsZero())
}

func TestConcurrentRecordResultsLoseNoUpdates(t *testing.T) {
	tr := newTestTracker(time.Hour)
	ctx := context.Background()

	const n = 40
	job, err := tr.Submit(ctx, "", sources(n), models.AnalyzeConfig{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Start(ctx, job.ID))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tr.RecordResult(ctx, job.ID, result(fmt.Sprintf("file-%d", i), i%4 != 0))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := tr.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, n, snap.CompletedCount+snap.FailedCount)
	assert.Equal(t, models.StatusCompleted, snap.Status)
}

func TestCancelLeadsToCancelledState(t *testing.T) {
	tr := newTestTracker(time.Hour)
	ctx := context.Background()

	job, err := tr.Submit(ctx, "", sources(20), models.AnalyzeConfig{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Start(ctx, job.ID))

	for i := 0; i < 5; i++ {
		_, err := tr.RecordResult(ctx, job.ID, result(fmt.Sprintf("file-%d", i), true))
		require.NoError(t, err)
	}

	require.NoError(t, tr.Cancel(ctx, job.ID))
	assert.True(t, tr.IsCancelled(job.ID))

	// Stream drains early; the shortfall is expected.
	final, err := tr.Finish(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, final.Status)
	assert.Equal(t, 5, final.CompletedCount)
}

func TestFinalResultReachesTerminalState(t *testing.T) {
	// Final accounting runs under the job's writer lock and must still
	// resolve the cancellation flag without blocking.
	tr := newTestTracker(time.Hour)
	ctx := context.Background()

	job, err := tr.Submit(ctx, "", sources(2), models.AnalyzeConfig{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Start(ctx, job.ID))
	require.NoError(t, tr.Cancel(ctx, job.ID))

	_, err = tr.RecordResult(ctx, job.ID, result("file-0", true))
	require.NoError(t, err)

	done := make(chan *models.Job, 1)
	go func() {
		snap, err := tr.RecordResult(ctx, job.ID, result("file-1", true))
		assert.NoError(t, err)
		done <- snap
	}()

	select {
	case snap := <-done:
		assert.Equal(t, models.StatusCancelled, snap.Status)
		assert.Equal(t, 2, snap.CompletedCount)
	case <-time.After(2 * time.Second):
		t.Fatal("final result never finished recording")
	}
}

func TestFailMarksJobFailed(t *testing.T) {
	tr := newTestTracker(time.Hour)
	ctx := context.Background()

	job, err := tr.Submit(ctx, "", sources(3), models.AnalyzeConfig{}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, tr.Fail(ctx, job.ID, fmt.Errorf("redis unavailable")))

	snap, err := tr.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Equal(t, "redis unavailable", snap.Error)
	assert.False(t, snap.CompletedAt.IsZero())
}

func TestCancelTerminalJobFails(t *testing.T) {
	tr := newTestTracker(time.Hour)
	ctx := context.Background()

	job, err := tr.Submit(ctx, "", sources(1), models.AnalyzeConfig{}, nil, nil)
	require.NoError(t, err)
	_, err = tr.RecordResult(ctx, job.ID, result("file-0", true))
	require.NoError(t, err)

	err = tr.Cancel(ctx, job.ID)
	assert.Error(t, err)
}

func TestStatusAfterPurgeReturnsNotFound(t *testing.T) {
	tr := newTestTracker(20 * time.Millisecond)
	ctx := context.Background()

	job, err := tr.Submit(ctx, "", sources(1), models.AnalyzeConfig{}, nil, nil)
	require.NoError(t, err)
	_, err = tr.RecordResult(ctx, job.ID, result("file-0", true))
	require.NoError(t, err)
	_, err = tr.Finish(ctx, job.ID)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = tr.Status(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownJobReturnsNotFound(t *testing.T) {
	tr := newTestTracker(time.Hour)
	_, err := tr.Status(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}
