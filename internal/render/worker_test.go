package render

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docsign/backend/internal/repository"
	"docsign/backend/pkg/models"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, documentID string) error {
	return m.Called(ctx, documentID).Error(0)
}

func newTestWorker(store *repository.MemoryStore, runner Runner, now *time.Time) *Worker {
	w := NewWorker(store, runner, WorkerConfig{Workers: 2, MaxAttempts: 3, PollInterval: time.Hour, BaseBackoff: time.Second}, nil, NoOpLogger{})
	w.now = func() time.Time { return *now }
	return w
}

func TestWorker_RetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.EnqueueRender(ctx, "doc-1", now))

	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "doc-1").Return(errors.New("s3 timeout")).Once()
	runner.On("Run", mock.Anything, "doc-1").Return(nil).Once()
	w := newTestWorker(store, runner, &now)

	worked, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	job, err := store.GetRenderJob(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.RenderJobQueued, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)
	assert.Equal(t, "s3 timeout", *job.LastError)
	assert.True(t, job.NextAttemptAt.After(now))

	worked, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, worked, "the retry is not due yet")

	now = now.Add(time.Hour)
	worked, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	job, err = store.GetRenderJob(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.RenderJobDone, job.Status)
	assert.Equal(t, 2, job.Attempts)
	runner.AssertExpectations(t)
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.EnqueueRender(ctx, "doc-1", now))

	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "doc-1").Return(errors.New("boom"))
	w := newTestWorker(store, runner, &now)

	for i := 0; i < 3; i++ {
		worked, err := w.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, worked)
		now = now.Add(time.Hour)
	}
	worked, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, worked)

	job, err := store.GetRenderJob(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.RenderJobFailed, job.Status)
	runner.AssertNumberOfCalls(t, "Run", 3)
}

func TestWorker_PermanentErrorFailsImmediately(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.EnqueueRender(ctx, "doc-1", now))

	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "doc-1").Return(backoff.Permanent(errors.New("corrupt source")))
	w := newTestWorker(store, runner, &now)

	_, err := w.RunOnce(ctx)
	require.NoError(t, err)
	job, err := store.GetRenderJob(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.RenderJobFailed, job.Status)
}

func TestWorker_RetryDelayGrows(t *testing.T) {
	w := NewWorker(repository.NewMemoryStore(), new(MockRunner), WorkerConfig{BaseBackoff: time.Second}, nil, NoOpLogger{})
	first := w.retryDelay(1)
	assert.InDelta(t, float64(time.Second), float64(first), float64(time.Second)/2)
	assert.Greater(t, w.retryDelay(6), 2*time.Second)
	assert.LessOrEqual(t, w.retryDelay(40), 15*time.Minute)
}

type signalRunner struct {
	mu   sync.Mutex
	seen []string
	done chan struct{}
}

func (r *signalRunner) Run(ctx context.Context, documentID string) error {
	r.mu.Lock()
	r.seen = append(r.seen, documentID)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestWorker_StartProcessesOnWake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := repository.NewMemoryStore()
	runner := &signalRunner{done: make(chan struct{}, 4)}
	w := NewWorker(store, runner, WorkerConfig{Workers: 2, MaxAttempts: 1, PollInterval: time.Hour}, nil, NoOpLogger{})

	errc := make(chan error, 1)
	go func() { errc <- w.Start(ctx) }()

	require.NoError(t, store.EnqueueRender(ctx, "doc-1", time.Now().Add(-time.Second)))
	w.Wake()

	select {
	case <-runner.done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not processed after Wake")
	}

	require.Eventually(t, func() bool {
		job, err := store.GetRenderJob(context.Background(), "doc-1")
		return err == nil && job.Status == models.RenderJobDone
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
