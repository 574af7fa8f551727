package render

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"docsign/backend/internal/observability"
	"docsign/backend/internal/repository"
	"docsign/backend/pkg/models"
)

// Runner renders one document.
type Runner interface {
	Run(ctx context.Context, documentID string) error
}

// JobQueue is the durable queue of render jobs.
type JobQueue interface {
	ClaimRenderJob(ctx context.Context, now time.Time) (*models.RenderJob, error)
	FinishRenderJob(ctx context.Context, documentID string) error
	FailRenderJob(ctx context.Context, documentID, reason string, retryAt time.Time) error
}

// WorkerConfig tunes the render worker.
type WorkerConfig struct {
	Workers      int
	MaxAttempts  int
	PollInterval time.Duration
	BaseBackoff  time.Duration
}

// Worker drains the render queue. Jobs are delivered at least once: a job
// whose lease runs out is claimed again, so runs must be idempotent.
type Worker struct {
	queue   JobQueue
	runner  Runner
	cfg     WorkerConfig
	wake    chan struct{}
	metrics *observability.Metrics
	logger  Logger
	now     func() time.Time
}

// NewWorker creates a Worker.
func NewWorker(queue JobQueue, runner Runner, cfg WorkerConfig, metrics *observability.Metrics, logger Logger) *Worker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	return &Worker{
		queue:   queue,
		runner:  runner,
		cfg:     cfg,
		wake:    make(chan struct{}, cfg.Workers),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Wake makes idle goroutines check the queue now instead of at the next poll.
func (w *Worker) Wake() {
	for i := 0; i < w.cfg.Workers; i++ {
		select {
		case w.wake <- struct{}{}:
		default:
			return
		}
	}
}

// Start runs the worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error { return w.loop(ctx) })
	}
	w.logger.Info("render worker started", "workers", w.cfg.Workers)
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := w.Drain(ctx); err != nil {
			w.logger.Error("render queue unavailable", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// Drain processes due jobs until none is left.
func (w *Worker) Drain(ctx context.Context) error {
	for ctx.Err() == nil {
		worked, err := w.RunOnce(ctx)
		if err != nil || !worked {
			return err
		}
	}
	return nil
}

// RunOnce claims and processes a single due job. It reports false when the
// queue had nothing due.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimRenderJob(ctx, w.now())
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	runErr := w.runner.Run(ctx, job.DocumentID)
	if runErr == nil {
		if err := w.queue.FinishRenderJob(ctx, job.DocumentID); err != nil {
			return true, err
		}
		w.logger.Info("render job done", "document_id", job.DocumentID, "attempts", job.Attempts)
		return true, nil
	}

	var permanent *backoff.PermanentError
	final := errors.As(runErr, &permanent) || job.Attempts >= w.cfg.MaxAttempts
	w.metrics.RenderFailed(ctx, final)

	var retryAt time.Time
	if final {
		w.logger.Error("render job failed", "document_id", job.DocumentID, "attempts", job.Attempts, "error", runErr)
	} else {
		retryAt = w.now().Add(w.retryDelay(job.Attempts))
		w.logger.Warn("render attempt failed; will retry", "document_id", job.DocumentID,
			"attempts", job.Attempts, "retry_at", retryAt, "error", runErr)
	}
	if err := w.queue.FailRenderJob(ctx, job.DocumentID, runErr.Error(), retryAt); err != nil {
		return true, err
	}
	return true, nil
}

// retryDelay is the exponential delay before attempt+1.
func (w *Worker) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.BaseBackoff
	b.MaxInterval = 10 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
