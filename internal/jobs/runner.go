// Package jobs executes ImportRuns in the background with bounded concurrency.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/runlog"
)

// ErrRunnerClosed is returned by Submit after Wait has been called.
var ErrRunnerClosed = errors.New("jobs: runner is shut down")

// Func is the body of a job.
type Func func(ctx context.Context) error

// Job identifies a submitted job.
type Job struct {
	ID          string    `json:"id"`
	RunID       int64     `json:"run_id"`
	Kind        string    `json:"kind"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// FailureFunc is called when a job returns an error, panics, times out or is
// cancelled before it could start.
type FailureFunc func(ctx context.Context, job Job, err error)

// Config tunes a Runner.
type Config struct {
	Concurrency int
	Timeout     time.Duration
}

// Runner runs jobs on goroutines, at most Concurrency at a time.
type Runner struct {
	sem       *semaphore.Weighted
	timeout   time.Duration
	logger    *zap.Logger
	onFailure FailureFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner creates a Runner. onFailure may be nil.
func NewRunner(cfg Config, logger *zap.Logger, onFailure FailureFunc) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		timeout:   cfg.Timeout,
		logger:    logger.Named("jobs"),
		onFailure: onFailure,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit schedules fn for the run and returns immediately.
func (r *Runner) Submit(runID int64, kind string, fn Func) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Job{}, ErrRunnerClosed
	}
	job := Job{ID: uuid.NewString(), RunID: runID, Kind: kind, SubmittedAt: time.Now().UTC()}
	r.wg.Add(1)
	go r.execute(job, fn)
	r.logger.Info("job submitted", zap.String("job_id", job.ID), zap.Int64("run_id", runID), zap.String("kind", kind))
	return job, nil
}

func (r *Runner) execute(job Job, fn Func) {
	defer r.wg.Done()
	log := r.logger.With(zap.String("job_id", job.ID), zap.Int64("run_id", job.RunID))

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		r.fail(job, fmt.Errorf("job cancelled before start: %w", err))
		return
	}
	defer r.sem.Release(1)

	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := run(ctx, fn)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Error("job failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		r.fail(job, err)
		return
	}
	log.Info("job finished", zap.Duration("elapsed", time.Since(start)))
}

func run(ctx context.Context, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Runner) fail(job Job, err error) {
	if r.onFailure == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job failure callback panicked", zap.String("job_id", job.ID), zap.Any("panic", p))
		}
	}()
	r.onFailure(context.Background(), job, err)
}

// Wait stops accepting jobs and blocks until running jobs finish. When ctx ends
// first, the remaining jobs are cancelled and Wait returns ctx.Err() once they
// have returned.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

// FailRun returns a FailureFunc that forces the job's run into failed with a
// job_failed issue. Runs that already reached a terminal state are left alone.
func FailRun(s runlog.Store, logger *zap.Logger) FailureFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job Job, err error) {
		if job.RunID <= 0 {
			return
		}
		msg := fmt.Sprintf("%s job %s failed: %v", job.Kind, job.ID, err)
		if ferr := runlog.Fail(ctx, s, job.RunID, domain.IssueJobFailed, msg); ferr != nil {
			logger.Error("failed to mark run as failed", zap.Int64("run_id", job.RunID), zap.Error(ferr))
		}
	}
}
