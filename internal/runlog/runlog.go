// Package runlog keeps the ImportRun row and its issue trail in step with a run.
package runlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"catalog-specs-service/internal/domain"
)

// Store is the run persistence the recorder needs.
type Store interface {
	GetImportRun(ctx context.Context, id int64) (*domain.ImportRun, error)
	UpdateImportRun(ctx context.Context, run *domain.ImportRun) error
	AddImportIssue(ctx context.Context, issue *domain.ImportIssue) error
}

// Issue is a row-level outcome before it is attached to a run.
type Issue struct {
	RowIndex *int             `json:"row_index,omitempty"`
	Code     domain.IssueCode `json:"code" validate:"required"`
	Severity domain.Severity  `json:"severity" validate:"required,oneof=info warning error"`
	Message  string           `json:"message"`
	Snapshot map[string]any   `json:"row_snapshot,omitempty"`
}

// Recorder appends issues to a run and maintains its totals.
// It is safe for use by one run at a time.
type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	run    *domain.ImportRun
	issues []Issue
}

// NewRecorder wraps run. A nil run records issues in memory only.
func NewRecorder(s Store, run *domain.ImportRun, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{store: s, logger: logger, run: run, now: func() time.Time { return time.Now().UTC() }}
	if run != nil {
		r.logger = logger.With(zap.Int64("run_id", run.ID), zap.String("run_type", run.Type))
	}
	return r
}

// Run returns the tracked run.
func (r *Recorder) Run() *domain.ImportRun {
	return r.run
}

// Issues returns the issues recorded so far.
func (r *Recorder) Issues() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Issue(nil), r.issues...)
}

// Start marks the run as running and echoes the options into columns.
func (r *Recorder) Start(ctx context.Context, columns map[string]any, meta map[string]any) error {
	if r.run == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run.Status = domain.RunStatusPending
	r.run.Columns = columns
	if r.run.Totals.Meta == nil {
		r.run.Totals.Meta = make(map[string]any)
	}
	for k, v := range meta {
		r.run.Totals.Meta[k] = v
	}
	r.run.Totals.Meta["is_running"] = true
	r.run.Totals.Meta["started_at"] = r.now().Format(time.RFC3339)
	delete(r.run.Totals.Meta, "finished_at")
	if err := r.store.UpdateImportRun(ctx, r.run); err != nil {
		return fmt.Errorf("runlog: start run %d: %w", r.run.ID, err)
	}
	r.logger.Info("run started")
	return nil
}

// Record appends an issue. Persisting the issue is best effort: a failing store is
// logged and the issue is still counted.
func (r *Recorder) Record(ctx context.Context, is Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issues = append(r.issues, is)
	if r.run == nil {
		return
	}
	r.run.Totals.Issues++
	if is.Severity == domain.SeverityError {
		r.run.Totals.Error++
	}
	err := r.store.AddImportIssue(ctx, &domain.ImportIssue{
		RunID:       r.run.ID,
		RowIndex:    is.RowIndex,
		Code:        is.Code,
		Severity:    is.Severity,
		Message:     is.Message,
		RowSnapshot: is.Snapshot,
	})
	if err != nil {
		r.logger.Error("failed to persist import issue", zap.String("code", string(is.Code)), zap.Error(err))
	}
}

// Update applies fn to the totals under the recorder lock.
func (r *Recorder) Update(fn func(t *domain.RunTotals)) {
	if r.run == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.run.Totals)
}

// Finish moves the run to status and clears the running flag. It must run even when
// the caller's context is cancelled, so it detaches from ctx cancellation.
func (r *Recorder) Finish(ctx context.Context, status domain.RunStatus) error {
	if r.run == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run.Status = status
	markFinished(r.run, r.now())
	if err := r.store.UpdateImportRun(ctx, r.run); err != nil {
		r.logger.Error("failed to finish run", zap.String("status", string(status)), zap.Error(err))
		return fmt.Errorf("runlog: finish run %d: %w", r.run.ID, err)
	}
	r.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("scanned", r.run.Totals.Scanned),
		zap.Int("matched", r.run.Totals.Matched),
		zap.Int("skipped", r.run.Totals.Skipped),
		zap.Int("issues", r.run.Totals.Issues),
	)
	return nil
}

func markFinished(run *domain.ImportRun, now time.Time) {
	if run.Totals.Meta == nil {
		run.Totals.Meta = make(map[string]any)
	}
	run.Totals.Meta["is_running"] = false
	run.Totals.Meta["finished_at"] = now.Format(time.RFC3339)
}

// Fail forces a run that is not terminal yet into failed with a single issue.
// It backs the job runner's failure callback for crashed or killed jobs.
func Fail(ctx context.Context, s Store, runID int64, code domain.IssueCode, message string) error {
	ctx = context.WithoutCancel(ctx)
	run, err := s.GetImportRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("runlog: load run %d: %w", runID, err)
	}
	if run.Status.Terminal() && !run.IsRunning() {
		return nil
	}
	if err := s.AddImportIssue(ctx, &domain.ImportIssue{
		RunID:    runID,
		Code:     code,
		Severity: domain.SeverityError,
		Message:  message,
	}); err != nil {
		return fmt.Errorf("runlog: record failure for run %d: %w", runID, err)
	}
	run.Totals.Issues++
	run.Totals.Error++
	run.Status = domain.RunStatusFailed
	markFinished(run, time.Now().UTC())
	if err := s.UpdateImportRun(ctx, run); err != nil {
		return fmt.Errorf("runlog: fail run %d: %w", runID, err)
	}
	return nil
}
