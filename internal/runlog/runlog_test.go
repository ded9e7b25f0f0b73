package runlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/store"
	"catalog-specs-service/internal/store/memstore"
)

func newRun(t *testing.T, s *memstore.Store) *domain.ImportRun {
	t.Helper()
	run, err := s.CreateImportRun(context.Background(), &domain.ImportRun{Type: domain.RunTypeSpecsMatch, Status: domain.RunStatusPending})
	require.NoError(t, err)
	return run
}

func TestRecorder_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	run := newRun(t, s)
	rec := NewRecorder(s, run, nil)

	require.NoError(t, rec.Start(ctx, map[string]any{"dry_run": true}, map[string]any{"target_category_id": int64(3)}))
	stored, err := s.GetImportRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsRunning())
	assert.Equal(t, true, stored.Columns["dry_run"])

	rec.Record(ctx, Issue{Code: domain.IssueSpecNameUnmatched, Severity: domain.SeverityWarning, Message: "no attribute"})
	rec.Record(ctx, Issue{Code: domain.IssueSpecValueParseFailed, Severity: domain.SeverityError, Message: "bad number"})
	rec.Update(func(t *domain.RunTotals) { t.Scanned = 2 })

	require.NoError(t, rec.Finish(ctx, domain.RunStatusDryRun))
	stored, err = s.GetImportRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusDryRun, stored.Status)
	assert.False(t, stored.IsRunning())
	assert.Contains(t, stored.Totals.Meta, "finished_at")
	assert.Equal(t, 2, stored.Totals.Issues)
	assert.Equal(t, 1, stored.Totals.Error)
	assert.Equal(t, 2, stored.Totals.Scanned)

	issues, total, err := s.ListImportIssues(ctx, store.ListIssuesParams{RunID: run.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, domain.IssueSpecNameUnmatched, issues[0].Code)
	assert.Len(t, rec.Issues(), 2)
}

func TestRecorder_FinishSurvivesCancelledContext(t *testing.T) {
	s := memstore.New()
	run := newRun(t, s)
	rec := NewRecorder(s, run, nil)
	require.NoError(t, rec.Start(context.Background(), nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Finish(ctx, domain.RunStatusFailed))

	stored, err := s.GetImportRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsRunning())
}

func TestRecorder_IssueStoreFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	run := newRun(t, s)
	rec := NewRecorder(s, run, nil)
	s.InjectFailure("AddImportIssue", errors.New("disk full"))

	rec.Record(ctx, Issue{Code: domain.IssueOptionNotFound, Severity: domain.SeverityWarning})
	assert.Equal(t, 1, rec.Run().Totals.Issues)
}

func TestFail(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	run := newRun(t, s)
	rec := NewRecorder(s, run, nil)
	require.NoError(t, rec.Start(ctx, nil, nil))

	require.NoError(t, Fail(ctx, s, run.ID, domain.IssueJobFailed, "worker killed"))
	stored, err := s.GetImportRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, stored.Status)
	assert.False(t, stored.IsRunning())

	issues, _, err := s.ListImportIssues(ctx, store.ListIssuesParams{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, domain.IssueJobFailed, issues[0].Code)

	// A second call leaves the terminal run alone.
	require.NoError(t, Fail(ctx, s, run.ID, domain.IssueJobFailed, "again"))
	_, total, err := s.ListImportIssues(ctx, store.ListIssuesParams{RunID: run.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	assert.ErrorIs(t, Fail(ctx, s, 999, domain.IssueJobFailed, "missing"), store.ErrRunNotFound)
}
