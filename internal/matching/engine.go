// Package matching reconciles scraped product specs against the typed attribute schema
// of a leaf category and resolves administrator decisions for unmatched spec names.
package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"catalog-specs-service/internal/attrvalue"
	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/runlog"
	"catalog-specs-service/internal/store"
)

// ErrTargetCategoryNotLeaf is returned when the target category is missing or has children.
var ErrTargetCategoryNotLeaf = errors.New("matching: target category is missing or not a leaf")

// EngineConfig holds process-wide defaults for options a request leaves empty.
type EngineConfig struct {
	StagingCategoryID      int64
	NumberConflictStrategy attrvalue.ConflictStrategy
}

// Engine runs specs-match passes, suggestions and decision resolution.
type Engine struct {
	store    store.Store
	logger   *zap.Logger
	cfg      EngineConfig
	validate *validator.Validate
}

// NewEngine creates an Engine. A nil logger disables logging.
func NewEngine(s store.Store, logger *zap.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NumberConflictStrategy == "" {
		cfg.NumberConflictStrategy = attrvalue.StrategyFirst
	}
	return &Engine{
		store:    s,
		logger:   logger.Named("matching"),
		cfg:      cfg,
		validate: validator.New(),
	}
}

// Result summarizes a run. FatalCode is set when the run ended in failed.
type Result struct {
	Processed  int              `json:"processed"`
	MatchedPAV int              `json:"matched_pav"`
	MatchedPAO int              `json:"matched_pao"`
	Skipped    int              `json:"skipped"`
	Issues     []runlog.Issue   `json:"issues"`
	FatalError string           `json:"fatal_error,omitempty"`
	FatalCode  domain.IssueCode `json:"fatal_code,omitempty"`
}

// Run matches the specs of productIDs, in order, against the target category.
// run may be nil for an untracked pass. Row-level problems become issues; a fatal
// problem stops the run, marks it failed and is reported in the result. The run
// never stays marked as running after Run returns.
func (e *Engine) Run(ctx context.Context, run *domain.ImportRun, productIDs []int64, opts Options) (res Result) {
	opts = opts.normalized(e.cfg)
	rec := runlog.NewRecorder(e.store, run, e.logger)
	status := domain.RunStatusFailed

	fatal := func(code domain.IssueCode, err error) {
		res.FatalCode, res.FatalError = code, err.Error()
		rec.Record(context.WithoutCancel(ctx), runlog.Issue{Code: code, Severity: domain.SeverityError, Message: err.Error()})
		status = domain.RunStatusFailed
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("specs match panicked", zap.Any("panic", p))
			fatal(domain.IssueJobException, fmt.Errorf("panic: %v", p))
		}
		rec.Update(func(t *domain.RunTotals) {
			t.Scanned = res.Processed
			t.MatchedPAV = res.MatchedPAV
			t.MatchedPAO = res.MatchedPAO
			t.Matched = res.MatchedPAV + res.MatchedPAO
			t.Skipped = res.Skipped
		})
		if err := rec.Finish(ctx, status); err != nil {
			e.logger.Error("failed to finish specs match run", zap.Error(err))
		}
		res.Issues = rec.Issues()
	}()

	meta := map[string]any{
		"dry_run":            opts.DryRun,
		"target_category_id": opts.TargetCategoryID,
		"product_count":      len(productIDs),
	}
	if err := rec.Start(ctx, opts.columns(), meta); err != nil {
		fatal(domain.IssueJobException, err)
		return res
	}

	if err := e.validate.Struct(opts); err != nil {
		fatal(domain.IssueInvalidOptions, err)
		return res
	}
	for _, is := range opts.PreflightIssues {
		rec.Record(ctx, is)
	}

	if err := e.checkTargetCategory(ctx, opts.TargetCategoryID); err != nil {
		if errors.Is(err, ErrTargetCategoryNotLeaf) {
			fatal(domain.IssueTargetCategoryNotLeaf, err)
		} else {
			fatal(domain.IssueJobException, err)
		}
		return res
	}

	mc, err := e.newMatchContext(ctx, opts, rec, &res)
	if err != nil {
		fatal(domain.IssueJobException, err)
		return res
	}

	for i, pid := range productIDs {
		if err := ctx.Err(); err != nil {
			fatal(domain.IssueJobException, err)
			return res
		}
		if err := mc.processProduct(ctx, i, pid); err != nil {
			e.logger.Error("specs match aborted", zap.Int64("product_id", pid), zap.Error(err))
			fatal(domain.IssueJobException, fmt.Errorf("product %d: %w", pid, err))
			return res
		}
	}

	if opts.DryRun {
		status = domain.RunStatusDryRun
	} else {
		status = domain.RunStatusApplied
	}
	return res
}

func (e *Engine) checkTargetCategory(ctx context.Context, id int64) error {
	cat, err := e.store.GetCategoryByID(ctx, id)
	if errors.Is(err, store.ErrCategoryNotFound) {
		return fmt.Errorf("%w: category %d not found", ErrTargetCategoryNotLeaf, id)
	}
	if err != nil {
		return err
	}
	if !cat.IsLeaf {
		return fmt.Errorf("%w: category %d has children", ErrTargetCategoryNotLeaf, id)
	}
	return nil
}
