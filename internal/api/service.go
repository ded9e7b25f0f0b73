package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/filterimport"
	"catalog-specs-service/internal/jobs"
	"catalog-specs-service/internal/matching"
	"catalog-specs-service/internal/runlog"
	"catalog-specs-service/internal/store"
)

// Submitter schedules a job for an ImportRun. *jobs.Runner satisfies it.
type Submitter interface {
	Submit(runID int64, kind string, fn jobs.Func) (jobs.Job, error)
}

// ErrNoProducts is returned when a request names neither products nor a source category.
var ErrNoProducts = errors.New("api: no products selected")

// StartRunRequest starts a specs-match run over ProductIDs, or over every product
// of SourceCategoryID when ProductIDs is empty.
type StartRunRequest struct {
	ProductIDs       []int64          `json:"product_ids" validate:"dive,gt=0"`
	SourceCategoryID int64            `json:"source_category_id" validate:"gte=0"`
	Options          matching.Options `json:"options"`
}

// SuggestionsRequest asks for attribute creation suggestions.
type SuggestionsRequest struct {
	ProductIDs       []int64 `json:"product_ids" validate:"dive,gt=0"`
	SourceCategoryID int64   `json:"source_category_id" validate:"gte=0"`
	TargetCategoryID int64   `json:"target_category_id" validate:"required,gt=0"`
}

// DecisionsRequest resolves administrator decisions for unmatched spec names.
type DecisionsRequest struct {
	TargetCategoryID int64                  `json:"target_category_id" validate:"required,gt=0"`
	Apply            bool                   `json:"apply"`
	Rows             []matching.DecisionRow `json:"rows" validate:"required,min=1"`
}

// FilterImportRequest carries template rows for a category filter import.
type FilterImportRequest struct {
	Rows    []map[string]string       `json:"rows" validate:"required,min=1"`
	Options filterimport.ImportOptions `json:"options"`
}

// RunAccepted is returned when a run was queued.
type RunAccepted struct {
	Run domain.ImportRun `json:"run"`
	Job jobs.Job         `json:"job"`
}

// Service is the transport-independent layer behind the HTTP and gRPC handlers.
type Service struct {
	store    store.Store
	engine   *matching.Engine
	filters  *filterimport.Service
	jobs     Submitter
	logger   *zap.Logger
	validate *validator.Validate
}

// NewService wires the handlers' dependencies. A nil logger disables logging.
func NewService(s store.Store, engine *matching.Engine, filters *filterimport.Service, submitter Submitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    s,
		engine:   engine,
		filters:  filters,
		jobs:     submitter,
		logger:   logger.Named("api"),
		validate: validator.New(),
	}
}

// NewStartRunRequest returns a request whose options carry the engine defaults,
// so that keys omitted by a decoder keep them.
func NewStartRunRequest() StartRunRequest {
	return StartRunRequest{Options: matching.DefaultOptions()}
}

func (s *Service) productIDs(ctx context.Context, ids []int64, categoryID int64) ([]int64, error) {
	if len(ids) > 0 {
		return ids, nil
	}
	if categoryID == 0 {
		return nil, ErrNoProducts
	}
	if _, err := s.store.GetCategoryByID(ctx, categoryID); err != nil {
		return nil, err
	}
	ids, err := s.store.ListCategoryProductIDs(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: category %d has no products", ErrNoProducts, categoryID)
	}
	return ids, nil
}

// StartSpecsMatch creates a pending run and queues the engine pass for it.
func (s *Service) StartSpecsMatch(ctx context.Context, req StartRunRequest) (*RunAccepted, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	ids, err := s.productIDs(ctx, req.ProductIDs, req.SourceCategoryID)
	if err != nil {
		return nil, err
	}
	opts := req.Options
	return s.submit(ctx, domain.RunTypeSpecsMatch, func(ctx context.Context, run *domain.ImportRun) {
		res := s.engine.Run(ctx, run, ids, opts)
		s.logger.Info("specs match finished",
			zap.Int64("run_id", run.ID),
			zap.Int("processed", res.Processed),
			zap.Int("matched_pav", res.MatchedPAV),
			zap.Int("matched_pao", res.MatchedPAO),
			zap.Int("skipped", res.Skipped),
			zap.String("fatal_code", string(res.FatalCode)))
	})
}

// StartFilterImport creates a pending run and queues the import of rows into the category.
func (s *Service) StartFilterImport(ctx context.Context, categoryID int64, req FilterImportRequest) (*RunAccepted, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.store.GetCategoryByID(ctx, categoryID); err != nil {
		return nil, err
	}
	return s.submit(ctx, domain.RunTypeFilterImport, func(ctx context.Context, run *domain.ImportRun) {
		res := s.filters.Import(ctx, run, categoryID, req.Rows, req.Options)
		s.logger.Info("filter import finished",
			zap.Int64("run_id", run.ID),
			zap.Int("processed", res.Processed),
			zap.Int("updated", res.Updated),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
			zap.String("fatal_code", string(res.FatalCode)))
	})
}

// submit persists a pending run and hands body to the job runner. The returned run
// is a copy taken before the job starts mutating its own.
func (s *Service) submit(ctx context.Context, kind string, body func(ctx context.Context, run *domain.ImportRun)) (*RunAccepted, error) {
	run, err := s.store.CreateImportRun(ctx, &domain.ImportRun{Type: kind, Status: domain.RunStatusPending})
	if err != nil {
		return nil, err
	}
	accepted := &RunAccepted{Run: *run}

	job, err := s.jobs.Submit(run.ID, kind, func(ctx context.Context) error {
		body(ctx, run)
		return nil
	})
	if err != nil {
		if ferr := runlog.Fail(ctx, s.store, run.ID, domain.IssueJobFailed, err.Error()); ferr != nil {
			s.logger.Error("failed to mark unscheduled run as failed", zap.Int64("run_id", run.ID), zap.Error(ferr))
		}
		return nil, err
	}
	accepted.Job = job
	return accepted, nil
}

// Suggestions analyses unmatched spec names without writing anything.
func (s *Service) Suggestions(ctx context.Context, req SuggestionsRequest) ([]matching.Suggestion, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	ids, err := s.productIDs(ctx, req.ProductIDs, req.SourceCategoryID)
	if err != nil {
		return nil, err
	}
	return s.engine.BuildAttributeCreationSuggestions(ctx, ids, req.TargetCategoryID)
}

// Decisions resolves decision rows, creating attributes only when req.Apply is set.
func (s *Service) Decisions(ctx context.Context, req DecisionsRequest) (matching.DecisionResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return matching.DecisionResult{}, err
	}
	return s.engine.ResolveAttributeDecisions(ctx, req.TargetCategoryID, req.Rows, req.Apply)
}

// Run returns an ImportRun by id.
func (s *Service) Run(ctx context.Context, id int64) (*domain.ImportRun, error) {
	return s.store.GetImportRun(ctx, id)
}

// Issues pages through the issues of a run.
func (s *Service) Issues(ctx context.Context, params store.ListIssuesParams) ([]domain.ImportIssue, int, error) {
	if _, err := s.store.GetImportRun(ctx, params.RunID); err != nil {
		return nil, 0, err
	}
	return s.store.ListImportIssues(ctx, params)
}

// Export renders the filter template of a leaf category.
func (s *Service) Export(ctx context.Context, categoryID int64) (*filterimport.Template, error) {
	return s.filters.Export(ctx, categoryID)
}
