package memstore

import (
	"context"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/store"
)

func cloneRun(r domain.ImportRun) domain.ImportRun {
	if r.Totals.Meta != nil {
		r.Totals.Meta = cloneMap(r.Totals.Meta)
	}
	if r.Columns != nil {
		r.Columns = cloneMap(r.Columns)
	}
	return r
}

// --- RunStorer ---

func (s *Store) CreateImportRun(ctx context.Context, run *domain.ImportRun) (*domain.ImportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateImportRun"); err != nil {
		return nil, err
	}
	created := cloneRun(*run)
	created.ID = s.nextID(0)
	ts := s.timestamp()
	created.CreatedAt, created.UpdatedAt = ts, ts
	s.runs[created.ID] = created
	out := cloneRun(created)
	return &out, nil
}

func (s *Store) GetImportRun(ctx context.Context, id int64) (*domain.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("GetImportRun"); err != nil {
		return nil, err
	}
	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	out := cloneRun(r)
	return &out, nil
}

func (s *Store) UpdateImportRun(ctx context.Context, run *domain.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateImportRun"); err != nil {
		return err
	}
	current, ok := s.runs[run.ID]
	if !ok {
		return store.ErrRunNotFound
	}
	updated := cloneRun(*run)
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = s.timestamp()
	s.runs[run.ID] = updated
	run.UpdatedAt = updated.UpdatedAt
	return nil
}

func (s *Store) AddImportIssue(ctx context.Context, issue *domain.ImportIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AddImportIssue"); err != nil {
		return err
	}
	if _, ok := s.runs[issue.RunID]; !ok {
		return store.ErrRunNotFound
	}
	issue.ID = s.nextID(0)
	issue.CreatedAt = s.timestamp()
	stored := *issue
	if stored.RowSnapshot != nil {
		stored.RowSnapshot = cloneMap(stored.RowSnapshot)
	}
	s.issues = append(s.issues, stored)
	return nil
}

func (s *Store) ListImportIssues(ctx context.Context, params store.ListIssuesParams) ([]domain.ImportIssue, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListImportIssues"); err != nil {
		return nil, 0, err
	}
	var matched []domain.ImportIssue
	for _, is := range s.issues {
		if is.RunID != params.RunID {
			continue
		}
		if params.Severity != nil && is.Severity != *params.Severity {
			continue
		}
		if params.Code != nil && is.Code != *params.Code {
			continue
		}
		matched = append(matched, is)
	}
	total := len(matched)
	if params.Offset > 0 {
		if params.Offset >= len(matched) {
			return []domain.ImportIssue{}, total, nil
		}
		matched = matched[params.Offset:]
	}
	if params.Limit > 0 && len(matched) > params.Limit {
		matched = matched[:params.Limit]
	}
	return append([]domain.ImportIssue{}, matched...), total, nil
}
