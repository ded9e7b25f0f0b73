package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"catalog-specs-service/internal/domain"
)

// --- RunStorer Implementation ---

func marshalJSON(op, field string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: %s failed to encode %s: %w", op, field, err)
	}
	return data, nil
}

func scanRun(row interface{ Scan(dest ...any) error }, run *domain.ImportRun) error {
	var totals, columns []byte
	if err := row.Scan(&run.ID, &run.Type, &run.Status, &totals, &columns, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return err
	}
	if len(totals) > 0 {
		if err := json.Unmarshal(totals, &run.Totals); err != nil {
			return fmt.Errorf("decode totals: %w", err)
		}
	}
	if len(columns) > 0 && string(columns) != "null" {
		if err := json.Unmarshal(columns, &run.Columns); err != nil {
			return fmt.Errorf("decode columns: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateImportRun(ctx context.Context, run *domain.ImportRun) (*domain.ImportRun, error) {
	totals, err := marshalJSON("CreateImportRun", "totals", run.Totals)
	if err != nil {
		return nil, err
	}
	columns, err := marshalJSON("CreateImportRun", "columns", run.Columns)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO catalog.import_runs (type, status, totals, columns)
		VALUES ($1, $2, $3, $4)
		RETURNING id, type, status, totals, columns, created_at, updated_at;
	`
	var created domain.ImportRun
	if err := scanRun(s.q.QueryRowContext(ctx, query, run.Type, string(run.Status), totals, columns), &created); err != nil {
		return nil, fmt.Errorf("store: CreateImportRun failed to scan row: %w", err)
	}
	return &created, nil
}

func (s *PostgresStore) GetImportRun(ctx context.Context, id int64) (*domain.ImportRun, error) {
	query := `
		SELECT id, type, status, totals, columns, created_at, updated_at
		FROM catalog.import_runs
		WHERE id = $1;
	`
	var run domain.ImportRun
	if err := scanRun(s.q.QueryRowContext(ctx, query, id), &run); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("store: GetImportRun failed to scan row: %w", err)
	}
	return &run, nil
}

func (s *PostgresStore) UpdateImportRun(ctx context.Context, run *domain.ImportRun) error {
	totals, err := marshalJSON("UpdateImportRun", "totals", run.Totals)
	if err != nil {
		return err
	}
	columns, err := marshalJSON("UpdateImportRun", "columns", run.Columns)
	if err != nil {
		return err
	}
	query := `
		UPDATE catalog.import_runs
		SET status = $1, totals = $2, columns = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
		RETURNING updated_at;
	`
	if err := s.q.QueryRowContext(ctx, query, string(run.Status), totals, columns, run.ID).Scan(&run.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRunNotFound
		}
		return fmt.Errorf("store: UpdateImportRun failed to scan row: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddImportIssue(ctx context.Context, issue *domain.ImportIssue) error {
	var snapshot any
	if issue.RowSnapshot != nil {
		data, err := marshalJSON("AddImportIssue", "row_snapshot", issue.RowSnapshot)
		if err != nil {
			return err
		}
		snapshot = data
	}
	query := `
		INSERT INTO catalog.import_issues (run_id, row_index, code, severity, message, row_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at;
	`
	err := s.q.QueryRowContext(ctx, query,
		issue.RunID, issue.RowIndex, string(issue.Code), string(issue.Severity), issue.Message, snapshot,
	).Scan(&issue.ID, &issue.CreatedAt)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return ErrRunNotFound
		}
		return fmt.Errorf("store: AddImportIssue failed to scan row: %w", err)
	}
	return nil
}

// ListImportIssues returns one page of a run's issues in insertion order together
// with the total number of matching issues. A non-positive Limit returns all of them.
func (s *PostgresStore) ListImportIssues(ctx context.Context, params ListIssuesParams) ([]domain.ImportIssue, int, error) {
	whereClauses := []string{"run_id = $1"}
	queryArgs := []any{params.RunID}
	argID := 2

	if params.Severity != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("severity = $%d", argID))
		queryArgs = append(queryArgs, string(*params.Severity))
		argID++
	}
	if params.Code != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("code = $%d", argID))
		queryArgs = append(queryArgs, string(*params.Code))
		argID++
	}
	whereCondition := " WHERE " + strings.Join(whereClauses, " AND ")

	countQuery := "SELECT COUNT(*) FROM catalog.import_issues" + whereCondition
	var totalCount int
	if err := s.q.QueryRowContext(ctx, countQuery, queryArgs...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("store: ListImportIssues failed to count issues: %w", err)
	}
	if totalCount == 0 {
		return []domain.ImportIssue{}, 0, nil
	}

	dataQuery := "SELECT id, run_id, row_index, code, severity, message, row_snapshot, created_at FROM catalog.import_issues" +
		whereCondition + " ORDER BY id ASC"
	if params.Limit > 0 {
		dataQuery += fmt.Sprintf(" LIMIT $%d", argID)
		queryArgs = append(queryArgs, params.Limit)
		argID++
	}
	if params.Offset > 0 {
		dataQuery += fmt.Sprintf(" OFFSET $%d", argID)
		queryArgs = append(queryArgs, params.Offset)
	}

	rows, err := s.q.QueryContext(ctx, dataQuery, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: ListImportIssues failed to query issues: %w", err)
	}
	defer rows.Close()

	issues := []domain.ImportIssue{}
	for rows.Next() {
		var is domain.ImportIssue
		var rowIndex sql.NullInt64
		var snapshot []byte
		if err := rows.Scan(&is.ID, &is.RunID, &rowIndex, &is.Code, &is.Severity, &is.Message, &snapshot, &is.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("store: ListImportIssues failed to scan issue row: %w", err)
		}
		if rowIndex.Valid {
			idx := int(rowIndex.Int64)
			is.RowIndex = &idx
		}
		if len(snapshot) > 0 && string(snapshot) != "null" {
			if err := json.Unmarshal(snapshot, &is.RowSnapshot); err != nil {
				return nil, 0, fmt.Errorf("store: ListImportIssues failed to decode row_snapshot of issue %d: %w", is.ID, err)
			}
		}
		issues = append(issues, is)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: ListImportIssues iteration error: %w", err)
	}
	return issues, totalCount, nil
}
