package filterimport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"catalog-specs-service/internal/attrvalue"
	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/runlog"
	"catalog-specs-service/internal/store"
	"catalog-specs-service/internal/valueparse"
)

// ImportOptions control a filter import.
type ImportOptions struct {
	DryRun                 bool   `json:"dry_run"`
	AutoCreateOptions      bool   `json:"auto_create_options"`
	NumberConflictStrategy string `json:"number_conflict_strategy,omitempty" validate:"omitempty,oneof=max min first"`
}

// ImportResult summarizes an import. Updated counts rows that changed, or would
// change on a dry run.
type ImportResult struct {
	Processed  int              `json:"processed"`
	Updated    int              `json:"updated"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Issues     []runlog.Issue   `json:"issues"`
	FatalError string           `json:"fatal_error,omitempty"`
	FatalCode  domain.IssueCode `json:"fatal_code,omitempty"`
}

// change is one pending write for a product attribute.
type change struct {
	schema    *domain.AttributeSchema
	clear     bool
	value     *domain.ProductAttributeValue
	optionIDs []int64
}

type importContext struct {
	svc           *Service
	opts          ImportOptions
	strategy      attrvalue.ConflictStrategy
	rec           *runlog.Recorder
	columns       []columnBinding
	optionIndexes map[int64]*attrvalue.OptionIndex
	res           *ImportResult
}

// Import applies edited template rows to the category. Each row is written in
// its own transaction guarded by the product's updated_at: a row whose snapshot
// is older than the stored product is rejected, as is a row whose writes fail.
// A blank cell keeps the stored value and "!clear" deletes it.
func (svc *Service) Import(ctx context.Context, run *domain.ImportRun, categoryID int64, rows []map[string]string, opts ImportOptions) (res ImportResult) {
	rec := runlog.NewRecorder(svc.store, run, svc.logger)
	status := domain.RunStatusFailed

	fatal := func(code domain.IssueCode, err error) {
		res.FatalCode, res.FatalError = code, err.Error()
		rec.Record(context.WithoutCancel(ctx), runlog.Issue{Code: code, Severity: domain.SeverityError, Message: err.Error()})
		status = domain.RunStatusFailed
	}

	defer func() {
		if p := recover(); p != nil {
			svc.logger.Error("filter import panicked", zap.Any("panic", p))
			fatal(domain.IssueJobException, fmt.Errorf("panic: %v", p))
		}
		rec.Update(func(t *domain.RunTotals) {
			t.Scanned = res.Processed
			t.Matched = res.Updated
			t.Skipped = res.Skipped
		})
		if err := rec.Finish(ctx, status); err != nil {
			svc.logger.Error("failed to finish filter import run", zap.Error(err))
		}
		res.Issues = rec.Issues()
	}()

	columns := map[string]any{
		"category_id":              categoryID,
		"dry_run":                  opts.DryRun,
		"auto_create_options":      opts.AutoCreateOptions,
		"number_conflict_strategy": opts.NumberConflictStrategy,
	}
	meta := map[string]any{"dry_run": opts.DryRun, "category_id": categoryID, "row_count": len(rows)}
	if err := rec.Start(ctx, columns, meta); err != nil {
		fatal(domain.IssueJobException, err)
		return res
	}

	if err := validator.New().Struct(opts); err != nil {
		fatal(domain.IssueInvalidOptions, err)
		return res
	}
	strategy := attrvalue.StrategyFirst
	if opts.NumberConflictStrategy != "" {
		strategy = attrvalue.ConflictStrategy(opts.NumberConflictStrategy)
	}

	schemas, err := svc.leafSchemas(ctx, categoryID)
	if err != nil {
		if errors.Is(err, ErrCategoryNotLeaf) {
			fatal(domain.IssueTargetCategoryNotLeaf, err)
		} else {
			fatal(domain.IssueJobException, err)
		}
		return res
	}

	bound, unknown := bindColumns(headerKeys(rows), schemas)
	for _, key := range unknown {
		rec.Record(ctx, runlog.Issue{
			Code:     domain.IssueSpecNameUnmatched,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("column %q does not match an attribute of category %d", key, categoryID),
			Snapshot: map[string]any{"column": key},
		})
	}

	ic := &importContext{
		svc:           svc,
		opts:          opts,
		strategy:      strategy,
		rec:           rec,
		columns:       bound,
		optionIndexes: make(map[int64]*attrvalue.OptionIndex),
		res:           &res,
	}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			fatal(domain.IssueJobException, err)
			return res
		}
		res.Processed++
		if err := ic.importRow(ctx, i, row); err != nil {
			svc.logger.Error("filter import aborted", zap.Int("row", i), zap.Error(err))
			fatal(domain.IssueJobException, fmt.Errorf("row %d: %w", i, err))
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

// headerKeys collects every column key present in rows, sorted so that the
// column order is stable.
func headerKeys(rows []map[string]string) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (ic *importContext) record(ctx context.Context, row int, code domain.IssueCode, sev domain.Severity, msg string, snapshot map[string]any) {
	r := row
	ic.rec.Record(ctx, runlog.Issue{RowIndex: &r, Code: code, Severity: sev, Message: msg, Snapshot: snapshot})
}

// rowError records an error-severity outcome and counts the row as failed.
func (ic *importContext) rowError(ctx context.Context, row int, code domain.IssueCode, msg string, snapshot map[string]any) {
	ic.res.Failed++
	ic.record(ctx, row, code, domain.SeverityError, msg, snapshot)
}

func rowSnapshot(row map[string]string) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// importRow returns an error only for store failures outside the row transaction.
func (ic *importContext) importRow(ctx context.Context, i int, row map[string]string) error {
	s := ic.svc.store
	pid, err := strconv.ParseInt(strings.TrimSpace(row[ColumnProductID]), 10, 64)
	if err != nil || pid <= 0 {
		ic.rowError(ctx, i, domain.IssueProductNotFound,
			fmt.Sprintf("invalid product_id %q", row[ColumnProductID]), rowSnapshot(row))
		return nil
	}
	product, err := s.GetProductByID(ctx, pid)
	if errors.Is(err, store.ErrProductNotFound) {
		ic.rowError(ctx, i, domain.IssueProductNotFound, fmt.Sprintf("product %d not found", pid), rowSnapshot(row))
		return nil
	}
	if err != nil {
		return err
	}

	expected := product.UpdatedAt
	if raw := strings.TrimSpace(row[ColumnUpdatedAt]); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			ic.rowError(ctx, i, domain.IssueSpecValueParseFailed,
				fmt.Sprintf("invalid updated_at %q for product %d", raw, pid), rowSnapshot(row))
			return nil
		}
		if !ts.Equal(product.UpdatedAt) {
			ic.staleRow(ctx, i, pid, ts, product.UpdatedAt, row)
			return nil
		}
		expected = ts
	}

	state, err := loadState(ctx, s, pid)
	if err != nil {
		return err
	}
	changes, err := ic.collectChanges(ctx, i, pid, row, state)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		ic.res.Skipped++
		return nil
	}
	if ic.opts.DryRun {
		ic.res.Updated++
		return nil
	}

	err = s.InTx(ctx, func(tx store.Store) error {
		if _, err := tx.TouchProduct(ctx, pid, &expected); err != nil {
			return err
		}
		for _, c := range changes {
			if err := applyChange(ctx, tx, pid, c); err != nil {
				return fmt.Errorf("attribute %d: %w", c.schema.Attribute.ID, err)
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, store.ErrStaleSnapshot):
		current := product.UpdatedAt
		if p, gerr := s.GetProductByID(ctx, pid); gerr == nil {
			current = p.UpdatedAt
		}
		ic.staleRow(ctx, i, pid, expected, current, row)
	case err != nil:
		ic.svc.logger.Warn("filter import row rolled back", zap.Int("row", i), zap.Int64("product_id", pid), zap.Error(err))
		ic.rowError(ctx, i, domain.IssueRowApplyFailed,
			fmt.Sprintf("product %d not updated: %v", pid, err), rowSnapshot(row))
	default:
		ic.res.Updated++
	}
	return nil
}

func (ic *importContext) staleRow(ctx context.Context, i int, pid int64, seen, current time.Time, row map[string]string) {
	snapshot := rowSnapshot(row)
	snapshot["current_updated_at"] = current.UTC().Format(time.RFC3339Nano)
	ic.rowError(ctx, i, domain.IssueRowConflictStaleSnapshot,
		fmt.Sprintf("product %d changed since %s, row skipped", pid, seen.UTC().Format(time.RFC3339Nano)), snapshot)
}

func applyChange(ctx context.Context, tx store.Store, pid int64, c change) error {
	attrID := c.schema.Attribute.ID
	switch {
	case c.schema.Kind.IsOption():
		return tx.SetProductOptions(ctx, pid, attrID, c.optionIDs)
	case c.clear:
		return tx.DeleteProductValue(ctx, pid, attrID)
	default:
		return tx.UpsertProductValue(ctx, c.value)
	}
}

// collectChanges parses the row's cells per attribute. A cell that fails to parse
// is reported and left out; the rest of the row still applies.
func (ic *importContext) collectChanges(ctx context.Context, i int, pid int64, row map[string]string, state *productState) ([]change, error) {
	type group struct {
		schema     *domain.AttributeSchema
		clear      bool
		candidates []attrvalue.Candidate
	}
	var order []int64
	groups := make(map[int64]*group)

	for _, col := range ic.columns {
		cell := valueparse.ParseCell(row[col.key])
		if cell.Intent == domain.IntentUnchanged {
			continue
		}
		attrID := col.schema.Attribute.ID
		g, ok := groups[attrID]
		if !ok {
			g = &group{schema: col.schema}
			groups[attrID] = g
			order = append(order, attrID)
		}
		if cell.Intent == domain.IntentClear {
			g.clear = true
			continue
		}
		c, ok, err := ic.parseCell(ctx, i, pid, col, cell.Raw)
		if err != nil {
			return nil, err
		}
		if ok {
			g.candidates = append(g.candidates, c)
		}
	}

	var changes []change
	for _, attrID := range order {
		g := groups[attrID]
		s := g.schema
		if len(g.candidates) == 0 {
			if !g.clear {
				continue
			}
			if s.Kind.IsOption() && len(state.options[attrID]) > 0 {
				changes = append(changes, change{schema: s, clear: true})
			} else if !s.Kind.IsOption() && attrvalue.HasValue(s.Kind, state.values[attrID]) {
				changes = append(changes, change{schema: s, clear: true})
			}
			continue
		}

		merged := attrvalue.Merge(g.candidates, ic.strategy)
		for _, d := range merged.Dropped {
			code := domain.IssueValueConflictKeptFirst
			if s.Kind == domain.KindSelect {
				code = domain.IssueSelectConflictKeptFirst
			}
			ic.record(ctx, i, code, domain.SeverityInfo,
				fmt.Sprintf("column %q conflicts with %q for attribute %q, first value kept", d.Source, merged.Value.Source, s.Attribute.Name),
				map[string]any{"product_id": pid, "attribute_id": attrID, "kept": merged.Value.Source, "dropped": d.Source})
		}
		c := merged.Value
		if s.Kind.IsOption() {
			if !attrvalue.SameOptions(state.options[attrID], c) {
				changes = append(changes, change{schema: s, optionIDs: attrvalue.OptionIDs(c)})
			}
			continue
		}
		if !attrvalue.SameValue(state.values[attrID], c) {
			pav := attrvalue.ToValue(pid, attrID, c)
			changes = append(changes, change{schema: s, value: &pav})
		}
	}
	return changes, nil
}

func (ic *importContext) optionIndex(ctx context.Context, attributeID int64) (*attrvalue.OptionIndex, error) {
	if idx, ok := ic.optionIndexes[attributeID]; ok {
		return idx, nil
	}
	options, err := ic.svc.store.ListAttributeOptions(ctx, attributeID)
	if err != nil {
		return nil, err
	}
	idx := attrvalue.NewOptionIndex(attributeID, options)
	ic.optionIndexes[attributeID] = idx
	return idx, nil
}

func (ic *importContext) parseCell(ctx context.Context, i int, pid int64, col columnBinding, raw string) (attrvalue.Candidate, bool, error) {
	s := col.schema
	var (
		c   attrvalue.Candidate
		err error
	)
	switch s.Kind {
	case domain.KindSelect, domain.KindMultiselect:
		return ic.parseOptions(ctx, i, pid, col, raw)
	case domain.KindNumber, domain.KindRange:
		c, err = attrvalue.ParseNumeric(s, raw, attrvalue.UnitHint{NameToken: col.nameToken})
	case domain.KindBoolean:
		c, err = attrvalue.ParseBoolean(raw)
	case domain.KindText:
		c, err = attrvalue.ParseText(raw)
	default:
		err = &attrvalue.ParseError{Code: domain.IssueSpecValueParseFailed, Reason: "unsupported attribute kind " + s.Kind.String(), Raw: raw}
	}

	var perr *attrvalue.ParseError
	if errors.As(err, &perr) {
		ic.record(ctx, i, perr.Code, domain.SeverityWarning,
			fmt.Sprintf("cannot parse %q for attribute %q: %s", raw, s.Attribute.Name, perr.Reason),
			map[string]any{"product_id": pid, "attribute_id": s.Attribute.ID, "column": col.key, "value": raw, "reason": perr.Reason})
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	c.Source = col.key
	return c, true, nil
}

func (ic *importContext) parseOptions(ctx context.Context, i int, pid int64, col columnBinding, raw string) (attrvalue.Candidate, bool, error) {
	s := col.schema
	idx, err := ic.optionIndex(ctx, s.Attribute.ID)
	if err != nil {
		return attrvalue.Candidate{}, false, err
	}
	res, err := idx.Resolve(ctx, valueparse.ExtractOptionCandidates(raw), ic.opts.AutoCreateOptions, ic.opts.DryRun, ic.svc.store)
	if err != nil {
		return attrvalue.Candidate{}, false, err
	}
	for _, label := range res.Created {
		msg := fmt.Sprintf("option %q created for attribute %q", label, s.Attribute.Name)
		if ic.opts.DryRun {
			msg = fmt.Sprintf("option %q would be created for attribute %q", label, s.Attribute.Name)
		}
		ic.record(ctx, i, domain.IssueOptionAutoCreated, domain.SeverityInfo, msg,
			map[string]any{"product_id": pid, "attribute_id": s.Attribute.ID, "option": label})
	}
	if len(res.Missing) > 0 {
		ic.record(ctx, i, domain.IssueOptionNotFound, domain.SeverityWarning,
			fmt.Sprintf("options not found for attribute %q: %s", s.Attribute.Name, strings.Join(res.Missing, ", ")),
			map[string]any{"product_id": pid, "attribute_id": s.Attribute.ID, "column": col.key, "missing": res.Missing})
	}
	if len(res.Options) == 0 {
		return attrvalue.Candidate{}, false, nil
	}
	c := attrvalue.Options(s.Kind, res.Options)
	c.Source = col.key
	return c, true, nil
}
