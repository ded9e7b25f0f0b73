package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"catalog-specs-service/internal/attrvalue"
	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/runlog"
	"catalog-specs-service/internal/store"
	"catalog-specs-service/internal/textnorm"
	"catalog-specs-service/internal/valueparse"
)

// matchContext holds everything built once per run and reused across products.
// Schemas and option indexes are memoized by attribute id and never invalidated.
type matchContext struct {
	store    store.Store
	logger   *zap.Logger
	rec      *runlog.Recorder
	res      *Result
	opts     Options
	strategy attrvalue.ConflictStrategy

	bindings      map[int64]*domain.CategoryAttribute
	index         map[string]*domain.AttributeSchema
	schemas       map[int64]*domain.AttributeSchema
	optionIndexes map[int64]*attrvalue.OptionIndex
	inputUnits    map[string]*domain.Unit
	ignored       map[string]struct{}
	outsideLogged map[int64]struct{}
}

func (e *Engine) newMatchContext(ctx context.Context, opts Options, rec *runlog.Recorder, res *Result) (*matchContext, error) {
	mc := &matchContext{
		store:         e.store,
		logger:        e.logger,
		rec:           rec,
		res:           res,
		opts:          opts,
		strategy:      opts.strategy(),
		bindings:      make(map[int64]*domain.CategoryAttribute),
		schemas:       make(map[int64]*domain.AttributeSchema),
		optionIndexes: make(map[int64]*attrvalue.OptionIndex),
		inputUnits:    make(map[string]*domain.Unit),
		ignored:       make(map[string]struct{}, len(opts.IgnoredSpecNames)),
		outsideLogged: make(map[int64]struct{}),
	}

	schemas, err := attrvalue.LoadCategorySchemas(ctx, e.store, opts.TargetCategoryID)
	if err != nil {
		return nil, fmt.Errorf("load category schema: %w", err)
	}
	for _, s := range schemas {
		mc.schemas[s.Attribute.ID] = s
		mc.bindings[s.Attribute.ID] = s.Binding
	}
	mc.index = attrvalue.BuildAttributeIndex(schemas)

	for _, name := range opts.IgnoredSpecNames {
		mc.ignored[name] = struct{}{}
	}
	for name, unitID := range opts.SpecInputUnitMap {
		u, err := e.store.GetUnitByID(ctx, unitID)
		if errors.Is(err, store.ErrUnitNotFound) {
			rec.Record(ctx, runlog.Issue{
				Code:     domain.IssueUnitNotFound,
				Severity: domain.SeverityWarning,
				Message:  fmt.Sprintf("input unit %d for spec %q does not exist, override ignored", unitID, name),
				Snapshot: map[string]any{"spec_name": name, "unit_id": unitID},
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load input unit %d: %w", unitID, err)
		}
		mc.inputUnits[name] = u
	}
	return mc, nil
}

func (mc *matchContext) schema(ctx context.Context, attributeID int64) (*domain.AttributeSchema, error) {
	if s, ok := mc.schemas[attributeID]; ok {
		return s, nil
	}
	s, err := attrvalue.LoadSchema(ctx, mc.store, attributeID, mc.bindings[attributeID])
	if err != nil {
		return nil, err
	}
	mc.schemas[attributeID] = s
	return s, nil
}

func (mc *matchContext) optionIndex(ctx context.Context, attributeID int64) (*attrvalue.OptionIndex, error) {
	if idx, ok := mc.optionIndexes[attributeID]; ok {
		return idx, nil
	}
	options, err := mc.store.ListAttributeOptions(ctx, attributeID)
	if err != nil {
		return nil, err
	}
	idx := attrvalue.NewOptionIndex(attributeID, options)
	mc.optionIndexes[attributeID] = idx
	return idx, nil
}

// resolve maps a normalized spec name to an attribute: name-map override first,
// then the category index. A nil schema means unmatched.
func (mc *matchContext) resolve(ctx context.Context, row int, key, specName string) (*domain.AttributeSchema, error) {
	id, mapped := mc.opts.AttributeNameMap[key]
	if !mapped {
		return mc.index[key], nil
	}
	s, err := mc.schema(ctx, id)
	if errors.Is(err, store.ErrAttributeNotFound) {
		mc.record(ctx, row, domain.IssueSpecNameUnmatched, domain.SeverityWarning,
			fmt.Sprintf("spec %q is mapped to attribute %d which does not exist", specName, id),
			map[string]any{"spec_name": specName, "attribute_id": id})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.Binding == nil {
		if _, logged := mc.outsideLogged[id]; !logged {
			mc.outsideLogged[id] = struct{}{}
			mc.record(ctx, row, domain.IssueAttributeNotInTargetCategory, domain.SeverityInfo,
				fmt.Sprintf("attribute %d (%s) is not bound to category %d", id, s.Attribute.Name, mc.opts.TargetCategoryID),
				map[string]any{"spec_name": specName, "attribute_id": id})
		}
	}
	return s, nil
}

func (mc *matchContext) record(ctx context.Context, row int, code domain.IssueCode, sev domain.Severity, msg string, snapshot map[string]any) {
	r := row
	mc.rec.Record(ctx, runlog.Issue{RowIndex: &r, Code: code, Severity: sev, Message: msg, Snapshot: snapshot})
}

// group collects every spec of one product that resolved to the same attribute.
type group struct {
	schema     *domain.AttributeSchema
	candidates []attrvalue.Candidate
	clear      bool
	specNames  []string
}

type productState struct {
	product *domain.Product
	row     int
	values  map[int64]*domain.ProductAttributeValue
	options map[int64][]int64
	groups  map[int64]*group
	order   []int64
	wrote   int
}

func (ps *productState) hasStored(s *domain.AttributeSchema) bool {
	if s.Kind.IsOption() {
		return len(ps.options[s.Attribute.ID]) > 0
	}
	return attrvalue.HasValue(s.Kind, ps.values[s.Attribute.ID])
}

func (ps *productState) group(s *domain.AttributeSchema) *group {
	g, ok := ps.groups[s.Attribute.ID]
	if !ok {
		g = &group{schema: s}
		ps.groups[s.Attribute.ID] = g
		ps.order = append(ps.order, s.Attribute.ID)
	}
	return g
}

func (mc *matchContext) processProduct(ctx context.Context, row int, productID int64) error {
	product, err := mc.store.GetProductByID(ctx, productID)
	if errors.Is(err, store.ErrProductNotFound) {
		mc.record(ctx, row, domain.IssueProductNotFound, domain.SeverityWarning,
			fmt.Sprintf("product %d not found", productID), map[string]any{"product_id": productID})
		return nil
	}
	if err != nil {
		return err
	}
	mc.res.Processed++

	if !mc.opts.DryRun {
		if err := mc.ensurePrimaryCategory(ctx, row, product.ID); err != nil {
			return err
		}
	}

	ps, err := mc.loadProductState(ctx, row, product)
	if err != nil {
		return err
	}

	skippedExisting := make(map[int64]struct{})
	seenNames := make(map[string]struct{}, len(product.Specs))
	for _, spec := range product.Specs {
		key := textnorm.Normalize(spec.Name)
		if key == "" {
			mc.res.Skipped++
			continue
		}
		s, err := mc.resolve(ctx, row, key, spec.Name)
		if err != nil {
			return err
		}
		if s == nil {
			mc.res.Skipped++
			if _, ignored := mc.ignored[key]; !ignored {
				mc.record(ctx, row, domain.IssueSpecNameUnmatched, domain.SeverityWarning,
					fmt.Sprintf("no attribute matches spec %q", spec.Name),
					specSnapshot(product.ID, spec))
			}
			continue
		}
		if _, dup := seenNames[key]; dup {
			mc.res.Skipped++
			continue
		}
		seenNames[key] = struct{}{}

		cell := valueparse.ParseCell(spec.Value)
		if cell.Intent == domain.IntentUnchanged {
			mc.res.Skipped++
			continue
		}
		if ps.hasStored(s) && !mc.opts.allowOverwrite() {
			mc.res.Skipped++
			if _, logged := skippedExisting[s.Attribute.ID]; !logged {
				skippedExisting[s.Attribute.ID] = struct{}{}
				mc.record(ctx, row, domain.IssueSkippedExistingValue, domain.SeverityInfo,
					fmt.Sprintf("attribute %q already has a value", s.Attribute.Name),
					specSnapshot(product.ID, spec))
			}
			continue
		}

		g := ps.group(s)
		g.specNames = append(g.specNames, spec.Name)
		if cell.Intent == domain.IntentClear {
			g.clear = true
			continue
		}
		c, ok, err := mc.parse(ctx, row, product.ID, s, spec, key, cell.Raw)
		if err != nil {
			return err
		}
		if !ok {
			mc.res.Skipped++
			continue
		}
		g.candidates = append(g.candidates, c)
	}

	for _, attrID := range ps.order {
		if err := mc.apply(ctx, ps, ps.groups[attrID]); err != nil {
			return err
		}
	}

	if ps.wrote > 0 && mc.opts.DetachStagingAfterSuccess {
		return mc.detachStaging(ctx, product.ID)
	}
	return nil
}

func (mc *matchContext) loadProductState(ctx context.Context, row int, product *domain.Product) (*productState, error) {
	ps := &productState{
		product: product,
		row:     row,
		values:  make(map[int64]*domain.ProductAttributeValue),
		options: make(map[int64][]int64),
		groups:  make(map[int64]*group),
	}
	values, err := mc.store.ListProductValues(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	for i := range values {
		ps.values[values[i].AttributeID] = &values[i]
	}
	options, err := mc.store.ListProductOptions(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	for _, o := range options {
		ps.options[o.AttributeID] = append(ps.options[o.AttributeID], o.AttributeOptionID)
	}
	return ps, nil
}

// parse dispatches on the attribute kind. ok is false when the spec was rejected and
// an issue has been recorded; err is reserved for storage failures.
func (mc *matchContext) parse(ctx context.Context, row int, productID int64, s *domain.AttributeSchema, spec domain.Spec, key, raw string) (attrvalue.Candidate, bool, error) {
	var (
		c   attrvalue.Candidate
		err error
	)
	switch s.Kind {
	case domain.KindSelect, domain.KindMultiselect:
		return mc.parseOptions(ctx, row, productID, s, spec, raw)
	case domain.KindNumber, domain.KindRange:
		c, err = attrvalue.ParseNumeric(s, raw, attrvalue.UnitHint{
			Override:  mc.inputUnits[key],
			NameToken: valueparse.NameUnitToken(spec.Name),
		})
	case domain.KindBoolean:
		c, err = attrvalue.ParseBoolean(raw)
	case domain.KindText:
		c, err = attrvalue.ParseText(raw)
	default:
		err = &attrvalue.ParseError{Code: domain.IssueSpecValueParseFailed, Reason: "unsupported attribute kind " + s.Kind.String(), Raw: raw}
	}

	var perr *attrvalue.ParseError
	if errors.As(err, &perr) {
		snapshot := specSnapshot(productID, spec)
		snapshot["attribute_id"] = s.Attribute.ID
		snapshot["reason"] = perr.Reason
		mc.record(ctx, row, perr.Code, domain.SeverityWarning,
			fmt.Sprintf("cannot parse %q for attribute %q: %s", raw, s.Attribute.Name, perr.Reason), snapshot)
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	c.Source = spec.Name
	return c, true, nil
}

func (mc *matchContext) parseOptions(ctx context.Context, row int, productID int64, s *domain.AttributeSchema, spec domain.Spec, raw string) (attrvalue.Candidate, bool, error) {
	idx, err := mc.optionIndex(ctx, s.Attribute.ID)
	if err != nil {
		return attrvalue.Candidate{}, false, err
	}
	labels := valueparse.ExtractOptionCandidates(raw)
	res, err := idx.Resolve(ctx, labels, mc.opts.AutoCreateOptions, mc.opts.DryRun, mc.store)
	if err != nil {
		return attrvalue.Candidate{}, false, err
	}
	for _, label := range res.Created {
		msg := fmt.Sprintf("option %q created for attribute %q", label, s.Attribute.Name)
		if mc.opts.DryRun {
			msg = fmt.Sprintf("option %q would be created for attribute %q", label, s.Attribute.Name)
		}
		mc.record(ctx, row, domain.IssueOptionAutoCreated, domain.SeverityInfo, msg,
			map[string]any{"product_id": productID, "attribute_id": s.Attribute.ID, "option": label})
	}
	if len(res.Missing) > 0 {
		snapshot := specSnapshot(productID, spec)
		snapshot["attribute_id"] = s.Attribute.ID
		snapshot["missing"] = res.Missing
		mc.record(ctx, row, domain.IssueOptionNotFound, domain.SeverityWarning,
			fmt.Sprintf("options not found for attribute %q: %s", s.Attribute.Name, strings.Join(res.Missing, ", ")),
			snapshot)
	}
	if len(res.Options) == 0 {
		return attrvalue.Candidate{}, false, nil
	}
	c := attrvalue.Options(s.Kind, res.Options)
	c.Source = spec.Name
	return c, true, nil
}

// apply merges a group and writes it when the result differs from storage.
func (mc *matchContext) apply(ctx context.Context, ps *productState, g *group) error {
	s := g.schema
	attrID := s.Attribute.ID
	if len(g.candidates) == 0 {
		if !g.clear {
			return nil
		}
		if !ps.hasStored(s) {
			mc.res.Skipped++
			return nil
		}
		return mc.clear(ctx, ps, s)
	}

	merged := attrvalue.Merge(g.candidates, mc.strategy)
	for _, d := range merged.Dropped {
		code := domain.IssueValueConflictKeptFirst
		if s.Kind == domain.KindSelect {
			code = domain.IssueSelectConflictKeptFirst
		}
		mc.record(ctx, ps.row, code, domain.SeverityInfo,
			fmt.Sprintf("spec %q conflicts with %q for attribute %q, first value kept", d.Source, merged.Value.Source, s.Attribute.Name),
			map[string]any{"product_id": ps.product.ID, "attribute_id": attrID, "kept": merged.Value.Source, "dropped": d.Source})
	}
	c := merged.Value

	if s.Kind.IsOption() {
		if attrvalue.SameOptions(ps.options[attrID], c) {
			mc.res.Skipped++
			return nil
		}
		if !mc.opts.DryRun {
			ids := attrvalue.OptionIDs(c)
			if err := mc.store.SetProductOptions(ctx, ps.product.ID, attrID, ids); err != nil {
				return err
			}
			ps.options[attrID] = ids
		}
		mc.res.MatchedPAO++
		ps.wrote++
		return nil
	}

	if attrvalue.SameValue(ps.values[attrID], c) {
		mc.res.Skipped++
		return nil
	}
	if !mc.opts.DryRun {
		pav := attrvalue.ToValue(ps.product.ID, attrID, c)
		if err := mc.store.UpsertProductValue(ctx, &pav); err != nil {
			return err
		}
		ps.values[attrID] = &pav
	}
	mc.res.MatchedPAV++
	ps.wrote++
	return nil
}

func (mc *matchContext) clear(ctx context.Context, ps *productState, s *domain.AttributeSchema) error {
	attrID := s.Attribute.ID
	if s.Kind.IsOption() {
		if !mc.opts.DryRun {
			if err := mc.store.SetProductOptions(ctx, ps.product.ID, attrID, nil); err != nil {
				return err
			}
			delete(ps.options, attrID)
		}
		mc.res.MatchedPAO++
		ps.wrote++
		return nil
	}
	if !mc.opts.DryRun {
		if err := mc.store.DeleteProductValue(ctx, ps.product.ID, attrID); err != nil {
			return err
		}
		delete(ps.values, attrID)
	}
	mc.res.MatchedPAV++
	ps.wrote++
	return nil
}

// ensurePrimaryCategory promotes the target category when the product has no primary one.
func (mc *matchContext) ensurePrimaryCategory(ctx context.Context, row int, productID int64) error {
	members, err := mc.store.ListProductCategories(ctx, productID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.IsPrimary {
			return nil
		}
	}
	mc.record(ctx, row, domain.IssueProductHasNoPrimaryCategory, domain.SeverityInfo,
		fmt.Sprintf("product %d had no primary category, category %d assigned", productID, mc.opts.TargetCategoryID),
		map[string]any{"product_id": productID, "category_id": mc.opts.TargetCategoryID})
	return mc.store.SetPrimaryCategory(ctx, productID, mc.opts.TargetCategoryID)
}

// detachStaging moves the product from the staging category into the target one,
// re-promoting the target when staging was primary.
func (mc *matchContext) detachStaging(ctx context.Context, productID int64) error {
	staging, target := mc.opts.StagingCategoryID, mc.opts.TargetCategoryID
	if staging <= 0 || staging == target {
		return nil
	}
	members, err := mc.store.ListProductCategories(ctx, productID)
	if err != nil {
		return err
	}
	inStaging, stagingPrimary := false, false
	for _, m := range members {
		if m.CategoryID == staging {
			inStaging, stagingPrimary = true, m.IsPrimary
		}
	}
	if !inStaging {
		return nil
	}
	if err := mc.store.AddProductCategory(ctx, productID, target, stagingPrimary); err != nil {
		return err
	}
	if err := mc.store.RemoveProductCategory(ctx, productID, staging); err != nil {
		return err
	}
	if stagingPrimary {
		if err := mc.store.SetPrimaryCategory(ctx, productID, target); err != nil {
			return err
		}
	}
	mc.logger.Debug("product detached from staging",
		zap.Int64("product_id", productID), zap.Int64("staging_category_id", staging), zap.Int64("target_category_id", target))
	return nil
}

func specSnapshot(productID int64, spec domain.Spec) map[string]any {
	return map[string]any{
		"product_id": productID,
		"spec_name":  spec.Name,
		"spec_value": spec.Value,
		"source":     string(spec.Source),
	}
}
