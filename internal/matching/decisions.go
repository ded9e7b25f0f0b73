package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"catalog-specs-service/internal/attrvalue"
	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/runlog"
	"catalog-specs-service/internal/store"
	"catalog-specs-service/internal/textnorm"
)

// Decision is an administrator's choice for an unmatched spec name.
type Decision string

const (
	DecisionIgnore          Decision = "ignore"
	DecisionLinkExisting    Decision = "link_existing"
	DecisionCreateAttribute Decision = "create_attribute"
)

// DecisionRow is one decision. AttributeName groups create_attribute rows into one
// new attribute; it defaults to the spec name.
type DecisionRow struct {
	SpecName          string           `json:"spec_name" validate:"required"`
	Decision          Decision         `json:"decision" validate:"required,oneof=ignore link_existing create_attribute"`
	AttributeID       *int64           `json:"attribute_id,omitempty" validate:"omitempty,gt=0"`
	AttributeName     string           `json:"attribute_name,omitempty" validate:"max=255"`
	DataType          domain.DataType  `json:"data_type,omitempty" validate:"omitempty,oneof=text number boolean range"`
	InputType         domain.InputType `json:"input_type,omitempty" validate:"omitempty,oneof=text select multiselect number boolean range"`
	UnitID            *int64           `json:"unit_id,omitempty" validate:"omitempty,gt=0"`
	AdditionalUnitIDs []int64          `json:"additional_unit_ids,omitempty" validate:"dive,gt=0"`
	DisplayUnitID     *int64           `json:"display_unit_id,omitempty" validate:"omitempty,gt=0"`
	NumberDecimals    *int             `json:"number_decimals,omitempty" validate:"omitempty,gte=0,lte=6"`
}

// DecisionResult feeds a following Run: NameMap becomes attribute_name_map and
// IgnoredSpecNames becomes ignored_spec_names.
type DecisionResult struct {
	NameMap          map[string]int64 `json:"name_map"`
	IgnoredSpecNames []string         `json:"ignored_spec_names"`
	Issues           []runlog.Issue   `json:"issues"`
}

type attributeConfig struct {
	dataType   domain.DataType
	inputType  domain.InputType
	unitID     int64
	extraUnits []int64
	display    int64
	decimals   int
}

func (c attributeConfig) equal(o attributeConfig) bool {
	if c.dataType != o.dataType || c.inputType != o.inputType || c.unitID != o.unitID ||
		c.display != o.display || c.decimals != o.decimals || len(c.extraUnits) != len(o.extraUnits) {
		return false
	}
	for i := range c.extraUnits {
		if c.extraUnits[i] != o.extraUnits[i] {
			return false
		}
	}
	return true
}

type creationRow struct {
	index int
	row   DecisionRow
	key   string
	cfg   attributeConfig
	units []domain.Unit
}

type creationGroup struct {
	name string
	rows []creationRow
}

type decisionState struct {
	e          *Engine
	apply      bool
	categoryID int64
	result     DecisionResult
	ignored    map[string]struct{}
	nextOrder  int
	bound      map[int64]struct{}
	groups     map[string]*creationGroup
	groupOrder []string
}

func (ds *decisionState) issue(row int, code domain.IssueCode, sev domain.Severity, msg string, snapshot map[string]any) {
	r := row
	ds.result.Issues = append(ds.result.Issues, runlog.Issue{RowIndex: &r, Code: code, Severity: sev, Message: msg, Snapshot: snapshot})
}

func (ds *decisionState) skipped(row int, specName, reason, msg string) {
	ds.issue(row, domain.IssueAttributeCreationSkipped, domain.SeverityWarning, msg,
		map[string]any{"spec_name": specName, "reason": reason})
}

// ResolveAttributeDecisions applies decision rows for the target category. With apply
// false nothing persists and only informational issues describe what would happen.
// Every create_attribute group is validated as a whole before anything is created.
func (e *Engine) ResolveAttributeDecisions(ctx context.Context, targetCategoryID int64, rows []DecisionRow, apply bool) (DecisionResult, error) {
	ds := &decisionState{
		e:          e,
		apply:      apply,
		categoryID: targetCategoryID,
		result:     DecisionResult{NameMap: make(map[string]int64), IgnoredSpecNames: []string{}, Issues: []runlog.Issue{}},
		ignored:    make(map[string]struct{}),
		bound:      make(map[int64]struct{}),
		groups:     make(map[string]*creationGroup),
	}
	if err := e.checkTargetCategory(ctx, targetCategoryID); err != nil {
		return ds.result, err
	}
	bindings, err := e.store.ListCategoryAttributes(ctx, targetCategoryID)
	if err != nil {
		return ds.result, err
	}
	for _, b := range bindings {
		ds.bound[b.AttributeID] = struct{}{}
		if b.FilterOrder >= ds.nextOrder {
			ds.nextOrder = b.FilterOrder + 1
		}
	}

	for i, row := range rows {
		if err := ds.partition(ctx, i, row); err != nil {
			return ds.result, err
		}
	}
	for _, name := range ds.groupOrder {
		if err := ds.createGroup(ctx, ds.groups[name]); err != nil {
			return ds.result, err
		}
	}
	return ds.result, nil
}

// partition handles ignore and link_existing rows and queues validated create rows by target name.
func (ds *decisionState) partition(ctx context.Context, i int, row DecisionRow) error {
	if err := ds.e.validate.Struct(row); err != nil {
		ds.skipped(i, row.SpecName, "invalid_row", fmt.Sprintf("decision row is invalid: %v", err))
		return nil
	}
	key := textnorm.Normalize(row.SpecName)
	if key == "" {
		ds.skipped(i, row.SpecName, "blank_spec_name", "spec name is blank")
		return nil
	}

	switch row.Decision {
	case DecisionIgnore:
		if _, dup := ds.ignored[key]; !dup {
			ds.ignored[key] = struct{}{}
			ds.result.IgnoredSpecNames = append(ds.result.IgnoredSpecNames, key)
		}
		return nil

	case DecisionLinkExisting:
		if row.AttributeID == nil {
			ds.skipped(i, row.SpecName, "missing_attribute_id", "link_existing requires attribute_id")
			return nil
		}
		attr, err := ds.e.store.GetAttributeByID(ctx, *row.AttributeID)
		if errors.Is(err, store.ErrAttributeNotFound) {
			ds.skipped(i, row.SpecName, "attribute_not_found", fmt.Sprintf("attribute %d does not exist", *row.AttributeID))
			return nil
		}
		if err != nil {
			return err
		}
		ds.result.NameMap[key] = attr.ID
		return ds.bind(ctx, domain.CategoryAttribute{
			CategoryID:       ds.categoryID,
			AttributeID:      attr.ID,
			VisibleInSpecs:   true,
			VisibleInFilters: true,
		})

	case DecisionCreateAttribute:
		return ds.queueCreation(ctx, i, row, key)
	}
	return nil
}

func (ds *decisionState) queueCreation(ctx context.Context, i int, row DecisionRow, key string) error {
	if row.DataType == "" {
		ds.skipped(i, row.SpecName, "missing_data_type", "create_attribute requires data_type")
		return nil
	}
	it := domain.NormalizeInputType(row.DataType, row.InputType)
	kind, err := domain.KindOf(row.DataType, it)
	if err != nil {
		ds.skipped(i, row.SpecName, "incompatible_input_type", err.Error())
		return nil
	}
	cfg := attributeConfig{dataType: row.DataType, inputType: it, decimals: -1}
	if row.NumberDecimals != nil {
		cfg.decimals = *row.NumberDecimals
	}

	var unitList []domain.Unit
	if kind.IsNumeric() {
		if row.UnitID == nil {
			ds.issue(i, domain.IssueMissingUnitForNumericAttribute, domain.SeverityError,
				fmt.Sprintf("numeric attribute for spec %q needs a base unit", row.SpecName),
				map[string]any{"spec_name": row.SpecName, "data_type": string(row.DataType)})
			return nil
		}
		ok, err := ds.resolveUnits(ctx, i, row, &cfg, &unitList)
		if err != nil || !ok {
			return err
		}
	}

	name := strings.Join(strings.Fields(row.AttributeName), " ")
	if name == "" {
		name = strings.Join(strings.Fields(row.SpecName), " ")
	}
	groupKey := textnorm.Normalize(name)
	g, exists := ds.groups[groupKey]
	if !exists {
		g = &creationGroup{name: name}
		ds.groups[groupKey] = g
		ds.groupOrder = append(ds.groupOrder, groupKey)
	}
	g.rows = append(g.rows, creationRow{index: i, row: row, key: key, cfg: cfg, units: unitList})
	return nil
}

// resolveUnits checks that every referenced unit exists and shares the base unit's dimension.
func (ds *decisionState) resolveUnits(ctx context.Context, i int, row DecisionRow, cfg *attributeConfig, out *[]domain.Unit) (bool, error) {
	ids := []int64{*row.UnitID}
	ids = append(ids, row.AdditionalUnitIDs...)
	if row.DisplayUnitID != nil {
		ids = append(ids, *row.DisplayUnitID)
	}
	seen := make(map[int64]struct{}, len(ids))
	var base *domain.Unit
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		u, err := ds.e.store.GetUnitByID(ctx, id)
		if errors.Is(err, store.ErrUnitNotFound) {
			ds.skipped(i, row.SpecName, "unit_not_found", fmt.Sprintf("unit %d does not exist", id))
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if base == nil {
			base = u
		} else if u.Dimension != base.Dimension {
			ds.skipped(i, row.SpecName, "unit_dimension_mismatch",
				fmt.Sprintf("unit %d (%s) is not convertible to base unit %d (%s)", u.ID, u.Dimension, base.ID, base.Dimension))
			return false, nil
		}
		*out = append(*out, *u)
		if u.ID != base.ID {
			cfg.extraUnits = append(cfg.extraUnits, u.ID)
		}
	}
	sort.Slice(cfg.extraUnits, func(a, b int) bool { return cfg.extraUnits[a] < cfg.extraUnits[b] })
	cfg.unitID = base.ID
	if row.DisplayUnitID != nil {
		cfg.display = *row.DisplayUnitID
	}
	return true, nil
}

func (ds *decisionState) createGroup(ctx context.Context, g *creationGroup) error {
	first := g.rows[0]
	for _, r := range g.rows[1:] {
		if !r.cfg.equal(first.cfg) {
			for _, rr := range g.rows {
				ds.issue(rr.index, domain.IssueGroupConfigurationConflict, domain.SeverityWarning,
					fmt.Sprintf("rows targeting attribute %q disagree on its configuration, nothing created", g.name),
					map[string]any{"spec_name": rr.row.SpecName, "attribute_name": g.name})
			}
			return nil
		}
	}

	specNames := make([]string, 0, len(g.rows))
	for _, r := range g.rows {
		specNames = append(specNames, r.row.SpecName)
	}

	existing, err := ds.findAttribute(ctx, g.name)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.DataType != first.cfg.dataType || domain.NormalizeInputType(existing.DataType, existing.InputType) != first.cfg.inputType {
			for _, r := range g.rows {
				ds.skipped(r.index, r.row.SpecName, "name_taken",
					fmt.Sprintf("attribute %q already exists as %s/%s", existing.Name, existing.DataType, existing.InputType))
			}
			return nil
		}
		for _, r := range g.rows {
			ds.result.NameMap[r.key] = existing.ID
			ds.issue(r.index, domain.IssueAttributeCreationSkipped, domain.SeverityInfo,
				fmt.Sprintf("attribute %q already exists, reused", existing.Name),
				map[string]any{"spec_name": r.row.SpecName, "reason": "already_exists", "attribute_id": existing.ID})
		}
		return ds.bind(ctx, ds.binding(existing.ID, first))
	}

	if !ds.apply {
		ds.issue(first.index, domain.IssueAttributeCreatedFromSpec, domain.SeverityInfo,
			fmt.Sprintf("attribute %q would be created", g.name),
			map[string]any{"attribute_name": g.name, "spec_names": specNames, "dry_run": true})
		return nil
	}

	var created *domain.Attribute
	err = ds.e.store.InTx(ctx, func(tx store.Store) error {
		attr := &domain.Attribute{
			Name:      g.name,
			DataType:  first.cfg.dataType,
			InputType: first.cfg.inputType,
		}
		if first.cfg.unitID > 0 {
			id := first.cfg.unitID
			attr.UnitID = &id
		}
		var err error
		if created, err = tx.CreateAttribute(ctx, attr); err != nil {
			return err
		}
		if len(first.cfg.extraUnits) > 0 {
			if err := tx.AttachUnitsToAttribute(ctx, created.ID, first.cfg.extraUnits); err != nil {
				return err
			}
		}
		b := ds.binding(created.ID, first)
		b.FilterOrder = ds.nextOrder
		return tx.AttachAttributeToCategory(ctx, b)
	})
	if errors.Is(err, store.ErrAttributeExists) {
		for _, r := range g.rows {
			ds.skipped(r.index, r.row.SpecName, "already_exists", fmt.Sprintf("attribute %q was created concurrently", g.name))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("create attribute %q: %w", g.name, err)
	}

	ds.bound[created.ID] = struct{}{}
	ds.nextOrder++
	for _, r := range g.rows {
		ds.result.NameMap[r.key] = created.ID
	}
	ds.issue(first.index, domain.IssueAttributeCreatedFromSpec, domain.SeverityInfo,
		fmt.Sprintf("attribute %q created", g.name),
		map[string]any{"attribute_id": created.ID, "attribute_name": g.name, "spec_names": specNames})
	ds.e.logger.Info("attribute created from spec",
		zap.Int64("attribute_id", created.ID), zap.String("name", g.name), zap.Int64("category_id", ds.categoryID))
	return nil
}

func (ds *decisionState) findAttribute(ctx context.Context, name string) (*domain.Attribute, error) {
	attributes, err := ds.e.store.ListAttributes(ctx)
	if err != nil {
		return nil, err
	}
	global := attrvalue.BuildGlobalIndex(attributes)
	if a, ok := global[textnorm.Normalize(name)]; ok {
		return &a, nil
	}
	return nil, nil
}

func (ds *decisionState) binding(attributeID int64, r creationRow) domain.CategoryAttribute {
	b := domain.CategoryAttribute{
		CategoryID:       ds.categoryID,
		AttributeID:      attributeID,
		VisibleInSpecs:   true,
		VisibleInFilters: true,
	}
	if r.row.DisplayUnitID != nil {
		id := *r.row.DisplayUnitID
		b.DisplayUnitID = &id
	}
	if r.row.NumberDecimals != nil {
		d := *r.row.NumberDecimals
		b.NumberDecimals = &d
	}
	return b
}

// bind attaches an attribute to the target category once. Dry runs never bind.
func (ds *decisionState) bind(ctx context.Context, b domain.CategoryAttribute) error {
	if !ds.apply {
		return nil
	}
	if _, ok := ds.bound[b.AttributeID]; ok {
		return nil
	}
	b.FilterOrder = ds.nextOrder
	if err := ds.e.store.AttachAttributeToCategory(ctx, b); err != nil {
		return err
	}
	ds.bound[b.AttributeID] = struct{}{}
	ds.nextOrder++
	return nil
}
