package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/store/memstore"
)

func findAttribute(t *testing.T, s *memstore.Store, name string) *domain.Attribute {
	t.Helper()
	attributes, err := s.ListAttributes(context.Background())
	require.NoError(t, err)
	for i := range attributes {
		if attributes[i].Name == name {
			return &attributes[i]
		}
	}
	return nil
}

func decisionRows() []DecisionRow {
	return []DecisionRow{
		{SpecName: "Артикул", Decision: DecisionIgnore},
		{SpecName: "Вес", Decision: DecisionLinkExisting, AttributeID: PtrTo(attrMass)},
		{SpecName: "Мощность, кВт", Decision: DecisionCreateAttribute, AttributeName: "Мощность", DataType: domain.DataTypeNumber, UnitID: PtrTo(unitKW)},
		{SpecName: "Мощность двигателя", Decision: DecisionCreateAttribute, AttributeName: "мощность", DataType: domain.DataTypeNumber, UnitID: PtrTo(unitKW)},
		{SpecName: "Объем ресивера", Decision: DecisionCreateAttribute, DataType: domain.DataTypeNumber},
		{SpecName: "Страна", Decision: DecisionCreateAttribute, DataType: domain.DataTypeText, InputType: domain.InputTypeText},
	}
}

func TestResolveAttributeDecisions_Apply(t *testing.T) {
	ctx := context.Background()
	s := newCatalog(t)
	engine := NewEngine(s, nil, EngineConfig{})

	res, err := engine.ResolveAttributeDecisions(ctx, catCompressor, decisionRows(), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"артикул"}, res.IgnoredSpecNames)
	assert.Equal(t, attrMass, res.NameMap["вес"])

	power := findAttribute(t, s, "Мощность")
	require.NotNil(t, power)
	assert.Equal(t, unitKW, *power.UnitID)
	assert.Equal(t, power.ID, res.NameMap["мощность, квт"])
	assert.Equal(t, power.ID, res.NameMap["мощность двигателя"])

	country := findAttribute(t, s, "Страна")
	require.NotNil(t, country)
	assert.Equal(t, domain.InputTypeMultiselect, country.InputType)

	assert.Nil(t, findAttribute(t, s, "Объем ресивера"))
	assert.Contains(t, issueCodes(res.Issues), domain.IssueMissingUnitForNumericAttribute)
	assert.Contains(t, issueCodes(res.Issues), domain.IssueAttributeCreatedFromSpec)

	bindings, err := s.ListCategoryAttributes(ctx, catCompressor)
	require.NoError(t, err)
	bound := make(map[int64]int)
	for _, b := range bindings {
		bound[b.AttributeID] = b.FilterOrder
	}
	assert.Contains(t, bound, attrMass)
	assert.Contains(t, bound, power.ID)
	assert.Contains(t, bound, country.ID)
	assert.Len(t, bindings, 8)

	// Re-applying reuses everything.
	again, err := engine.ResolveAttributeDecisions(ctx, catCompressor, decisionRows(), true)
	require.NoError(t, err)
	assert.Equal(t, power.ID, again.NameMap["мощность двигателя"])
	bindings, err = s.ListCategoryAttributes(ctx, catCompressor)
	require.NoError(t, err)
	assert.Len(t, bindings, 8)
}

func TestResolveAttributeDecisions_DryRun(t *testing.T) {
	ctx := context.Background()
	s := newCatalog(t)
	before, err := s.ListAttributes(ctx)
	require.NoError(t, err)

	res, err := NewEngine(s, nil, EngineConfig{}).ResolveAttributeDecisions(ctx, catCompressor, decisionRows(), false)
	require.NoError(t, err)

	after, err := s.ListAttributes(ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	bindings, err := s.ListCategoryAttributes(ctx, catCompressor)
	require.NoError(t, err)
	assert.Len(t, bindings, 5)

	assert.Equal(t, map[string]int64{"вес": attrMass}, res.NameMap)
	for _, is := range res.Issues {
		if is.Code == domain.IssueAttributeCreatedFromSpec {
			assert.Equal(t, domain.SeverityInfo, is.Severity)
			assert.Equal(t, true, is.Snapshot["dry_run"])
		}
	}
}

func TestResolveAttributeDecisions_GroupConflict(t *testing.T) {
	ctx := context.Background()
	s := newCatalog(t)
	rows := []DecisionRow{
		{SpecName: "Мощность 1", Decision: DecisionCreateAttribute, AttributeName: "Мощность", DataType: domain.DataTypeNumber, UnitID: PtrTo(unitKW)},
		{SpecName: "Мощность 2", Decision: DecisionCreateAttribute, AttributeName: "Мощность", DataType: domain.DataTypeNumber, UnitID: PtrTo(unitPa)},
	}
	res, err := NewEngine(s, nil, EngineConfig{}).ResolveAttributeDecisions(ctx, catCompressor, rows, true)
	require.NoError(t, err)

	assert.Equal(t, []domain.IssueCode{domain.IssueGroupConfigurationConflict, domain.IssueGroupConfigurationConflict}, issueCodes(res.Issues))
	assert.Empty(t, res.NameMap)
	assert.Nil(t, findAttribute(t, s, "Мощность"))
}

func TestResolveAttributeDecisions_RowRejections(t *testing.T) {
	tests := []struct {
		name   string
		row    DecisionRow
		reason string
	}{
		{"missing attribute id", DecisionRow{SpecName: "Вес", Decision: DecisionLinkExisting}, "missing_attribute_id"},
		{"unknown attribute", DecisionRow{SpecName: "Вес", Decision: DecisionLinkExisting, AttributeID: PtrTo(int64(9999))}, "attribute_not_found"},
		{"unknown unit", DecisionRow{SpecName: "Ток", Decision: DecisionCreateAttribute, DataType: domain.DataTypeNumber, UnitID: PtrTo(int64(9999))}, "unit_not_found"},
		{"dimension mismatch", DecisionRow{SpecName: "Мощность", Decision: DecisionCreateAttribute, DataType: domain.DataTypeNumber, UnitID: PtrTo(unitKW), AdditionalUnitIDs: []int64{unitPa}}, "unit_dimension_mismatch"},
		{"incompatible input type", DecisionRow{SpecName: "Мощность", Decision: DecisionCreateAttribute, DataType: domain.DataTypeNumber, InputType: domain.InputTypeSelect, UnitID: PtrTo(unitKW)}, "incompatible_input_type"},
		{"invalid decision", DecisionRow{SpecName: "Мощность", Decision: "merge"}, "invalid_row"},
		{"existing name with other type", DecisionRow{SpecName: "Цвет", Decision: DecisionCreateAttribute, DataType: domain.DataTypeBoolean}, "name_taken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewEngine(newCatalog(t), nil, EngineConfig{}).ResolveAttributeDecisions(context.Background(), catCompressor, []DecisionRow{tt.row}, true)
			require.NoError(t, err)
			require.Len(t, res.Issues, 1)
			assert.Equal(t, domain.IssueAttributeCreationSkipped, res.Issues[0].Code)
			assert.Equal(t, tt.reason, res.Issues[0].Snapshot["reason"])
		})
	}
}

func TestResolveAttributeDecisions_ReusesExistingAttribute(t *testing.T) {
	ctx := context.Background()
	s := newCatalog(t)
	rows := []DecisionRow{{SpecName: "Материал корпуса", Decision: DecisionCreateAttribute, AttributeName: "материал", DataType: domain.DataTypeText}}

	res, err := NewEngine(s, nil, EngineConfig{}).ResolveAttributeDecisions(ctx, catCompressor, rows, true)
	require.NoError(t, err)
	assert.Equal(t, attrMaterial, res.NameMap["материал корпуса"])
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "already_exists", res.Issues[0].Snapshot["reason"])
	assert.Equal(t, domain.SeverityInfo, res.Issues[0].Severity)
}

func TestResolveAttributeDecisions_FeedsRun(t *testing.T) {
	ctx := context.Background()
	s := newCatalog(t)
	s.AddProduct(domain.Product{ID: 700, Specs: []domain.Spec{spec("Мощность, кВт", "2,2"), spec("Артикул", "A-7")}}, catCompressor)
	engine := NewEngine(s, nil, EngineConfig{})

	decisions, err := engine.ResolveAttributeDecisions(ctx, catCompressor, decisionRows(), true)
	require.NoError(t, err)

	opts := applyOptions()
	opts.AttributeNameMap = decisions.NameMap
	opts.IgnoredSpecNames = decisions.IgnoredSpecNames
	res := engine.Run(ctx, newRun(t, s), []int64{700}, opts)
	require.Empty(t, res.FatalCode)
	assert.Equal(t, 1, res.MatchedPAV)
	assert.Empty(t, res.Issues)

	values, err := s.ListProductValues(ctx, 700)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.InDelta(t, 2200.0, *values[0].ValueSI, 1e-9)
	assert.InDelta(t, 2.2, *values[0].ValueNumber, 1e-9)
}
