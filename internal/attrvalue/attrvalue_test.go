package attrvalue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-specs-service/internal/domain"
)

func PtrTo[T any](v T) *T { return &v }

var (
	pascal = domain.Unit{ID: 1, Name: "паскаль", Symbol: "Па", BaseSymbol: PtrTo("Pa"), Dimension: "pressure", SIFactor: 1}
	bar    = domain.Unit{ID: 2, Name: "бар", Symbol: "бар", BaseSymbol: PtrTo("bar"), Dimension: "pressure", SIFactor: 100000}
	kpa    = domain.Unit{ID: 3, Name: "килопаскаль", Symbol: "кПа", Dimension: "pressure", SIFactor: 1000}
	meter  = domain.Unit{ID: 4, Name: "метр", Symbol: "м", Dimension: "length", SIFactor: 1}
	minute = domain.Unit{ID: 5, Name: "минута", Symbol: "м", Dimension: "time", SIFactor: 60}
	mm     = domain.Unit{ID: 6, Name: "миллиметр", Symbol: "мм", Dimension: "length", SIFactor: 0.001}
)

func pressureSchema() *domain.AttributeSchema {
	return &domain.AttributeSchema{
		Attribute: domain.Attribute{ID: 10, Name: "Давление", DataType: domain.DataTypeNumber, InputType: domain.InputTypeNumber, UnitID: PtrTo(pascal.ID)},
		Kind:      domain.KindNumber,
		BaseUnit:  &pascal,
		Units:     []domain.Unit{pascal, bar, kpa},
		Binding:   &domain.CategoryAttribute{CategoryID: 1, AttributeID: 10, DisplayUnitID: PtrTo(bar.ID), NumberDecimals: PtrTo(1), NumberRounding: domain.RoundingRound},
	}
}

func TestParseNumeric_DisplayUnitConversion(t *testing.T) {
	c, err := ParseNumeric(pressureSchema(), "6,2", UnitHint{})
	require.NoError(t, err)
	assert.InDelta(t, 620000.0, c.Number, 1e-6)
	assert.InDelta(t, 620000.0, c.NumberSI, 1e-6)
}

func TestParseNumeric_UnitPriority(t *testing.T) {
	schema := pressureSchema()
	tests := []struct {
		name   string
		raw    string
		hint   UnitHint
		wantSI float64
	}{
		{"value token", "620 кПа", UnitHint{}, 620000},
		{"override beats value token", "6 кПа", UnitHint{Override: &bar}, 600000},
		{"value token beats name token", "300 кПа", UnitHint{NameToken: "бар"}, 300000},
		{"name token", "300", UnitHint{NameToken: "кПа"}, 300000},
		{"unknown name token falls back to display unit", "3", UnitHint{NameToken: "штук"}, 300000},
		{"quantized in display unit", "6,24 бар", UnitHint{}, 620000},
		{"space grouped thousands", "1 000 кПа", UnitHint{}, 1000000},
		{"upper bound words", "до 8 бар", UnitHint{}, 800000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseNumeric(schema, tt.raw, tt.hint)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantSI, c.NumberSI, 1e-6)
		})
	}
}

func TestParseNumeric_Failures(t *testing.T) {
	ambiguous := &domain.AttributeSchema{
		Attribute: domain.Attribute{ID: 11, Name: "Длина", DataType: domain.DataTypeNumber, InputType: domain.InputTypeNumber, UnitID: PtrTo(meter.ID)},
		Kind:      domain.KindNumber,
		BaseUnit:  &meter,
		Units:     []domain.Unit{meter, minute},
	}

	tests := []struct {
		name   string
		schema *domain.AttributeSchema
		raw    string
		code   domain.IssueCode
	}{
		{"ambiguous unit", ambiguous, "5 м", domain.IssueUnitAmbiguous},
		{"no number", pressureSchema(), "высокое", domain.IssueSpecValueParseFailed},
		{"unconfigured unit", pressureSchema(), "5 атм", domain.IssueSpecValueParseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNumeric(tt.schema, tt.raw, UnitHint{})
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.code, perr.Code)
		})
	}
}

func TestParseNumeric_Range(t *testing.T) {
	schema := &domain.AttributeSchema{
		Attribute: domain.Attribute{ID: 12, Name: "Толщина", DataType: domain.DataTypeRange, InputType: domain.InputTypeRange, UnitID: PtrTo(meter.ID)},
		Kind:      domain.KindRange,
		BaseUnit:  &meter,
		Units:     []domain.Unit{meter, mm},
	}

	c, err := ParseNumeric(schema, "20-10 мм", UnitHint{})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, c.Min*1000, 1e-9)
	assert.InDelta(t, 0.02, c.Max, 1e-9)
	assert.InDelta(t, 0.01, c.MinSI, 1e-9)

	single, err := ParseNumeric(schema, "5", UnitHint{NameToken: "мм"})
	require.NoError(t, err)
	assert.Equal(t, single.Min, single.Max)
	assert.InDelta(t, 0.005, single.MaxSI, 1e-9)

	worded, err := ParseNumeric(schema, "от 10 до 20", UnitHint{NameToken: "мм"})
	require.NoError(t, err)
	assert.InDelta(t, 0.01, worded.MinSI, 1e-9)
	assert.InDelta(t, 0.02, worded.MaxSI, 1e-9)
}

func TestParseNumeric_NoUnits(t *testing.T) {
	schema := &domain.AttributeSchema{
		Attribute: domain.Attribute{ID: 13, Name: "Количество ступеней", DataType: domain.DataTypeNumber, InputType: domain.InputTypeNumber},
		Kind:      domain.KindNumber,
	}
	c, err := ParseNumeric(schema, "2 шт", UnitHint{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, c.Number)
	assert.Equal(t, 2.0, c.NumberSI)
}

func TestParseBoolean(t *testing.T) {
	c, err := ParseBoolean("Да")
	require.NoError(t, err)
	assert.True(t, c.Bool)

	c, err = ParseBoolean("Нет")
	require.NoError(t, err)
	assert.False(t, c.Bool)

	_, err = ParseBoolean("maybe")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.IssueSpecValueParseFailed, perr.Code)
}

func TestBuildAttributeIndex_FirstWins(t *testing.T) {
	first := &domain.AttributeSchema{Attribute: domain.Attribute{ID: 1, Name: "Цвет"}}
	second := &domain.AttributeSchema{Attribute: domain.Attribute{ID: 2, Name: " цвет "}}

	index := BuildAttributeIndex([]*domain.AttributeSchema{first, second})
	require.Len(t, index, 1)
	assert.Equal(t, int64(1), index["цвет"].Attribute.ID)

	global := BuildGlobalIndex([]domain.Attribute{{ID: 3, Name: "Вес"}, {ID: 4, Name: "ВЕС"}})
	assert.Equal(t, int64(3), global["вес"].ID)
}

type fakeCreator struct {
	calls  []string
	nextID int64
}

func (f *fakeCreator) FirstOrCreateOption(_ context.Context, attributeID int64, value string, sortOrder int) (*domain.AttributeOption, bool, error) {
	f.calls = append(f.calls, value)
	f.nextID++
	return &domain.AttributeOption{ID: 100 + f.nextID, AttributeID: attributeID, Value: value, SortOrder: sortOrder}, true, nil
}

func TestOptionIndex_Resolve(t *testing.T) {
	options := []domain.AttributeOption{
		{ID: 1, AttributeID: 7, Value: "Сталь", SortOrder: 1},
		{ID: 2, AttributeID: 7, Value: "Алюминий", SortOrder: 4},
	}

	t.Run("missing without auto-create", func(t *testing.T) {
		idx := NewOptionIndex(7, options)
		res, err := idx.Resolve(context.Background(), []string{"сталь", "Медь", "Латунь"}, false, false, nil)
		require.NoError(t, err)
		require.Len(t, res.Options, 1)
		assert.Equal(t, int64(1), res.Options[0].ID)
		assert.Equal(t, []string{"Медь", "Латунь"}, res.Missing)
	})

	t.Run("dry run never touches storage", func(t *testing.T) {
		idx := NewOptionIndex(7, options)
		creator := &fakeCreator{}
		res, err := idx.Resolve(context.Background(), []string{"Медь"}, true, true, creator)
		require.NoError(t, err)
		assert.Empty(t, creator.calls)
		require.Len(t, res.Options, 1)
		assert.True(t, res.Options[0].WouldCreate)
		assert.Equal(t, []string{"Медь"}, res.Created)

		again, err := idx.Resolve(context.Background(), []string{"медь"}, true, true, creator)
		require.NoError(t, err)
		assert.Empty(t, again.Created, "pending label is reported once")
		assert.Equal(t, res.Options[0].Key(), again.Options[0].Key())
	})

	t.Run("auto-create uses next sort order", func(t *testing.T) {
		idx := NewOptionIndex(7, options)
		assert.Equal(t, 5, idx.NextSortOrder())
		creator := &fakeCreator{}
		res, err := idx.Resolve(context.Background(), []string{"Медь"}, true, false, creator)
		require.NoError(t, err)
		assert.Equal(t, []string{"Медь"}, creator.calls)
		assert.Equal(t, 6, idx.NextSortOrder())
		o, ok := idx.Lookup("МЕДЬ")
		require.True(t, ok)
		assert.Equal(t, res.Options[0].ID, o.ID)
	})
}

func TestMerge(t *testing.T) {
	t.Run("multiselect union", func(t *testing.T) {
		m := Merge([]Candidate{
			{Kind: domain.KindMultiselect, Options: []domain.ResolvedOption{{ID: 1, Label: "Сталь"}}},
			{Kind: domain.KindMultiselect, Options: []domain.ResolvedOption{{ID: 2, Label: "Нержавейка"}, {ID: 1, Label: "Сталь"}}},
		}, StrategyFirst)
		assert.Equal(t, []int64{1, 2}, OptionIDs(m.Value))
		assert.Empty(t, m.Dropped)
	})

	t.Run("select keeps first", func(t *testing.T) {
		m := Merge([]Candidate{
			{Kind: domain.KindSelect, Options: []domain.ResolvedOption{{ID: 1, Label: "Красный"}}, Source: "Цвет 1"},
			{Kind: domain.KindSelect, Options: []domain.ResolvedOption{{ID: 2, Label: "Синий"}}, Source: "Цвет 2"},
		}, StrategyFirst)
		assert.Equal(t, []int64{1}, OptionIDs(m.Value))
		require.Len(t, m.Dropped, 1)
		assert.Equal(t, "Цвет 2", m.Dropped[0].Source)
	})

	t.Run("range envelope", func(t *testing.T) {
		m := Merge([]Candidate{
			{Kind: domain.KindRange, Min: 5, MinSI: 5, Max: 10, MaxSI: 10},
			{Kind: domain.KindRange, Min: 2, MinSI: 2, Max: 8, MaxSI: 8},
		}, StrategyFirst)
		assert.Equal(t, 2.0, m.Value.Min)
		assert.Equal(t, 10.0, m.Value.Max)
	})

	numbers := []Candidate{
		{Kind: domain.KindNumber, Number: 3, NumberSI: 3},
		{Kind: domain.KindNumber, Number: 9, NumberSI: 9},
		{Kind: domain.KindNumber, Number: 1, NumberSI: 1},
	}
	assert.Equal(t, 3.0, Merge(numbers, StrategyFirst).Value.Number)
	assert.Equal(t, 9.0, Merge(numbers, StrategyMax).Value.Number)
	assert.Equal(t, 1.0, Merge(numbers, StrategyMin).Value.Number)

	bools := Merge([]Candidate{{Kind: domain.KindBoolean, Bool: true}, {Kind: domain.KindBoolean, Bool: false}}, StrategyFirst)
	assert.True(t, bools.Value.Bool)
	assert.Len(t, bools.Dropped, 1)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyFirst, s)
	_, err = ParseStrategy("avg")
	assert.Error(t, err)
}

func TestSameValueAndFormat(t *testing.T) {
	schema := pressureSchema()
	c, err := ParseNumeric(schema, "6,2", UnitHint{})
	require.NoError(t, err)

	pav := ToValue(5, schema.Attribute.ID, c)
	assert.True(t, SameValue(&pav, c))
	assert.Equal(t, "6.2", FormatValue(schema, &pav))

	other, err := ParseNumeric(schema, "7", UnitHint{})
	require.NoError(t, err)
	assert.False(t, SameValue(&pav, other))
	assert.False(t, SameValue(nil, c))

	boolSchema := &domain.AttributeSchema{Kind: domain.KindBoolean}
	yes := ToValue(5, 1, Candidate{Kind: domain.KindBoolean, Bool: true})
	assert.Equal(t, LabelTrue, FormatValue(boolSchema, &yes))
}

func TestSameOptions(t *testing.T) {
	c := Candidate{Kind: domain.KindMultiselect, Options: []domain.ResolvedOption{{ID: 2}, {ID: 1}}}
	assert.True(t, SameOptions([]int64{1, 2}, c))
	assert.False(t, SameOptions([]int64{1}, c))

	pending := Candidate{Kind: domain.KindSelect, Options: []domain.ResolvedOption{domain.WouldCreateOption("медь")}}
	assert.False(t, SameOptions([]int64{1}, pending))
}

func TestFormatOptions(t *testing.T) {
	idx := NewOptionIndex(7, []domain.AttributeOption{
		{ID: 1, Value: "Сталь", SortOrder: 2},
		{ID: 2, Value: "Медь", SortOrder: 1},
	})
	assert.Equal(t, "Медь; Сталь", FormatOptions(idx, []int64{1, 2}))
}
