package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/runlog"
	"catalog-specs-service/internal/store"
	"catalog-specs-service/internal/store/memstore"
)

func PtrTo[T any](v T) *T { return &v }

const (
	catRoot       int64 = 1
	catCompressor int64 = 2
	catStaging    int64 = 3

	unitPa     int64 = 10
	unitBar    int64 = 11
	unitKPa    int64 = 12
	unitMeter  int64 = 13
	unitMinute int64 = 14
	unitKg     int64 = 15
	unitKW     int64 = 16

	attrPressure  int64 = 100
	attrMaterial  int64 = 101
	attrColor     int64 = 102
	attrAutomatic int64 = 103
	attrCable     int64 = 104
	attrMass      int64 = 105

	optSteel     int64 = 201
	optStainless int64 = 202
	optRed       int64 = 203
	optBlue      int64 = 204
)

// newCatalog seeds a compressor category with one attribute of every kind.
func newCatalog(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()

	s.AddCategory(domain.Category{ID: catRoot, Name: "Оборудование"})
	s.AddCategory(domain.Category{ID: catCompressor, Name: "Компрессоры", ParentCategoryID: PtrTo(catRoot)})
	s.AddCategory(domain.Category{ID: catStaging, Name: "Новые поступления"})

	s.AddUnit(domain.Unit{ID: unitPa, Name: "паскаль", Symbol: "Па", BaseSymbol: PtrTo("Pa"), Dimension: "pressure", SIFactor: 1})
	s.AddUnit(domain.Unit{ID: unitBar, Name: "бар", Symbol: "бар", BaseSymbol: PtrTo("bar"), Dimension: "pressure", SIFactor: 100000})
	s.AddUnit(domain.Unit{ID: unitKPa, Name: "килопаскаль", Symbol: "кПа", Dimension: "pressure", SIFactor: 1000})
	s.AddUnit(domain.Unit{ID: unitMeter, Name: "метр", Symbol: "м", Dimension: "length", SIFactor: 1})
	s.AddUnit(domain.Unit{ID: unitMinute, Name: "минута", Symbol: "м", Dimension: "time", SIFactor: 60})
	s.AddUnit(domain.Unit{ID: unitKg, Name: "килограмм", Symbol: "кг", Dimension: "mass", SIFactor: 1})
	s.AddUnit(domain.Unit{ID: unitKW, Name: "киловатт", Symbol: "кВт", Dimension: "power", SIFactor: 1000})

	s.AddAttribute(domain.Attribute{ID: attrPressure, Name: "Давление", DataType: domain.DataTypeNumber, InputType: domain.InputTypeNumber, UnitID: PtrTo(unitPa)}, unitBar, unitKPa)
	s.AddAttribute(domain.Attribute{ID: attrMaterial, Name: "Материал", DataType: domain.DataTypeText, InputType: domain.InputTypeMultiselect})
	s.AddAttribute(domain.Attribute{ID: attrColor, Name: "Цвет", DataType: domain.DataTypeText, InputType: domain.InputTypeSelect})
	s.AddAttribute(domain.Attribute{ID: attrAutomatic, Name: "Автоматика", DataType: domain.DataTypeBoolean, InputType: domain.InputTypeBoolean})
	s.AddAttribute(domain.Attribute{ID: attrCable, Name: "Длина кабеля", DataType: domain.DataTypeNumber, InputType: domain.InputTypeNumber, UnitID: PtrTo(unitMeter)}, unitMinute)
	s.AddAttribute(domain.Attribute{ID: attrMass, Name: "Масса", DataType: domain.DataTypeNumber, InputType: domain.InputTypeNumber, UnitID: PtrTo(unitKg)})

	s.AddOption(domain.AttributeOption{ID: optSteel, AttributeID: attrMaterial, Value: "Сталь", SortOrder: 1})
	s.AddOption(domain.AttributeOption{ID: optStainless, AttributeID: attrMaterial, Value: "Нержавейка", SortOrder: 2})
	s.AddOption(domain.AttributeOption{ID: optRed, AttributeID: attrColor, Value: "Красный", SortOrder: 1})
	s.AddOption(domain.AttributeOption{ID: optBlue, AttributeID: attrColor, Value: "Синий", SortOrder: 2})

	s.BindAttribute(domain.CategoryAttribute{CategoryID: catCompressor, AttributeID: attrPressure, FilterOrder: 1, DisplayUnitID: PtrTo(unitBar), NumberDecimals: PtrTo(1), NumberRounding: domain.RoundingRound, VisibleInFilters: true})
	s.BindAttribute(domain.CategoryAttribute{CategoryID: catCompressor, AttributeID: attrMaterial, FilterOrder: 2, VisibleInFilters: true})
	s.BindAttribute(domain.CategoryAttribute{CategoryID: catCompressor, AttributeID: attrColor, FilterOrder: 3, VisibleInFilters: true})
	s.BindAttribute(domain.CategoryAttribute{CategoryID: catCompressor, AttributeID: attrAutomatic, FilterOrder: 4, VisibleInFilters: true})
	s.BindAttribute(domain.CategoryAttribute{CategoryID: catCompressor, AttributeID: attrCable, FilterOrder: 5, VisibleInFilters: true})
	return s
}

func spec(name, value string) domain.Spec {
	return domain.Spec{Name: name, Value: value, Source: domain.SpecSourceDOM}
}

func newRun(t *testing.T, s store.Store) *domain.ImportRun {
	t.Helper()
	run, err := s.CreateImportRun(context.Background(), &domain.ImportRun{Type: domain.RunTypeSpecsMatch, Status: domain.RunStatusPending})
	require.NoError(t, err)
	return run
}

func applyOptions() Options {
	return Options{TargetCategoryID: catCompressor, DryRun: false, OnlyEmptyAttributes: false, OverwriteExisting: true}
}

func issueCodes(issues []runlog.Issue) []domain.IssueCode {
	codes := make([]domain.IssueCode, 0, len(issues))
	for _, is := range issues {
		codes = append(codes, is.Code)
	}
	return codes
}
