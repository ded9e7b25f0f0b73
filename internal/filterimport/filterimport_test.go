package filterimport

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/runlog"
	"catalog-specs-service/internal/store/memstore"
)

func PtrTo[T any](v T) *T { return &v }

const (
	catRoot       int64 = 1
	catCompressor int64 = 2

	unitPa  int64 = 10
	unitBar int64 = 11
	unitKPa int64 = 12

	attrPressure  int64 = 100
	attrMaterial  int64 = 101
	attrAutomatic int64 = 103

	optSteel     int64 = 201
	optStainless int64 = 202

	productID int64 = 1000
)

func newCatalog(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()

	s.AddCategory(domain.Category{ID: catRoot, Name: "Оборудование"})
	s.AddCategory(domain.Category{ID: catCompressor, Name: "Компрессоры", ParentCategoryID: PtrTo(catRoot)})

	s.AddUnit(domain.Unit{ID: unitPa, Name: "паскаль", Symbol: "Па", Dimension: "pressure", SIFactor: 1})
	s.AddUnit(domain.Unit{ID: unitBar, Name: "бар", Symbol: "бар", Dimension: "pressure", SIFactor: 100000})
	s.AddUnit(domain.Unit{ID: unitKPa, Name: "килопаскаль", Symbol: "кПа", Dimension: "pressure", SIFactor: 1000})

	s.AddAttribute(domain.Attribute{ID: attrPressure, Name: "Давление", DataType: domain.DataTypeNumber, InputType: domain.InputTypeNumber, UnitID: PtrTo(unitPa)}, unitBar, unitKPa)
	s.AddAttribute(domain.Attribute{ID: attrMaterial, Name: "Материал", DataType: domain.DataTypeText, InputType: domain.InputTypeMultiselect})
	s.AddAttribute(domain.Attribute{ID: attrAutomatic, Name: "Автоматика", DataType: domain.DataTypeBoolean, InputType: domain.InputTypeBoolean})

	s.AddOption(domain.AttributeOption{ID: optSteel, AttributeID: attrMaterial, Value: "Сталь", SortOrder: 1})
	s.AddOption(domain.AttributeOption{ID: optStainless, AttributeID: attrMaterial, Value: "Нержавейка", SortOrder: 2})

	s.BindAttribute(domain.CategoryAttribute{CategoryID: catCompressor, AttributeID: attrPressure, FilterOrder: 1, DisplayUnitID: PtrTo(unitBar), NumberDecimals: PtrTo(1), NumberRounding: domain.RoundingRound, VisibleInFilters: true})
	s.BindAttribute(domain.CategoryAttribute{CategoryID: catCompressor, AttributeID: attrMaterial, FilterOrder: 2, VisibleInFilters: true})
	s.BindAttribute(domain.CategoryAttribute{CategoryID: catCompressor, AttributeID: attrAutomatic, FilterOrder: 3, VisibleInFilters: true})

	s.AddProduct(domain.Product{ID: productID, Name: "Компрессор К-1"}, catCompressor)
	require.NoError(t, s.UpsertProductValue(ctx, &domain.ProductAttributeValue{
		ProductID: productID, AttributeID: attrPressure, ValueNumber: PtrTo(500000.0), ValueSI: PtrTo(500000.0),
	}))
	require.NoError(t, s.UpsertProductValue(ctx, &domain.ProductAttributeValue{
		ProductID: productID, AttributeID: attrAutomatic, ValueBoolean: PtrTo(true),
	}))
	require.NoError(t, s.SetProductOptions(ctx, productID, attrMaterial, []int64{optSteel}))
	return s
}

func newRun(t *testing.T, s *memstore.Store) *domain.ImportRun {
	t.Helper()
	run, err := s.CreateImportRun(context.Background(), &domain.ImportRun{Type: domain.RunTypeFilterImport, Status: domain.RunStatusPending})
	require.NoError(t, err)
	return run
}

func issueCodes(issues []runlog.Issue) []domain.IssueCode {
	codes := make([]domain.IssueCode, 0, len(issues))
	for _, is := range issues {
		codes = append(codes, is.Code)
	}
	return codes
}

func storedValue(t *testing.T, s *memstore.Store, attrID int64) *domain.ProductAttributeValue {
	t.Helper()
	values, err := s.ListProductValues(context.Background(), productID)
	require.NoError(t, err)
	for i := range values {
		if values[i].AttributeID == attrID {
			return &values[i]
		}
	}
	return nil
}

func storedOptions(t *testing.T, s *memstore.Store, attrID int64) []int64 {
	t.Helper()
	options, err := s.ListProductOptions(context.Background(), productID)
	require.NoError(t, err)
	var ids []int64
	for _, o := range options {
		if o.AttributeID == attrID {
			ids = append(ids, o.AttributeOptionID)
		}
	}
	return ids
}

func row(cells ...string) map[string]string {
	r := map[string]string{ColumnProductID: "1000"}
	for i := 0; i+1 < len(cells); i += 2 {
		r[cells[i]] = cells[i+1]
	}
	return r
}

func TestExport(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)

	tpl, err := svc.Export(context.Background(), catCompressor)
	require.NoError(t, err)

	keys := make([]string, 0, len(tpl.Columns))
	for _, c := range tpl.Columns {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{ColumnProductID, ColumnUpdatedAt, ColumnName, "attr_100", "attr_101", "attr_103"}, keys)
	assert.Equal(t, "Давление, бар", tpl.Columns[3].Title)
	assert.Equal(t, "бар", tpl.Columns[3].Unit)

	product, err := s.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	require.Len(t, tpl.Rows, 1)
	assert.Equal(t, map[string]string{
		ColumnProductID: "1000",
		ColumnUpdatedAt: product.UpdatedAt.Format(time.RFC3339Nano),
		ColumnName:      "Компрессор К-1",
		"attr_100":      "5.0",
		"attr_101":      "Сталь",
		"attr_103":      "Да",
	}, tpl.Rows[0])
}

func TestExport_NotLeaf(t *testing.T) {
	svc := NewService(newCatalog(t), nil)

	_, err := svc.Export(context.Background(), catRoot)
	assert.ErrorIs(t, err, ErrCategoryNotLeaf)

	_, err = svc.Export(context.Background(), 999)
	assert.ErrorIs(t, err, ErrCategoryNotLeaf)
}

func TestImport_RoundTripIsNoop(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)
	ctx := context.Background()

	tpl, err := svc.Export(ctx, catCompressor)
	require.NoError(t, err)
	before, err := s.GetProductByID(ctx, productID)
	require.NoError(t, err)

	run := newRun(t, s)
	res := svc.Import(ctx, run, catCompressor, tpl.Rows, ImportOptions{})
	assert.Empty(t, res.FatalError)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Issues)

	after, err := s.GetProductByID(ctx, productID)
	require.NoError(t, err)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	stored, err := s.GetImportRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusApplied, stored.Status)
	assert.False(t, stored.IsRunning())
	assert.Equal(t, 1, stored.Totals.Scanned)
	assert.Equal(t, 1, stored.Totals.Skipped)
}

func TestImport_DecimalCommaInDisplayUnit(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)
	ctx := context.Background()
	before, err := s.GetProductByID(ctx, productID)
	require.NoError(t, err)

	res := svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("attr_100", "6,2")}, ImportOptions{})
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Issues)

	pav := storedValue(t, s, attrPressure)
	require.NotNil(t, pav)
	require.NotNil(t, pav.ValueSI)
	assert.InDelta(t, 620000, *pav.ValueSI, 1e-6)
	assert.InDelta(t, 620000, *pav.ValueNumber, 1e-6)

	after, err := s.GetProductByID(ctx, productID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestImport_BlankKeepsAndClearDeletes(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)
	ctx := context.Background()

	res := svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("attr_100", "  ", "attr_101", "")}, ImportOptions{})
	assert.Equal(t, 1, res.Skipped)
	pav := storedValue(t, s, attrPressure)
	require.NotNil(t, pav)
	assert.InDelta(t, 500000, *pav.ValueSI, 1e-9)
	assert.Equal(t, []int64{optSteel}, storedOptions(t, s, attrMaterial))

	res = svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("attr_100", "!clear", "attr_101", "!CLEAR")}, ImportOptions{})
	assert.Equal(t, 1, res.Updated)
	assert.Nil(t, storedValue(t, s, attrPressure))
	assert.Empty(t, storedOptions(t, s, attrMaterial))
}

func TestImport_Boolean(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)
	ctx := context.Background()

	res := svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("attr_103", "Нет")}, ImportOptions{})
	assert.Equal(t, 1, res.Updated)
	assert.False(t, *storedValue(t, s, attrAutomatic).ValueBoolean)

	res = svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("attr_103", "Да")}, ImportOptions{})
	assert.Equal(t, 1, res.Updated)
	assert.True(t, *storedValue(t, s, attrAutomatic).ValueBoolean)

	res = svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("attr_103", "maybe")}, ImportOptions{})
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []domain.IssueCode{domain.IssueSpecValueParseFailed}, issueCodes(res.Issues))
	assert.Equal(t, domain.SeverityWarning, res.Issues[0].Severity)
	assert.True(t, *storedValue(t, s, attrAutomatic).ValueBoolean)
}

func TestImport_StaleSnapshot(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)
	ctx := context.Background()
	product, err := s.GetProductByID(ctx, productID)
	require.NoError(t, err)

	r := row("attr_100", "7")
	r[ColumnUpdatedAt] = product.UpdatedAt.Add(-time.Second).Format(time.RFC3339Nano)
	run := newRun(t, s)
	res := svc.Import(ctx, run, catCompressor, []map[string]string{r}, ImportOptions{})

	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Failed)
	require.Equal(t, []domain.IssueCode{domain.IssueRowConflictStaleSnapshot}, issueCodes(res.Issues))
	assert.Equal(t, domain.SeverityError, res.Issues[0].Severity)
	require.NotNil(t, res.Issues[0].RowIndex)
	assert.Equal(t, 0, *res.Issues[0].RowIndex)
	assert.InDelta(t, 500000, *storedValue(t, s, attrPressure).ValueSI, 1e-9)

	stored, err := s.GetImportRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusApplied, stored.Status)
	assert.Equal(t, 1, stored.Totals.Error)
}

func TestImport_InvalidUpdatedAt(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)

	r := row("attr_100", "7")
	r[ColumnUpdatedAt] = "yesterday"
	res := svc.Import(context.Background(), newRun(t, s), catCompressor, []map[string]string{r}, ImportOptions{})
	assert.Equal(t, []domain.IssueCode{domain.IssueSpecValueParseFailed}, issueCodes(res.Issues))
	assert.Equal(t, 1, res.Failed)
}

func TestImport_RowRollback(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)
	ctx := context.Background()
	before, err := s.GetProductByID(ctx, productID)
	require.NoError(t, err)

	s.InjectFailure("SetProductOptions", errors.New("connection reset"))
	res := svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("attr_100", "7", "attr_101", "Нержавейка")}, ImportOptions{})
	s.InjectFailure("SetProductOptions", nil)

	assert.Empty(t, res.FatalError)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []domain.IssueCode{domain.IssueRowApplyFailed}, issueCodes(res.Issues))

	assert.InDelta(t, 500000, *storedValue(t, s, attrPressure).ValueSI, 1e-9)
	assert.Equal(t, []int64{optSteel}, storedOptions(t, s, attrMaterial))
	after, err := s.GetProductByID(ctx, productID)
	require.NoError(t, err)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestImport_DryRun(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)
	ctx := context.Background()

	run := newRun(t, s)
	res := svc.Import(ctx, run, catCompressor, []map[string]string{row("attr_100", "7", "attr_101", "Нержавейка")}, ImportOptions{DryRun: true})
	assert.Equal(t, 1, res.Updated)
	assert.InDelta(t, 500000, *storedValue(t, s, attrPressure).ValueSI, 1e-9)
	assert.Equal(t, []int64{optSteel}, storedOptions(t, s, attrMaterial))

	stored, err := s.GetImportRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusDryRun, stored.Status)
}

func TestImport_Options(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)
	ctx := context.Background()

	res := svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("attr_101", "Сталь; Чугун")}, ImportOptions{})
	assert.Equal(t, []domain.IssueCode{domain.IssueOptionNotFound}, issueCodes(res.Issues))
	assert.Equal(t, []string{"Чугун"}, res.Issues[0].Snapshot["missing"])
	assert.Equal(t, 1, res.Skipped)

	res = svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("attr_101", "Сталь; Чугун")}, ImportOptions{AutoCreateOptions: true})
	assert.Equal(t, []domain.IssueCode{domain.IssueOptionAutoCreated}, issueCodes(res.Issues))
	assert.Equal(t, 1, res.Updated)

	options, err := s.ListAttributeOptions(ctx, attrMaterial)
	require.NoError(t, err)
	require.Len(t, options, 3)
	assert.Equal(t, "Чугун", options[2].Value)
	assert.Equal(t, 3, options[2].SortOrder)
	assert.Equal(t, []int64{optSteel, options[2].ID}, storedOptions(t, s, attrMaterial))
}

func TestImport_ColumnBinding(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)
	ctx := context.Background()

	rows := []map[string]string{
		row("Давление (кПа)", "300", "Мощность", "5 кВт"),
		row("Мощность", "7 кВт"),
	}
	res := svc.Import(ctx, newRun(t, s), catCompressor, rows, ImportOptions{})
	assert.Equal(t, []domain.IssueCode{domain.IssueSpecNameUnmatched}, issueCodes(res.Issues))
	assert.Nil(t, res.Issues[0].RowIndex)
	assert.Equal(t, 1, res.Updated)
	assert.InDelta(t, 300000, *storedValue(t, s, attrPressure).ValueSI, 1e-6)

	res = svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("Давление, бар", "7")}, ImportOptions{})
	assert.Empty(t, res.Issues)
	assert.InDelta(t, 700000, *storedValue(t, s, attrPressure).ValueSI, 1e-6)

	res = svc.Import(ctx, newRun(t, s), catCompressor, []map[string]string{row("attr_999", "1")}, ImportOptions{})
	assert.Equal(t, []domain.IssueCode{domain.IssueSpecNameUnmatched}, issueCodes(res.Issues))
}

func TestImport_UnknownProduct(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)

	rows := []map[string]string{
		{ColumnProductID: "abc", "attr_100": "7"},
		{ColumnProductID: "999", "attr_100": "7"},
	}
	res := svc.Import(context.Background(), newRun(t, s), catCompressor, rows, ImportOptions{})
	assert.Equal(t, []domain.IssueCode{domain.IssueProductNotFound, domain.IssueProductNotFound}, issueCodes(res.Issues))
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Processed)
}

func TestImport_Fatal(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)
	ctx := context.Background()

	run := newRun(t, s)
	res := svc.Import(ctx, run, catRoot, []map[string]string{row("attr_100", "7")}, ImportOptions{})
	assert.Equal(t, domain.IssueTargetCategoryNotLeaf, res.FatalCode)

	stored, err := s.GetImportRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, stored.Status)
	assert.False(t, stored.IsRunning())

	res = svc.Import(ctx, newRun(t, s), catCompressor, nil, ImportOptions{NumberConflictStrategy: "avg"})
	assert.Equal(t, domain.IssueInvalidOptions, res.FatalCode)
}

func TestCSV_RoundTrip(t *testing.T) {
	s := newCatalog(t)
	svc := NewService(s, nil)

	tpl, err := svc.Export(context.Background(), catCompressor)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tpl))
	rows, err := ReadCSV(strings.NewReader("\ufeff" + buf.String()))
	require.NoError(t, err)
	assert.Equal(t, tpl.Rows, rows)
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyCSV)
}
