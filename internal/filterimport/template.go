// Package filterimport round-trips a leaf category's filter values through a flat
// template of string cells: one row per product, one column per bound attribute.
package filterimport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"catalog-specs-service/internal/attrvalue"
	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/store"
	"catalog-specs-service/internal/textnorm"
	"catalog-specs-service/internal/valueparse"
)

// Reserved template columns.
const (
	ColumnProductID  = "product_id"
	ColumnUpdatedAt  = "updated_at"
	ColumnName       = "name"
	attrColumnPrefix = "attr_"
)

// ErrCategoryNotLeaf is returned when the category is missing or has children.
var ErrCategoryNotLeaf = errors.New("filterimport: category is missing or not a leaf")

// Column describes one template column.
type Column struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	AttributeID int64  `json:"attribute_id,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

// Template is an exported grid. Rows are keyed by Column.Key.
type Template struct {
	CategoryID int64               `json:"category_id"`
	Columns    []Column            `json:"columns"`
	Rows       []map[string]string `json:"rows"`
}

// Service exports and imports category filter templates.
type Service struct {
	store  store.Store
	logger *zap.Logger
}

// NewService creates a Service. A nil logger disables logging.
func NewService(s store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, logger: logger.Named("filterimport")}
}

// AttributeColumnKey is the stable column key of an attribute.
func AttributeColumnKey(attributeID int64) string {
	return attrColumnPrefix + strconv.FormatInt(attributeID, 10)
}

func columnTitle(s *domain.AttributeSchema) (title, unit string) {
	title = s.Attribute.Name
	if s.Kind.IsNumeric() {
		if u := s.DisplayUnit(); u != nil {
			unit = u.Symbol
			title += ", " + u.Symbol
		}
	}
	return title, unit
}

func (svc *Service) leafSchemas(ctx context.Context, categoryID int64) ([]*domain.AttributeSchema, error) {
	cat, err := svc.store.GetCategoryByID(ctx, categoryID)
	if errors.Is(err, store.ErrCategoryNotFound) {
		return nil, fmt.Errorf("%w: category %d not found", ErrCategoryNotLeaf, categoryID)
	}
	if err != nil {
		return nil, err
	}
	if !cat.IsLeaf {
		return nil, fmt.Errorf("%w: category %d has children", ErrCategoryNotLeaf, categoryID)
	}
	return attrvalue.LoadCategorySchemas(ctx, svc.store, categoryID)
}

// Export renders the current values of every product in the category, formatted in
// each attribute's display unit. Re-importing an untouched export changes nothing.
func (svc *Service) Export(ctx context.Context, categoryID int64) (*Template, error) {
	schemas, err := svc.leafSchemas(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	tpl := &Template{
		CategoryID: categoryID,
		Columns: []Column{
			{Key: ColumnProductID, Title: "ID"},
			{Key: ColumnUpdatedAt, Title: "Updated at"},
			{Key: ColumnName, Title: "Name"},
		},
		Rows: []map[string]string{},
	}
	optionIndexes := make(map[int64]*attrvalue.OptionIndex)
	for _, s := range schemas {
		title, unit := columnTitle(s)
		tpl.Columns = append(tpl.Columns, Column{Key: AttributeColumnKey(s.Attribute.ID), Title: title, AttributeID: s.Attribute.ID, Unit: unit})
		if s.Kind.IsOption() {
			options, err := svc.store.ListAttributeOptions(ctx, s.Attribute.ID)
			if err != nil {
				return nil, err
			}
			optionIndexes[s.Attribute.ID] = attrvalue.NewOptionIndex(s.Attribute.ID, options)
		}
	}

	productIDs, err := svc.store.ListCategoryProductIDs(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	for _, pid := range productIDs {
		product, err := svc.store.GetProductByID(ctx, pid)
		if err != nil {
			return nil, err
		}
		state, err := loadState(ctx, svc.store, pid)
		if err != nil {
			return nil, err
		}
		row := map[string]string{
			ColumnProductID: strconv.FormatInt(product.ID, 10),
			ColumnUpdatedAt: product.UpdatedAt.UTC().Format(time.RFC3339Nano),
			ColumnName:      product.Name,
		}
		for _, s := range schemas {
			key := AttributeColumnKey(s.Attribute.ID)
			if s.Kind.IsOption() {
				row[key] = attrvalue.FormatOptions(optionIndexes[s.Attribute.ID], state.options[s.Attribute.ID])
			} else {
				row[key] = attrvalue.FormatValue(s, state.values[s.Attribute.ID])
			}
		}
		tpl.Rows = append(tpl.Rows, row)
	}
	return tpl, nil
}

// columnBinding is a template column resolved to an attribute.
type columnBinding struct {
	key       string
	schema    *domain.AttributeSchema
	nameToken string
}

// bindColumns resolves attr_<id> keys and attribute titles such as "Давление, бар".
// Unknown columns are returned separately.
func bindColumns(keys []string, schemas []*domain.AttributeSchema) (bound []columnBinding, unknown []string) {
	byID := make(map[int64]*domain.AttributeSchema, len(schemas))
	for _, s := range schemas {
		byID[s.Attribute.ID] = s
	}
	index := attrvalue.BuildAttributeIndex(schemas)

	for _, key := range keys {
		switch textnorm.Normalize(key) {
		case ColumnProductID, ColumnUpdatedAt, ColumnName:
			continue
		}
		if idText, ok := strings.CutPrefix(key, attrColumnPrefix); ok {
			if id, err := strconv.ParseInt(idText, 10, 64); err == nil {
				if s, ok := byID[id]; ok {
					bound = append(bound, columnBinding{key: key, schema: s})
					continue
				}
			}
			unknown = append(unknown, key)
			continue
		}
		if s, ok := index[textnorm.Normalize(key)]; ok {
			bound = append(bound, columnBinding{key: key, schema: s})
			continue
		}
		token := valueparse.NameUnitToken(key)
		if token != "" {
			name := strings.TrimSuffix(strings.TrimSpace(textnorm.Fold(key)), ")")
			if i := strings.LastIndexAny(name, ",("); i >= 0 {
				name = name[:i]
			}
			if s, ok := index[textnorm.Normalize(name)]; ok {
				bound = append(bound, columnBinding{key: key, schema: s, nameToken: token})
				continue
			}
		}
		unknown = append(unknown, key)
	}
	return bound, unknown
}

type productState struct {
	values  map[int64]*domain.ProductAttributeValue
	options map[int64][]int64
}

func loadState(ctx context.Context, s store.ValueStorer, productID int64) (*productState, error) {
	st := &productState{
		values:  make(map[int64]*domain.ProductAttributeValue),
		options: make(map[int64][]int64),
	}
	values, err := s.ListProductValues(ctx, productID)
	if err != nil {
		return nil, err
	}
	for i := range values {
		st.values[values[i].AttributeID] = &values[i]
	}
	options, err := s.ListProductOptions(ctx, productID)
	if err != nil {
		return nil, err
	}
	for _, o := range options {
		st.options[o.AttributeID] = append(st.options[o.AttributeID], o.AttributeOptionID)
	}
	return st, nil
}
