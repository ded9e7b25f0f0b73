// Package attrvalue turns raw spec text into typed candidate values for an attribute
// and decides whether a candidate differs from what is stored.
package attrvalue

import (
	"context"
	"fmt"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/textnorm"
)

// SchemaSource is the part of the store needed to resolve attribute schemas.
type SchemaSource interface {
	GetAttributeByID(ctx context.Context, id int64) (*domain.Attribute, error)
	ListAttributeUnits(ctx context.Context, attributeID int64) ([]domain.Unit, error)
	ListCategoryAttributes(ctx context.Context, categoryID int64) ([]domain.CategoryAttribute, error)
}

// LoadSchema resolves one attribute with its units. binding may be nil for attributes
// that are not bound to the category being processed.
func LoadSchema(ctx context.Context, src SchemaSource, attributeID int64, binding *domain.CategoryAttribute) (*domain.AttributeSchema, error) {
	attr, err := src.GetAttributeByID(ctx, attributeID)
	if err != nil {
		return nil, err
	}
	kind, err := attr.Kind()
	if err != nil {
		return nil, fmt.Errorf("attribute %d: %w", attr.ID, err)
	}
	unitList, err := src.ListAttributeUnits(ctx, attr.ID)
	if err != nil {
		return nil, err
	}
	schema := &domain.AttributeSchema{
		Attribute: *attr,
		Kind:      kind,
		Units:     unitList,
		Binding:   binding,
	}
	if attr.UnitID != nil {
		schema.BaseUnit = schema.UnitByID(*attr.UnitID)
	}
	return schema, nil
}

// LoadCategorySchemas resolves every attribute bound to categoryID in filter order.
func LoadCategorySchemas(ctx context.Context, src SchemaSource, categoryID int64) ([]*domain.AttributeSchema, error) {
	bindings, err := src.ListCategoryAttributes(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	schemas := make([]*domain.AttributeSchema, 0, len(bindings))
	for i := range bindings {
		b := bindings[i]
		schema, err := LoadSchema(ctx, src, b.AttributeID, &b)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}

// BuildAttributeIndex maps normalized attribute names to schemas. On duplicate
// names the first schema wins.
func BuildAttributeIndex(schemas []*domain.AttributeSchema) map[string]*domain.AttributeSchema {
	index := make(map[string]*domain.AttributeSchema, len(schemas))
	for _, s := range schemas {
		key := textnorm.Normalize(s.Attribute.Name)
		if key == "" {
			continue
		}
		if _, exists := index[key]; !exists {
			index[key] = s
		}
	}
	return index
}

// BuildGlobalIndex maps normalized names over all attributes. It only feeds
// "link to existing" suggestions and is never used for writes.
func BuildGlobalIndex(attributes []domain.Attribute) map[string]domain.Attribute {
	index := make(map[string]domain.Attribute, len(attributes))
	for _, a := range attributes {
		key := textnorm.Normalize(a.Name)
		if key == "" {
			continue
		}
		if _, exists := index[key]; !exists {
			index[key] = a
		}
	}
	return index
}
