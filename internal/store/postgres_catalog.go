package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"catalog-specs-service/internal/domain"
)

// --- CategoryStorer Implementation ---

func (s *PostgresStore) GetCategoryByID(ctx context.Context, id int64) (*domain.Category, error) {
	query := `
		SELECT c.id, c.name, c.parent_category_id,
			NOT EXISTS (SELECT 1 FROM catalog.categories ch WHERE ch.parent_category_id = c.id) AS is_leaf,
			c.created_at, c.updated_at
		FROM catalog.categories c
		WHERE c.id = $1;
	`
	var category domain.Category
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&category.ID,
		&category.Name,
		&category.ParentCategoryID,
		&category.IsLeaf,
		&category.CreatedAt,
		&category.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("store: GetCategoryByID failed to scan row: %w", err)
	}
	return &category, nil
}

func (s *PostgresStore) ListCategoryAttributes(ctx context.Context, categoryID int64) ([]domain.CategoryAttribute, error) {
	query := `
		SELECT category_id, attribute_id, filter_order, display_unit_id, number_decimals, number_rounding,
			visible_in_specs, visible_in_filters
		FROM catalog.category_attributes
		WHERE category_id = $1
		ORDER BY filter_order ASC, attribute_id ASC;
	`
	rows, err := s.q.QueryContext(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("store: ListCategoryAttributes failed to query bindings: %w", err)
	}
	defer rows.Close()

	var bindings []domain.CategoryAttribute
	for rows.Next() {
		var b domain.CategoryAttribute
		if err := rows.Scan(&b.CategoryID, &b.AttributeID, &b.FilterOrder, &b.DisplayUnitID, &b.NumberDecimals,
			&b.NumberRounding, &b.VisibleInSpecs, &b.VisibleInFilters); err != nil {
			return nil, fmt.Errorf("store: ListCategoryAttributes failed to scan binding row: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListCategoryAttributes iteration error: %w", err)
	}
	return bindings, nil
}

func (s *PostgresStore) AttachAttributeToCategory(ctx context.Context, binding domain.CategoryAttribute) error {
	query := `
		INSERT INTO catalog.category_attributes
			(category_id, attribute_id, filter_order, display_unit_id, number_decimals, number_rounding,
			visible_in_specs, visible_in_filters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (category_id, attribute_id) DO NOTHING;
	`
	_, err := s.q.ExecContext(ctx, query,
		binding.CategoryID, binding.AttributeID, binding.FilterOrder, binding.DisplayUnitID,
		binding.NumberDecimals, string(binding.NumberRounding), binding.VisibleInSpecs, binding.VisibleInFilters,
	)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return fmt.Errorf("%w: category %d or attribute %d", ErrCategoryNotFound, binding.CategoryID, binding.AttributeID)
		}
		return fmt.Errorf("store: AttachAttributeToCategory failed to insert binding: %w", err)
	}
	return nil
}

// --- AttributeStorer Implementation ---

const attributeColumns = `id, name, data_type, input_type, unit_id, number_decimals, number_rounding, created_at, updated_at`

func scanAttribute(row interface{ Scan(dest ...any) error }, a *domain.Attribute) error {
	return row.Scan(&a.ID, &a.Name, &a.DataType, &a.InputType, &a.UnitID, &a.NumberDecimals, &a.NumberRounding,
		&a.CreatedAt, &a.UpdatedAt)
}

func (s *PostgresStore) GetAttributeByID(ctx context.Context, id int64) (*domain.Attribute, error) {
	query := `SELECT ` + attributeColumns + ` FROM catalog.attributes WHERE id = $1;`
	var attribute domain.Attribute
	if err := scanAttribute(s.q.QueryRowContext(ctx, query, id), &attribute); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttributeNotFound
		}
		return nil, fmt.Errorf("store: GetAttributeByID failed to scan row: %w", err)
	}
	return &attribute, nil
}

func (s *PostgresStore) ListAttributes(ctx context.Context) ([]domain.Attribute, error) {
	query := `SELECT ` + attributeColumns + ` FROM catalog.attributes ORDER BY id ASC;`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: ListAttributes failed to query attributes: %w", err)
	}
	defer rows.Close()

	var attributes []domain.Attribute
	for rows.Next() {
		var a domain.Attribute
		if err := scanAttribute(rows, &a); err != nil {
			return nil, fmt.Errorf("store: ListAttributes failed to scan attribute row: %w", err)
		}
		attributes = append(attributes, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListAttributes iteration error: %w", err)
	}
	return attributes, nil
}

func (s *PostgresStore) CreateAttribute(ctx context.Context, attribute *domain.Attribute) (*domain.Attribute, error) {
	query := `
		INSERT INTO catalog.attributes (name, data_type, input_type, unit_id, number_decimals, number_rounding)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + attributeColumns + `;`
	var created domain.Attribute
	row := s.q.QueryRowContext(ctx, query,
		attribute.Name, string(attribute.DataType), string(attribute.InputType), attribute.UnitID,
		attribute.NumberDecimals, string(attribute.NumberRounding),
	)
	if err := scanAttribute(row, &created); err != nil {
		switch pqCode(err) {
		case pqUniqueViolation:
			return nil, ErrAttributeExists
		case pqForeignKeyViolation:
			return nil, ErrUnitNotFound
		}
		return nil, fmt.Errorf("store: CreateAttribute failed to scan row: %w", err)
	}
	return &created, nil
}

const unitColumns = `u.id, u.name, u.symbol, u.base_symbol, u.dimension, u.si_factor, u.si_offset`

func scanUnit(row interface{ Scan(dest ...any) error }, u *domain.Unit) error {
	return row.Scan(&u.ID, &u.Name, &u.Symbol, &u.BaseSymbol, &u.Dimension, &u.SIFactor, &u.SIOffset)
}

func (s *PostgresStore) queryUnits(ctx context.Context, op, query string, args ...any) ([]domain.Unit, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: %s failed to query units: %w", op, err)
	}
	defer rows.Close()

	var list []domain.Unit
	for rows.Next() {
		var u domain.Unit
		if err := scanUnit(rows, &u); err != nil {
			return nil, fmt.Errorf("store: %s failed to scan unit row: %w", op, err)
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: %s iteration error: %w", op, err)
	}
	return list, nil
}

func (s *PostgresStore) ListAttributeUnits(ctx context.Context, attributeID int64) ([]domain.Unit, error) {
	query := `
		SELECT ` + unitColumns + `
		FROM catalog.units u
		JOIN catalog.attributes a ON a.unit_id = u.id
		WHERE a.id = $1
		UNION ALL
		SELECT ` + unitColumns + `
		FROM catalog.attribute_units au
		JOIN catalog.units u ON u.id = au.unit_id
		JOIN catalog.attributes a ON a.id = au.attribute_id
		WHERE au.attribute_id = $1 AND (a.unit_id IS NULL OR a.unit_id <> u.id);
	`
	return s.queryUnits(ctx, "ListAttributeUnits", query, attributeID)
}

func (s *PostgresStore) AttachUnitsToAttribute(ctx context.Context, attributeID int64, unitIDs []int64) error {
	if len(unitIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO catalog.attribute_units (attribute_id, unit_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT (attribute_id, unit_id) DO NOTHING;
	`
	if _, err := s.q.ExecContext(ctx, query, attributeID, pq.Array(unitIDs)); err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return ErrUnitNotFound
		}
		return fmt.Errorf("store: AttachUnitsToAttribute failed to insert units: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUnitByID(ctx context.Context, id int64) (*domain.Unit, error) {
	query := `SELECT ` + unitColumns + ` FROM catalog.units u WHERE u.id = $1;`
	var unit domain.Unit
	if err := scanUnit(s.q.QueryRowContext(ctx, query, id), &unit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnitNotFound
		}
		return nil, fmt.Errorf("store: GetUnitByID failed to scan row: %w", err)
	}
	return &unit, nil
}

func (s *PostgresStore) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	query := `SELECT ` + unitColumns + ` FROM catalog.units u ORDER BY u.id ASC;`
	return s.queryUnits(ctx, "ListUnits", query)
}

func (s *PostgresStore) ListAttributeOptions(ctx context.Context, attributeID int64) ([]domain.AttributeOption, error) {
	query := `
		SELECT id, attribute_id, value, sort_order
		FROM catalog.attribute_options
		WHERE attribute_id = $1
		ORDER BY sort_order ASC, id ASC;
	`
	rows, err := s.q.QueryContext(ctx, query, attributeID)
	if err != nil {
		return nil, fmt.Errorf("store: ListAttributeOptions failed to query options: %w", err)
	}
	defer rows.Close()

	var options []domain.AttributeOption
	for rows.Next() {
		var o domain.AttributeOption
		if err := rows.Scan(&o.ID, &o.AttributeID, &o.Value, &o.SortOrder); err != nil {
			return nil, fmt.Errorf("store: ListAttributeOptions failed to scan option row: %w", err)
		}
		options = append(options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListAttributeOptions iteration error: %w", err)
	}
	return options, nil
}

// FirstOrCreateOption inserts the option unless the (attribute_id, value) pair exists;
// a concurrent insert of the same label resolves to the winner's row.
func (s *PostgresStore) FirstOrCreateOption(ctx context.Context, attributeID int64, value string, sortOrder int) (*domain.AttributeOption, bool, error) {
	insert := `
		INSERT INTO catalog.attribute_options (attribute_id, value, sort_order)
		VALUES ($1, $2, $3)
		ON CONFLICT (attribute_id, value) DO NOTHING
		RETURNING id, attribute_id, value, sort_order;
	`
	var o domain.AttributeOption
	err := s.q.QueryRowContext(ctx, insert, attributeID, value, sortOrder).Scan(&o.ID, &o.AttributeID, &o.Value, &o.SortOrder)
	if err == nil {
		return &o, true, nil
	}
	if pqCode(err) == pqForeignKeyViolation {
		return nil, false, ErrAttributeNotFound
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("store: FirstOrCreateOption failed to insert option: %w", err)
	}

	lookup := `
		SELECT id, attribute_id, value, sort_order
		FROM catalog.attribute_options
		WHERE attribute_id = $1 AND value = $2;
	`
	if err := s.q.QueryRowContext(ctx, lookup, attributeID, value).Scan(&o.ID, &o.AttributeID, &o.Value, &o.SortOrder); err != nil {
		return nil, false, fmt.Errorf("store: FirstOrCreateOption failed to load existing option: %w", err)
	}
	return &o, false, nil
}
