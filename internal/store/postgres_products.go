package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"catalog-specs-service/internal/domain"
)

// --- ProductStorer Implementation ---

func (s *PostgresStore) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	query := `
		SELECT id, name, specs, created_at, updated_at
		FROM catalog.products
		WHERE id = $1;
	`
	var product domain.Product
	var scannedSpecs []byte
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&product.ID, &product.Name, &scannedSpecs, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: GetProductByID failed to scan row: %w", err)
	}
	if len(scannedSpecs) > 0 && string(scannedSpecs) != "null" {
		if err := json.Unmarshal(scannedSpecs, &product.Specs); err != nil {
			return nil, fmt.Errorf("store: GetProductByID failed to decode specs of product %d: %w", id, err)
		}
	}
	return &product, nil
}

func (s *PostgresStore) ListCategoryProductIDs(ctx context.Context, categoryID int64) ([]int64, error) {
	query := `
		SELECT product_id
		FROM catalog.product_categories
		WHERE category_id = $1
		ORDER BY product_id ASC;
	`
	rows, err := s.q.QueryContext(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("store: ListCategoryProductIDs failed to query products: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: ListCategoryProductIDs failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListCategoryProductIDs iteration error: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListProductCategories(ctx context.Context, productID int64) ([]domain.ProductCategory, error) {
	query := `
		SELECT product_id, category_id, is_primary
		FROM catalog.product_categories
		WHERE product_id = $1
		ORDER BY category_id ASC;
	`
	rows, err := s.q.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("store: ListProductCategories failed to query memberships: %w", err)
	}
	defer rows.Close()

	members := []domain.ProductCategory{}
	for rows.Next() {
		var m domain.ProductCategory
		if err := rows.Scan(&m.ProductID, &m.CategoryID, &m.IsPrimary); err != nil {
			return nil, fmt.Errorf("store: ListProductCategories failed to scan row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListProductCategories iteration error: %w", err)
	}
	return members, nil
}

// AddProductCategory adds the membership. With primary set, the category becomes
// the product's only primary one.
func (s *PostgresStore) AddProductCategory(ctx context.Context, productID, categoryID int64, primary bool) error {
	return s.inTx(ctx, func(tx *PostgresStore) error {
		q := tx.q
		if primary {
			if _, err := q.ExecContext(ctx,
				`UPDATE catalog.product_categories SET is_primary = FALSE WHERE product_id = $1 AND category_id <> $2;`,
				productID, categoryID); err != nil {
				return fmt.Errorf("store: AddProductCategory failed to demote primary: %w", err)
			}
		}
		query := `
			INSERT INTO catalog.product_categories (product_id, category_id, is_primary)
			VALUES ($1, $2, $3)
			ON CONFLICT (product_id, category_id)
			DO UPDATE SET is_primary = catalog.product_categories.is_primary OR EXCLUDED.is_primary;
		`
		if _, err := q.ExecContext(ctx, query, productID, categoryID, primary); err != nil {
			if pqCode(err) == pqForeignKeyViolation {
				return fmt.Errorf("%w: product %d or category %d", ErrProductNotFound, productID, categoryID)
			}
			return fmt.Errorf("store: AddProductCategory failed to insert membership: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) RemoveProductCategory(ctx context.Context, productID, categoryID int64) error {
	query := `DELETE FROM catalog.product_categories WHERE product_id = $1 AND category_id = $2;`
	if _, err := s.q.ExecContext(ctx, query, productID, categoryID); err != nil {
		return fmt.Errorf("store: RemoveProductCategory failed to execute delete: %w", err)
	}
	return nil
}

// SetPrimaryCategory makes categoryID the single primary category, adding the
// membership when missing.
func (s *PostgresStore) SetPrimaryCategory(ctx context.Context, productID, categoryID int64) error {
	return s.inTx(ctx, func(tx *PostgresStore) error {
		q := tx.q
		if _, err := q.ExecContext(ctx,
			`UPDATE catalog.product_categories SET is_primary = (category_id = $2) WHERE product_id = $1;`,
			productID, categoryID); err != nil {
			return fmt.Errorf("store: SetPrimaryCategory failed to update memberships: %w", err)
		}
		query := `
			INSERT INTO catalog.product_categories (product_id, category_id, is_primary)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (product_id, category_id) DO NOTHING;
		`
		if _, err := q.ExecContext(ctx, query, productID, categoryID); err != nil {
			if pqCode(err) == pqForeignKeyViolation {
				return fmt.Errorf("%w: product %d or category %d", ErrProductNotFound, productID, categoryID)
			}
			return fmt.Errorf("store: SetPrimaryCategory failed to insert membership: %w", err)
		}
		return nil
	})
}

// TouchProduct bumps updated_at to a strictly later instant. The expected guard
// compares at microsecond precision, which is what timestamptz stores.
func (s *PostgresStore) TouchProduct(ctx context.Context, productID int64, expected *time.Time) (time.Time, error) {
	query := `
		UPDATE catalog.products
		SET updated_at = GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond')
		WHERE id = $1 AND ($2::timestamptz IS NULL OR updated_at = $2::timestamptz)
		RETURNING updated_at;
	`
	var guard sql.NullTime
	if expected != nil {
		guard = sql.NullTime{Time: *expected, Valid: true}
	}
	var updatedAt time.Time
	err := s.q.QueryRowContext(ctx, query, productID, guard).Scan(&updatedAt)
	if err == nil {
		return updatedAt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("store: TouchProduct failed to update product: %w", err)
	}

	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM catalog.products WHERE id = $1);`, productID).Scan(&exists); err != nil {
		return time.Time{}, fmt.Errorf("store: TouchProduct failed to check product existence: %w", err)
	}
	if !exists {
		return time.Time{}, ErrProductNotFound
	}
	return time.Time{}, ErrStaleSnapshot
}

// --- ValueStorer Implementation ---

func (s *PostgresStore) ListProductValues(ctx context.Context, productID int64) ([]domain.ProductAttributeValue, error) {
	query := `
		SELECT product_id, attribute_id, value_text, value_boolean, value_number, value_si,
			value_min, value_max, value_min_si, value_max_si, updated_at
		FROM catalog.product_attribute_values
		WHERE product_id = $1
		ORDER BY attribute_id ASC;
	`
	rows, err := s.q.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("store: ListProductValues failed to query values: %w", err)
	}
	defer rows.Close()

	var values []domain.ProductAttributeValue
	for rows.Next() {
		var v domain.ProductAttributeValue
		if err := rows.Scan(&v.ProductID, &v.AttributeID, &v.ValueText, &v.ValueBoolean, &v.ValueNumber, &v.ValueSI,
			&v.ValueMin, &v.ValueMax, &v.ValueMinSI, &v.ValueMaxSI, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: ListProductValues failed to scan value row: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListProductValues iteration error: %w", err)
	}
	return values, nil
}

func (s *PostgresStore) UpsertProductValue(ctx context.Context, value *domain.ProductAttributeValue) error {
	query := `
		INSERT INTO catalog.product_attribute_values
			(product_id, attribute_id, value_text, value_boolean, value_number, value_si,
			value_min, value_max, value_min_si, value_max_si)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (product_id, attribute_id) DO UPDATE SET
			value_text = EXCLUDED.value_text,
			value_boolean = EXCLUDED.value_boolean,
			value_number = EXCLUDED.value_number,
			value_si = EXCLUDED.value_si,
			value_min = EXCLUDED.value_min,
			value_max = EXCLUDED.value_max,
			value_min_si = EXCLUDED.value_min_si,
			value_max_si = EXCLUDED.value_max_si,
			updated_at = CURRENT_TIMESTAMP
		RETURNING updated_at;
	`
	err := s.q.QueryRowContext(ctx, query,
		value.ProductID, value.AttributeID, value.ValueText, value.ValueBoolean, value.ValueNumber, value.ValueSI,
		value.ValueMin, value.ValueMax, value.ValueMinSI, value.ValueMaxSI,
	).Scan(&value.UpdatedAt)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return fmt.Errorf("%w: product %d or attribute %d", ErrProductNotFound, value.ProductID, value.AttributeID)
		}
		return fmt.Errorf("store: UpsertProductValue failed to scan row: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProductValue(ctx context.Context, productID, attributeID int64) error {
	query := `DELETE FROM catalog.product_attribute_values WHERE product_id = $1 AND attribute_id = $2;`
	if _, err := s.q.ExecContext(ctx, query, productID, attributeID); err != nil {
		return fmt.Errorf("store: DeleteProductValue failed to execute delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProductOptions(ctx context.Context, productID int64) ([]domain.ProductAttributeOption, error) {
	query := `
		SELECT product_id, attribute_id, attribute_option_id
		FROM catalog.product_attribute_options
		WHERE product_id = $1
		ORDER BY attribute_id ASC, attribute_option_id ASC;
	`
	rows, err := s.q.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("store: ListProductOptions failed to query options: %w", err)
	}
	defer rows.Close()

	var options []domain.ProductAttributeOption
	for rows.Next() {
		var o domain.ProductAttributeOption
		if err := rows.Scan(&o.ProductID, &o.AttributeID, &o.AttributeOptionID); err != nil {
			return nil, fmt.Errorf("store: ListProductOptions failed to scan option row: %w", err)
		}
		options = append(options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListProductOptions iteration error: %w", err)
	}
	return options, nil
}

// SetProductOptions replaces the attribute's option set. Options that do not belong
// to the attribute fail the whole replacement.
func (s *PostgresStore) SetProductOptions(ctx context.Context, productID, attributeID int64, optionIDs []int64) error {
	ids := uniqueIDs(optionIDs)
	return s.inTx(ctx, func(tx *PostgresStore) error {
		q := tx.q
		if _, err := q.ExecContext(ctx,
			`DELETE FROM catalog.product_attribute_options WHERE product_id = $1 AND attribute_id = $2;`,
			productID, attributeID); err != nil {
			return fmt.Errorf("store: SetProductOptions failed to clear options: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		query := `
			INSERT INTO catalog.product_attribute_options (product_id, attribute_id, attribute_option_id)
			SELECT $1, o.attribute_id, o.id
			FROM catalog.attribute_options o
			WHERE o.attribute_id = $2 AND o.id = ANY($3::bigint[]);
		`
		result, err := q.ExecContext(ctx, query, productID, attributeID, pq.Array(ids))
		if err != nil {
			if pqCode(err) == pqForeignKeyViolation {
				return ErrProductNotFound
			}
			return fmt.Errorf("store: SetProductOptions failed to insert options: %w", err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: SetProductOptions failed to get rows affected: %w", err)
		}
		if inserted != int64(len(ids)) {
			return fmt.Errorf("%w: %d of %d options belong to attribute %d", ErrAttributeNotFound, inserted, len(ids), attributeID)
		}
		return nil
	})
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
