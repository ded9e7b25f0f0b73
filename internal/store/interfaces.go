package store

import (
	"context"
	"time"

	"catalog-specs-service/internal/domain"
)

// CategoryStorer defines the category operations the matching engine needs.
type CategoryStorer interface {
	GetCategoryByID(ctx context.Context, id int64) (*domain.Category, error)
	ListCategoryAttributes(ctx context.Context, categoryID int64) ([]domain.CategoryAttribute, error)
	// AttachAttributeToCategory is idempotent: an existing binding is left untouched.
	AttachAttributeToCategory(ctx context.Context, binding domain.CategoryAttribute) error
}

// AttributeStorer defines the attribute, unit and option schema operations.
type AttributeStorer interface {
	GetAttributeByID(ctx context.Context, id int64) (*domain.Attribute, error)
	ListAttributes(ctx context.Context) ([]domain.Attribute, error)
	CreateAttribute(ctx context.Context, attribute *domain.Attribute) (*domain.Attribute, error)
	// ListAttributeUnits returns the base unit followed by explicitly attached units.
	ListAttributeUnits(ctx context.Context, attributeID int64) ([]domain.Unit, error)
	AttachUnitsToAttribute(ctx context.Context, attributeID int64, unitIDs []int64) error
	GetUnitByID(ctx context.Context, id int64) (*domain.Unit, error)
	ListUnits(ctx context.Context) ([]domain.Unit, error)
	ListAttributeOptions(ctx context.Context, attributeID int64) ([]domain.AttributeOption, error)
	// FirstOrCreateOption atomically finds or inserts the (attribute_id, value) option.
	FirstOrCreateOption(ctx context.Context, attributeID int64, value string, sortOrder int) (*domain.AttributeOption, bool, error)
}

// ProductStorer defines product reads and category membership changes.
type ProductStorer interface {
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	ListCategoryProductIDs(ctx context.Context, categoryID int64) ([]int64, error)
	ListProductCategories(ctx context.Context, productID int64) ([]domain.ProductCategory, error)
	AddProductCategory(ctx context.Context, productID, categoryID int64, primary bool) error
	RemoveProductCategory(ctx context.Context, productID, categoryID int64) error
	SetPrimaryCategory(ctx context.Context, productID, categoryID int64) error
	// TouchProduct bumps updated_at. With a non-nil expected timestamp it fails with
	// ErrStaleSnapshot when the stored updated_at differs.
	TouchProduct(ctx context.Context, productID int64, expected *time.Time) (time.Time, error)
}

// ValueStorer defines typed product attribute value operations.
type ValueStorer interface {
	ListProductValues(ctx context.Context, productID int64) ([]domain.ProductAttributeValue, error)
	UpsertProductValue(ctx context.Context, value *domain.ProductAttributeValue) error
	DeleteProductValue(ctx context.Context, productID, attributeID int64) error
	ListProductOptions(ctx context.Context, productID int64) ([]domain.ProductAttributeOption, error)
	// SetProductOptions replaces the full option set of one attribute. An empty set clears it.
	SetProductOptions(ctx context.Context, productID, attributeID int64, optionIDs []int64) error
}

// ListIssuesParams holds parameters for browsing the issues of a run.
type ListIssuesParams struct {
	RunID    int64
	Limit    int
	Offset   int
	Severity *domain.Severity
	Code     *domain.IssueCode
}

// RunStorer defines the ImportRun/ImportIssue audit trail.
type RunStorer interface {
	CreateImportRun(ctx context.Context, run *domain.ImportRun) (*domain.ImportRun, error)
	GetImportRun(ctx context.Context, id int64) (*domain.ImportRun, error)
	UpdateImportRun(ctx context.Context, run *domain.ImportRun) error
	AddImportIssue(ctx context.Context, issue *domain.ImportIssue) error
	ListImportIssues(ctx context.Context, params ListIssuesParams) ([]domain.ImportIssue, int, error)
}

// Store is the full persistence surface. InTx runs fn against a transactional view
// that commits when fn returns nil and rolls back otherwise.
type Store interface {
	CategoryStorer
	AttributeStorer
	ProductStorer
	ValueStorer
	RunStorer
	InTx(ctx context.Context, fn func(tx Store) error) error
}
