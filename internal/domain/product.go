package domain

import (
	"fmt"
	"time"
)

// Category represents a node of the catalog category tree.
// Only leaf categories carry attribute bindings used for filtering.
type Category struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	ParentCategoryID *int64    `json:"parent_category_id,omitempty"`
	IsLeaf           bool      `json:"is_leaf"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SpecSource tells where a raw spec pair was scraped or imported from.
type SpecSource string

const (
	SpecSourceManual  SpecSource = "manual"
	SpecSourceJSONLD  SpecSource = "jsonld"
	SpecSourceInertia SpecSource = "inertia"
	SpecSourceDOM     SpecSource = "dom"
	SpecSourceImport  SpecSource = "import"
	SpecSourceLegacy  SpecSource = "legacy"
)

// Spec is one unstructured "name: value" pair stored on a product.
type Spec struct {
	Name   string     `json:"name"`
	Value  string     `json:"value"`
	Source SpecSource `json:"source,omitempty"`
}

// Product represents a product in the catalog together with its raw specs.
// Specs keep their stored order and may contain duplicate names.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Specs     []Spec    `json:"specs"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductCategory is a product's membership in a category.
type ProductCategory struct {
	ProductID  int64 `json:"product_id"`
	CategoryID int64 `json:"category_id"`
	IsPrimary  bool  `json:"is_primary"`
}

// ProductAttributeValue holds the typed value of a non-option attribute.
// The *SI fields mirror the value normalized to the SI base for unit-agnostic comparison.
type ProductAttributeValue struct {
	ProductID    int64     `json:"product_id"`
	AttributeID  int64     `json:"attribute_id"`
	ValueText    *string   `json:"value_text,omitempty"`
	ValueBoolean *bool     `json:"value_boolean,omitempty"`
	ValueNumber  *float64  `json:"value_number,omitempty"`
	ValueSI      *float64  `json:"value_si,omitempty"`
	ValueMin     *float64  `json:"value_min,omitempty"`
	ValueMax     *float64  `json:"value_max,omitempty"`
	ValueMinSI   *float64  `json:"value_min_si,omitempty"`
	ValueMaxSI   *float64  `json:"value_max_si,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProductAttributeOption links a product to one option of an option attribute.
type ProductAttributeOption struct {
	ProductID         int64 `json:"product_id"`
	AttributeID       int64 `json:"attribute_id"`
	AttributeOptionID int64 `json:"attribute_option_id"`
}

// ResolvedOption is an option label resolved against the option vocabulary.
// It is either an existing option (ID > 0) or a label that a dry run would create.
type ResolvedOption struct {
	ID          int64
	Label       string
	WouldCreate bool
}

// ExistingOption wraps a stored option.
func ExistingOption(o AttributeOption) ResolvedOption {
	return ResolvedOption{ID: o.ID, Label: o.Value}
}

// WouldCreateOption marks a label that is not stored yet.
func WouldCreateOption(label string) ResolvedOption {
	return ResolvedOption{Label: label, WouldCreate: true}
}

// Key identifies the option so existing ids and pending labels never collide.
func (o ResolvedOption) Key() string {
	if o.WouldCreate {
		return "new:" + o.Label
	}
	return fmt.Sprintf("id:%d", o.ID)
}

// CellIntent distinguishes "leave as is", "delete" and "write" for an incoming value.
type CellIntent int

const (
	IntentUnchanged CellIntent = iota
	IntentClear
	IntentSet
)

// Cell is a raw incoming value with its intent made explicit.
type Cell struct {
	Intent CellIntent
	Raw    string
}
