package domain

import (
	"errors"
	"fmt"
	"time"
)

// DataType is the storage type of an attribute value.
type DataType string

const (
	DataTypeText    DataType = "text"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeRange   DataType = "range"
)

// InputType is how an attribute value is entered and filtered.
type InputType string

const (
	InputTypeText        InputType = "text"
	InputTypeSelect      InputType = "select"
	InputTypeMultiselect InputType = "multiselect"
	InputTypeNumber      InputType = "number"
	InputTypeBoolean     InputType = "boolean"
	InputTypeRange       InputType = "range"
)

// Rounding is the quantization mode applied to numeric input.
type Rounding string

const (
	RoundingRound Rounding = "round"
	RoundingFloor Rounding = "floor"
	RoundingCeil  Rounding = "ceil"
)

// ErrIncompatibleInputType is returned when an input type cannot carry a data type.
var ErrIncompatibleInputType = errors.New("domain: input type is incompatible with data type")

// AttributeKind is the closed set of attribute shapes the matching pipeline dispatches on.
type AttributeKind int

const (
	KindText AttributeKind = iota + 1
	KindNumber
	KindBoolean
	KindRange
	KindSelect
	KindMultiselect
)

func (k AttributeKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindRange:
		return "range"
	case KindSelect:
		return "select"
	case KindMultiselect:
		return "multiselect"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsOption reports whether values of this kind are stored as option links.
func (k AttributeKind) IsOption() bool {
	return k == KindSelect || k == KindMultiselect
}

// IsNumeric reports whether values of this kind carry numbers and units.
func (k AttributeKind) IsNumeric() bool {
	return k == KindNumber || k == KindRange
}

// KindOf derives the attribute kind from a data type and input type pair.
func KindOf(dt DataType, it InputType) (AttributeKind, error) {
	switch dt {
	case DataTypeText:
		switch it {
		case InputTypeSelect:
			return KindSelect, nil
		case InputTypeMultiselect:
			return KindMultiselect, nil
		case InputTypeText:
			return KindText, nil
		}
	case DataTypeNumber:
		if it == InputTypeNumber {
			return KindNumber, nil
		}
	case DataTypeBoolean:
		if it == InputTypeBoolean {
			return KindBoolean, nil
		}
	case DataTypeRange:
		if it == InputTypeRange {
			return KindRange, nil
		}
	}
	return 0, fmt.Errorf("%w: data_type=%q input_type=%q", ErrIncompatibleInputType, dt, it)
}

// NormalizeInputType fills in the input type for attributes created from specs.
// Text attributes are always option based, so a legacy "text" input becomes multiselect.
func NormalizeInputType(dt DataType, it InputType) InputType {
	switch dt {
	case DataTypeText:
		if it == "" || it == InputTypeText {
			return InputTypeMultiselect
		}
	case DataTypeNumber:
		if it == "" {
			return InputTypeNumber
		}
	case DataTypeBoolean:
		if it == "" {
			return InputTypeBoolean
		}
	case DataTypeRange:
		if it == "" {
			return InputTypeRange
		}
	}
	return it
}

// Unit is a measurement unit convertible to SI through si = raw*SIFactor + SIOffset.
type Unit struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Symbol     string  `json:"symbol"`
	BaseSymbol *string `json:"base_symbol,omitempty"`
	Dimension  string  `json:"dimension"`
	SIFactor   float64 `json:"si_factor"`
	SIOffset   float64 `json:"si_offset"`
}

// Attribute is a typed catalog field that specs are matched against.
type Attribute struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	DataType       DataType  `json:"data_type"`
	InputType      InputType `json:"input_type"`
	UnitID         *int64    `json:"unit_id,omitempty"` // base unit
	NumberDecimals *int      `json:"number_decimals,omitempty"`
	NumberRounding Rounding  `json:"number_rounding,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Kind returns the attribute's shape or an error for an invalid type pair.
func (a Attribute) Kind() (AttributeKind, error) {
	return KindOf(a.DataType, a.InputType)
}

// AttributeOption is one label in an option attribute's vocabulary.
type AttributeOption struct {
	ID          int64  `json:"id"`
	AttributeID int64  `json:"attribute_id"`
	Value       string `json:"value"`
	SortOrder   int    `json:"sort_order"`
}

// CategoryAttribute binds an attribute to a leaf category.
type CategoryAttribute struct {
	CategoryID       int64    `json:"category_id"`
	AttributeID      int64    `json:"attribute_id"`
	FilterOrder      int      `json:"filter_order"`
	DisplayUnitID    *int64   `json:"display_unit_id,omitempty"`
	NumberDecimals   *int     `json:"number_decimals,omitempty"`
	NumberRounding   Rounding `json:"number_rounding,omitempty"`
	VisibleInSpecs   bool     `json:"visible_in_specs"`
	VisibleInFilters bool     `json:"visible_in_filters"`
}

// AttributeSchema is an attribute resolved for one run: its kind, its convertible
// units and, when bound to the target category, the binding overrides.
type AttributeSchema struct {
	Attribute Attribute
	Kind      AttributeKind
	BaseUnit  *Unit
	Units     []Unit
	Binding   *CategoryAttribute
}

// DisplayUnit is the unit bare numbers are assumed to be entered in.
func (s *AttributeSchema) DisplayUnit() *Unit {
	if s.Binding != nil && s.Binding.DisplayUnitID != nil {
		if u := s.UnitByID(*s.Binding.DisplayUnitID); u != nil {
			return u
		}
	}
	return s.BaseUnit
}

// UnitByID finds a unit among the attribute's configured units.
func (s *AttributeSchema) UnitByID(id int64) *Unit {
	for i := range s.Units {
		if s.Units[i].ID == id {
			return &s.Units[i]
		}
	}
	return nil
}

// NumberFormat returns the decimals and rounding policy, category override first.
func (s *AttributeSchema) NumberFormat() (*int, Rounding) {
	decimals, rounding := s.Attribute.NumberDecimals, s.Attribute.NumberRounding
	if s.Binding != nil {
		if s.Binding.NumberDecimals != nil {
			decimals = s.Binding.NumberDecimals
		}
		if s.Binding.NumberRounding != "" {
			rounding = s.Binding.NumberRounding
		}
	}
	if rounding == "" {
		rounding = RoundingRound
	}
	return decimals, rounding
}
