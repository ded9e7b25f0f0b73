package attrvalue

import (
	"errors"
	"fmt"
	"strings"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/units"
	"catalog-specs-service/internal/valueparse"
)

// Candidate is a parsed value for one attribute, not yet compared with storage.
// Which fields are meaningful depends on Kind.
type Candidate struct {
	Kind     domain.AttributeKind
	Text     string
	Bool     bool
	Number   float64
	NumberSI float64
	Min      float64
	Max      float64
	MinSI    float64
	MaxSI    float64
	Options  []domain.ResolvedOption
	// Source names the spec or column the value came from.
	Source string
}

// ParseError is a row-level failure carrying the issue code to record.
type ParseError struct {
	Code   domain.IssueCode
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s (%q)", e.Code, e.Reason, e.Raw)
}

func parseFailed(raw, format string, args ...any) *ParseError {
	return &ParseError{Code: domain.IssueSpecValueParseFailed, Reason: fmt.Sprintf(format, args...), Raw: raw}
}

// UnitHint carries the unit sources that outrank the value's own token (Override)
// or rank below it (NameToken, taken from the spec name such as "Толщина, мм").
type UnitHint struct {
	Override  *domain.Unit
	NameToken string
}

// ParseNumeric parses a number or range value and converts it into the attribute's
// storage representation. Nothing is returned on failure so a row is never half written.
func ParseNumeric(schema *domain.AttributeSchema, raw string, hint UnitHint) (Candidate, error) {
	if !schema.Kind.IsNumeric() {
		return Candidate{}, parseFailed(raw, "attribute %d is %s", schema.Attribute.ID, schema.Kind)
	}
	numbers, token := valueparse.ParseNumbersWithUnit(raw)
	if len(numbers) == 0 {
		return Candidate{}, parseFailed(raw, "no number found")
	}

	input, err := inputUnit(schema, raw, token, hint)
	if err != nil {
		return Candidate{}, err
	}

	c := Candidate{Kind: schema.Kind}
	if schema.Kind == domain.KindNumber {
		c.Number, c.NumberSI, err = normalizeNumber(schema, numbers[0], input)
		if err != nil {
			return Candidate{}, parseFailed(raw, "%v", err)
		}
		return c, nil
	}

	lo, hi := numbers[0], numbers[0]
	if len(numbers) > 1 {
		hi = numbers[1]
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	if c.Min, c.MinSI, err = normalizeNumber(schema, lo, input); err != nil {
		return Candidate{}, parseFailed(raw, "%v", err)
	}
	if c.Max, c.MaxSI, err = normalizeNumber(schema, hi, input); err != nil {
		return Candidate{}, parseFailed(raw, "%v", err)
	}
	return c, nil
}

// inputUnit picks the unit the raw number is expressed in: explicit override, then the
// value's trailing token, then the spec name token, then the display unit.
func inputUnit(schema *domain.AttributeSchema, raw, token string, hint UnitHint) (*domain.Unit, error) {
	if hint.Override != nil {
		return hint.Override, nil
	}
	if len(schema.Units) == 0 {
		return nil, nil
	}
	if token != "" {
		u, err := units.ResolveByToken(schema.Units, token)
		switch {
		case err == nil:
			return u, nil
		case errors.Is(err, units.ErrUnitAmbiguous):
			return nil, &ParseError{Code: domain.IssueUnitAmbiguous, Reason: fmt.Sprintf("unit token %q is ambiguous", token), Raw: raw}
		default:
			return nil, parseFailed(raw, "unit token %q is not configured for attribute %d", token, schema.Attribute.ID)
		}
	}
	if hint.NameToken != "" {
		u, err := units.ResolveByToken(schema.Units, hint.NameToken)
		if err == nil {
			return u, nil
		}
		if errors.Is(err, units.ErrUnitAmbiguous) {
			return nil, &ParseError{Code: domain.IssueUnitAmbiguous, Reason: fmt.Sprintf("unit token %q in name is ambiguous", hint.NameToken), Raw: raw}
		}
	}
	return schema.DisplayUnit(), nil
}

// normalizeNumber quantizes v in the display unit and returns the base-unit number
// together with its SI mirror.
func normalizeNumber(schema *domain.AttributeSchema, v float64, input *domain.Unit) (number, si float64, err error) {
	decimals, rounding := schema.NumberFormat()
	display := schema.DisplayUnit()

	if input == nil {
		v = units.Quantize(v, decimals, rounding)
		return v, v, nil
	}
	if display != nil && display.ID != input.ID {
		if v, err = units.Convert(v, *input, *display); err != nil {
			return 0, 0, err
		}
		input = display
	}
	v = units.Quantize(v, decimals, rounding)
	si = units.ToSI(v, *input)

	base := schema.BaseUnit
	switch {
	case base == nil:
		return si, si, nil
	case base.ID == input.ID:
		return v, si, nil
	}
	number, err = units.FromSI(si, *base)
	if err != nil {
		return 0, 0, err
	}
	return number, si, nil
}

// ParseBoolean parses a boolean attribute value.
func ParseBoolean(raw string) (Candidate, error) {
	v, ok := valueparse.ParseBoolean(raw)
	if !ok {
		return Candidate{}, parseFailed(raw, "not a boolean")
	}
	return Candidate{Kind: domain.KindBoolean, Bool: v}, nil
}

// ParseText keeps the value with whitespace collapsed.
func ParseText(raw string) (Candidate, error) {
	text := strings.Join(strings.Fields(raw), " ")
	if text == "" {
		return Candidate{}, parseFailed(raw, "empty text")
	}
	return Candidate{Kind: domain.KindText, Text: text}, nil
}

// Options wraps resolved options as a candidate. A select keeps only the first.
func Options(kind domain.AttributeKind, resolved []domain.ResolvedOption) Candidate {
	if kind == domain.KindSelect && len(resolved) > 1 {
		resolved = resolved[:1]
	}
	return Candidate{Kind: kind, Options: resolved}
}
