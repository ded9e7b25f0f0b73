package attrvalue

import (
	"math"
	"sort"
	"strings"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/units"
)

const epsilon = 1e-9

func ptr[T any](v T) *T { return &v }

func near(p *float64, v float64) bool {
	return p != nil && math.Abs(*p-v) <= epsilon*math.Max(1, math.Abs(v))
}

// ToValue builds the PAV row for a non-option candidate.
func ToValue(productID, attributeID int64, c Candidate) domain.ProductAttributeValue {
	pav := domain.ProductAttributeValue{ProductID: productID, AttributeID: attributeID}
	switch c.Kind {
	case domain.KindText:
		pav.ValueText = ptr(c.Text)
	case domain.KindBoolean:
		pav.ValueBoolean = ptr(c.Bool)
	case domain.KindNumber:
		pav.ValueNumber, pav.ValueSI = ptr(c.Number), ptr(c.NumberSI)
	case domain.KindRange:
		pav.ValueMin, pav.ValueMax = ptr(c.Min), ptr(c.Max)
		pav.ValueMinSI, pav.ValueMaxSI = ptr(c.MinSI), ptr(c.MaxSI)
	}
	return pav
}

// HasValue reports whether a stored PAV carries a value for kind.
func HasValue(kind domain.AttributeKind, pav *domain.ProductAttributeValue) bool {
	if pav == nil {
		return false
	}
	switch kind {
	case domain.KindText:
		return pav.ValueText != nil && *pav.ValueText != ""
	case domain.KindBoolean:
		return pav.ValueBoolean != nil
	case domain.KindNumber:
		return pav.ValueNumber != nil || pav.ValueSI != nil
	case domain.KindRange:
		return pav.ValueMin != nil || pav.ValueMax != nil
	}
	return false
}

// SameValue reports whether writing c over stored would change nothing.
// Numbers are compared on their SI mirror.
func SameValue(stored *domain.ProductAttributeValue, c Candidate) bool {
	if stored == nil {
		return false
	}
	switch c.Kind {
	case domain.KindText:
		return stored.ValueText != nil && *stored.ValueText == c.Text
	case domain.KindBoolean:
		return stored.ValueBoolean != nil && *stored.ValueBoolean == c.Bool
	case domain.KindNumber:
		return near(stored.ValueSI, c.NumberSI) && near(stored.ValueNumber, c.Number)
	case domain.KindRange:
		return near(stored.ValueMinSI, c.MinSI) && near(stored.ValueMaxSI, c.MaxSI) &&
			near(stored.ValueMin, c.Min) && near(stored.ValueMax, c.Max)
	}
	return false
}

// SameOptions reports whether the stored option ids equal the candidate's set.
// A would-create option always counts as a change.
func SameOptions(stored []int64, c Candidate) bool {
	if len(stored) != len(c.Options) {
		return false
	}
	ids := make(map[int64]struct{}, len(stored))
	for _, id := range stored {
		ids[id] = struct{}{}
	}
	for _, o := range c.Options {
		if o.WouldCreate {
			return false
		}
		if _, ok := ids[o.ID]; !ok {
			return false
		}
	}
	return true
}

// OptionIDs lists the ids of existing options in c.
func OptionIDs(c Candidate) []int64 {
	ids := make([]int64, 0, len(c.Options))
	for _, o := range c.Options {
		if !o.WouldCreate {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Boolean labels used in exports.
const (
	LabelTrue  = "Да"
	LabelFalse = "Нет"
)

// FormatValue renders a stored PAV in the display unit with the schema's decimals.
func FormatValue(schema *domain.AttributeSchema, pav *domain.ProductAttributeValue) string {
	if !HasValue(schema.Kind, pav) {
		return ""
	}
	switch schema.Kind {
	case domain.KindText:
		return *pav.ValueText
	case domain.KindBoolean:
		if *pav.ValueBoolean {
			return LabelTrue
		}
		return LabelFalse
	case domain.KindNumber:
		return formatNumber(schema, pav.ValueNumber, pav.ValueSI)
	case domain.KindRange:
		lo := formatNumber(schema, pav.ValueMin, pav.ValueMinSI)
		hi := formatNumber(schema, pav.ValueMax, pav.ValueMaxSI)
		if lo == hi || hi == "" {
			return lo
		}
		if lo == "" {
			return hi
		}
		return lo + "-" + hi
	}
	return ""
}

func formatNumber(schema *domain.AttributeSchema, number, si *float64) string {
	decimals, rounding := schema.NumberFormat()
	display := schema.DisplayUnit()
	var v float64
	switch {
	case display != nil && si != nil:
		converted, err := units.FromSI(*si, *display)
		if err != nil {
			return ""
		}
		v = converted
	case number != nil:
		v = *number
	case si != nil:
		v = *si
	default:
		return ""
	}
	return units.Format(units.Quantize(v, decimals, rounding), decimals)
}

// FormatOptions joins option labels in vocabulary order.
func FormatOptions(index *OptionIndex, ids []int64) string {
	type labeled struct {
		sort  int
		label string
	}
	list := make([]labeled, 0, len(ids))
	for _, id := range ids {
		if o, ok := index.byID[id]; ok {
			list = append(list, labeled{o.SortOrder, o.Value})
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].sort < list[j].sort })
	labels := make([]string, len(list))
	for i, l := range list {
		labels[i] = l.label
	}
	return strings.Join(labels, "; ")
}
