package attrvalue

import (
	"fmt"

	"catalog-specs-service/internal/domain"
)

// ConflictStrategy decides between competing numbers mapped to one attribute.
type ConflictStrategy string

const (
	StrategyFirst ConflictStrategy = "first"
	StrategyMax   ConflictStrategy = "max"
	StrategyMin   ConflictStrategy = "min"
)

// ParseStrategy accepts "", first, max and min. An empty string means first.
func ParseStrategy(s string) (ConflictStrategy, error) {
	switch ConflictStrategy(s) {
	case "", StrategyFirst:
		return StrategyFirst, nil
	case StrategyMax, StrategyMin:
		return ConflictStrategy(s), nil
	}
	return "", fmt.Errorf("attrvalue: unknown number conflict strategy %q", s)
}

// Merged is the aggregate of several candidates for one attribute. Dropped lists
// candidates that disagreed with the kept value of a select, boolean or text attribute.
type Merged struct {
	Value   Candidate
	Dropped []Candidate
}

// Merge aggregates candidates in order of appearance: ranges merge into their envelope,
// multiselects into the union, numbers follow strategy, everything else keeps the first.
func Merge(candidates []Candidate, strategy ConflictStrategy) Merged {
	if len(candidates) == 0 {
		return Merged{}
	}
	out := Merged{Value: candidates[0]}
	out.Value.Options = append([]domain.ResolvedOption(nil), candidates[0].Options...)

	for _, c := range candidates[1:] {
		switch out.Value.Kind {
		case domain.KindNumber:
			if (strategy == StrategyMax && c.NumberSI > out.Value.NumberSI) ||
				(strategy == StrategyMin && c.NumberSI < out.Value.NumberSI) {
				out.Value.Number, out.Value.NumberSI, out.Value.Source = c.Number, c.NumberSI, c.Source
			}
		case domain.KindRange:
			if c.MinSI < out.Value.MinSI {
				out.Value.Min, out.Value.MinSI = c.Min, c.MinSI
			}
			if c.MaxSI > out.Value.MaxSI {
				out.Value.Max, out.Value.MaxSI = c.Max, c.MaxSI
			}
		case domain.KindMultiselect:
			out.Value.Options = unionOptions(out.Value.Options, c.Options)
		case domain.KindSelect:
			if len(out.Value.Options) == 0 {
				out.Value.Options, out.Value.Source = c.Options, c.Source
			} else if !sameOptionKeys(out.Value.Options, c.Options) {
				out.Dropped = append(out.Dropped, c)
			}
		case domain.KindBoolean:
			if c.Bool != out.Value.Bool {
				out.Dropped = append(out.Dropped, c)
			}
		case domain.KindText:
			if c.Text != out.Value.Text {
				out.Dropped = append(out.Dropped, c)
			}
		}
	}
	return out
}

func unionOptions(a, b []domain.ResolvedOption) []domain.ResolvedOption {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]domain.ResolvedOption, 0, len(a)+len(b))
	for _, list := range [][]domain.ResolvedOption{a, b} {
		for _, o := range list {
			if _, dup := seen[o.Key()]; dup {
				continue
			}
			seen[o.Key()] = struct{}{}
			out = append(out, o)
		}
	}
	return out
}

func sameOptionKeys(a, b []domain.ResolvedOption) bool {
	if len(a) != len(b) {
		return false
	}
	keys := make(map[string]struct{}, len(a))
	for _, o := range a {
		keys[o.Key()] = struct{}{}
	}
	for _, o := range b {
		if _, ok := keys[o.Key()]; !ok {
			return false
		}
	}
	return true
}
