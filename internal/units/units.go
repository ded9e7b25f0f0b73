// Package units converts between display units and SI base values.
package units

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/textnorm"
)

var (
	ErrDivisionByZero = errors.New("units: si_factor is zero")
	ErrUnitAmbiguous  = errors.New("units: token matches more than one unit")
	ErrUnitNotFound   = errors.New("units: token matches no unit")
)

// ToSI converts a raw value in unit u to its SI value.
func ToSI(value float64, u domain.Unit) float64 {
	return value*u.SIFactor + u.SIOffset
}

// FromSI converts an SI value back into unit u.
func FromSI(si float64, u domain.Unit) (float64, error) {
	if u.SIFactor == 0 {
		return 0, fmt.Errorf("%w: unit %d (%s)", ErrDivisionByZero, u.ID, u.Symbol)
	}
	return (si - u.SIOffset) / u.SIFactor, nil
}

// Convert re-expresses value from unit from into unit to.
func Convert(value float64, from, to domain.Unit) (float64, error) {
	return FromSI(ToSI(value, from), to)
}

// Matches reports whether the normalized token names unit u by symbol, name or base symbol.
func Matches(u domain.Unit, key string) bool {
	if key == "" {
		return false
	}
	if textnorm.UnitKey(u.Symbol) == key || textnorm.UnitKey(u.Name) == key {
		return true
	}
	return u.BaseSymbol != nil && textnorm.UnitKey(*u.BaseSymbol) == key
}

// ResolveByToken finds the single unit among candidates named by token.
// Zero matches yield ErrUnitNotFound and several yield ErrUnitAmbiguous; a token is never guessed.
func ResolveByToken(candidates []domain.Unit, token string) (*domain.Unit, error) {
	key := textnorm.UnitKey(token)
	if key == "" {
		return nil, ErrUnitNotFound
	}
	var found *domain.Unit
	seen := make(map[int64]struct{}, len(candidates))
	for i := range candidates {
		u := &candidates[i]
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		if !Matches(*u, key) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnitAmbiguous, token)
		}
		found = u
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnitNotFound, token)
	}
	return found, nil
}

// Quantize rounds value to decimals places with the given mode. Nil decimals leaves it untouched.
func Quantize(value float64, decimals *int, mode domain.Rounding) float64 {
	if decimals == nil {
		return value
	}
	d := decimal.NewFromFloat(value)
	places := int32(*decimals)
	switch mode {
	case domain.RoundingFloor:
		d = d.RoundFloor(places)
	case domain.RoundingCeil:
		d = d.RoundCeil(places)
	default:
		d = d.Round(places)
	}
	f, _ := d.Float64()
	return f
}

// Format renders value with a fixed number of decimals, or in shortest form when decimals is nil.
func Format(value float64, decimals *int) string {
	d := decimal.NewFromFloat(value)
	if decimals == nil {
		return d.String()
	}
	return d.StringFixed(int32(*decimals))
}
