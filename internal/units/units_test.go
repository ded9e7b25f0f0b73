package units

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-specs-service/internal/domain"
)

func PtrTo[T any](v T) *T {
	return &v
}

var (
	pascal  = domain.Unit{ID: 1, Name: "Паскаль", Symbol: "Па", BaseSymbol: PtrTo("Pa"), Dimension: "pressure", SIFactor: 1}
	bar     = domain.Unit{ID: 2, Name: "бар", Symbol: "bar", Dimension: "pressure", SIFactor: 100000}
	celsius = domain.Unit{ID: 3, Name: "градус Цельсия", Symbol: "°C", Dimension: "temperature", SIFactor: 1, SIOffset: 273.15}
	cubicM  = domain.Unit{ID: 4, Name: "кубический метр", Symbol: "м³", Dimension: "volume", SIFactor: 1}
)

func TestRoundTrip(t *testing.T) {
	values := []float64{0, 1, -40, 6.2, 0.000123, 123456.789}
	for _, u := range []domain.Unit{pascal, bar, celsius, cubicM} {
		for _, v := range values {
			back, err := FromSI(ToSI(v, u), u)
			require.NoError(t, err)
			assert.InDelta(t, v, back, 1e-6, "unit %s value %v", u.Symbol, v)
		}
	}
}

func TestToSI(t *testing.T) {
	assert.InDelta(t, 620000.0, ToSI(6.2, bar), 1e-9)
	assert.InDelta(t, 293.15, ToSI(20, celsius), 1e-9)
}

func TestFromSI_DivisionByZero(t *testing.T) {
	_, err := FromSI(10, domain.Unit{ID: 9, Symbol: "x", SIFactor: 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDivisionByZero))
}

func TestConvert(t *testing.T) {
	v, err := Convert(6.2, bar, pascal)
	require.NoError(t, err)
	assert.InDelta(t, 620000.0, v, 1e-6)
}

func TestResolveByToken(t *testing.T) {
	candidates := []domain.Unit{pascal, bar, cubicM}

	u, err := ResolveByToken(candidates, "BAR")
	require.NoError(t, err)
	assert.Equal(t, bar.ID, u.ID)

	u, err = ResolveByToken(candidates, "pa")
	require.NoError(t, err)
	assert.Equal(t, pascal.ID, u.ID, "base symbol matches")

	u, err = ResolveByToken(candidates, "м3")
	require.NoError(t, err)
	assert.Equal(t, cubicM.ID, u.ID, "superscript folded on both sides")

	_, err = ResolveByToken(candidates, "кг")
	assert.True(t, errors.Is(err, ErrUnitNotFound))

	_, err = ResolveByToken(candidates, "")
	assert.True(t, errors.Is(err, ErrUnitNotFound))
}

func TestResolveByToken_Ambiguous(t *testing.T) {
	meter := domain.Unit{ID: 10, Name: "метр", Symbol: "м", Dimension: "length", SIFactor: 1}
	minute := domain.Unit{ID: 11, Name: "минута", Symbol: "м", Dimension: "time", SIFactor: 60}

	_, err := ResolveByToken([]domain.Unit{meter, minute}, "м")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnitAmbiguous))

	u, err := ResolveByToken([]domain.Unit{meter, meter}, "м")
	require.NoError(t, err, "the same unit listed twice is not ambiguous")
	assert.Equal(t, meter.ID, u.ID)
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		decimals *int
		mode     domain.Rounding
		expected float64
	}{
		{name: "nil decimals untouched", value: 6.25, decimals: nil, mode: domain.RoundingRound, expected: 6.25},
		{name: "round half up", value: 6.25, decimals: PtrTo(1), mode: domain.RoundingRound, expected: 6.3},
		{name: "floor", value: 6.29, decimals: PtrTo(1), mode: domain.RoundingFloor, expected: 6.2},
		{name: "ceil", value: 6.21, decimals: PtrTo(1), mode: domain.RoundingCeil, expected: 6.3},
		{name: "zero decimals", value: 2.5, decimals: PtrTo(0), mode: domain.RoundingRound, expected: 3},
		{name: "already quantized", value: 6.2, decimals: PtrTo(1), mode: domain.RoundingRound, expected: 6.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Quantize(tt.value, tt.decimals, tt.mode), 1e-12)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "6.2", Format(6.2, nil))
	assert.Equal(t, "6.20", Format(6.2, PtrTo(2)))
	assert.Equal(t, "620000", Format(620000, nil))
}
