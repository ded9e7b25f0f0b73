package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/inference"
)

func TestBuildAttributeCreationSuggestions(t *testing.T) {
	ctx := context.Background()
	s := newCatalog(t)
	s.AddProduct(domain.Product{ID: 600, Specs: []domain.Spec{
		spec("Мощность, кВт", "2,2"), spec("Страна", "Китай"), spec("Давление", "8 бар"), spec("Масса", "12 кг"),
	}}, catCompressor)
	s.AddProduct(domain.Product{ID: 601, Specs: []domain.Spec{spec("Мощность, кВт", "3"), spec("Страна", "Китай")}}, catCompressor)
	s.AddProduct(domain.Product{ID: 602, Specs: []domain.Spec{spec("Мощность, кВт", "5,5"), spec("Страна", "Германия")}}, catCompressor)

	engine := NewEngine(s, nil, EngineConfig{})
	suggestions, err := engine.BuildAttributeCreationSuggestions(ctx, []int64{600, 601, 602, 999}, catCompressor)
	require.NoError(t, err)
	require.Len(t, suggestions, 3)

	power := suggestions[0]
	assert.Equal(t, "Мощность, кВт", power.SpecName)
	assert.Equal(t, 3, power.Frequency)
	assert.Equal(t, []string{"2,2", "3", "5,5"}, power.SampleValues)
	assert.Equal(t, domain.DataTypeNumber, power.SuggestedDataType)
	assert.Equal(t, inference.ConfidenceHigh, power.Confidence)
	require.NotNil(t, power.SuggestedUnitID)
	assert.Equal(t, unitKW, *power.SuggestedUnitID)
	assert.Equal(t, inference.ConfidenceHigh, *power.SuggestedUnitConfidence)
	assert.Nil(t, power.ExistingAttributeID)
	assert.Equal(t, DecisionCreateAttribute, power.SuggestedDecision)

	country := suggestions[1]
	assert.Equal(t, "страна", country.NormalizedName)
	assert.Equal(t, []string{"Китай", "Германия"}, country.SampleValues)
	assert.Equal(t, domain.InputTypeSelect, country.SuggestedInputType)
	assert.Equal(t, inference.ConfidenceMedium, country.Confidence)

	mass := suggestions[2]
	require.NotNil(t, mass.ExistingAttributeID)
	assert.Equal(t, attrMass, *mass.ExistingAttributeID)
	assert.Equal(t, DecisionLinkExisting, mass.SuggestedDecision)

	values, err := s.ListProductValues(ctx, 600)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestBuildAttributeCreationSuggestions_NotLeaf(t *testing.T) {
	_, err := NewEngine(newCatalog(t), nil, EngineConfig{}).BuildAttributeCreationSuggestions(context.Background(), nil, catRoot)
	assert.ErrorIs(t, err, ErrTargetCategoryNotLeaf)
}
