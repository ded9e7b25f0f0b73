// Package inference guesses an attribute type and unit for spec names that have no attribute yet.
package inference

import (
	"math"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/textnorm"
	"catalog-specs-service/internal/units"
	"catalog-specs-service/internal/valueparse"
)

// MaxSamples bounds both the sampled values and the observed unit tokens.
const MaxSamples = 25

// Confidence grades a suggestion for the reviewing administrator.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// TypeGuess is the inferred attribute shape.
type TypeGuess struct {
	DataType   domain.DataType  `json:"data_type"`
	InputType  domain.InputType `json:"input_type"`
	Confidence Confidence       `json:"confidence"`
}

// InferType applies the first matching rule: all boolean, mostly ranges, mostly numbers,
// a small option vocabulary, and finally free text.
func InferType(samples []string) TypeGuess {
	if len(samples) > MaxSamples {
		samples = samples[:MaxSamples]
	}
	total := len(samples)
	if total == 0 {
		return TypeGuess{DataType: domain.DataTypeText, InputType: domain.InputTypeText, Confidence: ConfidenceLow}
	}

	var booleanHits, rangeHits, numberHits int
	multiToken := false
	distinct := make(map[string]struct{})
	for _, v := range samples {
		if _, ok := valueparse.ParseBoolean(v); ok {
			booleanHits++
		}
		if valueparse.LooksLikeRange(v) {
			rangeHits++
		} else if valueparse.IsBareNumber(v) {
			numberHits++
		}
		candidates := valueparse.ExtractOptionCandidates(v)
		if len(candidates) > 1 {
			multiToken = true
		}
		for _, c := range candidates {
			distinct[textnorm.Normalize(c)] = struct{}{}
		}
	}

	n := float64(total)
	switch {
	case booleanHits == total:
		return TypeGuess{DataType: domain.DataTypeBoolean, InputType: domain.InputTypeBoolean, Confidence: ConfidenceHigh}
	case float64(rangeHits)/n >= 0.6:
		return TypeGuess{DataType: domain.DataTypeRange, InputType: domain.InputTypeRange, Confidence: fullOrMedium(rangeHits, total)}
	case float64(numberHits)/n >= 0.7:
		return TypeGuess{DataType: domain.DataTypeNumber, InputType: domain.InputTypeNumber, Confidence: fullOrMedium(numberHits, total)}
	}

	limit := int(math.Max(6, math.Ceil(0.6*n)))
	if total >= 2 && len(distinct) >= 1 && len(distinct) <= limit {
		input := domain.InputTypeSelect
		if multiToken {
			input = domain.InputTypeMultiselect
		}
		return TypeGuess{DataType: domain.DataTypeText, InputType: input, Confidence: ConfidenceMedium}
	}
	return TypeGuess{DataType: domain.DataTypeText, InputType: domain.InputTypeText, Confidence: ConfidenceLow}
}

func fullOrMedium(hits, total int) Confidence {
	if hits == total {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}

// UnitGuess is a suggested base unit for a numeric attribute.
type UnitGuess struct {
	Unit       domain.Unit `json:"unit"`
	Coverage   float64     `json:"coverage"`
	Confidence Confidence  `json:"confidence"`
}

// SuggestUnit scores units by how many observed tokens name them. The top unit is
// suggested only with coverage >= 0.6 and a strictly higher score than the runner-up.
func SuggestUnit(tokens []string, candidates []domain.Unit) *UnitGuess {
	keys := make([]string, 0, MaxSamples)
	for _, tok := range tokens {
		if k := textnorm.UnitKey(tok); k != "" {
			keys = append(keys, k)
		}
		if len(keys) == MaxSamples {
			break
		}
	}
	if len(keys) == 0 || len(candidates) == 0 {
		return nil
	}

	scores := make([]int, len(candidates))
	for i, u := range candidates {
		for _, k := range keys {
			if units.Matches(u, k) {
				scores[i]++
			}
		}
	}

	best, runnerUp := -1, 0
	for i, s := range scores {
		if best < 0 || s > scores[best] {
			if best >= 0 {
				runnerUp = scores[best]
			}
			best = i
		} else if s > runnerUp {
			runnerUp = s
		}
	}
	if best < 0 || scores[best] == 0 || scores[best] <= runnerUp {
		return nil
	}

	coverage := float64(scores[best]) / float64(len(keys))
	switch {
	case coverage >= 0.8:
		return &UnitGuess{Unit: candidates[best], Coverage: coverage, Confidence: ConfidenceHigh}
	case coverage >= 0.6:
		return &UnitGuess{Unit: candidates[best], Coverage: coverage, Confidence: ConfidenceMedium}
	}
	return nil
}
