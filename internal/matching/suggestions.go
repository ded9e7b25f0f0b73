package matching

import (
	"context"
	"errors"
	"sort"
	"strings"

	"catalog-specs-service/internal/attrvalue"
	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/inference"
	"catalog-specs-service/internal/store"
	"catalog-specs-service/internal/textnorm"
	"catalog-specs-service/internal/valueparse"
)

// Suggestion proposes how to handle a spec name that no category attribute matches.
type Suggestion struct {
	SpecName                string                `json:"spec_name"`
	NormalizedName          string                `json:"normalized_name"`
	Frequency               int                   `json:"frequency"`
	SampleValues            []string              `json:"sample_values"`
	SuggestedDataType       domain.DataType       `json:"suggested_data_type"`
	SuggestedInputType      domain.InputType      `json:"suggested_input_type"`
	Confidence              inference.Confidence  `json:"confidence"`
	SuggestedUnitID         *int64                `json:"suggested_unit_id"`
	SuggestedUnitConfidence *inference.Confidence `json:"suggested_unit_confidence"`
	ExistingAttributeID     *int64                `json:"existing_attribute_id"`
	SuggestedDecision       Decision              `json:"suggested_decision"`
}

type specStats struct {
	name       string
	key        string
	frequency  int
	samples    []string
	sampleKeys map[string]struct{}
	unitTokens []string
}

// BuildAttributeCreationSuggestions analyses the specs of productIDs that match no
// attribute of the target category. It never writes.
func (e *Engine) BuildAttributeCreationSuggestions(ctx context.Context, productIDs []int64, targetCategoryID int64) ([]Suggestion, error) {
	if err := e.checkTargetCategory(ctx, targetCategoryID); err != nil {
		return nil, err
	}
	schemas, err := attrvalue.LoadCategorySchemas(ctx, e.store, targetCategoryID)
	if err != nil {
		return nil, err
	}
	index := attrvalue.BuildAttributeIndex(schemas)

	stats := make(map[string]*specStats)
	for _, pid := range productIDs {
		product, err := e.store.GetProductByID(ctx, pid)
		if errors.Is(err, store.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, spec := range product.Specs {
			key := textnorm.Normalize(spec.Name)
			if key == "" {
				continue
			}
			if _, matched := index[key]; matched {
				continue
			}
			st, ok := stats[key]
			if !ok {
				st = &specStats{name: strings.TrimSpace(spec.Name), key: key, sampleKeys: make(map[string]struct{})}
				stats[key] = st
			}
			st.frequency++
			st.observe(spec)
		}
	}

	attributes, err := e.store.ListAttributes(ctx)
	if err != nil {
		return nil, err
	}
	global := attrvalue.BuildGlobalIndex(attributes)
	allUnits, err := e.store.ListUnits(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]*specStats, 0, len(stats))
	for _, st := range stats {
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].frequency != list[j].frequency {
			return list[i].frequency > list[j].frequency
		}
		return list[i].key < list[j].key
	})

	out := make([]Suggestion, 0, len(list))
	for _, st := range list {
		guess := inference.InferType(st.samples)
		sg := Suggestion{
			SpecName:           st.name,
			NormalizedName:     st.key,
			Frequency:          st.frequency,
			SampleValues:       st.samples,
			SuggestedDataType:  guess.DataType,
			SuggestedInputType: guess.InputType,
			Confidence:         guess.Confidence,
			SuggestedDecision:  DecisionCreateAttribute,
		}
		if guess.DataType == domain.DataTypeNumber || guess.DataType == domain.DataTypeRange {
			if ug := inference.SuggestUnit(st.unitTokens, allUnits); ug != nil {
				id, conf := ug.Unit.ID, ug.Confidence
				sg.SuggestedUnitID, sg.SuggestedUnitConfidence = &id, &conf
			}
		}
		if existing, ok := global[st.key]; ok {
			id := existing.ID
			sg.ExistingAttributeID = &id
			sg.SuggestedDecision = DecisionLinkExisting
		}
		out = append(out, sg)
	}
	return out, nil
}

func (st *specStats) observe(spec domain.Spec) {
	value := strings.TrimSpace(spec.Value)
	if value == "" {
		return
	}
	if len(st.samples) < inference.MaxSamples {
		if k := textnorm.Normalize(value); k != "" {
			if _, dup := st.sampleKeys[k]; !dup {
				st.sampleKeys[k] = struct{}{}
				st.samples = append(st.samples, value)
			}
		}
	}
	if len(st.unitTokens) < inference.MaxSamples {
		_, token := valueparse.ParseNumbersWithUnit(value)
		if token == "" {
			token = valueparse.NameUnitToken(spec.Name)
		}
		if token != "" {
			st.unitTokens = append(st.unitTokens, token)
		}
	}
}
