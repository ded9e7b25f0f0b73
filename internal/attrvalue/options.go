package attrvalue

import (
	"context"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/textnorm"
)

// OptionCreator atomically finds or inserts an option keyed on (attribute_id, value).
type OptionCreator interface {
	FirstOrCreateOption(ctx context.Context, attributeID int64, value string, sortOrder int) (*domain.AttributeOption, bool, error)
}

// OptionIndex is the normalized-label lookup of one attribute's vocabulary.
// It is built once per run and grows as options are created.
type OptionIndex struct {
	attributeID int64
	byLabel     map[string]domain.AttributeOption
	byID        map[int64]domain.AttributeOption
	pending     map[string]struct{}
	nextSort    int
}

// NewOptionIndex indexes options, first label wins.
func NewOptionIndex(attributeID int64, options []domain.AttributeOption) *OptionIndex {
	idx := &OptionIndex{
		attributeID: attributeID,
		byLabel:     make(map[string]domain.AttributeOption, len(options)),
		byID:        make(map[int64]domain.AttributeOption, len(options)),
		pending:     make(map[string]struct{}),
		nextSort:    1,
	}
	for _, o := range options {
		idx.Add(o)
	}
	return idx
}

// Add registers an option and advances the next free sort order.
func (x *OptionIndex) Add(o domain.AttributeOption) {
	key := textnorm.Normalize(o.Value)
	if _, exists := x.byLabel[key]; !exists && key != "" {
		x.byLabel[key] = o
	}
	x.byID[o.ID] = o
	delete(x.pending, key)
	if o.SortOrder >= x.nextSort {
		x.nextSort = o.SortOrder + 1
	}
}

// Lookup finds an option by label.
func (x *OptionIndex) Lookup(label string) (domain.AttributeOption, bool) {
	o, ok := x.byLabel[textnorm.Normalize(label)]
	return o, ok
}

// Label returns the stored label of an option id.
func (x *OptionIndex) Label(id int64) (string, bool) {
	o, ok := x.byID[id]
	return o.Value, ok
}

// NextSortOrder is the sort order an auto-created option receives.
func (x *OptionIndex) NextSortOrder() int {
	return x.nextSort
}

// Resolution is the outcome of resolving option labels.
type Resolution struct {
	Options []domain.ResolvedOption
	Created []string
	Missing []string
}

// Resolve maps labels to options. Unknown labels are missing unless autoCreate is set;
// then a dry run reports them as would-create and a real run creates them through creator.
func (x *OptionIndex) Resolve(ctx context.Context, labels []string, autoCreate, dryRun bool, creator OptionCreator) (Resolution, error) {
	var res Resolution
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		key := textnorm.Normalize(label)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if o, ok := x.byLabel[key]; ok {
			res.Options = append(res.Options, domain.ExistingOption(o))
			continue
		}
		if !autoCreate {
			res.Missing = append(res.Missing, label)
			continue
		}
		if dryRun || creator == nil {
			if _, already := x.pending[key]; !already {
				x.pending[key] = struct{}{}
				res.Created = append(res.Created, label)
			}
			res.Options = append(res.Options, domain.WouldCreateOption(key))
			continue
		}
		o, created, err := creator.FirstOrCreateOption(ctx, x.attributeID, label, x.nextSort)
		if err != nil {
			return res, err
		}
		x.Add(*o)
		if created {
			res.Created = append(res.Created, label)
		}
		res.Options = append(res.Options, domain.ExistingOption(*o))
	}
	return res, nil
}
