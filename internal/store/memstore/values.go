package memstore

import (
	"context"
	"sort"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/store"
)

// --- ValueStorer ---

func (s *Store) ListProductValues(ctx context.Context, productID int64) ([]domain.ProductAttributeValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListProductValues"); err != nil {
		return nil, err
	}
	var list []domain.ProductAttributeValue
	for k, v := range s.data.values {
		if k.productID == productID {
			list = append(list, v)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AttributeID < list[j].AttributeID })
	return list, nil
}

func (s *Store) UpsertProductValue(ctx context.Context, value *domain.ProductAttributeValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertProductValue"); err != nil {
		return err
	}
	if _, ok := s.data.products[value.ProductID]; !ok {
		return store.ErrProductNotFound
	}
	if _, ok := s.data.attributes[value.AttributeID]; !ok {
		return store.ErrAttributeNotFound
	}
	v := *value
	v.UpdatedAt = s.timestamp()
	s.data.values[valueKey{v.ProductID, v.AttributeID}] = v
	value.UpdatedAt = v.UpdatedAt
	return nil
}

func (s *Store) DeleteProductValue(ctx context.Context, productID, attributeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteProductValue"); err != nil {
		return err
	}
	delete(s.data.values, valueKey{productID, attributeID})
	return nil
}

func (s *Store) ListProductOptions(ctx context.Context, productID int64) ([]domain.ProductAttributeOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListProductOptions"); err != nil {
		return nil, err
	}
	var list []domain.ProductAttributeOption
	for k, ids := range s.data.productOptions {
		if k.productID != productID {
			continue
		}
		for _, id := range ids {
			list = append(list, domain.ProductAttributeOption{ProductID: productID, AttributeID: k.attributeID, AttributeOptionID: id})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].AttributeID != list[j].AttributeID {
			return list[i].AttributeID < list[j].AttributeID
		}
		return list[i].AttributeOptionID < list[j].AttributeOptionID
	})
	return list, nil
}

func (s *Store) SetProductOptions(ctx context.Context, productID, attributeID int64, optionIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetProductOptions"); err != nil {
		return err
	}
	key := valueKey{productID, attributeID}
	if len(optionIDs) == 0 {
		delete(s.data.productOptions, key)
		return nil
	}
	if _, ok := s.data.products[productID]; !ok {
		return store.ErrProductNotFound
	}
	ids := make([]int64, 0, len(optionIDs))
	for _, id := range optionIDs {
		o, ok := s.data.options[id]
		if !ok || o.AttributeID != attributeID {
			return store.ErrAttributeNotFound
		}
		if !containsID(ids, id) {
			ids = append(ids, id)
		}
	}
	s.data.productOptions[key] = ids
	return nil
}
