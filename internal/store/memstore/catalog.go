package memstore

import (
	"context"
	"sort"
	"time"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/store"
)

// --- AttributeStorer ---

func (s *Store) GetAttributeByID(ctx context.Context, id int64) (*domain.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("GetAttributeByID"); err != nil {
		return nil, err
	}
	a, ok := s.data.attributes[id]
	if !ok {
		return nil, store.ErrAttributeNotFound
	}
	return &a, nil
}

func (s *Store) ListAttributes(ctx context.Context) ([]domain.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListAttributes"); err != nil {
		return nil, err
	}
	list := make([]domain.Attribute, 0, len(s.data.attributes))
	for _, a := range s.data.attributes {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *Store) CreateAttribute(ctx context.Context, attribute *domain.Attribute) (*domain.Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateAttribute"); err != nil {
		return nil, err
	}
	for _, a := range s.data.attributes {
		if a.Name == attribute.Name {
			return nil, store.ErrAttributeExists
		}
	}
	if attribute.UnitID != nil {
		if _, ok := s.data.units[*attribute.UnitID]; !ok {
			return nil, store.ErrUnitNotFound
		}
	}
	created := *attribute
	created.ID = s.nextID(0)
	ts := s.timestamp()
	created.CreatedAt, created.UpdatedAt = ts, ts
	s.data.attributes[created.ID] = created
	return &created, nil
}

func (s *Store) ListAttributeUnits(ctx context.Context, attributeID int64) ([]domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListAttributeUnits"); err != nil {
		return nil, err
	}
	a, ok := s.data.attributes[attributeID]
	if !ok {
		return nil, store.ErrAttributeNotFound
	}
	ids := s.data.attributeUnits[attributeID]
	if a.UnitID != nil {
		ids = append([]int64{*a.UnitID}, ids...)
	}
	seen := make(map[int64]struct{}, len(ids))
	list := make([]domain.Unit, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := s.data.units[id]; ok {
			list = append(list, u)
		}
	}
	return list, nil
}

func (s *Store) AttachUnitsToAttribute(ctx context.Context, attributeID int64, unitIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AttachUnitsToAttribute"); err != nil {
		return err
	}
	if _, ok := s.data.attributes[attributeID]; !ok {
		return store.ErrAttributeNotFound
	}
	for _, id := range unitIDs {
		if _, ok := s.data.units[id]; !ok {
			return store.ErrUnitNotFound
		}
	}
	current := s.data.attributeUnits[attributeID]
	for _, id := range unitIDs {
		if !containsID(current, id) {
			current = append(current, id)
		}
	}
	s.data.attributeUnits[attributeID] = current
	return nil
}

func (s *Store) GetUnitByID(ctx context.Context, id int64) (*domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("GetUnitByID"); err != nil {
		return nil, err
	}
	u, ok := s.data.units[id]
	if !ok {
		return nil, store.ErrUnitNotFound
	}
	return &u, nil
}

func (s *Store) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListUnits"); err != nil {
		return nil, err
	}
	list := make([]domain.Unit, 0, len(s.data.units))
	for _, u := range s.data.units {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *Store) ListAttributeOptions(ctx context.Context, attributeID int64) ([]domain.AttributeOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListAttributeOptions"); err != nil {
		return nil, err
	}
	var list []domain.AttributeOption
	for _, o := range s.data.options {
		if o.AttributeID == attributeID {
			list = append(list, o)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].SortOrder != list[j].SortOrder {
			return list[i].SortOrder < list[j].SortOrder
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *Store) FirstOrCreateOption(ctx context.Context, attributeID int64, value string, sortOrder int) (*domain.AttributeOption, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FirstOrCreateOption"); err != nil {
		return nil, false, err
	}
	if _, ok := s.data.attributes[attributeID]; !ok {
		return nil, false, store.ErrAttributeNotFound
	}
	for _, o := range s.data.options {
		if o.AttributeID == attributeID && o.Value == value {
			return &o, false, nil
		}
	}
	o := domain.AttributeOption{ID: s.nextID(0), AttributeID: attributeID, Value: value, SortOrder: sortOrder}
	s.data.options[o.ID] = o
	return &o, true, nil
}

// --- ProductStorer ---

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("GetProductByID"); err != nil {
		return nil, err
	}
	p, ok := s.data.products[id]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	p.Specs = append([]domain.Spec(nil), p.Specs...)
	return &p, nil
}

func (s *Store) ListCategoryProductIDs(ctx context.Context, categoryID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListCategoryProductIDs"); err != nil {
		return nil, err
	}
	var ids []int64
	for pid, members := range s.data.memberships {
		for _, m := range members {
			if m.CategoryID == categoryID {
				ids = append(ids, pid)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) ListProductCategories(ctx context.Context, productID int64) ([]domain.ProductCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListProductCategories"); err != nil {
		return nil, err
	}
	return append([]domain.ProductCategory{}, s.data.memberships[productID]...), nil
}

func (s *Store) AddProductCategory(ctx context.Context, productID, categoryID int64, primary bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AddProductCategory"); err != nil {
		return err
	}
	if _, ok := s.data.products[productID]; !ok {
		return store.ErrProductNotFound
	}
	if _, ok := s.data.categories[categoryID]; !ok {
		return store.ErrCategoryNotFound
	}
	members := s.data.memberships[productID]
	found := false
	for i := range members {
		if members[i].CategoryID == categoryID {
			found = true
			if primary {
				members[i].IsPrimary = true
			}
		} else if primary {
			members[i].IsPrimary = false
		}
	}
	if !found {
		members = append(members, domain.ProductCategory{ProductID: productID, CategoryID: categoryID, IsPrimary: primary})
	}
	s.data.memberships[productID] = members
	return nil
}

func (s *Store) RemoveProductCategory(ctx context.Context, productID, categoryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RemoveProductCategory"); err != nil {
		return err
	}
	members := s.data.memberships[productID]
	kept := members[:0]
	for _, m := range members {
		if m.CategoryID != categoryID {
			kept = append(kept, m)
		}
	}
	s.data.memberships[productID] = kept
	return nil
}

func (s *Store) SetPrimaryCategory(ctx context.Context, productID, categoryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetPrimaryCategory"); err != nil {
		return err
	}
	if _, ok := s.data.products[productID]; !ok {
		return store.ErrProductNotFound
	}
	members := s.data.memberships[productID]
	found := false
	for i := range members {
		members[i].IsPrimary = members[i].CategoryID == categoryID
		found = found || members[i].IsPrimary
	}
	if !found {
		members = append(members, domain.ProductCategory{ProductID: productID, CategoryID: categoryID, IsPrimary: true})
	}
	s.data.memberships[productID] = members
	return nil
}

func (s *Store) TouchProduct(ctx context.Context, productID int64, expected *time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("TouchProduct"); err != nil {
		return time.Time{}, err
	}
	p, ok := s.data.products[productID]
	if !ok {
		return time.Time{}, store.ErrProductNotFound
	}
	if expected != nil && !expected.Equal(p.UpdatedAt) {
		return time.Time{}, store.ErrStaleSnapshot
	}
	ts := s.timestamp()
	if !ts.After(p.UpdatedAt) {
		ts = p.UpdatedAt.Add(time.Microsecond)
	}
	p.UpdatedAt = ts
	s.data.products[productID] = p
	return ts, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
