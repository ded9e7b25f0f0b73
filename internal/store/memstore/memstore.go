// Package memstore is an in-memory store.Store used for local development and tests.
//
// InTx snapshots the catalog tables and restores them when fn fails. Import runs and
// issues are outside the snapshot, and catalog writes made by other goroutines while a
// failing transaction is open are rolled back with it.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/store"
)

type valueKey struct {
	productID   int64
	attributeID int64
}

type catalog struct {
	categories     map[int64]domain.Category
	units          map[int64]domain.Unit
	attributes     map[int64]domain.Attribute
	attributeUnits map[int64][]int64
	options        map[int64]domain.AttributeOption
	bindings       map[int64][]domain.CategoryAttribute
	products       map[int64]domain.Product
	memberships    map[int64][]domain.ProductCategory
	values         map[valueKey]domain.ProductAttributeValue
	productOptions map[valueKey][]int64
}

func newCatalog() *catalog {
	return &catalog{
		categories:     make(map[int64]domain.Category),
		units:          make(map[int64]domain.Unit),
		attributes:     make(map[int64]domain.Attribute),
		attributeUnits: make(map[int64][]int64),
		options:        make(map[int64]domain.AttributeOption),
		bindings:       make(map[int64][]domain.CategoryAttribute),
		products:       make(map[int64]domain.Product),
		memberships:    make(map[int64][]domain.ProductCategory),
		values:         make(map[valueKey]domain.ProductAttributeValue),
		productOptions: make(map[valueKey][]int64),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSliceMap[K comparable, V any](m map[K][]V) map[K][]V {
	out := make(map[K][]V, len(m))
	for k, v := range m {
		out[k] = append([]V(nil), v...)
	}
	return out
}

func (c *catalog) clone() *catalog {
	return &catalog{
		categories:     cloneMap(c.categories),
		units:          cloneMap(c.units),
		attributes:     cloneMap(c.attributes),
		attributeUnits: cloneSliceMap(c.attributeUnits),
		options:        cloneMap(c.options),
		bindings:       cloneSliceMap(c.bindings),
		products:       cloneMap(c.products),
		memberships:    cloneSliceMap(c.memberships),
		values:         cloneMap(c.values),
		productOptions: cloneSliceMap(c.productOptions),
	}
}

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	data     *catalog
	runs     map[int64]domain.ImportRun
	issues   []domain.ImportIssue
	seq      int64
	failures map[string]error
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		data:     newCatalog(),
		runs:     make(map[int64]domain.ImportRun),
		failures: make(map[string]error),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// InjectFailure makes every later call of method return err. A nil err removes it.
func (s *Store) InjectFailure(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// fail must be called with s.mu held.
func (s *Store) fail(method string) error {
	if err, ok := s.failures[method]; ok {
		return fmt.Errorf("store: %s failed: %w", method, err)
	}
	return nil
}

func (s *Store) nextID(explicit int64) int64 {
	if explicit > 0 {
		if explicit > s.seq {
			s.seq = explicit
		}
		return explicit
	}
	s.seq++
	return s.seq
}

func (s *Store) timestamp() time.Time {
	return s.now().Truncate(time.Microsecond)
}

type txView struct {
	*Store
}

func (t txView) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

// InTx runs fn and restores the catalog snapshot when it returns an error.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	if err := s.fail("InTx"); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(txView{s}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// --- seeding ---

// AddCategory stores a category, assigning an id when it has none.
func (s *Store) AddCategory(c domain.Category) domain.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID(c.ID)
	ts := s.timestamp()
	c.CreatedAt, c.UpdatedAt = ts, ts
	s.data.categories[c.ID] = c
	return c
}

// AddUnit stores a unit.
func (s *Store) AddUnit(u domain.Unit) domain.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.nextID(u.ID)
	s.data.units[u.ID] = u
	return u
}

// AddAttribute stores an attribute with its additional units.
func (s *Store) AddAttribute(a domain.Attribute, unitIDs ...int64) domain.Attribute {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID(a.ID)
	ts := s.timestamp()
	a.CreatedAt, a.UpdatedAt = ts, ts
	s.data.attributes[a.ID] = a
	s.data.attributeUnits[a.ID] = append([]int64(nil), unitIDs...)
	return a
}

// AddOption stores an option.
func (s *Store) AddOption(o domain.AttributeOption) domain.AttributeOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.nextID(o.ID)
	s.data.options[o.ID] = o
	return o
}

// BindAttribute stores a category binding, replacing an existing one.
func (s *Store) BindAttribute(b domain.CategoryAttribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.data.bindings[b.CategoryID]
	for i := range list {
		if list[i].AttributeID == b.AttributeID {
			list[i] = b
			return
		}
	}
	s.data.bindings[b.CategoryID] = append(list, b)
}

// AddProduct stores a product that belongs to categoryIDs. The first category is primary.
func (s *Store) AddProduct(p domain.Product, categoryIDs ...int64) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID(p.ID)
	ts := s.timestamp()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = ts
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = ts
	}
	p.Specs = append([]domain.Spec(nil), p.Specs...)
	s.data.products[p.ID] = p
	members := make([]domain.ProductCategory, 0, len(categoryIDs))
	for i, cid := range categoryIDs {
		members = append(members, domain.ProductCategory{ProductID: p.ID, CategoryID: cid, IsPrimary: i == 0})
	}
	s.data.memberships[p.ID] = members
	return p
}

// --- CategoryStorer ---

func (s *Store) GetCategoryByID(ctx context.Context, id int64) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("GetCategoryByID"); err != nil {
		return nil, err
	}
	c, ok := s.data.categories[id]
	if !ok {
		return nil, store.ErrCategoryNotFound
	}
	c.IsLeaf = true
	for _, other := range s.data.categories {
		if other.ParentCategoryID != nil && *other.ParentCategoryID == id {
			c.IsLeaf = false
			break
		}
	}
	return &c, nil
}

func (s *Store) ListCategoryAttributes(ctx context.Context, categoryID int64) ([]domain.CategoryAttribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListCategoryAttributes"); err != nil {
		return nil, err
	}
	list := append([]domain.CategoryAttribute{}, s.data.bindings[categoryID]...)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].FilterOrder != list[j].FilterOrder {
			return list[i].FilterOrder < list[j].FilterOrder
		}
		return list[i].AttributeID < list[j].AttributeID
	})
	return list, nil
}

func (s *Store) AttachAttributeToCategory(ctx context.Context, binding domain.CategoryAttribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AttachAttributeToCategory"); err != nil {
		return err
	}
	if _, ok := s.data.categories[binding.CategoryID]; !ok {
		return store.ErrCategoryNotFound
	}
	if _, ok := s.data.attributes[binding.AttributeID]; !ok {
		return store.ErrAttributeNotFound
	}
	for _, b := range s.data.bindings[binding.CategoryID] {
		if b.AttributeID == binding.AttributeID {
			return nil
		}
	}
	s.data.bindings[binding.CategoryID] = append(s.data.bindings[binding.CategoryID], binding)
	return nil
}
