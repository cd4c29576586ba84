// Package store owns the canonical in-memory product list.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pillarline/internal/domain"
)

var (
	ErrNotFound = errors.New("product not found")
	ErrConflict = errors.New("product already exists")
)

type ChangeKind string

const (
	ChangeReplacedAll ChangeKind = "replaced-all"
	ChangeReplaced    ChangeKind = "replaced"
	ChangeAdded       ChangeKind = "added"
	ChangePinned      ChangeKind = "pinned"
)

// Change is delivered to subscribers after a mutation is applied.
type Change struct {
	Kind      ChangeKind
	ProductID string
	Product   domain.Product
}

// Persister durably records products. A nil persister keeps the store memory-only.
// SaveProducts must write all of products or none of them.
type Persister interface {
	SaveProduct(ctx context.Context, p domain.Product) error
	SaveProducts(ctx context.Context, products []domain.Product) error
	LoadProducts(ctx context.Context) ([]domain.Product, error)
}

type Store struct {
	mu        sync.RWMutex
	products  []domain.Product
	index     map[string]int
	persister Persister

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int
}

func New(p Persister) *Store {
	return &Store{index: map[string]int{}, persister: p, subs: map[int]func(Change){}}
}

// Load replaces the in-memory list with what the persister holds.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	products, err := s.persister.LoadProducts(ctx)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	s.mu.Lock()
	s.setAll(products)
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeReplacedAll})
	return nil
}

// ReplaceAll swaps the whole product list. The list is persisted as one batch;
// on failure neither the persister nor memory changes.
func (s *Store) ReplaceAll(ctx context.Context, products []domain.Product) error {
	seen := map[string]bool{}
	for _, p := range products {
		if seen[p.ID] {
			return fmt.Errorf("%w: %s", ErrConflict, p.ID)
		}
		seen[p.ID] = true
	}
	s.mu.Lock()
	if s.persister != nil {
		if err := s.persister.SaveProducts(ctx, products); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("persist products: %w", err)
		}
	}
	s.setAll(products)
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeReplacedAll})
	return nil
}

// Add inserts a new product; a duplicate id is ErrConflict.
func (s *Store) Add(ctx context.Context, p domain.Product) error {
	if err := s.add(ctx, p); err != nil {
		return err
	}
	s.publish(Change{Kind: ChangeAdded, ProductID: p.ID, Product: p.Clone()})
	return nil
}

func (s *Store) add(ctx context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, p.ID)
	}
	if err := s.persist(ctx, p); err != nil {
		return err
	}
	s.index[p.ID] = len(s.products)
	s.products = append(s.products, p.Clone())
	return nil
}

// Replace swaps the product with the same id by value.
func (s *Store) Replace(ctx context.Context, p domain.Product) error {
	_, err := s.Update(ctx, p.ID, func(domain.Product) (domain.Product, error) { return p, nil })
	return err
}

// Update applies fn to the current product under the write lock and stores its result.
// fn receives a copy; returning an error leaves the store untouched.
func (s *Store) Update(ctx context.Context, id string, fn func(current domain.Product) (domain.Product, error)) (domain.Product, error) {
	return s.update(ctx, id, ChangeReplaced, fn)
}

// TogglePin flips the pinned flag.
func (s *Store) TogglePin(ctx context.Context, id string) (domain.Product, error) {
	return s.update(ctx, id, ChangePinned, func(p domain.Product) (domain.Product, error) {
		p.Pinned = !p.Pinned
		return p, nil
	})
}

func (s *Store) update(ctx context.Context, id string, kind ChangeKind, fn func(domain.Product) (domain.Product, error)) (domain.Product, error) {
	next, err := s.swap(ctx, id, fn)
	if err != nil {
		return domain.Product{}, err
	}
	s.publish(Change{Kind: kind, ProductID: id, Product: next.Clone()})
	return next, nil
}

func (s *Store) swap(ctx context.Context, id string, fn func(domain.Product) (domain.Product, error)) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, err := fn(s.products[i].Clone())
	if err != nil {
		return domain.Product{}, err
	}
	if next.ID != id {
		return domain.Product{}, fmt.Errorf("product id changed from %s to %s", id, next.ID)
	}
	if err := s.persist(ctx, next); err != nil {
		return domain.Product{}, err
	}
	s.products[i] = next.Clone()
	return next, nil
}

func (s *Store) Get(id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.products[i].Clone(), nil
}

// List returns deep copies in insertion order.
func (s *Store) List() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, len(s.products))
	for i, p := range s.products {
		out[i] = p.Clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products)
}

// Subscribe registers fn for change notifications and returns the cancel func.
// fn runs on the mutating goroutine after the store lock is released.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) persist(ctx context.Context, p domain.Product) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveProduct(ctx, p); err != nil {
		return fmt.Errorf("persist product %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) setAll(products []domain.Product) {
	s.products = make([]domain.Product, len(products))
	s.index = make(map[string]int, len(products))
	for i, p := range products {
		s.products[i] = p.Clone()
		s.index[p.ID] = i
	}
}

// Filter narrows a product list. Zero fields match everything.
type Filter struct {
	Query      string
	Entity     string
	Domain     string
	Stage      domain.LifecycleStage
	PinnedOnly bool
}

// Match reports whether p passes the filter. Query matches name or description, case-insensitive.
func (f Filter) Match(p domain.Product) bool {
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Description), q) {
			return false
		}
	}
	if f.Entity != "" && p.Entity != f.Entity {
		return false
	}
	if f.Domain != "" && p.BusinessDomain != f.Domain {
		return false
	}
	if f.Stage != "" && p.LifecycleStage != f.Stage {
		return false
	}
	if f.PinnedOnly && !p.Pinned {
		return false
	}
	return true
}

// Apply returns the products passing f, keeping order.
func (f Filter) Apply(products []domain.Product) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// VisibleTo keeps the products the user may see: all for admins, own entity otherwise.
func VisibleTo(u domain.User, products []domain.Product) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if u.CanSee(p) {
			out = append(out, p)
		}
	}
	return out
}
