package store

import (
	"fmt"
	"sync"

	"github.com/dunamismax/variantforge/internal/domain"
)

// VariantStore holds the ordered variant set. Writers swap in a new slice so
// readers never observe a half-applied edit. Records are cloned on the way in
// and out, so callers never share dimension values with the store.
type VariantStore struct {
	mu       sync.RWMutex
	variants []domain.Variant
}

func NewVariantStore(initial ...domain.Variant) *VariantStore {
	s := &VariantStore{}
	s.ReplaceAll(initial)
	return s
}

func (s *VariantStore) List() []domain.Variant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.variants)
}

func (s *VariantStore) Get(id string) (domain.Variant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.variants {
		if v.ID == id {
			return v.Clone(), true
		}
	}
	return domain.Variant{}, false
}

func (s *VariantStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.variants)
}

// Order maps variant ids to their list position.
func (s *VariantStore) Order() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := make(map[string]int, len(s.variants))
	for i, v := range s.variants {
		order[v.ID] = i
	}
	return order
}

// Create appends a variant with default settings and the next free default
// name.
func (s *VariantStore) Create(id string) domain.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := domain.DefaultVariant()
	v.ID = id
	v.Name = domain.NextVariantName(s.variants)
	s.variants = reindex(append(append([]domain.Variant(nil), s.variants...), v))
	return s.variants[len(s.variants)-1].Clone()
}

func (s *VariantStore) Add(v domain.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(v.ID) >= 0 {
		return fmt.Errorf("variant %q already exists", v.ID)
	}
	s.variants = reindex(append(append([]domain.Variant(nil), s.variants...), v.Clone()))
	return nil
}

// Replace swaps the stored record for v.ID with v, keeping its position.
func (s *VariantStore) Replace(v domain.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(v.ID)
	if i < 0 {
		return domain.VariantNotFound(v.ID)
	}
	next := append([]domain.Variant(nil), s.variants...)
	next[i] = v.Clone()
	s.variants = reindex(next)
	return nil
}

func (s *VariantStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return domain.VariantNotFound(id)
	}
	next := make([]domain.Variant, 0, len(s.variants)-1)
	next = append(next, s.variants[:i]...)
	next = append(next, s.variants[i+1:]...)
	s.variants = reindex(next)
	return nil
}

// Move relocates a variant to position to, clamped to the list bounds.
func (s *VariantStore) Move(id string, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.indexOf(id)
	if from < 0 {
		return domain.VariantNotFound(id)
	}
	to = max(0, min(to, len(s.variants)-1))

	v := s.variants[from]
	next := make([]domain.Variant, 0, len(s.variants))
	next = append(next, s.variants[:from]...)
	next = append(next, s.variants[from+1:]...)
	next = append(next[:to], append([]domain.Variant{v}, next[to:]...)...)
	s.variants = reindex(next)
	return nil
}

// ReplaceAll swaps the whole set, as an import does.
func (s *VariantStore) ReplaceAll(variants []domain.Variant) {
	next := reindex(cloneAll(variants))
	s.mu.Lock()
	s.variants = next
	s.mu.Unlock()
}

func (s *VariantStore) indexOf(id string) int {
	for i, v := range s.variants {
		if v.ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(variants []domain.Variant) []domain.Variant {
	out := make([]domain.Variant, len(variants))
	for i, v := range variants {
		out[i] = v.Clone()
	}
	return out
}

func reindex(variants []domain.Variant) []domain.Variant {
	for i := range variants {
		variants[i].Index = i
	}
	return variants
}
