package catalog

import (
	"context"
	"sort"
	"sync"
)

// Static is an in-memory catalog seeded from configuration.
type Static struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewStatic(products ...Product) *Static {
	s := &Static{products: make(map[string]Product, len(products))}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// Put adds or replaces a product.
func (s *Static) Put(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Static) GetByID(_ context.Context, id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (s *Static) List(_ context.Context, brandID string, limit int) ([]Product, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if brandID == "" || p.BrandID == brandID {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
