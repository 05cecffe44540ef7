package content

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MemorySource is an in-process Source.
type MemorySource struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewMemorySource returns a source holding items.
func NewMemorySource(items ...*Item) *MemorySource {
	s := &MemorySource{items: make(map[string]*Item)}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s
}

// Put inserts or replaces an item.
func (s *MemorySource) Put(it *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it
}

// Delete removes an item.
func (s *MemorySource) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

func (s *MemorySource) Get(ctx context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return it, nil
}

func (s *MemorySource) List(ctx context.Context) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b *Item) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

var _ Source = (*MemorySource)(nil)
