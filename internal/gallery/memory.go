package gallery

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps content rows in process.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Item
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Item)}
}

func (m *MemoryStore) ListContent(_ context.Context, section Section) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Item
	for _, it := range m.items {
		if it.Section == section {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetContent(_ context.Context, id string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: content %s", ErrNotFound, id)
	}
	return it, nil
}

func (m *MemoryStore) CreateContent(_ context.Context, it Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
	return it, nil
}

func (m *MemoryStore) DeleteContent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("%w: content %s", ErrNotFound, id)
	}
	delete(m.items, id)
	return nil
}
