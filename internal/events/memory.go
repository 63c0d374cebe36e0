package events

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps events in process.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]Event
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]Event)}
}

func (m *MemoryStore) ListEvents(context.Context) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) GetEvent(_ context.Context, id string) (Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	return e, nil
}

func (m *MemoryStore) ActiveEvent(context.Context) (Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.Status == StatusActive {
			return e, nil
		}
	}
	return Event{}, ErrNotFound
}

func (m *MemoryStore) CreateEvent(_ context.Context, e Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Status == StatusActive {
		for _, other := range m.events {
			if other.Status == StatusActive {
				return Event{}, ErrActiveConflict
			}
		}
	}
	m.events[e.ID] = e
	return e, nil
}

func (m *MemoryStore) UpdateEvent(_ context.Context, e Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.ID]; !ok {
		return Event{}, fmt.Errorf("%w: event %s", ErrNotFound, e.ID)
	}
	if e.Status == StatusActive {
		for id, other := range m.events {
			if id != e.ID && other.Status == StatusActive {
				return Event{}, ErrActiveConflict
			}
		}
	}
	m.events[e.ID] = e
	return e, nil
}

func (m *MemoryStore) DeleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	delete(m.events, id)
	return nil
}
