package collection

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"curator/internal/services"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu   sync.Mutex
	defs map[string]Definition
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{defs: make(map[string]Definition)}
}

func (m *MemoryRepository) CreateCollection(_ context.Context, def Definition) (Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.defs[def.ID]; exists {
		return Definition{}, services.Wrap(services.ErrConflict, "collection", "create", fmt.Sprintf("collection %s exists", def.ID), nil)
	}
	next := 0
	for _, d := range m.defs {
		next = max(next, d.OrderIndex+1)
	}
	def.OrderIndex = next
	m.defs[def.ID] = def
	return def, nil
}

func (m *MemoryRepository) GetCollection(_ context.Context, id string) (Definition, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[id]
	return def, ok, nil
}

func (m *MemoryRepository) UpdateCollection(_ context.Context, def Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[def.ID]; !ok {
		return services.Wrap(services.ErrNotFound, "collection", "update", def.ID, nil)
	}
	m.defs[def.ID] = def
	return nil
}

func (m *MemoryRepository) DeleteCollection(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[id]; !ok {
		return false, nil
	}
	delete(m.defs, id)
	return true, nil
}

func (m *MemoryRepository) ListCollections(context.Context) ([]Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Definition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	SortByOrder(out)
	return out, nil
}

func (m *MemoryRepository) ReorderCollections(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) != len(m.defs) {
		return services.Wrap(services.ErrConflict, "collection", "reorder",
			fmt.Sprintf("expected %d ids, got %d", len(m.defs), len(ids)), nil)
	}
	for _, id := range ids {
		if _, ok := m.defs[id]; !ok {
			return services.Wrap(services.ErrConflict, "collection", "reorder", fmt.Sprintf("unknown collection %s", id), nil)
		}
	}
	for i, id := range ids {
		d := m.defs[id]
		d.OrderIndex = i
		m.defs[id] = d
	}
	return nil
}

// SortByOrder orders definitions by OrderIndex, then creation time, then id.
func SortByOrder(defs []Definition) {
	slices.SortStableFunc(defs, func(a, b Definition) int {
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex - b.OrderIndex
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
