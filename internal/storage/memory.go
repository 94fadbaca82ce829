package storage

import (
	"context"
	"sync"
)

// Memory is an in-memory Storage for tests and single-process demos,
// grounded on the teacher's internal/raft.MemoryLogStore: a plain map
// behind a mutex, no persistence across process restarts.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.data[collection]
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := col[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *Memory) Put(ctx context.Context, collection, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.data[collection]
	if !ok {
		col = make(map[string][]byte)
		m.data[collection] = col
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	col[key] = cp
	return nil
}

func (m *Memory) List(ctx context.Context, collection string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.data[collection]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(col))
	for k := range col {
		keys = append(keys, k)
	}
	return keys, nil
}
