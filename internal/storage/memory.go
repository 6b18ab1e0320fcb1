package storage

import (
	"context"
	"sync"
)

// MemoryRepository keeps everything in process. Contents are lost on restart.
type MemoryRepository struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{values: make(map[string]map[string]string)}
}

func (m *MemoryRepository) Get(_ context.Context, clientID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[clientID][key]
	return v, ok, nil
}

func (m *MemoryRepository) Set(_ context.Context, clientID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.values[clientID]
	if !ok {
		bucket = make(map[string]string)
		m.values[clientID] = bucket
	}
	bucket[key] = value
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, clientID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bucket, ok := m.values[clientID]; ok {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(m.values, clientID)
		}
	}
	return nil
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }

func (m *MemoryRepository) Close() error { return nil }
