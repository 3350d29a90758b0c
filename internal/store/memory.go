package store

import (
	"context"
	"sync"
)

// MemoryStore: хранилище в памяти для локального режима и тестов.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, exists := s.data[key]
	return value, exists, nil
}

// Put безусловно перезаписывает значение (last-writer-wins).
func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	buf := append([]byte(nil), value...)

	s.mu.Lock()
	s.data[key] = buf
	s.mu.Unlock()
	return nil
}
