package kvstore

import (
	"sync"
)

// KVStore is a map guarded for concurrent use.
type KVStore[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

func New[K comparable, V any]() *KVStore[K, V] {
	return &KVStore[K, V]{data: make(map[K]V)}
}

// Get returns the value stored under key.
func (s *KVStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	return v, ok
}

// Set stores v under key, replacing any previous value.
func (s *KVStore[K, V]) Set(key K, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = v
}

// Len returns the number of stored keys.
func (s *KVStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
