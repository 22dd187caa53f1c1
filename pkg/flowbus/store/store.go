package store

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrKeyExists is returned by Store when the key is already present.
	ErrKeyExists = errors.New("object store: key already exists")

	// ErrKeyNotFound is returned when a key is absent.
	ErrKeyNotFound = errors.New("object store: key not found")
)

// ObjectStore is a thread-safe map of objects indexed by key.
type ObjectStore[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// New creates an empty store.
func New[K comparable, V any]() *ObjectStore[K, V] {
	return &ObjectStore[K, V]{
		entries: make(map[K]V),
	}
}

// Store adds value under key. It fails with ErrKeyExists if key is present.
func (s *ObjectStore[K, V]) Store(key K, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("%w: %v", ErrKeyExists, key)
	}
	s.entries[key] = value
	return nil
}

// Put adds or replaces value under key.
func (s *ObjectStore[K, V]) Put(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
}

// Retrieve returns the value stored under key.
func (s *ObjectStore[K, V]) Retrieve(key K) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	return v, nil
}

// Remove deletes key and returns the value it held.
func (s *ObjectStore[K, V]) Remove(key K) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	delete(s.entries, key)
	return v, nil
}

// Contains reports whether key is present.
func (s *ObjectStore[K, V]) Contains(key K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Keys returns all keys. The order is not guaranteed.
func (s *ObjectStore[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]K, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries.
func (s *ObjectStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes every entry.
func (s *ObjectStore[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[K]V)
}

// Range calls fn for each entry of a snapshot of the store until fn
// returns false. fn may modify the store.
func (s *ObjectStore[K, V]) Range(fn func(K, V) bool) {
	s.mu.RLock()
	snapshot := make(map[K]V, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}
