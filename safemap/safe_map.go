// Package safemap provides a concurrent map keyed by string, used to track
// live sessions by their ID.
package safemap

import (
	"sync"
	"sync/atomic"
)

// SafeMap is a string-keyed concurrent map built on sync.Map. It keeps an
// entry count alongside the map so Len does not have to iterate.
//
// SafeMap must not be copied after first use.
type SafeMap[V any] struct {
	m     sync.Map
	count atomic.Int64
}

// New returns an empty SafeMap ready for use.
//
// Returns:
//   - A pointer to a new SafeMap[V]
func New[V any]() *SafeMap[V] {
	return &SafeMap[V]{}
}

// Store sets the value for key, overwriting any existing value.
//
// Parameters:
//   - key: The key to store
//   - v: The value to associate with key
func (m *SafeMap[V]) Store(key string, v V) {
	if _, loaded := m.m.Swap(key, v); !loaded {
		m.count.Add(1)
	}
}

// Load returns the value for key and whether it was present. A missing key
// yields the zero value of V.
//
// Parameters:
//   - key: The key to look up
//
// Returns:
//   - The value associated with key, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (m *SafeMap[V]) Load(key string) (V, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Delete removes key. Deleting a missing key is a no-op.
func (m *SafeMap[V]) Delete(key string) {
	if _, loaded := m.m.LoadAndDelete(key); loaded {
		m.count.Add(-1)
	}
}

// Range calls f for each entry until f returns false. Entries stored or
// deleted during the iteration may or may not be visited, and f may delete
// the entry it is given.
//
// Parameters:
//   - f: Function called for each entry; return false to stop iteration
func (m *SafeMap[V]) Range(f func(key string, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(string), v.(V))
	})
}

// Len returns the number of entries.
func (m *SafeMap[V]) Len() int {
	return int(m.count.Load())
}
