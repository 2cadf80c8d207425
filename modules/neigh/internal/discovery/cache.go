package discovery

import (
	"iter"
	"maps"
	"sync"
)

// Cache is a generic key-value cache of kernel objects.
//
// It is only ever replaced as a whole, so readers take a view and never
// observe a partially applied update.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	cache   map[K]V
	version uint64
}

// NewEmptyCache returns an empty cache.
func NewEmptyCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		cache: map[K]V{},
	}
}

// View returns a read-only view of the current contents.
func (m *Cache[K, V]) View() CacheView[K, V] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return CacheView[K, V]{cache: m.cache, version: m.version}
}

// Swap replaces the entire cache and returns the view of the new contents.
//
// The given map must not be modified afterwards.
func (m *Cache[K, V]) Swap(cache map[K]V) CacheView[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = cache
	m.version++
	return CacheView[K, V]{cache: m.cache, version: m.version}
}

// CacheView is a read-only view of the cache.
type CacheView[K comparable, V any] struct {
	cache   map[K]V
	version uint64
}

// Version returns the number of swaps preceding this view.
func (m CacheView[K, V]) Version() uint64 {
	return m.version
}

// Lookup returns the value for the specified key.
func (m CacheView[K, V]) Lookup(key K) (V, bool) {
	v, ok := m.cache[key]
	return v, ok
}

// Find returns the first value matching the predicate, in no particular
// order.
func (m CacheView[K, V]) Find(fn func(V) bool) (V, bool) {
	for v := range maps.Values(m.cache) {
		if fn(v) {
			return v, true
		}
	}

	var zero V
	return zero, false
}

// Entries returns entries in the cache as an iterator.
func (m CacheView[K, V]) Entries() (iter.Seq[V], int) {
	return maps.Values(m.cache), len(m.cache)
}
