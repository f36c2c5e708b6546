package concurrency

import "sync"

// ConcurrentMap is a map guarded by a read/write mutex.
// Global reads such as Keys observe a consistent snapshot.
type ConcurrentMap[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// NewConcurrentMap creates an empty ConcurrentMap
func NewConcurrentMap[K comparable, V any]() *ConcurrentMap[K, V] {
	return &ConcurrentMap[K, V]{
		entries: make(map[K]V),
	}
}

// Get returns the value stored for key
func (m *ConcurrentMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[key]
	return v, ok
}

// Set stores value for key
func (m *ConcurrentMap[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = value
}

// SetIfAbsent stores value only when key is missing and returns the value now stored
func (m *ConcurrentMap[K, V]) SetIfAbsent(key K, value V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[key]; ok {
		return existing, false
	}
	m.entries[key] = value
	return value, true
}

// Compute atomically replaces the value for key with fn(old, exists)
func (m *ConcurrentMap[K, V]) Compute(key K, fn func(old V, exists bool) V) V {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, exists := m.entries[key]
	updated := fn(old, exists)
	m.entries[key] = updated
	return updated
}

// Delete removes key and reports whether it was present
func (m *ConcurrentMap[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	return true
}

// Has reports whether key is present
func (m *ConcurrentMap[K, V]) Has(key K) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.entries[key]
	return ok
}

// Keys returns a snapshot of all keys
func (m *ConcurrentMap[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]K, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// Size returns the number of live keys
func (m *ConcurrentMap[K, V]) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// Range calls fn for every entry of a snapshot taken under the read lock.
// fn runs without the lock held and may call back into the map.
func (m *ConcurrentMap[K, V]) Range(fn func(key K, value V) bool) {
	m.mu.RLock()
	snapshot := make(map[K]V, len(m.entries))
	for k, v := range m.entries {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}
