package cache

import (
	"sync"
	"time"

	"github.com/knightuniverse/mqtt-service/internal/clock"
)

// Memory is the plain in-process cache variant: a straight mapping with no
// persistence. It applies the same descriptor gating as Persistent.
type Memory struct {
	mu          sync.RWMutex
	items       map[string]Item
	descriptors map[string]Descriptor
	clock       clock.Clock
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		items:       make(map[string]Item),
		descriptors: make(map[string]Descriptor),
		clock:       clock.Instance,
	}
}

// NewMemoryWithClock is NewMemory with an injectable clock, for tests.
func NewMemoryWithClock(cl clock.Clock) *Memory {
	m := NewMemory()
	m.clock = cl
	return m
}

func (m *Memory) descriptorFor(key string) Descriptor {
	if d, ok := m.descriptors[key]; ok {
		return d
	}
	return DefaultDescriptor
}

// Size returns the number of keys currently stored.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// GetItem returns the stored value for key, if any.
func (m *Memory) GetItem(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[key]
	if !ok {
		return nil, false
	}
	return item.Value, true
}

// SetItem stores value under key unless the key's descriptor forbids
// writing, in which case it silently no-ops and returns false. An optional
// descriptor may be supplied for a never-before-seen key; it is ignored
// (per Configurable semantics) once the key already has one.
func (m *Memory) SetItem(key string, value []byte, descriptor ...Descriptor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.descriptorFor(key).Writable {
		return false
	}
	if _, exists := m.descriptors[key]; !exists && len(descriptor) > 0 {
		m.descriptors[key] = descriptor[0]
	}

	m.items[key] = Item{Key: key, Value: value, CreatedAt: m.clock.Now()}
	return true
}

// RemoveItem deletes key unless its descriptor forbids deletion.
func (m *Memory) RemoveItem(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.descriptorFor(key).Deletable {
		return false
	}
	delete(m.items, key)
	return true
}

// Clear removes every deletable key.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.items {
		if m.descriptorFor(key).Deletable {
			delete(m.items, key)
		}
	}
}

// DefineCacheItem sets (or refuses to replace) the descriptor for key. It
// returns false if the key already has a non-configurable descriptor.
func (m *Memory) DefineCacheItem(key string, descriptor Descriptor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.descriptors[key]; ok && !existing.Configurable {
		return false
	}
	m.descriptors[key] = descriptor
	return true
}
