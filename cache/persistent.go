package cache

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"sync"

	"github.com/iancoleman/strcase"

	"github.com/knightuniverse/mqtt-service/internal/clock"
)

// record is the on-disk representation of one namespaced key.
type record struct {
	Value []byte `json:"value"`
}

// Persistent is the file-backed cache variant. Every key is namespaced with
// Prefix on disk; on construction it scans the backing file and restores
// in-memory state. Writes update the in-memory copy immediately and mark
// the key dirty; Flush persists only dirtied/removed keys.
type Persistent struct {
	Prefix string
	path   string

	mu          sync.Mutex
	items       map[string]Item
	descriptors map[string]Descriptor
	dirty       map[string]bool // true = write-through, false = removed
	clock       clock.Clock
}

// NewPersistent opens (or creates) a persistent cache backed by path,
// namespacing every key with prefix. It restores any previously persisted
// state for that prefix immediately.
func NewPersistent(path, prefix string) (*Persistent, error) {
	p := &Persistent{
		Prefix:      prefix,
		path:        path,
		items:       make(map[string]Item),
		descriptors: make(map[string]Descriptor),
		dirty:       make(map[string]bool),
		clock:       clock.Instance,
	}
	if err := p.restore(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Persistent) namespaced(key string) string {
	return p.Prefix + key
}

// debugName returns a snake_case rendering of a dynamic cache key such as
// "mqttWatchedBiz_{subject}|{bid}". Nothing in the module calls it.
func debugName(key string) string {
	return strcase.ToSnake(key)
}

func (p *Persistent) restore() error {
	raw, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	var onDisk map[string]record
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return err
	}

	now := p.clock.Now()
	for namespacedKey, rec := range onDisk {
		if len(namespacedKey) <= len(p.Prefix) || namespacedKey[:len(p.Prefix)] != p.Prefix {
			continue
		}
		key := namespacedKey[len(p.Prefix):]
		p.items[key] = Item{Key: key, Value: rec.Value, CreatedAt: now}
	}
	return nil
}

func (p *Persistent) descriptorFor(key string) Descriptor {
	if d, ok := p.descriptors[key]; ok {
		return d
	}
	return DefaultDescriptor
}

// Size returns the number of keys currently held in memory.
func (p *Persistent) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// GetItem returns the in-memory value for key, if present.
func (p *Persistent) GetItem(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[key]
	if !ok {
		return nil, false
	}
	return item.Value, true
}

// SetItem updates the in-memory copy and marks key dirty for the next
// Flush, unless the key's descriptor forbids writing.
func (p *Persistent) SetItem(key string, value []byte, descriptor ...Descriptor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.descriptorFor(key).Writable {
		return false
	}
	if _, exists := p.descriptors[key]; !exists && len(descriptor) > 0 {
		p.descriptors[key] = descriptor[0]
	}

	p.items[key] = Item{Key: key, Value: value, CreatedAt: p.clock.Now()}
	p.dirty[key] = true
	return true
}

// RemoveItem removes key from memory and marks it for deletion on the next
// Flush, unless the key's descriptor forbids deletion.
func (p *Persistent) RemoveItem(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.descriptorFor(key).Deletable {
		return false
	}
	delete(p.items, key)
	p.dirty[key] = false
	return true
}

// Clear removes every deletable key and marks each for deletion.
func (p *Persistent) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key := range p.items {
		if p.descriptorFor(key).Deletable {
			delete(p.items, key)
			p.dirty[key] = false
		}
	}
}

// DefineCacheItem sets the descriptor for key, refusing to replace an
// existing non-configurable descriptor.
func (p *Persistent) DefineCacheItem(key string, descriptor Descriptor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.descriptors[key]; ok && !existing.Configurable {
		return false
	}
	p.descriptors[key] = descriptor
	return true
}

// Flush writes only the dirtied/removed keys through to disk, then clears
// the dirty set. It reads the full on-disk map first so keys outside this
// store's prefix (or written by a concurrent process) are preserved.
func (p *Persistent) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.dirty) == 0 {
		return nil
	}

	onDisk := make(map[string]record)
	if raw, err := os.ReadFile(p.path); err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &onDisk)
	} else if !os.IsNotExist(err) && err != nil {
		return err
	}

	for key, writeThrough := range p.dirty {
		ns := p.namespaced(key)
		if writeThrough {
			onDisk[ns] = record{Value: p.items[key].Value}
		} else {
			delete(onDisk, ns)
		}
	}

	raw, err := json.Marshal(onDisk)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.path, raw, 0o600); err != nil {
		return err
	}

	p.dirty = make(map[string]bool)
	return nil
}

// b64 returns the standard base64 encoding of b. It is unexported and
// nothing in the module calls it.
func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
