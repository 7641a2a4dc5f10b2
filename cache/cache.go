// Package cache implements the namespaced key-value store used to persist
// credentials and cross-process interest state: a single contract
// (Store) with a plain in-memory variant and a file-backed persistent
// variant, both gating writes/removals through a per-key Descriptor.
package cache

import "time"

type (
	// Descriptor gates mutation of a single cache key via its
	// configurable, deletable, and writable flags.
	Descriptor struct {
		// Configurable: if false, the descriptor itself can never be
		// replaced by a later DefineCacheItem/SetItem call.
		Configurable bool
		// Deletable: if false, RemoveItem and Clear silently skip this key.
		Deletable bool
		// Writable: if false, SetItem silently no-ops for this key.
		Writable bool
	}

	// Item is a single stored value plus its creation time, as held in
	// memory by both variants (the persistent variant rebuilds its Items on
	// construction).
	Item struct {
		Key       string
		Value     []byte
		CreatedAt time.Time
	}

	// Store is the contract shared by every cache variant: size, get, set,
	// remove, clear, and descriptor definition. Values are opaque bytes;
	// callers are responsible for their own encoding.
	Store interface {
		Size() int
		GetItem(key string) ([]byte, bool)
		SetItem(key string, value []byte, descriptor ...Descriptor) bool
		RemoveItem(key string) bool
		Clear()
		DefineCacheItem(key string, descriptor Descriptor) bool
	}
)

// DefaultDescriptor is the descriptor applied to a key that has never been
// explicitly defined: {Configurable:false, Deletable:true, Writable:true}.
var DefaultDescriptor = Descriptor{Configurable: false, Deletable: true, Writable: true}
