// Package bimap implements the interning store shared by every pool of the
// assembly: a deduplicating arena that maps values to small, stable,
// non-zero handles and back.
package bimap

import (
	"iter"

	"github.com/NERVsystems/infernode/tools/ilower/fault"
)

// BiMap interns values of type V under handles of type K.
//
// Handles are minted densely starting at 1; the zero handle never refers to
// a value and is free to mean "absent" in the structures that embed it.
// A BiMap is not safe for concurrent mutation.
type BiMap[K ~uint32, V comparable] struct {
	vals []V
	keys map[V]K
}

// New returns an empty BiMap.
func New[K ~uint32, V comparable]() *BiMap[K, V] {
	return &BiMap[K, V]{keys: make(map[V]K)}
}

// Alloc returns the handle of v, inserting it if an equal value has not
// been seen before. A fresh handle is always one greater than the pool
// size before insertion.
func (m *BiMap[K, V]) Alloc(v V) K {
	if k, ok := m.keys[v]; ok {
		return k
	}
	if m.keys == nil {
		m.keys = make(map[V]K)
	}
	if uint64(len(m.vals)) >= 1<<32-1 {
		fault.Invariant("bimap: handle space exhausted")
	}
	m.vals = append(m.vals, v)
	k := K(len(m.vals))
	m.keys[v] = k
	return k
}

// Get resolves a handle. Zero and out-of-range handles are invariant
// violations.
func (m *BiMap[K, V]) Get(k K) V {
	if k == 0 || int(k) > len(m.vals) {
		fault.Invariant("bimap: invalid handle %d (pool size %d)", uint32(k), len(m.vals))
	}
	return m.vals[k-1]
}

// Lookup returns the handle of v without inserting it.
func (m *BiMap[K, V]) Lookup(v V) (K, bool) {
	k, ok := m.keys[v]
	return k, ok
}

// Contains reports whether k is a handle minted by this store.
func (m *BiMap[K, V]) Contains(k K) bool {
	return k != 0 && int(k) <= len(m.vals)
}

// Len returns the number of interned values.
func (m *BiMap[K, V]) Len() int { return len(m.vals) }

// IsEmpty reports whether nothing has been interned.
func (m *BiMap[K, V]) IsEmpty() bool { return len(m.vals) == 0 }

// All iterates over (handle, value) pairs in insertion order.
func (m *BiMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i, v := range m.vals {
			if !yield(K(i+1), v) {
				return
			}
		}
	}
}
