// Package wantlist implements the ordered, reference-counted set of
// outgoing want entries described in the design document's §4.1. It is a
// plain data structure: synchronization, where needed, is the caller's
// responsibility (see ThreadSafe for a guarded wrapper).
package wantlist

import (
	"sort"

	"github.com/meshgrid/bitswap/blocks"
)

// DefaultPriority is used when callers don't specify one.
const DefaultPriority = 1

// Entry is a single want: a key, how urgently it's wanted, whether this is
// a cancel notice, and how many local requests are keeping it alive.
type Entry struct {
	Key      blocks.BlockKey
	Priority int32
	Cancel   bool
	RefCnt   int

	insertionIndex int
}

// Wantlist is a mapping from BlockKey to Entry, ordered for iteration by
// (-priority, insertion order).
type Wantlist struct {
	set   map[string]*Entry
	order int
}

// New returns an empty want-list.
func New() *Wantlist {
	return &Wantlist{set: make(map[string]*Entry)}
}

// Add inserts key with priority, or bumps the refcount of an existing
// entry and raises its priority to the max of old and new, per §4.1.
// Returns true if this call made the entry newly live (refcount 0 -> 1).
func (w *Wantlist) Add(key blocks.BlockKey, priority int32) bool {
	k := key.KeyString()
	if e, ok := w.set[k]; ok {
		e.RefCnt++
		if priority > e.Priority {
			e.Priority = priority
		}
		return false
	}
	w.set[k] = &Entry{
		Key:            key,
		Priority:       priority,
		RefCnt:         1,
		insertionIndex: w.order,
	}
	w.order++
	return true
}

// Remove decrements the entry's refcount; once it reaches zero the entry
// is deleted and returned so the caller can emit a cancel. Returns
// (removedEntry, wasDeleted): (nil, false) when the key is absent or its
// refcount is still above zero.
func (w *Wantlist) Remove(key blocks.BlockKey) (*Entry, bool) {
	k := key.KeyString()
	e, ok := w.set[k]
	if !ok {
		return nil, false
	}
	e.RefCnt--
	if e.RefCnt > 0 {
		return nil, false
	}
	delete(w.set, k)
	return e, true
}

// RemoveForce deletes the entry regardless of refcount, returning it if
// present.
func (w *Wantlist) RemoveForce(key blocks.BlockKey) (*Entry, bool) {
	k := key.KeyString()
	e, ok := w.set[k]
	if !ok {
		return nil, false
	}
	delete(w.set, k)
	return e, true
}

// Contains reports whether key is currently live in the want-list.
func (w *Wantlist) Contains(key blocks.BlockKey) (*Entry, bool) {
	e, ok := w.set[key.KeyString()]
	return e, ok
}

// Len returns the number of live entries.
func (w *Wantlist) Len() int { return len(w.set) }

// Entries returns a stable snapshot ordered by (-priority, insertion
// index).
func (w *Wantlist) Entries() []*Entry {
	out := make([]*Entry, 0, len(w.set))
	for _, e := range w.set {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].insertionIndex < out[j].insertionIndex
	})
	return out
}
