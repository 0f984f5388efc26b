package wantlist

import (
	"sync"

	"github.com/meshgrid/bitswap/blocks"
)

// ThreadSafe guards a Wantlist with a mutex for callers (the WantManager's
// own local want-list, in particular) that touch it from multiple
// goroutines without otherwise serializing access. Named after the
// teacher's wantlist.NewThreadSafe(), referenced from bitswap.go but not
// retrieved in the pack.
type ThreadSafe struct {
	mu sync.RWMutex
	wl *Wantlist
}

// NewThreadSafe returns an empty, mutex-guarded want-list.
func NewThreadSafe() *ThreadSafe {
	return &ThreadSafe{wl: New()}
}

func (t *ThreadSafe) Add(key blocks.BlockKey, priority int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wl.Add(key, priority)
}

func (t *ThreadSafe) Remove(key blocks.BlockKey) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wl.Remove(key)
}

func (t *ThreadSafe) RemoveForce(key blocks.BlockKey) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wl.RemoveForce(key)
}

func (t *ThreadSafe) Contains(key blocks.BlockKey) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.wl.Contains(key)
}

func (t *ThreadSafe) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.wl.Len()
}

func (t *ThreadSafe) Entries() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.wl.Entries()
}
