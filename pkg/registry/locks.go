package registry

import (
	"sort"
	"sync"
)

// keyedMutex serializes operations per dataset id. Acquiring several ids at
// once always locks them in lexicographic order, which keeps concurrent
// chain-linking uploads deadlock free.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// Acquire locks every id and returns the release function. Duplicate ids are
// collapsed; locking zero ids is a no-op.
func (k *keyedMutex) Acquire(ids ...string) func() {
	ordered := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	locked := make([]*lockEntry, 0, len(ordered))
	for _, id := range ordered {
		e := k.retain(id)
		e.mu.Lock()
		locked = append(locked, e)
	}

	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
			k.release(ordered[i])
		}
	}
}

func (k *keyedMutex) retain(id string) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[id]
	if !ok {
		e = &lockEntry{}
		k.entries[id] = e
	}
	e.refs++
	return e
}

func (k *keyedMutex) release(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[id]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, id)
	}
}
