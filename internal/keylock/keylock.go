// Package keylock provides reference-counted mutual exclusion per string key.
package keylock

import (
	"sort"
	"sync"
)

// Table holds one mutex per key in use. Entries are dropped once no caller
// holds or waits for them.
type Table struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty lock table.
func New() *Table {
	return &Table{locks: make(map[string]*keyEntry)}
}

// LockMany locks every key and returns the function releasing them. Keys
// are taken in sorted order so overlapping callers cannot deadlock.
// Duplicates and empty keys are ignored.
func (k *Table) LockMany(keys ...string) (unlock func()) {
	set := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		set = append(set, key)
	}
	sort.Strings(set)

	entries := make([]*keyEntry, len(set))
	k.mu.Lock()
	for i, key := range set {
		e, ok := k.locks[key]
		if !ok {
			e = &keyEntry{}
			k.locks[key] = e
		}
		e.refs++
		entries[i] = e
	}
	k.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
		k.mu.Lock()
		for i, key := range set {
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(k.locks, key)
			}
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (k *Table) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
