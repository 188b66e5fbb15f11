package store

import "sync"

// keyedLocks serialises writes per event UUID so concurrent inbound
// exchanges touching the same container cannot interleave partial artifact
// sets. Locks are created on first use and kept for the store's lifetime;
// the key space is bounded by the number of events a node holds.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) acquire(key string) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
