package lifecycle

import "sync"

// keyedLocks hands out one mutex per artifact id, dropping entries once no
// caller holds or waits on them. This is the advisory single-writer
// discipline: two overlapping runs for the same id serialize instead of
// racing on the sandbox_executed transition or interleaving timeline writes.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*lockEntry)}
}

// acquire blocks until the id's lock is held and returns the release func.
func (k *keyedLocks) acquire(id string) func() {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if !ok {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
