package execution

import "sync"

// keyedMutex hands out one mutex per key, created on demand and
// refcounted so the map doesn't grow without bound — the same pattern
// internal/worktree.Manager uses for its per-repository locks. The
// Execution Engine uses one to serialise mutations per task, giving
// concurrent startExecution calls for the same task single-leader
// semantics: the first to acquire the lock wins.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mu       sync.Mutex
	refCount int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*keyedMutexEntry)}
}

// Lock blocks until key's mutex is acquired and returns a function that
// releases it.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedMutexEntry{}
		k.entries[key] = entry
	}
	entry.refCount++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refCount--
		if entry.refCount <= 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
