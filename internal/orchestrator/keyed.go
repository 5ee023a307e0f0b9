package orchestrator

import (
	"sync"
)

// keyedMutex provides per-task critical sections: updates to a single
// task's status and fields are serialized by task id, while updates to
// different tasks proceed fully in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// lockEntry refcounts holders and waiters so a contended key always
// resolves to the same mutex. doomed marks an entry Forget could not drop
// yet; the last Unlock removes it.
type lockEntry struct {
	m      sync.Mutex
	refs   int
	doomed bool
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	// Acquired outside the registry lock to avoid cross-key contention.
	e.m.Lock()
}

// Unlock releases the mutex for key.
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if ok {
		e.refs--
		if e.refs == 0 && e.doomed {
			delete(k.locks, key)
		}
	}
	k.mu.Unlock()

	if ok {
		e.m.Unlock()
	}
}

// Forget drops the mutex for key once its task is deleted. A key with
// live holders or waiters is only marked; the final Unlock drops it.
func (k *keyedMutex) Forget(key string) {
	k.mu.Lock()
	if e, ok := k.locks[key]; ok {
		if e.refs == 0 {
			delete(k.locks, key)
		} else {
			e.doomed = true
		}
	}
	k.mu.Unlock()
}
