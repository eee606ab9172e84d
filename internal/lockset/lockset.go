// Package lockset serializes work per key. Waiters queue behind the holder and
// each release hands the key to the oldest waiter, so a release wakes exactly
// one goroutine and no waiter can be overtaken by a later arrival.
package lockset

import (
	"context"
	"sync"
	"sync/atomic"
)

// handle ids are process-wide so no two guards ever compare equal
var nextID atomic.Uint64

type entry[K comparable] struct {
	holder  *Handle[K]
	waiters []*Handle[K]
}

// LockSet is a set of exclusive locks addressed by key. The zero value is
// ready to use.
type LockSet[K comparable] struct {
	mu   sync.Mutex
	keys map[K]*entry[K]
}

// Handle is the proof of holding one key of a LockSet.
type Handle[K comparable] struct {
	set      *LockSet[K]
	key      K
	id       uint64
	granted  chan struct{}
	released atomic.Bool
}

// Acquire blocks until key is handed to the caller or ctx is done. Callers
// are served in arrival order.
func (ls *LockSet[K]) Acquire(ctx context.Context, key K) (*Handle[K], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := &Handle[K]{
		set:     ls,
		key:     key,
		id:      nextID.Add(1),
		granted: make(chan struct{}),
	}

	ls.mu.Lock()
	if ls.keys == nil {
		ls.keys = make(map[K]*entry[K])
	}
	e, ok := ls.keys[key]
	if !ok {
		ls.keys[key] = &entry[K]{holder: h}
		ls.mu.Unlock()
		return h, nil
	}
	e.waiters = append(e.waiters, h)
	ls.mu.Unlock()

	select {
	case <-h.granted:
		return h, nil
	case <-ctx.Done():
	}

	ls.mu.Lock()
	if e.holder == h {
		// handed over while giving up: pass it on
		ls.mu.Unlock()
		h.Release()
		return nil, ctx.Err()
	}
	for i, w := range e.waiters {
		if w == h {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			break
		}
	}
	ls.mu.Unlock()
	return nil, ctx.Err()
}

// Len is the number of keys currently held.
func (ls *LockSet[K]) Len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.keys)
}

// Waiters is the number of callers queued for key.
func (ls *LockSet[K]) Waiters(key K) int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if e, ok := ls.keys[key]; ok {
		return len(e.waiters)
	}
	return 0
}

func (h *Handle[K]) ID() uint64 {
	return h.id
}

func (h *Handle[K]) Key() K {
	return h.key
}

// Release hands the key to the oldest waiter, or frees it when nobody is
// queued. Only the first call has an effect.
func (h *Handle[K]) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}

	ls := h.set
	ls.mu.Lock()
	e, ok := ls.keys[h.key]
	if !ok || e.holder != h {
		ls.mu.Unlock()
		return
	}
	if len(e.waiters) == 0 {
		delete(ls.keys, h.key)
		ls.mu.Unlock()
		return
	}

	next := e.waiters[0]
	e.waiters[0] = nil
	e.waiters = e.waiters[1:]
	e.holder = next
	ls.mu.Unlock()

	close(next.granted)
}
