// Package keymutex provides an in-process mutex keyed by string with strict
// FIFO hand-off per key. The purchase pipeline uses it to serialize concurrent
// duplicates of the same idempotency key on one instance; cross-instance
// safety is carried by the database's unique constraints, not by this lock.
//
// Each key owns a queue of waiters. Acquire appends a signal channel and
// blocks on it; Release hands the lock to the head of the queue. Lock nodes
// live exactly as long as a purchase attempt: when the last holder releases
// with nobody waiting, the node is removed from the map.
package keymutex

import (
	"context"
	"sync"
)

// Mutex is a set of named FIFO locks. The zero value is not usable; call New.
type Mutex struct {
	mu    sync.Mutex
	locks map[string]*lockNode
}

// lockNode tracks one key: whether the lock is held and who waits, in arrival
// order.
type lockNode struct {
	held    bool
	waiters []chan struct{}
}

// New returns an empty keyed mutex.
func New() *Mutex {
	return &Mutex{locks: make(map[string]*lockNode)}
}

// Acquire blocks until the lock for key is held by the caller or ctx is done.
// Waiters are woken strictly in FIFO order. On context cancellation the waiter
// removes itself from the queue; if the hand-off raced the cancellation, the
// lock is passed on to the next waiter instead of being leaked.
func (m *Mutex) Acquire(ctx context.Context, key string) error {
	m.mu.Lock()
	node, ok := m.locks[key]
	if !ok {
		node = &lockNode{}
		m.locks[key] = node
	}
	if !node.held {
		node.held = true
		m.mu.Unlock()
		return nil
	}

	wait := make(chan struct{})
	node.waiters = append(node.waiters, wait)
	m.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()
		select {
		case <-wait:
			// Release signalled us before we could withdraw: we own the lock
			// now, so pass it along rather than abandoning it.
			m.handOffLocked(key)
		default:
			m.removeWaiterLocked(key, wait)
		}
		return ctx.Err()
	}
}

// Release hands the lock for key to the oldest waiter, or frees the node when
// nobody waits. Releasing a key that is not held is a no-op.
func (m *Mutex) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handOffLocked(key)
}

// Len reports the number of live lock nodes, for tests and metrics.
func (m *Mutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Mutex) handOffLocked(key string) {
	node, ok := m.locks[key]
	if !ok || !node.held {
		return
	}
	if len(node.waiters) == 0 {
		delete(m.locks, key)
		return
	}
	next := node.waiters[0]
	node.waiters = node.waiters[1:]
	close(next)
}

func (m *Mutex) removeWaiterLocked(key string, wait chan struct{}) {
	node, ok := m.locks[key]
	if !ok {
		return
	}
	for i, w := range node.waiters {
		if w == wait {
			node.waiters = append(node.waiters[:i], node.waiters[i+1:]...)
			break
		}
	}
	if !node.held && len(node.waiters) == 0 {
		delete(m.locks, key)
	}
}
