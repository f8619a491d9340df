// Package state holds independently owned, versioned values that readers
// consume as immutable snapshots.
package state

import "sync"

// Snapshot is a value together with the version that produced it.
// Version 0 means the cell was never set.
type Snapshot[T any] struct {
	Version uint64
	Value   T
}

// Cell is a concurrent-safe versioned value. Every Set bumps the version and
// notifies watchers. Notifications coalesce: a watcher that is slow to read
// sees one pending signal, then reads the latest snapshot with Get.
type Cell[T any] struct {
	mu       sync.RWMutex
	snap     Snapshot[T]
	watchers map[int]chan struct{}
	nextID   int
}

// NewCell returns a cell holding initial at version 0.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{
		snap:     Snapshot[T]{Value: initial},
		watchers: make(map[int]chan struct{}),
	}
}

// Get returns the current snapshot.
func (c *Cell[T]) Get() Snapshot[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Set replaces the value and returns the new snapshot.
func (c *Cell[T]) Set(v T) Snapshot[T] {
	snap, _ := c.Update(func(T) (T, error) { return v, nil })
	return snap
}

// Update applies fn to the current value under the write lock and stores
// the result. If fn returns an error the cell is left unchanged.
func (c *Cell[T]) Update(fn func(T) (T, error)) (Snapshot[T], error) {
	c.mu.Lock()
	next, err := fn(c.snap.Value)
	if err != nil {
		snap := c.snap
		c.mu.Unlock()
		return snap, err
	}
	c.snap = Snapshot[T]{Version: c.snap.Version + 1, Value: next}
	snap := c.snap
	c.notifyLocked()
	c.mu.Unlock()
	return snap, nil
}

func (c *Cell[T]) notifyLocked() {
	for _, ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch registers a change listener. The returned cancel func releases it;
// no signals are sent after cancel returns.
func (c *Cell[T]) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

// Watchers returns the number of registered listeners.
func (c *Cell[T]) Watchers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.watchers)
}
