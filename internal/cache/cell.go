// Package cache implements the per-initial-state token trie and the
// cache hub that owns one trie per registered initial state plus a
// default trie, per spec.md §3-4.1.
package cache

import (
	"context"
	"sync"

	"github.com/holiman/uint256"
	"github.com/rwkvcore/scheduler/internal/capability"
)

// Cell is a cache cell: a (state snapshot, last logit vector,
// timestamp) tuple that starts pending and is latched resolved exactly
// once. Any number of readers may subscribe to a pending cell and await
// its first publication; after that, Snapshot is non-blocking.
type Cell struct {
	mu         sync.RWMutex
	resolved   bool
	state      capability.Snapshot
	lastLogits []float32
	timestamp  *uint256.Int
	ready      chan struct{}
}

// NewPendingCell returns an unresolved cell with no value yet.
func NewPendingCell() *Cell {
	return &Cell{ready: make(chan struct{}), timestamp: uint256.NewInt(0)}
}

// NewResolvedCell returns a cell already holding a value, stamped at tick.
func NewResolvedCell(state capability.Snapshot, logits []float32, tick *uint256.Int) *Cell {
	c := &Cell{
		ready:      make(chan struct{}),
		resolved:   true,
		state:      state,
		lastLogits: logits,
		timestamp:  tick,
	}
	close(c.ready)
	return c
}

// Resolved reports whether the cell has been published.
func (c *Cell) Resolved() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolved
}

// Publish latches the cell's value. A second call on an already-resolved
// cell is a no-op: only the reserving owner may publish, and only once.
func (c *Cell) Publish(state capability.Snapshot, logits []float32, tick *uint256.Int) {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.lastLogits = logits
	c.timestamp = tick
	c.resolved = true
	c.mu.Unlock()
	close(c.ready)
}

// Await blocks until the cell is resolved or ctx is done.
func (c *Cell) Await(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the cell's current value. Callers must only call this
// after Resolved() or Await() succeeds.
func (c *Cell) Snapshot() (capability.Snapshot, []float32, *uint256.Int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.lastLogits, c.timestamp
}

// Touch refreshes the cell's timestamp on read, per spec.md §4.1's
// "each observation refreshes the timestamp inside the cell."
func (c *Cell) Touch(tick *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		c.timestamp = tick
	}
}

// Timestamp returns the cell's current logical timestamp.
func (c *Cell) Timestamp() *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timestamp
}
