package memory

import "sync/atomic"

// LiveCounter tracks how many objects are currently allocated and not
// yet reclaimed. Containers bump it on allocation and decrement it from
// their reclamation hooks, so a drained system reads zero.
type LiveCounter struct {
	n atomic.Int64
}

func (c *LiveCounter) Inc() { c.n.Add(1) }
func (c *LiveCounter) Dec() { c.n.Add(-1) }

// Value returns the current number of live objects.
func (c *LiveCounter) Value() int64 { return c.n.Load() }
