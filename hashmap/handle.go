package hashmap

import "sync/atomic"

// Handle is a shared-ownership wrapper around a Map. Goroutines that
// need the container without a single exclusive owner each hold a
// Handle; when the last one is closed the map is drained through the
// process-wide cleaner, never freed in place, because the closing
// goroutine may not be a registered participant.
type Handle[K comparable, V any] struct {
	m      *Map[K, V]
	refs   *atomic.Int64
	closed atomic.Bool
}

// NewHandle constructs a map and the first handle to it.
func NewHandle[K comparable, V any](cfg Config) (*Handle[K, V], error) {
	m, err := New[K, V](cfg)
	if err != nil {
		return nil, err
	}
	refs := &atomic.Int64{}
	refs.Store(1)
	return &Handle[K, V]{m: m, refs: refs}, nil
}

// Map returns the shared container. The pointer must not outlive the
// handle it came from.
func (h *Handle[K, V]) Map() *Map[K, V] {
	if h.closed.Load() {
		panic("hashmap: Map on closed handle")
	}
	return h.m
}

// Clone returns a new handle sharing ownership of the same map.
func (h *Handle[K, V]) Clone() *Handle[K, V] {
	if h.closed.Load() {
		panic("hashmap: Clone on closed handle")
	}
	h.refs.Add(1)
	return &Handle[K, V]{m: h.m, refs: h.refs}
}

// Close drops this handle's reference. The last Close tears the map
// down via the cleaner. Panics on double close of the same handle.
func (h *Handle[K, V]) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		panic("hashmap: handle closed twice")
	}
	if h.refs.Add(-1) == 0 {
		h.m.Teardown()
	}
}
