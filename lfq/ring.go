package lfq

import "sync/atomic"

// Ring is a lock-free SPSC ring buffer. The producer and the consumer
// may be different goroutines, but there must be at most one of each.
// Head and tail live on separate cache lines.
type Ring[T any] struct {
	head  uint64
	_pad1 [56]byte
	tail  uint64
	_pad2 [56]byte
	buf   []T
	mask  uint64
}

// NewRing allocates a ring with power-of-two capacity.
func NewRing[T any](size uint64) *Ring[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("lfq: Ring size must be a power of two")
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

// Enqueue adds an element; returns false if full.
func (r *Ring[T]) Enqueue(v T) bool {
	h := r.head
	t := atomic.LoadUint64(&r.tail)
	if h-t == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask] = v
	atomic.StoreUint64(&r.head, h+1)
	return true
}

// Dequeue removes one element; returns false if empty.
func (r *Ring[T]) Dequeue() (T, bool) {
	t := r.tail
	h := atomic.LoadUint64(&r.head)
	if t == h {
		var zero T
		return zero, false
	}
	v := r.buf[t&r.mask]
	var zero T
	r.buf[t&r.mask] = zero
	atomic.StoreUint64(&r.tail, t+1)
	return v, true
}

func (r *Ring[T]) Len() int {
	h := atomic.LoadUint64(&r.head)
	t := atomic.LoadUint64(&r.tail)
	return int(h - t)
}

func (r *Ring[T]) Cap() int { return len(r.buf) }

func (r *Ring[T]) IsEmpty() bool {
	return atomic.LoadUint64(&r.head) == atomic.LoadUint64(&r.tail)
}
