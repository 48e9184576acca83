package lfq

import "sync/atomic"

// Stack is a Treiber stack: push and pop are lock-free CAS loops on the
// top pointer. TakeAll splices the whole stack out in a single swap,
// which is what the MPSC queue and the callback list build on.
type Stack[T any] struct {
	top atomic.Pointer[snode[T]]
	len atomic.Int64
}

type snode[T any] struct {
	val  T
	next *snode[T]
}

// Push adds v to the top of the stack.
func (s *Stack[T]) Push(v T) {
	n := &snode[T]{val: v}
	for {
		old := s.top.Load()
		n.next = old
		if s.top.CompareAndSwap(old, n) {
			s.len.Add(1)
			return
		}
	}
}

// Pop removes the most recently pushed element.
// Safe only under single-consumer use or an external reclamation
// discipline; concurrent poppers alone would be exposed to ABA if nodes
// were recycled, which this package never does.
func (s *Stack[T]) Pop() (T, bool) {
	for {
		old := s.top.Load()
		if old == nil {
			var zero T
			return zero, false
		}
		if s.top.CompareAndSwap(old, old.next) {
			s.len.Add(-1)
			return old.val, true
		}
	}
}

// TakeAll detaches every element in one atomic swap and returns them in
// LIFO order (most recent push first).
func (s *Stack[T]) TakeAll() []T {
	head := s.top.Swap(nil)
	if head == nil {
		return nil
	}
	var out []T
	for n := head; n != nil; n = n.next {
		out = append(out, n.val)
		s.len.Add(-1)
	}
	return out
}

// Len is approximate under concurrent mutation.
func (s *Stack[T]) Len() int { return int(s.len.Load()) }
