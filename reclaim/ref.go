package reclaim

import "quiesce/rcu"

// Deferred is any reference whose reclamation has been deferred behind a
// grace period. Composites (Batch) and container-specific wrappers
// implement it alongside Ref.
type Deferred interface {
	// ReclaimUnchecked disposes of the underlying node via its drop
	// hook. Caller asserts a grace period has elapsed since detachment.
	// No-op if the reference was already consumed.
	ReclaimUnchecked()
}

// Ref owns exactly one detached node of type T until it is reclaimed.
// The zero Ref is spent. Ref values are not safe for concurrent use;
// exactly one goroutine consumes a Ref through exactly one entry point.
type Ref[T any] struct {
	ptr  *T
	drop func(*T)
}

// NewRef wraps a node that has just been unlinked from a shared
// structure. drop runs when the node is disposed without an ownership
// transfer (the Defer, Call and SafeCleanup paths); containers use it to
// return nodes to their pool and settle accounting. drop may be nil.
func NewRef[T any](ptr *T, drop func(*T)) *Ref[T] {
	return &Ref[T]{ptr: ptr, drop: drop}
}

// Get returns the detached node for inspection. The node is owned by
// the Ref, so this access is safe even before the grace period; it must
// not escape past reclamation.
func (r *Ref[T]) Get() *T { return r.ptr }

// TakeUnchecked transfers ownership of the node to the caller without
// running the drop hook. Caller asserts a grace period has elapsed.
// Panics on a spent Ref: a second transfer would be a double free.
func (r *Ref[T]) TakeUnchecked() *T {
	if r.ptr == nil {
		panic("reclaim: TakeUnchecked on spent Ref")
	}
	ptr := r.ptr
	r.ptr = nil
	return ptr
}

// Take synchronizes on p and then transfers ownership to the caller.
// Blocks until in-flight readers finish.
func (r *Ref[T]) Take(p *rcu.Participant) *T {
	p.Synchronize()
	return r.TakeUnchecked()
}

// ReclaimUnchecked implements Deferred.
func (r *Ref[T]) ReclaimUnchecked() {
	if r.ptr == nil {
		return
	}
	ptr := r.ptr
	r.ptr = nil
	if r.drop != nil {
		r.drop(ptr)
	}
}

// Defer queues disposal on p's own ring; see rcu.Participant.Defer.
func (r *Ref[T]) Defer(p *rcu.Participant) {
	p.Defer(r.ReclaimUnchecked)
}

// Call submits disposal to the domain's callback worker; see
// rcu.Participant.Call.
func (r *Ref[T]) Call(p *rcu.Participant) {
	p.Call(r.ReclaimUnchecked)
}

// SafeCleanup forwards disposal to the process-wide Cleaner. Requires
// no registration; safe from any goroutine.
func (r *Ref[T]) SafeCleanup() {
	DefaultCleaner().Submit(r.ReclaimUnchecked)
}
