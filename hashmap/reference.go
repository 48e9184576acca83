package hashmap

import (
	"quiesce/rcu"
	"quiesce/reclaim"
)

// Removed owns an entry just detached from the map. The key and value
// may be inspected until the reference is consumed; the entry's memory
// is recycled only through one of the reclamation entry points, each of
// which guarantees a grace period first. Exactly one reclamation occurs
// per Removed.
type Removed[K comparable, V any] struct {
	m   *Map[K, V]
	ref *reclaim.Ref[entry[K, V]]
}

func (m *Map[K, V]) newRemoved(e *entry[K, V]) *Removed[K, V] {
	return &Removed[K, V]{m: m, ref: reclaim.NewRef(e, m.release)}
}

func (r *Removed[K, V]) entry() *entry[K, V] {
	e := r.ref.Get()
	if e == nil {
		panic("hashmap: entry access on a spent removal reference")
	}
	return e
}

// Key returns the detached entry's key. Panics once the reference has
// been consumed.
func (r *Removed[K, V]) Key() K { return r.entry().key }

// Value returns the detached entry's value. Panics once the reference
// has been consumed.
func (r *Removed[K, V]) Value() V { return r.entry().val }

// TakeUnchecked copies the key and value out as owned values and
// recycles the entry. Caller asserts a grace period has elapsed since
// the detachment. Panics on a spent reference.
func (r *Removed[K, V]) TakeUnchecked() (K, V) {
	e := r.ref.TakeUnchecked()
	k, v := e.key, e.val
	r.m.release(e)
	return k, v
}

// Take synchronizes on p, then takes ownership. Blocks until in-flight
// readers finish.
func (r *Removed[K, V]) Take(p *rcu.Participant) (K, V) {
	p.Synchronize()
	return r.TakeUnchecked()
}

// ReclaimUnchecked implements reclaim.Deferred, so Removed references
// compose into a reclaim.Batch.
func (r *Removed[K, V]) ReclaimUnchecked() { r.ref.ReclaimUnchecked() }

// Defer queues disposal on p's deferred ring.
func (r *Removed[K, V]) Defer(p *rcu.Participant) { r.ref.Defer(p) }

// Call submits disposal to the domain's callback worker.
func (r *Removed[K, V]) Call(p *rcu.Participant) { r.ref.Call(p) }

// SafeCleanup forwards disposal to the process-wide cleaner. The path
// for goroutines with no registration.
func (r *Removed[K, V]) SafeCleanup() { r.ref.SafeCleanup() }
