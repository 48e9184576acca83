package rcu

import (
	"sync/atomic"

	"quiesce/lfq"
)

// Capability flags granted at registration time. A zero-capability
// participant can only read and synchronize.
type Capability uint8

const (
	// CanDefer lets the participant queue reclamation work on its own
	// deferred ring, drained at its synchronization points.
	CanDefer Capability = 1 << iota
	// CanCall lets the participant submit reclamation work to the
	// domain's shared callback worker.
	CanCall
)

// deferRingSize bounds the fast path of the deferred-work ring; work
// beyond it spills to an owner-only overflow slice, so producers never
// block and nothing is dropped.
const deferRingSize = 1 << 10

// Participant is one goroutine's registration with a Domain. All
// methods must be called from the owning goroutine.
type Participant struct {
	dom   *Domain
	caps  Capability
	epoch atomic.Uint64 // epoch at outermost Lock, idle when not reading
	depth int           // read-section nesting, owner-goroutine only

	deferred *lfq.Ring[func()]
	overflow []func()
	dead     bool
}

// Lock enters a read-side critical section and returns its guard.
// Sections nest; the epoch is recorded only on the outermost entry.
func (p *Participant) Lock() *Guard {
	if p.dead {
		panic("rcu: Lock on unregistered participant")
	}
	if p.depth == 0 {
		p.epoch.Store(p.dom.epoch.Load())
	}
	p.depth++
	return &Guard{p: p}
}

// Synchronize blocks until a grace period has elapsed, then drains any
// work queued with Defer. Calling it with a section open would deadlock
// against ourselves, so that is rejected outright.
func (p *Participant) Synchronize() {
	if p.dead {
		panic("rcu: Synchronize on unregistered participant")
	}
	if p.depth != 0 {
		panic("rcu: Synchronize inside read-side critical section")
	}
	p.dom.Synchronize()
	p.drainDeferred()
}

// Defer queues fn on the participant's own ring. It runs on this
// goroutine at the next Synchronize or Flush, after a grace period has
// elapsed. Requires CanDefer.
func (p *Participant) Defer(fn func()) {
	if p.dead {
		panic("rcu: Defer on unregistered participant")
	}
	if p.caps&CanDefer == 0 {
		panic("rcu: Defer on participant registered without CanDefer")
	}
	if !p.deferred.Enqueue(fn) {
		p.overflow = append(p.overflow, fn)
	}
}

// Call hands fn to the domain's shared callback worker, which
// synchronizes and runs it on its own goroutine. Requires CanCall; fn
// must therefore be safe to run off the submitting goroutine.
func (p *Participant) Call(fn func()) {
	if p.dead {
		panic("rcu: Call on unregistered participant")
	}
	if p.caps&CanCall == 0 {
		panic("rcu: Call on participant registered without CanCall")
	}
	p.dom.enqueueCallback(fn)
}

// Flush synchronizes and drains the deferred ring immediately. A no-op
// when nothing is queued, so it is cheap to call periodically.
func (p *Participant) Flush() {
	if p.dead {
		panic("rcu: Flush on unregistered participant")
	}
	if p.depth != 0 {
		panic("rcu: Flush inside read-side critical section")
	}
	if p.deferred == nil || (p.deferred.IsEmpty() && len(p.overflow) == 0) {
		return
	}
	p.dom.Synchronize()
	p.drainDeferred()
}

func (p *Participant) drainDeferred() {
	if p.deferred == nil {
		return
	}
	for {
		fn, ok := p.deferred.Dequeue()
		if !ok {
			break
		}
		fn()
	}
	for _, fn := range p.overflow {
		fn()
	}
	p.overflow = nil
}

// Unregister removes the participant from its domain. Pending deferred
// work is flushed first. Panics if a read-side critical section is
// still open or the participant was already unregistered.
func (p *Participant) Unregister() {
	if p.dead {
		panic("rcu: Unregister called twice")
	}
	if p.depth != 0 {
		panic("rcu: Unregister with open read-side critical section")
	}
	p.Flush()
	p.dom.unregister(p)
	p.dead = true
}

// Domain returns the domain this participant is registered on.
func (p *Participant) Domain() *Domain { return p.dom }
