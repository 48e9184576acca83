package reclaim

import "quiesce/rcu"

// Batch composes many deferred references into one logical unit, so a
// bulk detachment (container teardown, multi-node splice) pays for a
// single grace period instead of one per node.
type Batch struct {
	refs []Deferred
}

// NewBatch creates a batch over the given references.
func NewBatch(refs ...Deferred) *Batch {
	return &Batch{refs: refs}
}

// Add appends a reference to the batch.
func (b *Batch) Add(d Deferred) {
	b.refs = append(b.refs, d)
}

// Len returns the number of references in the batch.
func (b *Batch) Len() int { return len(b.refs) }

// ReclaimUnchecked implements Deferred: disposes every element. Caller
// asserts one grace period has elapsed since the last detachment.
func (b *Batch) ReclaimUnchecked() {
	for _, d := range b.refs {
		d.ReclaimUnchecked()
	}
	b.refs = nil
}

// Reclaim synchronizes once on p, then disposes every element.
func (b *Batch) Reclaim(p *rcu.Participant) {
	if len(b.refs) == 0 {
		return
	}
	p.Synchronize()
	b.ReclaimUnchecked()
}

// Defer queues the whole batch on p's deferred ring as one unit.
func (b *Batch) Defer(p *rcu.Participant) {
	p.Defer(b.ReclaimUnchecked)
}

// Call submits the whole batch to the domain's callback worker.
func (b *Batch) Call(p *rcu.Participant) {
	p.Call(b.ReclaimUnchecked)
}

// SafeCleanup forwards the whole batch to the process-wide Cleaner as a
// single request.
func (b *Batch) SafeCleanup() {
	DefaultCleaner().Submit(b.ReclaimUnchecked)
}
