// Package rcu implements the grace-period engine: participant
// registration, read-side critical sections, and the blocking
// synchronize barrier that the reclamation strategies are built on.
//
// The model is epoch-based. Every participant records the global epoch
// when it enters its outermost read-side critical section and marks
// itself idle on exit. Synchronize advances the global epoch and waits
// until no participant is still reading under an older epoch; once that
// holds, every critical section that could have observed a pointer
// unlinked before the barrier has finished, so the pointed-to memory can
// be handed back to its owner.
//
// A Participant is owned by a single goroutine. Registration hands out a
// fresh handle; the handle's read, defer and flush operations must all be
// invoked from the owning goroutine. Misuse that would break the safety
// argument (unlocking a dead guard, unregistering with a section open,
// synchronizing from inside a section) panics at the call site.
package rcu
