// Package reclaim implements the deferred-reference ownership model: a
// node detached from a shared structure is wrapped in a Ref, and the Ref
// guarantees exactly one reclamation, never before a grace period has
// elapsed.
//
// Four entry points realize the guarantee:
//
//   - Take: synchronize on the caller's participant, then hand the node
//     out as an owned value. Blocks.
//   - Defer: queue on the participant's own ring; runs on that goroutine
//     at its next synchronization point.
//   - Call: submit to the domain's callback worker.
//   - SafeCleanup: forward to the process-wide Cleaner; the only path
//     that needs no participant, and therefore the path destructor-like
//     code on arbitrary goroutines must use.
//
// TakeUnchecked and ReclaimUnchecked are the underlying unsafe
// contract: the caller asserts the grace period already elapsed. All
// safe entry points guarantee that by construction before invoking them.
package reclaim
