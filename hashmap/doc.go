// Package hashmap provides a chained concurrent hash map whose readers
// never block and whose writers mutate bucket chains through atomic
// pointer compare-and-swap only. No mutex ever guards a chain.
//
// Every structural change that physically detaches an entry produces a
// Removed reference; the entry's memory is not reused until a grace
// period has elapsed, so readers inside a critical section can keep
// dereferencing what they already found.
//
// Removal is two-phase. A writer first marks the victim by swinging its
// next pointer to a marker node (the linearization point, won by exactly
// one writer), then finishes the physical unlink before the detached
// reference is handed out; writer traversals help complete pending
// unlinks, while read-only traversals simply step across markers. A
// concurrent removal of an adjacent entry therefore never hides a live
// one, and once a removal returns, new critical sections cannot reach
// the entry at all: a single grace period is the only gate left on
// reusing its memory.
package hashmap
