// Package lfq provides the lock-free queue and stack primitives the rest
// of the module builds on: a Treiber stack with O(1) splice, a
// many-producer/single-consumer queue derived from it, and a padded SPSC
// ring for single-goroutine work queues.
//
// The package is dependency-free and makes no assumption about what it
// carries; reclamation policy lives in the callers.
package lfq
