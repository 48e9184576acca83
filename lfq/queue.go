package lfq

// Queue is a many-producer/single-consumer queue built on Stack: any
// number of goroutines may Enqueue concurrently; exactly one consumer
// drains. Drain restores submission order per producer by reversing the
// spliced-out LIFO chain.
type Queue[T any] struct {
	s Stack[T]
}

// Enqueue adds v. Lock-free, callable from any goroutine.
func (q *Queue[T]) Enqueue(v T) {
	q.s.Push(v)
}

// Drain removes every element currently in the queue and returns them
// oldest first. Returns nil when empty. Single consumer only.
func (q *Queue[T]) Drain() []T {
	batch := q.s.TakeAll()
	for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
		batch[i], batch[j] = batch[j], batch[i]
	}
	return batch
}

// Len is approximate under concurrent mutation.
func (q *Queue[T]) Len() int { return q.s.Len() }
