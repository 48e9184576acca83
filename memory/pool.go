package memory

import "sync"

// Pool recycles container nodes. It is a typed veneer over sync.Pool;
// the grace-period discipline that makes recycling safe lives entirely
// in the caller, which must put a node back only from a reclamation
// hook that runs after the node became unreachable.
type Pool[T any] struct {
	p *sync.Pool
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	p.p.Put(v)
}
