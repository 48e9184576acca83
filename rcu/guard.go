package rcu

// Guard is the token for one level of read-side critical section.
// While a guard is live, no pointer loaded from a shared structure under
// it is reclaimed. Guards must be unlocked on every exit path, normally
// via defer, and from the goroutine that owns the participant.
type Guard struct {
	p *Participant
}

// Unlock exits the critical section. Panics on double unlock.
func (g *Guard) Unlock() {
	if g.p == nil {
		panic("rcu: Unlock of dead guard")
	}
	p := g.p
	g.p = nil
	p.depth--
	if p.depth < 0 {
		panic("rcu: guard accounting underflow")
	}
	if p.depth == 0 {
		p.epoch.Store(idle)
	}
}

// Active reports whether the guard still holds its critical section.
// Containers use it to reject operations on a dead guard.
func (g *Guard) Active() bool {
	return g != nil && g.p != nil && g.p.depth > 0
}

// Participant returns the participant the guard was taken on.
func (g *Guard) Participant() *Participant { return g.p }
