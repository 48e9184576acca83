package rcu

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"quiesce/lfq"
)

// idle marks a participant with no open read-side critical section.
const idle = ^uint64(0)

// DefaultCallbackInterval is how often the callback worker wakes up on
// its own when no explicit kick arrives.
const DefaultCallbackInterval = 10 * time.Millisecond

// Domain is one grace-period engine instance: a registry of
// participants, the global epoch they synchronize against, and the
// shared callback list behind the Call strategy. Most programs use the
// package-level Default domain; tests construct their own so epochs and
// callbacks stay isolated.
type Domain struct {
	epoch atomic.Uint64

	mu           sync.Mutex
	participants map[*Participant]struct{}

	callbacks  lfq.Queue[func()]
	cbOnce     sync.Once
	stopOnce   sync.Once
	cbWake     chan struct{}
	cbStop     chan struct{}
	cbDone     chan struct{}
	cbInterval time.Duration
}

// DomainConfig configures a Domain. The zero value is usable.
type DomainConfig struct {
	// CallbackInterval is how often the callback worker wakes on its
	// own when no explicit kick arrives. Zero or negative means
	// DefaultCallbackInterval.
	CallbackInterval time.Duration
}

// NewDomain creates an independent grace-period domain with defaults.
func NewDomain() *Domain {
	return NewDomainWithConfig(DomainConfig{})
}

// NewDomainWithConfig creates a domain with explicit tuning.
func NewDomainWithConfig(cfg DomainConfig) *Domain {
	iv := cfg.CallbackInterval
	if iv <= 0 {
		iv = DefaultCallbackInterval
	}
	return &Domain{
		participants: make(map[*Participant]struct{}),
		cbInterval:   iv,
	}
}

var defaultDomain = NewDomain()

// Default returns the process-wide domain.
func Default() *Domain { return defaultDomain }

// Register creates a participant on this domain. The returned handle is
// owned by the calling goroutine; only Call-submitted work may touch it
// from elsewhere, and only through the domain.
func (d *Domain) Register(caps Capability) *Participant {
	p := &Participant{
		dom:  d,
		caps: caps,
	}
	p.epoch.Store(idle)
	if caps&CanDefer != 0 {
		p.deferred = lfq.NewRing[func()](deferRingSize)
	}
	d.mu.Lock()
	d.participants[p] = struct{}{}
	d.mu.Unlock()
	return p
}

// unregister removes p. Called via Participant.Unregister, which has
// already validated nesting depth.
func (d *Domain) unregister(p *Participant) {
	d.mu.Lock()
	delete(d.participants, p)
	d.mu.Unlock()
}

// Synchronize blocks until every read-side critical section active at
// the time of the call has exited. It is the one deliberate suspension
// point in the package: once the wait begins it runs to completion.
func (d *Domain) Synchronize() {
	target := d.epoch.Add(1)
	for spins := 0; ; spins++ {
		if d.quiescedAt(target) {
			return
		}
		if spins < 64 {
			runtime.Gosched()
		} else {
			time.Sleep(10 * time.Microsecond)
		}
	}
}

// quiescedAt reports whether no participant is still reading under an
// epoch older than target.
func (d *Domain) quiescedAt(target uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for p := range d.participants {
		e := p.epoch.Load()
		if e != idle && e < target {
			return false
		}
	}
	return true
}

// enqueueCallback hands fn to the domain's callback worker, starting the
// worker on first use. The worker periodically synchronizes once and
// then runs everything submitted before that barrier.
func (d *Domain) enqueueCallback(fn func()) {
	d.cbOnce.Do(d.startCallbackWorker)
	d.callbacks.Enqueue(fn)
	select {
	case d.cbWake <- struct{}{}:
	default:
	}
}

func (d *Domain) startCallbackWorker() {
	d.cbWake = make(chan struct{}, 1)
	d.cbStop = make(chan struct{})
	d.cbDone = make(chan struct{})
	go d.callbackLoop()
}

func (d *Domain) callbackLoop() {
	defer close(d.cbDone)
	ticker := time.NewTicker(d.cbInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.cbWake:
		case <-ticker.C:
		case <-d.cbStop:
			d.runCallbacks()
			return
		}
		d.runCallbacks()
	}
}

func (d *Domain) runCallbacks() {
	batch := d.callbacks.Drain()
	if len(batch) == 0 {
		return
	}
	d.Synchronize()
	for _, fn := range batch {
		fn()
	}
}

// Close stops the callback worker after one final drain. Only tests and
// orderly process shutdown need it; the Default domain's worker normally
// lives for the whole process.
func (d *Domain) Close() {
	d.cbOnce.Do(d.startCallbackWorker)
	d.stopOnce.Do(func() {
		close(d.cbStop)
		<-d.cbDone
	})
}

// Epoch exposes the current global epoch for diagnostics.
func (d *Domain) Epoch() uint64 { return d.epoch.Load() }
