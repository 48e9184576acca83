package reclaim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"quiesce/lfq"
	"quiesce/rcu"
)

var (
	ErrCleanerRunning = errors.New("reclaim: cleaner already running")
	ErrCleanerStopped = errors.New("reclaim: cleaner already stopped")
)

// CleanerConfig configures a Cleaner. The zero value is usable: default
// domain, unbounded queue.
type CleanerConfig struct {
	// Domain the worker registers on. Defaults to rcu.Default().
	Domain *rcu.Domain
	// MaxPending bounds the number of submitted-but-unprocessed
	// requests; producers block once it is reached. Zero means
	// unbounded.
	MaxPending int64
}

// Cleaner is the cleanup coordinator: a many-producer/one-consumer
// queue of reclamation requests plus a worker goroutine that is a
// permanently registered participant. It exists so that goroutines with
// no registration at all can still dispose of deferred references.
//
// The worker synchronizes once per drained batch, so requests submitted
// before a given barrier are fully reclaimed before any request
// submitted after it is started. Within one batch no order is
// guaranteed.
type Cleaner struct {
	dom   *rcu.Domain
	queue lfq.Queue[func()]
	sem   *semaphore.Weighted

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	running atomic.Bool
	stopped atomic.Bool
}

// NewCleaner creates a stopped Cleaner; call Start before submitting.
func NewCleaner(cfg CleanerConfig) *Cleaner {
	dom := cfg.Domain
	if dom == nil {
		dom = rcu.Default()
	}
	c := &Cleaner{
		dom:  dom,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.MaxPending > 0 {
		c.sem = semaphore.NewWeighted(cfg.MaxPending)
	}
	return c
}

// Start launches the worker goroutine.
func (c *Cleaner) Start() error {
	if c.stopped.Load() {
		return ErrCleanerStopped
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrCleanerRunning
	}
	go c.run()
	return nil
}

// Submit enqueues one reclamation request. Callable from any goroutine,
// registered or not. fn runs on the worker goroutine after a grace
// period has elapsed since submission. Blocks only when a MaxPending
// bound is configured and reached. Submitting to a cleaner that is not
// accepting work is fatal: there is no safe fallback for
// unregistered-thread cleanup. A Submit racing Stop fails the same way
// when its request can no longer be guaranteed to drain.
func (c *Cleaner) Submit(fn func()) {
	if !c.running.Load() || c.stopped.Load() {
		log.Fatal().Msg("reclaim: submit to stopped cleanup coordinator, no safe fallback exists")
	}
	if c.sem != nil {
		if err := c.sem.Acquire(context.Background(), 1); err != nil {
			log.Fatal().Err(err).Msg("reclaim: cleanup coordinator backpressure wait failed")
		}
	}
	c.queue.Enqueue(fn)
	// Stop publishes stopped before the worker's final drain, so a
	// request enqueued while stopped was still false is always drained.
	// Seeing it true here means the final drain may already be past.
	if c.stopped.Load() {
		log.Fatal().Msg("reclaim: submit raced cleanup coordinator shutdown, request may be dropped")
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Barrier blocks until every request submitted before the call has been
// reclaimed. Tests use it to observe the drained state deterministically.
func (c *Cleaner) Barrier() {
	ch := make(chan struct{})
	c.Submit(func() { close(ch) })
	<-ch
}

// Stop drains outstanding requests and joins the worker: every request
// whose Submit completed before the call is guaranteed to run. The
// cleaner cannot be restarted.
func (c *Cleaner) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	if !c.running.Load() {
		return
	}
	close(c.stop)
	<-c.done
}

func (c *Cleaner) run() {
	defer close(c.done)
	p := c.dom.Register(0)
	defer p.Unregister()
	for {
		select {
		case <-c.wake:
			c.process(p)
		case <-c.stop:
			c.process(p)
			return
		}
	}
}

// process drains one batch, waits out one grace period for all of it,
// then runs every request.
func (c *Cleaner) process(p *rcu.Participant) {
	batch := c.queue.Drain()
	if len(batch) == 0 {
		return
	}
	p.Synchronize()
	for _, fn := range batch {
		fn()
		if c.sem != nil {
			c.sem.Release(1)
		}
	}
}

var (
	defaultCleanerOnce sync.Once
	defaultCleaner     *Cleaner
)

// DefaultCleaner returns the process-wide coordinator, starting it on
// first use. It runs until process exit. Failure to start it is fatal.
func DefaultCleaner() *Cleaner {
	defaultCleanerOnce.Do(func() {
		defaultCleaner = NewCleaner(CleanerConfig{})
		if err := defaultCleaner.Start(); err != nil {
			log.Fatal().Err(err).Msg("reclaim: cleanup coordinator failed to start")
		}
	})
	return defaultCleaner
}
