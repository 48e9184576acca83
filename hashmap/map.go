package hashmap

import (
	"errors"
	"sync/atomic"

	"quiesce/memory"
	"quiesce/rcu"
	"quiesce/reclaim"
)

var ErrBucketsNotPow2 = errors.New("hashmap: bucket count must be a power of two")

const defaultBuckets = 1 << 10

// Config configures a Map. The zero value gives 1024 buckets.
type Config struct {
	// Buckets fixes the bucket array size; must be a power of two.
	Buckets int
}

// Map is the container. Construct with New or NewWithHasher; share
// between goroutines through a Handle when ownership is not obvious.
//
// All read and write operations require an active read-side guard.
// Values returned by Lookup are borrowed: they stay valid for the
// lifetime of the guard they were obtained under, no longer. Stored
// values that need mutation must synchronize internally, since readers
// may hold borrows for as long as their critical sections last.
type Map[K comparable, V any] struct {
	buckets []atomic.Pointer[entry[K, V]]
	mask    uint64
	hash    Hasher[K]
	pool    *memory.Pool[entry[K, V]]
	live    *memory.LiveCounter
	count   atomic.Int64
}

// New creates a map hashing keys with the runtime's seeded maphash.
func New[K comparable, V any](cfg Config) (*Map[K, V], error) {
	return NewWithHasher[K, V](cfg, defaultHasher[K]())
}

// NewWithHasher creates a map with an explicit hash function.
func NewWithHasher[K comparable, V any](cfg Config, h Hasher[K]) (*Map[K, V], error) {
	n := cfg.Buckets
	if n == 0 {
		n = defaultBuckets
	}
	if n < 0 || n&(n-1) != 0 {
		return nil, ErrBucketsNotPow2
	}
	return &Map[K, V]{
		buckets: make([]atomic.Pointer[entry[K, V]], n),
		mask:    uint64(n - 1),
		hash:    h,
		pool:    memory.NewPool(func() *entry[K, V] { return &entry[K, V]{} }),
		live:    &memory.LiveCounter{},
	}, nil
}

func (m *Map[K, V]) bucket(key K) *atomic.Pointer[entry[K, V]] {
	return &m.buckets[m.hash(key)&m.mask]
}

func (m *Map[K, V]) alloc(key K, val V) *entry[K, V] {
	e := m.pool.Get()
	e.key = key
	e.val = val
	e.marker = false
	e.next.Store(nil)
	m.live.Inc()
	return e
}

// release is the drop hook behind every Removed reference: it settles
// accounting and returns the entry to the pool. Only reachable after a
// grace period, so the slot cannot be reused under a live reader.
func (m *Map[K, V]) release(e *entry[K, V]) {
	var zk K
	var zv V
	e.key = zk
	e.val = zv
	e.next.Store(nil)
	m.live.Dec()
	m.pool.Put(e)
}

func (m *Map[K, V]) checkGuard(g *rcu.Guard) {
	if !g.Active() {
		panic("hashmap: operation without an active read-side guard")
	}
}

// find walks the bucket for the live entry holding key, completing any
// pending unlinks it passes. prev is the link that led to the entry so
// callers can splice at that point; cur is nil when the key is absent,
// with prev then pointing at the chain's tail link. start is the head
// value the final pass walked from: an absent verdict holds only for
// the chain rooted there, so a prepend must CAS against it.
func (m *Map[K, V]) find(head *atomic.Pointer[entry[K, V]], key K) (prev *atomic.Pointer[entry[K, V]], cur, start *entry[K, V]) {
restart:
	start = head.Load()
	prev = head
	cur = start
	for cur != nil {
		if cur.marker {
			// The entry we stepped from was deleted under us, so prev
			// no longer leads the live chain.
			goto restart
		}
		if succ, dead := cur.deleted(); dead {
			if !prev.CompareAndSwap(cur, succ) {
				goto restart
			}
			if prev == head {
				// Our own unlink moved the root; the walk stays valid
				// for the chain it now leads.
				start = succ
			}
			cur = succ
			continue
		}
		if cur.key == key {
			return prev, cur, start
		}
		prev = &cur.next
		cur = cur.next.Load()
	}
	return prev, nil, start
}

// detach completes the physical unlink of victim, which must already be
// marked. On return victim is unreachable from the bucket head: only
// critical sections that predate the detachment can still hold it, and
// those are exactly the sections a grace period waits out.
func (m *Map[K, V]) detach(head *atomic.Pointer[entry[K, V]], victim *entry[K, V]) {
restart:
	prev := head
	cur := prev.Load()
	for cur != nil {
		if cur.marker {
			goto restart
		}
		succ, dead := cur.deleted()
		if !dead {
			prev = &cur.next
			cur = cur.next.Load()
			continue
		}
		if !prev.CompareAndSwap(cur, succ) {
			goto restart
		}
		if cur == victim {
			return
		}
		cur = succ
	}
	// Walked the whole live chain without meeting victim: a helping
	// writer finished the unlink first.
}

// InsertOrReplace inserts the key or replaces its current entry. When a
// live entry with an equal key exists it is logically deleted and the
// new entry is spliced into its place in one linearizable step, so the
// key never goes missing mid-replace; the detached entry is returned
// for deferred reclamation. Otherwise the new entry is prepended to the
// bucket head. CAS failures restart the bucket walk.
func (m *Map[K, V]) InsertOrReplace(g *rcu.Guard, key K, val V) (*Removed[K, V], bool) {
	m.checkGuard(g)
	head := m.bucket(key)
	e := m.alloc(key, val)
	for {
		prev, old, start := m.find(head, key)
		if old == nil {
			// Prepend against the snapshot the walk validated. A fresh
			// head load here could absorb a same-key insert that landed
			// mid-walk and leave the key live twice.
			e.next.Store(start)
			if head.CompareAndSwap(start, e) {
				m.count.Add(1)
				return nil, false
			}
			continue
		}
		succ := old.next.Load()
		if succ != nil && succ.marker {
			continue // lost the race to a concurrent writer
		}
		e.next.Store(succ)
		mk := newMarker(e)
		if !old.next.CompareAndSwap(succ, mk) {
			continue
		}
		// The marker keeps e reachable while the splice is pending, so
		// the key never goes missing; old must still be fully unlinked
		// before its reference is handed out.
		if !prev.CompareAndSwap(old, e) {
			m.detach(head, old)
		}
		return m.newRemoved(old), true
	}
}

// Remove unlinks the entry for key and returns it for deferred
// reclamation. Exactly one of any set of concurrent removers of the
// same key wins the detachment; the rest observe "not found".
func (m *Map[K, V]) Remove(g *rcu.Guard, key K) (*Removed[K, V], bool) {
	m.checkGuard(g)
	head := m.bucket(key)
	for {
		prev, cur, _ := m.find(head, key)
		if cur == nil {
			return nil, false
		}
		succ := cur.next.Load()
		if succ != nil && succ.marker {
			continue // claimed by a concurrent writer
		}
		if !cur.next.CompareAndSwap(succ, newMarker(succ)) {
			continue
		}
		// The marker won the logical delete; finish the physical unlink
		// before handing the entry out, so sections entered from here on
		// cannot reach it and the grace period is the only gate left on
		// its reuse.
		if !prev.CompareAndSwap(cur, succ) {
			m.detach(head, cur)
		}
		m.count.Add(-1)
		return m.newRemoved(cur), true
	}
}

// Lookup returns a borrowed pointer to the value for key, valid for the
// lifetime of g. A single linear scan: no mutation, no retries, no
// allocation on the miss path.
func (m *Map[K, V]) Lookup(g *rcu.Guard, key K) (*V, bool) {
	m.checkGuard(g)
	cur := m.bucket(key).Load()
	for cur != nil {
		if cur.marker {
			cur = cur.next.Load()
			continue
		}
		if succ, dead := cur.deleted(); dead {
			cur = succ
			continue
		}
		if cur.key == key {
			return &cur.val, true
		}
		cur = cur.next.Load()
	}
	return nil, false
}

// Contains reports whether key is present.
func (m *Map[K, V]) Contains(g *rcu.Guard, key K) bool {
	_, ok := m.Lookup(g, key)
	return ok
}

// Range calls fn for each entry until fn returns false. The traversal
// is snapshot-free: entries inserted or removed while it runs may or
// may not be observed, but an entry is never yielded after being freed
// and a live entry is never skipped because a neighbor was removed.
func (m *Map[K, V]) Range(g *rcu.Guard, fn func(key K, val *V) bool) {
	m.checkGuard(g)
	for i := range m.buckets {
		cur := m.buckets[i].Load()
		for cur != nil {
			if cur.marker {
				cur = cur.next.Load()
				continue
			}
			if succ, dead := cur.deleted(); dead {
				cur = succ
				continue
			}
			if !fn(cur.key, &cur.val) {
				return
			}
			cur = cur.next.Load()
		}
	}
}

// Len returns the entry count. Approximate under concurrent mutation.
func (m *Map[K, V]) Len() int {
	return int(m.count.Load())
}

// Live returns the number of entries allocated and not yet reclaimed,
// including detached entries still waiting out their grace period.
func (m *Map[K, V]) Live() int64 {
	return m.live.Value()
}

// Teardown detaches every remaining entry and hands the lot to the
// process-wide cleaner as a single batch, so the one grace period is
// amortized over all of them. It never reclaims in place: the calling
// goroutine may not be a registered participant. Entries already
// detached by Remove stay owned by their Removed references.
//
// The caller must guarantee no concurrent writers; Handle does so by
// running Teardown only after the last reference is closed. Readers
// with live guards are unaffected.
func (m *Map[K, V]) Teardown() int {
	batch := reclaim.NewBatch()
	for i := range m.buckets {
		cur := m.buckets[i].Swap(nil)
		for cur != nil {
			if cur.marker {
				cur = cur.next.Load()
				continue
			}
			if succ, dead := cur.deleted(); dead {
				cur = succ
				continue
			}
			next := cur.next.Load()
			batch.Add(reclaim.NewRef(cur, m.release))
			m.count.Add(-1)
			cur = next
		}
	}
	n := batch.Len()
	if n > 0 {
		batch.SafeCleanup()
	}
	return n
}
