package hashmap

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"quiesce/rcu"
	"quiesce/reclaim"
)

// Tests register on the default domain: the process-wide cleaner
// synchronizes that domain, so SafeCleanup and teardown paths are only
// safe for readers registered there.

func testParticipant(t *testing.T, caps rcu.Capability) *rcu.Participant {
	t.Helper()
	p := rcu.Default().Register(caps)
	t.Cleanup(p.Unregister)
	return p
}

func TestInsertLookupReplaceScenario(t *testing.T) {
	m, err := New[int, string](Config{Buckets: 16})
	require.NoError(t, err)
	p := testParticipant(t, rcu.CanDefer)

	g := p.Lock()
	ref, replaced := m.InsertOrReplace(g, 1, "a")
	require.False(t, replaced)
	require.Nil(t, ref)

	_, replaced = m.InsertOrReplace(g, 2, "b")
	require.False(t, replaced)

	old, replaced := m.InsertOrReplace(g, 1, "c")
	require.True(t, replaced)
	require.Equal(t, "a", old.Value())

	v, ok := m.Lookup(g, 1)
	require.True(t, ok)
	require.Equal(t, "c", *v)

	got := map[int]string{}
	m.Range(g, func(k int, v *string) bool {
		got[k] = *v
		return true
	})
	require.Equal(t, map[int]string{1: "c", 2: "b"}, got)

	removed, ok := m.Remove(g, 2)
	require.True(t, ok)
	require.Equal(t, "b", removed.Value())

	_, ok = m.Lookup(g, 2)
	require.False(t, ok)
	g.Unlock()

	k, v2 := old.Take(p)
	require.Equal(t, 1, k)
	require.Equal(t, "a", v2)
	removed.Defer(p)
	p.Synchronize()
	require.Equal(t, int64(1), m.Live())
}

func TestRemoveAbsentKeyIsNoop(t *testing.T) {
	m, err := New[string, int](Config{})
	require.NoError(t, err)
	p := testParticipant(t, 0)

	g := p.Lock()
	defer g.Unlock()
	ref, ok := m.Remove(g, "missing")
	require.False(t, ok)
	require.Nil(t, ref)
	_, ok = m.Lookup(g, "missing")
	require.False(t, ok)
}

func TestReplaceDetachesExactlyOnce(t *testing.T) {
	m, err := New[int, int](Config{Buckets: 8})
	require.NoError(t, err)
	p := testParticipant(t, rcu.CanDefer)

	g := p.Lock()
	m.InsertOrReplace(g, 1, 100)
	old, replaced := m.InsertOrReplace(g, 1, 200)
	g.Unlock()
	require.True(t, replaced)
	require.Equal(t, int64(2), m.Live(), "old entry detached but not yet reclaimed")

	k, v := old.Take(p)
	require.Equal(t, 1, k)
	require.Equal(t, 100, v)
	require.Equal(t, int64(1), m.Live())

	require.Panics(t, func() { old.TakeUnchecked() }, "second take would be a double free")

	g = p.Lock()
	got, ok := m.Lookup(g, 1)
	g.Unlock()
	require.True(t, ok)
	require.Equal(t, 200, *got)
}

func TestConcurrentRemoveSingleWinner(t *testing.T) {
	m, err := New[int, string](Config{Buckets: 8})
	require.NoError(t, err)

	for round := 0; round < 200; round++ {
		p := rcu.Default().Register(0)
		g := p.Lock()
		m.InsertOrReplace(g, 7, "x")
		g.Unlock()
		p.Unregister()

		var wins int32
		var mu sync.Mutex
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p := rcu.Default().Register(0)
				defer p.Unregister()
				g := p.Lock()
				ref, ok := m.Remove(g, 7)
				g.Unlock()
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
					ref.SafeCleanup()
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, wins, "exactly one remover must win")
	}
	reclaim.DefaultCleaner().Barrier()
	require.Zero(t, m.Live())
}

func TestConcurrentInsertSameKeyOneWinner(t *testing.T) {
	m, err := New[int, int](Config{Buckets: 2})
	require.NoError(t, err)

	var freshInserts int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := rcu.Default().Register(0)
			defer p.Unregister()
			g := p.Lock()
			ref, replaced := m.InsertOrReplace(g, 9, i)
			g.Unlock()
			if !replaced {
				mu.Lock()
				freshInserts++
				mu.Unlock()
			} else {
				ref.SafeCleanup()
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, freshInserts, "CAS must resolve same-key insert to one winner")
	require.Equal(t, 1, m.Len())
}

func TestConcurrentInsertAbsentKeyNoDuplicate(t *testing.T) {
	// A long single-bucket chain keeps the insert walk busy long enough
	// for a racing same-key insert to land at the head mid-walk. The
	// loser must re-walk and take the replace path, never prepend a
	// second live entry for the key.
	m, err := New[int, int](Config{Buckets: 1})
	require.NoError(t, err)

	p := testParticipant(t, 0)
	g := p.Lock()
	for i := 0; i < 1<<10; i++ {
		m.InsertOrReplace(g, 1000+i, i)
	}
	g.Unlock()

	for round := 0; round < 10; round++ {
		key := -(round + 1)
		var fresh int32
		var mu sync.Mutex
		begin := make(chan struct{})
		var wg sync.WaitGroup
		for w := 0; w < 2; w++ {
			w := w
			wg.Add(1)
			go func() {
				defer wg.Done()
				p := rcu.Default().Register(0)
				defer p.Unregister()
				<-begin
				g := p.Lock()
				ref, replaced := m.InsertOrReplace(g, key, w)
				g.Unlock()
				if replaced {
					ref.SafeCleanup()
				} else {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}()
		}
		close(begin)
		wg.Wait()
		require.EqualValues(t, 1, fresh, "round %d: same-key insert must resolve to one winner", round)

		g := p.Lock()
		live := 0
		m.Range(g, func(k int, _ *int) bool {
			if k == key {
				live++
			}
			return true
		})
		g.Unlock()
		require.Equal(t, 1, live, "round %d: exactly one live entry for the key", round)
	}
	reclaim.DefaultCleaner().Barrier()
}

func TestNetSetUnderConcurrentChurn(t *testing.T) {
	m, err := New[int, int](Config{Buckets: 64})
	require.NoError(t, err)

	const workers = 8
	const perWorker = 500

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		base := w * perWorker
		g.Go(func() error {
			p := rcu.Default().Register(rcu.CanDefer)
			defer p.Unregister()
			for i := base; i < base+perWorker; i++ {
				guard := p.Lock()
				m.InsertOrReplace(guard, i, i)
				guard.Unlock()
			}
			// Remove the odd keys in this worker's range.
			for i := base + 1; i < base+perWorker; i += 2 {
				guard := p.Lock()
				ref, ok := m.Remove(guard, i)
				guard.Unlock()
				if !ok {
					return fmt.Errorf("key %d missing before removal", i)
				}
				ref.Defer(p)
			}
			p.Flush()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	p := testParticipant(t, 0)
	guard := p.Lock()
	defer guard.Unlock()
	for i := 0; i < workers*perWorker; i++ {
		_, ok := m.Lookup(guard, i)
		if i%perWorker%2 == 0 {
			require.True(t, ok, "even key %d must survive", i)
		} else {
			require.False(t, ok, "odd key %d must be gone", i)
		}
	}
	require.Equal(t, workers*perWorker/2, m.Len())
}

func TestAdjacentRemovalKeepsNeighborsVisible(t *testing.T) {
	// Single bucket so every key shares one chain: removals of odd keys
	// constantly mark and unlink entries right next to the even ones the
	// readers verify.
	m, err := New[int, int](Config{Buckets: 1})
	require.NoError(t, err)

	p := testParticipant(t, 0)
	g := p.Lock()
	for i := 0; i < 8; i++ {
		m.InsertOrReplace(g, i, i)
	}
	g.Unlock()

	stop := make(chan struct{})
	var eg errgroup.Group
	eg.Go(func() error {
		w := rcu.Default().Register(0)
		defer w.Unregister()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return nil
			default:
			}
			key := 1 + 2*(i%4)
			g := w.Lock()
			ref, ok := m.Remove(g, key)
			g.Unlock()
			if ok {
				ref.SafeCleanup()
			}
			g = w.Lock()
			old, replaced := m.InsertOrReplace(g, key, key)
			g.Unlock()
			if replaced {
				old.SafeCleanup()
			}
		}
	})
	for r := 0; r < 2; r++ {
		eg.Go(func() error {
			p := rcu.Default().Register(0)
			defer p.Unregister()
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				g := p.Lock()
				for k := 0; k < 8; k += 2 {
					if v, ok := m.Lookup(g, k); !ok || *v != k {
						g.Unlock()
						return fmt.Errorf("even key %d hidden by neighbor churn", k)
					}
				}
				g.Unlock()
			}
		})
	}
	time.Sleep(200 * time.Millisecond)
	close(stop)
	require.NoError(t, eg.Wait())
}

func TestGuardProtectsRemovedEntry(t *testing.T) {
	m, err := New[int, string](Config{Buckets: 8})
	require.NoError(t, err)
	writer := testParticipant(t, 0)

	g := writer.Lock()
	m.InsertOrReplace(g, 2, "b")
	g.Unlock()

	borrowed := make(chan *string)
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		p := rcu.Default().Register(0)
		defer p.Unregister()
		guard := p.Lock()
		v, ok := m.Lookup(guard, 2)
		if !ok {
			borrowed <- nil
			guard.Unlock()
			return
		}
		borrowed <- v
		<-release
		// Reclamation zeroes the entry, so an early free would be
		// visible here as a corrupted borrow.
		if *v != "b" {
			t.Error("borrowed value corrupted inside critical section")
		}
		guard.Unlock()
	}()

	v := <-borrowed
	require.NotNil(t, v)

	g = writer.Lock()
	ref, ok := m.Remove(g, 2)
	g.Unlock()
	require.True(t, ok)
	ref.SafeCleanup()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(1), m.Live(), "entry must survive while the reader's section is open")

	close(release)
	<-done
	reclaim.DefaultCleaner().Barrier()
	require.Zero(t, m.Live())
}

func TestTakeUncheckedAfterExplicitSynchronize(t *testing.T) {
	m, err := New[int, string](Config{Buckets: 8})
	require.NoError(t, err)
	p := testParticipant(t, 0)

	g := p.Lock()
	m.InsertOrReplace(g, 42, "hello")
	ref, ok := m.Remove(g, 42)
	g.Unlock()
	require.True(t, ok)

	p.Synchronize()
	k, v := ref.TakeUnchecked()
	require.Equal(t, 42, k)
	require.Equal(t, "hello", v)
}

func TestRemovedSpentAccessPanics(t *testing.T) {
	m, err := New[int, string](Config{Buckets: 8})
	require.NoError(t, err)
	p := testParticipant(t, 0)

	g := p.Lock()
	m.InsertOrReplace(g, 5, "e")
	ref, ok := m.Remove(g, 5)
	g.Unlock()
	require.True(t, ok)
	require.Equal(t, 5, ref.Key())
	require.Equal(t, "e", ref.Value())

	p.Synchronize()
	ref.ReclaimUnchecked()
	require.Panics(t, func() { ref.Key() })
	require.Panics(t, func() { ref.Value() })
}

func TestTeardownFromUnregisteredGoroutine(t *testing.T) {
	const n = 100
	h, err := NewHandle[int, int](Config{Buckets: 16})
	require.NoError(t, err)
	m := h.Map()

	p := testParticipant(t, 0)
	g := p.Lock()
	for i := 1; i <= n; i++ {
		m.InsertOrReplace(g, i, i)
	}
	g.Unlock()
	require.Equal(t, int64(n), m.Live())

	// Drop the last handle from a goroutine with no registration at all.
	done := make(chan struct{})
	go func() {
		h.Close()
		close(done)
	}()
	<-done

	reclaim.DefaultCleaner().Barrier()
	require.Zero(t, m.Live(), "no outstanding entries after the cleaner drains")
	require.Zero(t, m.Len())
}

func TestHandleSharedOwnership(t *testing.T) {
	h, err := NewHandle[int, int](Config{Buckets: 8})
	require.NoError(t, err)
	m := h.Map()
	p := testParticipant(t, 0)

	g := p.Lock()
	m.InsertOrReplace(g, 1, 1)
	g.Unlock()

	clone := h.Clone()
	h.Close()

	// The map stays alive through the clone.
	g = p.Lock()
	_, ok := m.Lookup(g, 1)
	g.Unlock()
	require.True(t, ok)
	require.Equal(t, int64(1), m.Live())

	clone.Close()
	reclaim.DefaultCleaner().Barrier()
	require.Zero(t, m.Live())

	require.Panics(t, clone.Close, "double close of the same handle")
	require.Panics(t, func() { clone.Clone() })
}

func TestDeadGuardRejected(t *testing.T) {
	m, err := New[int, int](Config{})
	require.NoError(t, err)
	p := testParticipant(t, 0)

	g := p.Lock()
	g.Unlock()
	require.Panics(t, func() { m.Lookup(g, 1) })
}

func TestConfigValidation(t *testing.T) {
	_, err := New[int, int](Config{Buckets: 3})
	require.ErrorIs(t, err, ErrBucketsNotPow2)
	_, err = New[int, int](Config{Buckets: -8})
	require.ErrorIs(t, err, ErrBucketsNotPow2)
}

func TestStringHasher(t *testing.T) {
	m, err := NewWithHasher[string, int](Config{Buckets: 8}, StringHasher[string]())
	require.NoError(t, err)
	p := testParticipant(t, 0)

	g := p.Lock()
	defer g.Unlock()
	m.InsertOrReplace(g, "alpha", 1)
	m.InsertOrReplace(g, "beta", 2)
	require.True(t, m.Contains(g, "alpha"))
	v, ok := m.Lookup(g, "beta")
	require.True(t, ok)
	require.Equal(t, 2, *v)
	require.False(t, m.Contains(g, "gamma"))
}

func TestBytesHasher(t *testing.T) {
	type pairKey struct {
		Hi uint32
		Lo uint32
	}
	h := BytesHasher(func(k pairKey) []byte {
		var b [8]byte
		binary.BigEndian.PutUint32(b[:4], k.Hi)
		binary.BigEndian.PutUint32(b[4:], k.Lo)
		return b[:]
	})
	m, err := NewWithHasher[pairKey, string](Config{Buckets: 8}, h)
	require.NoError(t, err)
	p := testParticipant(t, 0)

	g := p.Lock()
	defer g.Unlock()
	m.InsertOrReplace(g, pairKey{Hi: 1, Lo: 9}, "x")
	v, ok := m.Lookup(g, pairKey{Hi: 1, Lo: 9})
	require.True(t, ok)
	require.Equal(t, "x", *v)
	require.False(t, m.Contains(g, pairKey{Hi: 1, Lo: 10}))
}

func TestRangeEarlyStop(t *testing.T) {
	m, err := New[int, int](Config{Buckets: 8})
	require.NoError(t, err)
	p := testParticipant(t, 0)

	g := p.Lock()
	defer g.Unlock()
	for i := 0; i < 10; i++ {
		m.InsertOrReplace(g, i, i)
	}
	seen := 0
	m.Range(g, func(int, *int) bool {
		seen++
		return seen < 3
	})
	require.Equal(t, 3, seen)
}
