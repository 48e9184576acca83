package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"quiesce/hashmap"
	"quiesce/rcu"
	"quiesce/reclaim"
)

func main() {
	var (
		readers   = flag.Int("readers", 4, "reader goroutines")
		writers   = flag.Int("writers", 2, "writer goroutines")
		keySpace  = flag.Int("keys", 1<<16, "distinct keys")
		duration  = flag.Duration("duration", 10*time.Second, "run length")
		writeRate = flag.Float64("write-rate", 0, "writer ops/sec across all writers, 0 = unlimited")
	)
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var limiter *rate.Limiter
	if *writeRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(*writeRate), max(1, int(*writeRate)))
	}

	// ---------------- Container ----------------

	handle, err := hashmap.NewHandle[string, uint64](hashmap.Config{Buckets: 1 << 12})
	if err != nil {
		log.Fatal().Err(err).Msg("map init failed")
	}
	m := handle.Map()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	// ---------------- Writers ----------------

	for w := 0; w < *writers; w++ {
		w := w
		g.Go(func() error {
			p := rcu.Default().Register(rcu.CanDefer)
			defer p.Unregister()
			var ops uint64
			for i := 0; ctx.Err() == nil; i++ {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						break
					}
				}
				key := fmt.Sprintf("k%d", (i*7+w)%*keySpace)
				guard := p.Lock()
				if i%3 == 2 {
					if ref, ok := m.Remove(guard, key); ok {
						guard.Unlock()
						ref.Defer(p)
					} else {
						guard.Unlock()
					}
				} else {
					ref, replaced := m.InsertOrReplace(guard, key, xxhash.Sum64String(key))
					guard.Unlock()
					if replaced {
						ref.Defer(p)
					}
				}
				ops++
				if ops%4096 == 0 {
					p.Flush()
				}
			}
			p.Flush()
			log.Info().Int("writer", w).Uint64("ops", ops).Msg("writer done")
			return nil
		})
	}

	// ---------------- Readers ----------------

	for r := 0; r < *readers; r++ {
		r := r
		g.Go(func() error {
			p := rcu.Default().Register(0)
			defer p.Unregister()
			var hits, misses uint64
			for i := 0; ctx.Err() == nil; i++ {
				key := fmt.Sprintf("k%d", (i*13+r)%*keySpace)
				guard := p.Lock()
				if v, ok := m.Lookup(guard, key); ok {
					if *v != xxhash.Sum64String(key) {
						guard.Unlock()
						return fmt.Errorf("corrupt value for %s", key)
					}
					hits++
				} else {
					misses++
				}
				guard.Unlock()
			}
			log.Info().Int("reader", r).Uint64("hits", hits).Uint64("misses", misses).Msg("reader done")
			return nil
		})
	}

	// ---------------- Progress ----------------

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				log.Info().
					Int("len", m.Len()).
					Int64("live", m.Live()).
					Uint64("epoch", rcu.Default().Epoch()).
					Msg("progress")
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("stress run failed")
	}

	// ---------------- Teardown ----------------

	handle.Close()
	reclaim.DefaultCleaner().Barrier()
	log.Info().Int64("live", m.Live()).Msg("drained")
	if m.Live() != 0 {
		log.Fatal().Int64("live", m.Live()).Msg("leak detected")
	}
}
