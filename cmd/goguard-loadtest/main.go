// Command goguard-loadtest drives the rate limiter, the Redis counters and
// the response cache concurrently and reports latency percentiles per phase.
//
// With no -redis-addr and no REDIS_ADDR it runs against miniredis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/cache"
	"github.com/MrEthical07/goGuard/counter"
	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type phaseFunc func(ctx context.Context, r *rand.Rand, i int) error

func main() {
	var (
		clients     = flag.Int("clients", 10000, "number of distinct client identifiers")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		limit       = flag.Int("limit", 100, "rate limit requests per window")
		window      = flag.Duration("window", time.Minute, "rate limit window")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "key prefix for counters and cache entries")
	)
	flag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *ops <= 0 || *limit <= 0 || *window <= 0 {
		fmt.Fprintln(os.Stderr, "clients, concurrency, ops, limit and window must be > 0")
		os.Exit(2)
	}

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	limiter := ratelimit.New(ratelimit.WithLogger(logger))
	counters := counter.New(client)
	responses := cache.New(client, cache.Config{}, logger)

	ids := make([]string, *clients)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s:client-%d", *prefix, i)
	}

	payload := []byte(`{"status":"ok","items":[1,2,3]}`)
	fmt.Printf("seeding %d cache entries...\n", *clients)
	startSeed := time.Now()
	for _, id := range ids {
		responses.Set(ctx, id, payload, 0)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	var denied int64
	limitStats := runPhase(ctx, *ops, *concurrency, 7919, func(_ context.Context, r *rand.Rand, _ int) error {
		if !limiter.Check(ids[r.Intn(len(ids))], *limit, *window).Allowed {
			atomic.AddInt64(&denied, 1)
		}
		return nil
	})

	counterStats := runPhase(ctx, *ops, *concurrency, 6151, func(ctx context.Context, r *rand.Rand, _ int) error {
		_, err := counters.IncrementWithTTL(ctx, "counter:"+ids[r.Intn(len(ids))], *window)
		return err
	})

	var misses int64
	cacheStats := runPhase(ctx, *ops, *concurrency, 4099, func(ctx context.Context, r *rand.Rand, i int) error {
		key := ids[r.Intn(len(ids))]
		if i%10 == 0 {
			responses.Set(ctx, key, payload, 0)
			return nil
		}
		if _, ok := responses.Get(ctx, key); !ok {
			atomic.AddInt64(&misses, 1)
		}
		return nil
	})

	fmt.Println("---- results ----")
	printStats("ratelimit", limitStats)
	fmt.Printf("ratelimit: denied=%d tracked=%d\n", denied, limiter.Len())
	printStats("counter", counterStats)
	printStats("cache", cacheStats)
	hits, cacheMisses := responses.Counts()
	fmt.Printf("cache: hits=%d misses=%d\n", hits, cacheMisses)
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func runPhase(ctx context.Context, ops, concurrency int, seed int64, op phaseFunc) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					break
				}
				t0 := time.Now()
				if err := op(ctx, r, i); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
