// rotor-loadtest seeds sessions against a Redis instance (or embedded
// miniredis) and measures verify and refresh throughput under concurrency.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rotorauth/rotor"
)

type sessionState struct {
	mu      sync.Mutex
	refresh string
	access  string
}

type loadIdentity struct{}

func (loadIdentity) FindByID(_ context.Context, userID string) (rotor.UserRecord, error) {
	return rotor.UserRecord{ID: userID, Verified: true}, nil
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (verify + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var cleanup func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		cleanup = mr.Close
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		cleanup = func() {}
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	cfg := rotor.DefaultConfig()
	cfg.Token.PrivateKey = []byte("loadtest-signing-secret")
	cfg.Audit.Enabled = false

	engine, err := rotor.New().
		WithConfig(cfg).
		WithRedis(client).
		WithIdentityProvider(loadIdentity{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]*sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		pair, err := engine.Login(ctx, fmt.Sprintf("user-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = &sessionState{refresh: pair.RefreshToken, access: pair.AccessToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runPhase(*ops, *concurrency, func(i int) error {
		st := states[i%len(states)]
		st.mu.Lock()
		tok := st.access
		st.mu.Unlock()
		_, err := engine.Verify(ctx, tok)
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, func(i int) error {
		st := states[i%len(states)]
		st.mu.Lock()
		defer st.mu.Unlock()
		pair, err := engine.Refresh(ctx, st.refresh)
		if err != nil {
			return err
		}
		st.refresh = pair.RefreshToken
		st.access = pair.AccessToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("refresh", refreshStats)
}

type phaseStats struct {
	elapsed   time.Duration
	failures  int64
	latencies []time.Duration
}

func runPhase(ops, concurrency int, op func(i int) error) phaseStats {
	var (
		wg       sync.WaitGroup
		cursor   int64
		failures int64
		mu       sync.Mutex
	)
	latencies := make([]time.Duration, 0, ops)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}

				opStart := time.Now()
				err := op(i)
				elapsed := time.Since(opStart)

				if err != nil && !errors.Is(err, rotor.ErrTokenSuperseded) {
					atomic.AddInt64(&failures, 1)
					continue
				}

				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return phaseStats{
		elapsed:   time.Since(start),
		failures:  failures,
		latencies: latencies,
	}
}

func printStats(name string, stats phaseStats) {
	total := len(stats.latencies)
	if total == 0 {
		fmt.Printf("%s: no successful operations (failures=%d)\n", name, stats.failures)
		return
	}

	sort.Slice(stats.latencies, func(i, j int) bool {
		return stats.latencies[i] < stats.latencies[j]
	})

	p := func(q float64) time.Duration {
		idx := int(float64(total-1) * q)
		return stats.latencies[idx]
	}

	opsPerSec := float64(total) / stats.elapsed.Seconds()
	fmt.Printf(
		"%s: %d ops in %s (%.0f ops/s), failures=%d, p50=%s p95=%s p99=%s\n",
		name, total, stats.elapsed.Round(time.Millisecond), opsPerSec,
		stats.failures, p(0.50), p(0.95), p(0.99),
	)
}
