// Command authcore-loadtest measures session lookup and refresh rotation
// throughput of the Redis stores.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// chain is one session and its current refresh token. Rotations on the same
// chain are serialized the way a single client would send them.
type chain struct {
	sessionID string
	tokenID   string
	gen       int
	mu        sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 20000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (lookup + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "key prefix")
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

	var client redis.UniversalClient
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	store := redisstore.New(client, redisstore.Options{Prefix: *prefix})

	chains := make([]chain, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	now := time.Now()
	for i := range chains {
		c := &chains[i]
		c.sessionID = fmt.Sprintf("sid-%d", i)
		c.tokenID = tokenID(c.sessionID, 0)
		if err := store.Sessions().Create(ctx, &authcore.Session{
			ID:           c.sessionID,
			UserID:       fmt.Sprintf("u-%d", i%1000),
			SessionToken: c.sessionID,
			ExpiresAt:    now.Add(24 * time.Hour),
			Active:       true,
			CreatedAt:    now,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "seed session: %v\n", err)
			os.Exit(1)
		}
		if err := store.RefreshTokens().Create(ctx, refreshFor(c, now)); err != nil {
			fmt.Fprintf(os.Stderr, "seed refresh token: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookup := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		c := &chains[r.Intn(len(chains))]
		sess, err := store.Sessions().Get(ctx, c.sessionID)
		if err == nil && sess == nil {
			err = fmt.Errorf("session %s missing", c.sessionID)
		}
		return err
	})

	rotate := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		c := &chains[r.Intn(len(chains))]
		c.mu.Lock()
		defer c.mu.Unlock()

		at := time.Now()
		won, err := store.RefreshTokens().Revoke(ctx, c.tokenID, at)
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("token %s already revoked", c.tokenID)
		}
		c.gen++
		c.tokenID = tokenID(c.sessionID, c.gen)
		return store.RefreshTokens().Create(ctx, refreshFor(c, at))
	})

	fmt.Println("---- results ----")
	printStats("session lookup", lookup)
	printStats("refresh rotate", rotate)
}

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
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
		return phaseStats{total: total}
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

func tokenID(sessionID string, gen int) string {
	return fmt.Sprintf("rt-%s-%d", sessionID, gen)
}

func refreshFor(c *chain, now time.Time) *authcore.RefreshToken {
	return &authcore.RefreshToken{
		ID:        c.tokenID,
		TokenHash: internal.HashToken(c.tokenID),
		UserID:    "u-load",
		SessionID: c.sessionID,
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
	}
}
