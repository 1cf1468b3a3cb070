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

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arvolo/claimgate"
	"github.com/arvolo/claimgate/keys"
	"github.com/arvolo/claimgate/session"
	"github.com/arvolo/claimgate/token"
)

type claimerState struct {
	claimer uuid.UUID
	token   string
	mu      sync.Mutex
	live    []uuid.UUID
}

func main() {
	var (
		claimers    = flag.Int("claimers", 5000, "number of claimers to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (lookup + save)")
		maxSessions = flag.Int("max-sessions", 3, "simultaneous-session cap per claimer")
		resource    = flag.String("resource", "loadtest", "resource name to record sessions under")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *claimers <= 0 || *concurrency <= 0 || *ops <= 0 || *maxSessions <= 0 {
		fmt.Fprintln(os.Stderr, "claimers, concurrency, ops, and max-sessions must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	settings := claimgate.MapSettings{
		"Jwt.Signing.Symmetric.Key": "claimgate loadtest signing secret",
	}
	resolver := keys.NewResolver(settings, "Jwt.Signing.", logr.Logger{})
	if !resolver.Resolved() {
		fmt.Fprintln(os.Stderr, "no signing key resolved")
		os.Exit(1)
	}

	metrics := claimgate.NewMetrics()
	issuer := token.NewIssuer(metrics)
	store := session.NewStore(client, metrics)

	states := make([]*claimerState, *claimers)
	fmt.Printf("seeding %d claimers...\n", *claimers)
	startSeed := time.Now()
	for i := range states {
		claimer := uuid.New()
		sessionID := uuid.New()
		tok, err := issuer.CreateToken(token.TokenRequest{
			Expiration:    24 * time.Hour,
			SubjectClaims: []token.Claim{{Type: "claimer", Value: claimer.String()}},
			Signing:       resolver.SigningCredentials(),
			Audience:      *resource,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		err = store.SaveSession(ctx, claimer, sessionID, *resource, tok.Value, 24*time.Hour, *maxSessions)
		if err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = &claimerState{claimer: claimer, token: tok.Value, live: []uuid.UUID{sessionID}}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookupStats := runLookupPhase(ctx, store, states, *resource, *ops, *concurrency)
	saveStats := runSavePhase(ctx, store, states, *resource, *ops, *concurrency, *maxSessions)

	fmt.Println("---- results ----")
	printStats("lookup", lookupStats)
	printStats("save", saveStats)

	fmt.Println("---- counters ----")
	snapshot := metrics.Snapshot()
	for id := claimgate.MetricID(0); int(id) < claimgate.MetricCount; id++ {
		fmt.Printf("%s=%d\n", id.Name(), snapshot.Counters[id])
	}
}

// runLookupPhase hammers GetSession over random live sessions. Misses caused
// by cap eviction in the save phase are expected and not counted as failures.
func runLookupPhase(ctx context.Context, store *session.Store, states []*claimerState, resource string, ops, concurrency int) phaseStats {
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
				state := states[r.Intn(len(states))]
				state.mu.Lock()
				sessionID := state.live[r.Intn(len(state.live))]
				state.mu.Unlock()

				t0 := time.Now()
				_, err := store.GetSession(ctx, state.claimer, sessionID, resource)
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runSavePhase keeps logging in new sessions for random claimers, driving the
// eviction path once a claimer is past the cap.
func runSavePhase(ctx context.Context, store *session.Store, states []*claimerState, resource string, ops, concurrency, maxSessions int) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := states[r.Intn(len(states))]
				sessionID := uuid.New()

				state.mu.Lock()
				t0 := time.Now()
				err := store.SaveSession(ctx, state.claimer, sessionID, resource, state.token, 24*time.Hour, maxSessions)
				d := time.Since(t0)
				if err == nil {
					state.live = append(state.live, sessionID)
					if len(state.live) > maxSessions {
						state.live = state.live[len(state.live)-maxSessions:]
					}
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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
