// Command goauthclient-floodtest hammers a goAuthClient instance against an
// in-process stub credential server and reports request latencies plus the
// renewal behavior under concurrency. Its main purpose is demonstrating that
// a burst of expired-credential requests collapses into very few actual
// refresh round trips.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	goAuthClient "github.com/MrEthical07/goAuthClient"
)

func main() {
	var (
		ops         = flag.Int("ops", 50000, "requests per phase (steady + renewal)")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		tokenTTL    = flag.Duration("token-ttl", 2*time.Second, "access credential lifetime in the renewal phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *ops <= 0 || *concurrency <= 0 || *tokenTTL <= 0 {
		fmt.Fprintln(os.Stderr, "ops, concurrency, and token-ttl must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	srv := newStubServer(24 * time.Hour)
	defer srv.close()
	fmt.Printf("stub credential server at %s\n", srv.url)

	client, err := goAuthClient.New().
		WithBaseURL(srv.url).
		WithRedis(rdb).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "client build failed: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if _, err := client.Login(ctx, "flood@example.com", "load-secret"); err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	steady := runPhase(client.HTTPClient(), srv.url+"/api/data", *ops, *concurrency)

	// Shorten the issued lifetime and wait the old credential out so the
	// renewal phase starts with every worker needing a refresh at once.
	srv.setTTL(*tokenTTL)
	if _, err := client.Login(ctx, "flood@example.com", "load-secret"); err != nil {
		fmt.Fprintf(os.Stderr, "relogin failed: %v\n", err)
		os.Exit(1)
	}
	time.Sleep(*tokenTTL + 100*time.Millisecond)
	renewal := runPhase(client.HTTPClient(), srv.url+"/api/data", *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("steady", steady)
	printStats("renewal", renewal)

	snap := client.MetricsSnapshot()
	fmt.Printf("server refresh round trips: %d\n", srv.refreshes.Load())
	fmt.Printf("refresh_singleflight_join:  %d\n", snap.Counters[goAuthClient.MetricRefreshSingleFlightJoin])
	fmt.Printf("request_retried:            %d\n", snap.Counters[goAuthClient.MetricRequestRetried])
}

func runPhase(hc *http.Client, target string, ops, concurrency int) phaseStats {
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
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				resp, err := hc.Get(target)
				d := time.Since(t0)
				if err != nil || resp.StatusCode != http.StatusOK {
					atomic.AddInt64(&failures, 1)
				}
				if resp != nil {
					_ = resp.Body.Close()
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
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

// ---------------------------------------------------------------------------
// Stub credential server
// ---------------------------------------------------------------------------

type stubServer struct {
	url       string
	listener  net.Listener
	httpSrv   *http.Server
	key       []byte
	ttl       atomic.Int64 // nanoseconds
	refreshes atomic.Int64
	sessions  atomic.Int64
}

func newStubServer(ttl time.Duration) *stubServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen failed: %v\n", err)
		os.Exit(1)
	}

	s := &stubServer{
		url:      "http://" + ln.Addr().String(),
		listener: ln,
		key:      []byte("floodtest-signing-key"),
	}
	s.ttl.Store(int64(ttl))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/data", s.handleData)

	s.httpSrv = &http.Server{Handler: mux}
	go func() { _ = s.httpSrv.Serve(ln) }()
	return s
}

func (s *stubServer) close() {
	_ = s.httpSrv.Close()
}

func (s *stubServer) setTTL(ttl time.Duration) {
	s.ttl.Store(int64(ttl))
}

func (s *stubServer) mint() string {
	now := time.Now()
	sid := fmt.Sprintf("sid-%d", s.sessions.Add(1))
	claims := jwt.MapClaims{
		"uid": "user-flood",
		"sid": sid,
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(s.ttl.Load())).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		panic(err)
	}
	return token
}

func (s *stubServer) handleLogin(w http.ResponseWriter, _ *http.Request) {
	writeTokens(w, s.mint())
}

func (s *stubServer) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.refreshes.Add(1)
	writeTokens(w, s.mint())
}

func (s *stubServer) handleData(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func writeTokens(w http.ResponseWriter, access string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access":%q,"refresh":"refresh-opaque","user":{"id":"user-flood","identity":"flood@example.com"}}`, access)
}

func bearerToken(h string) string {
	const pfx = "Bearer "
	if len(h) >= len(pfx) && h[:len(pfx)] == pfx {
		return h[len(pfx):]
	}
	return ""
}
