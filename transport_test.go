package goAuthClient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestConcurrent401sCollapseIntoOneRefresh(t *testing.T) {
	s := newStubAuth(t)
	fresh := freshToken(t)
	s.setRenewed(fresh)
	s.setValidBearer(fresh)
	s.mu.Lock()
	s.refreshDelay = 150 * time.Millisecond
	s.mu.Unlock()

	c := buildTestClient(t, s, nil)
	// Valid but server-side invalidated: every request 401s reactively.
	install(t, c, freshTokenOtherSession(t), "refresh-old")

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	statuses := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := c.HTTPClient().Get(s.srv.URL + "/api/data")
			if err != nil {
				statuses <- -1
				return
			}
			_ = resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	close(start)
	wg.Wait()
	close(statuses)

	for code := range statuses {
		if code != http.StatusOK {
			t.Fatalf("expected every request to succeed after the shared renewal, got %d", code)
		}
	}
	refresh, _, _, _ := s.counts()
	if refresh != 1 {
		t.Fatalf("expected exactly one refresh round trip, got %d", refresh)
	}

	snap := c.MetricsSnapshot()
	if got := snap.Counters[MetricRefreshSuccess]; got != 1 {
		t.Fatalf("expected one successful renewal, got %d", got)
	}
	if got := snap.Counters[MetricRefreshSingleFlightJoin]; got != workers-1 {
		t.Fatalf("expected %d joiners, got %d", workers-1, got)
	}
}

// freshTokenOtherSession mints a decodable, unexpired token the stub server
// will still reject, forcing the reactive path.
func freshTokenOtherSession(t *testing.T) string {
	t.Helper()
	now := time.Now().Add(-time.Second)
	return mintToken(t, now, now.Add(14*time.Minute))
}

func TestProactiveRenewalReplacesStaleBearer(t *testing.T) {
	s := newStubAuth(t)
	fresh := freshToken(t)
	s.setRenewed(fresh)

	c := buildTestClient(t, s, nil)
	stale := staleToken(t)
	install(t, c, stale, "refresh-old")

	resp, err := c.HTTPClient().Get(s.srv.URL + "/api/data")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	for _, bearer := range s.bearersSeen() {
		if bearer == "Bearer "+stale {
			t.Fatal("stale bearer reached the protected endpoint despite proactive renewal")
		}
	}
	refresh, _, _, _ := s.counts()
	if refresh != 1 {
		t.Fatalf("expected one proactive refresh, got %d", refresh)
	}
}

func TestProactiveDisabledLeavesReactivePath(t *testing.T) {
	s := newStubAuth(t)
	fresh := freshToken(t)
	s.setRenewed(fresh)
	s.setValidBearer(fresh)

	c := buildTestClient(t, s, func(b *Builder) {
		cfg := b.config
		cfg.Renewal.Proactive = false
		b.WithConfig(cfg)
		b.WithBaseURL(s.srv.URL)
	})
	stale := staleToken(t)
	install(t, c, stale, "refresh-old")

	resp, err := c.HTTPClient().Get(s.srv.URL + "/api/data")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after reactive retry, got %d", resp.StatusCode)
	}

	bearers := s.bearersSeen()
	if len(bearers) != 2 || bearers[0] != "Bearer "+stale || bearers[1] != "Bearer "+fresh {
		t.Fatalf("expected stale-then-fresh bearer sequence, got %v", bearers)
	}
}

func TestExpiredBearerIsNeverAttached(t *testing.T) {
	s := newStubAuth(t)
	c := buildTestClient(t, s, nil)
	// No refresh credential: nothing to renew with, so the bearer is dropped.
	install(t, c, expiredToken(t), "")

	resp, err := c.HTTPClient().Get(s.srv.URL + "/api/data")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	bearers := s.bearersSeen()
	if len(bearers) != 1 || bearers[0] != "" {
		t.Fatalf("expected one unauthenticated send, got %v", bearers)
	}
	snap := c.MetricsSnapshot()
	if snap.Counters[MetricRequestUnauthenticated] != 1 {
		t.Fatal("unauthenticated send not counted")
	}
}

func TestRefreshRejectionClearsSessionAndSurfacesOriginal401(t *testing.T) {
	s := newStubAuth(t)
	s.setValidBearer("nothing-matches")
	s.mu.Lock()
	s.refreshStatus = http.StatusUnauthorized
	s.mu.Unlock()

	c := buildTestClient(t, s, nil)
	install(t, c, freshToken(t), "refresh-revoked")

	resp, err := c.HTTPClient().Get(s.srv.URL + "/api/data")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("the waiter must surface its original 401, got %d", resp.StatusCode)
	}

	if c.Store().Current() != nil || c.Store().RefreshToken() != "" {
		t.Fatal("terminal rejection must clear local state")
	}
	select {
	case <-c.SessionExpired():
	case <-time.After(2 * time.Second):
		t.Fatal("session-expired signal never fired")
	}
	snap := c.MetricsSnapshot()
	if snap.Counters[MetricSessionExpired] != 1 {
		t.Fatal("session expiry not counted")
	}
}

func TestTransientRefreshFailureKeepsState(t *testing.T) {
	s := newStubAuth(t)
	s.setValidBearer("nothing-matches")
	s.mu.Lock()
	s.refreshStatus = http.StatusServiceUnavailable
	s.mu.Unlock()

	c := buildTestClient(t, s, nil)
	raw := freshToken(t)
	install(t, c, raw, "refresh-1")

	_, err := c.HTTPClient().Get(s.srv.URL + "/api/data")
	if err == nil {
		t.Fatal("expected a transient failure")
	}
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}

	if got := c.Store().Current(); got == nil || got.Raw != raw {
		t.Fatal("transient failure must not discard the credential")
	}
	if c.Store().RefreshToken() != "refresh-1" {
		t.Fatal("transient failure must not discard the refresh credential")
	}
	select {
	case <-c.SessionExpired():
		t.Fatal("transient failure must not signal session expiry")
	default:
	}
}

func TestCanceledWaiterSurfacesCancellationNotTimeout(t *testing.T) {
	s := newStubAuth(t)
	fresh := freshToken(t)
	s.setRenewed(fresh)
	s.setValidBearer(fresh)
	s.mu.Lock()
	s.refreshDelay = 300 * time.Millisecond
	s.mu.Unlock()

	c := buildTestClient(t, s, nil)
	install(t, c, freshTokenOtherSession(t), "refresh-old")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(75*time.Millisecond, cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.srv.URL+"/api/data", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := c.HTTPClient().Do(req)
	if err == nil {
		_ = resp.Body.Close()
		t.Fatal("expected the canceled waiter to surface an error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("cancellation must not be reported as a timeout, got %v", err)
	}
}

func TestRetryDepthIsOne(t *testing.T) {
	s := newStubAuth(t)
	s.setRenewed(freshToken(t))
	s.setValidBearer("nothing-matches")

	c := buildTestClient(t, s, nil)
	install(t, c, freshTokenOtherSession(t), "refresh-1")

	resp, err := c.HTTPClient().Get(s.srv.URL + "/api/data")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("a second 401 must be surfaced directly, got %d", resp.StatusCode)
	}

	refresh, _, _, api := s.counts()
	if api != 2 {
		t.Fatalf("expected initial attempt plus one retry, got %d attempts", api)
	}
	if refresh != 1 {
		t.Fatalf("expected one refresh, got %d", refresh)
	}
}

func TestNonReplayableBodySurfaces401(t *testing.T) {
	s := newStubAuth(t)
	s.setRenewed(freshToken(t))
	s.setValidBearer("nothing-matches")

	c := buildTestClient(t, s, nil)
	install(t, c, freshTokenOtherSession(t), "refresh-1")

	// Wrapping the reader hides its concrete type, so GetBody stays nil.
	body := struct{ io.Reader }{strings.NewReader("payload")}
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/data", body)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("non-replayable request must surface its 401, got %d", resp.StatusCode)
	}
	_, _, _, api := s.counts()
	if api != 1 {
		t.Fatalf("non-replayable request must not retry, got %d attempts", api)
	}
}

func TestAuthPathsAreExemptFromRefreshAndSignal(t *testing.T) {
	s := newStubAuth(t)
	c := buildTestClient(t, s, nil)
	install(t, c, freshToken(t), "refresh-1")

	req, err := http.NewRequest(http.MethodGet, s.srv.URL+"/auth/user-info", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	// Force a 401 from the probe endpoint.
	s.mu.Lock()
	s.probeStatus = http.StatusUnauthorized
	s.mu.Unlock()

	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("auth-path 401 must pass through, got %d", resp.StatusCode)
	}

	refresh, _, _, _ := s.counts()
	if refresh != 0 {
		t.Fatalf("auth-path 401 must not trigger a refresh, got %d", refresh)
	}
	select {
	case <-c.SessionExpired():
		t.Fatal("auth-path 401 must not signal session expiry")
	default:
	}
}

func TestStateChangingRequestsCarryAntiForgeryToken(t *testing.T) {
	s := newStubAuth(t)
	c := buildTestClient(t, s, nil)
	install(t, c, freshToken(t), "refresh-1")

	var tokens []string
	var mu sync.Mutex
	// Record the header through a second protected route.
	s.srv.Config.Handler.(*http.ServeMux).HandleFunc("POST /write", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokens = append(tokens, r.Header.Get("X-CSRF-Token"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		resp, err := c.HTTPClient().Post(s.srv.URL+"/write", "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		_ = resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(tokens) != 2 || tokens[0] != "csrf-1" || tokens[1] != "csrf-1" {
		t.Fatalf("state-changing requests must carry the anti-forgery token, got %v", tokens)
	}
	_, _, csrf, _ := s.counts()
	if csrf != 1 {
		t.Fatalf("anti-forgery token must be fetched once and cached, got %d fetches", csrf)
	}
}
