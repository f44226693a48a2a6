package goAuthClient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/goAuthClient/store"
	"github.com/MrEthical07/goAuthClient/token"
)

var testKey = []byte("client-test-key")

func mintToken(t *testing.T, iat, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": "alice",
		"sid": "sid-1",
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	}).SignedString(testKey)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	return raw
}

func freshToken(t *testing.T) string {
	t.Helper()
	now := time.Now()
	return mintToken(t, now, now.Add(15*time.Minute))
}

// staleToken is valid but past two-thirds of its window.
func staleToken(t *testing.T) string {
	t.Helper()
	now := time.Now()
	return mintToken(t, now.Add(-10*time.Minute), now.Add(2*time.Minute))
}

func expiredToken(t *testing.T) string {
	t.Helper()
	now := time.Now()
	return mintToken(t, now.Add(-30*time.Minute), now.Add(-15*time.Minute))
}

func tokenBody(access string) string {
	return `{"access":"` + access + `","refresh":"refresh-1","user":{"id":"alice","identity":"alice@example.com"}}`
}

// stubAuth is a configurable credential server plus one protected endpoint.
type stubAuth struct {
	srv *httptest.Server

	mu            sync.Mutex
	refreshCalls  int
	probeCalls    int
	csrfCalls     int
	apiCalls      int
	apiBearers    []string
	refreshStatus int    // 0 means succeed
	probeStatus   int    // 0 means succeed
	refreshDelay  time.Duration
	probeDelay    time.Duration
	validBearer   string // only this bearer gets a 200 from /api/data; "" accepts any
	renewedAccess string // pair handed out by refresh and probe
}

func newStubAuth(t *testing.T) *stubAuth {
	t.Helper()
	s := &stubAuth{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tokenBody(s.renewed())))
	})
	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tokenBody(s.renewed())))
	})
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /auth/user-info", s.handleProbe)
	mux.HandleFunc("GET /auth/csrf", s.handleCSRF)
	mux.HandleFunc("/api/", s.handleAPI)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubAuth) renewed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewedAccess
}

func (s *stubAuth) setRenewed(access string) {
	s.mu.Lock()
	s.renewedAccess = access
	s.mu.Unlock()
}

func (s *stubAuth) setValidBearer(raw string) {
	s.mu.Lock()
	s.validBearer = raw
	s.mu.Unlock()
}

func (s *stubAuth) counts() (refresh, probe, csrf, api int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls, s.probeCalls, s.csrfCalls, s.apiCalls
}

func (s *stubAuth) bearersSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.apiBearers...)
}

func (s *stubAuth) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.refreshCalls++
	status := s.refreshStatus
	delay := s.refreshDelay
	access := s.renewedAccess
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(tokenBody(access)))
}

func (s *stubAuth) handleProbe(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.probeCalls++
	status := s.probeStatus
	delay := s.probeDelay
	access := s.renewedAccess
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("X-Renewed-Access", access)
	w.Header().Set("X-Renewed-Refresh", "refresh-probe")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"user":{"id":"alice"}}`))
}

func (s *stubAuth) handleCSRF(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.csrfCalls++
	s.mu.Unlock()
	w.Header().Set("X-CSRF-Token", "csrf-1")
}

func (s *stubAuth) handleAPI(w http.ResponseWriter, r *http.Request) {
	bearer := r.Header.Get("Authorization")

	s.mu.Lock()
	s.apiCalls++
	s.apiBearers = append(s.apiBearers, bearer)
	valid := s.validBearer
	s.mu.Unlock()

	if valid != "" && bearer != "Bearer "+valid {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func buildTestClient(t *testing.T, s *stubAuth, mutate func(*Builder)) *Client {
	t.Helper()
	b := New().WithBaseURL(s.srv.URL)
	if mutate != nil {
		mutate(b)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// install puts a pair directly into the client's store, bypassing login.
func install(t *testing.T, c *Client, raw, refresh string) {
	t.Helper()
	cred, err := token.NewCredential(raw)
	if err != nil {
		t.Fatalf("install decode failed: %v", err)
	}
	c.Store().Update(context.Background(), cred, refresh, store.SourceLogin)
}

func awaitTimeout() <-chan time.Time {
	return time.After(2 * time.Second)
}

func awaitCondition(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
