//go:build integration
// +build integration

package test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	goAuthClient "github.com/MrEthical07/goAuthClient"
)

var signingKey = []byte("integration-test-key")

// authServer is a minimal credential-issuing backend plus one protected
// endpoint that actually verifies the bearer signature and expiry.
type authServer struct {
	srv *httptest.Server

	mu           sync.Mutex
	ttl          time.Duration
	refreshCalls int
	sessions     int
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	s := &authServer{ttl: 15 * time.Minute}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, _ *http.Request) {
		s.writeTokens(t, w)
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		s.refreshCalls++
		s.mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		s.writeTokens(t, w)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/data", func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		const pfx = "Bearer "
		if len(raw) <= len(pfx) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, err := jwt.Parse(raw[len(pfx):], func(*jwt.Token) (any, error) { return signingKey, nil },
			jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *authServer) writeTokens(t *testing.T, w http.ResponseWriter) {
	s.mu.Lock()
	s.sessions++
	sid := s.sessions
	ttl := s.ttl
	s.mu.Unlock()

	now := time.Now()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": "alice",
		"sid": fmt.Sprintf("sid-%d", sid),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}).SignedString(signingKey)
	if err != nil {
		t.Errorf("mint failed: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"access":"` + raw + `","refresh":"refresh-opaque","user":{"id":"alice","identity":"alice@example.com"}}`))
}

func (s *authServer) setTTL(ttl time.Duration) {
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

func (s *authServer) refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func newIntegrationRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newIntegrationClient(t *testing.T, s *authServer, rdb redis.UniversalClient) *goAuthClient.Client {
	t.Helper()
	b := goAuthClient.New().WithBaseURL(s.srv.URL)
	if rdb != nil {
		b.WithRedis(rdb)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("client build failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func awaitCondition(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
