//go:build integration
// +build integration

package test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestConcurrentExpiryCollapsesIntoOneRefresh(t *testing.T) {
	ctx := context.Background()
	srv := newAuthServer(t)
	client := newIntegrationClient(t, srv, nil)

	// Issue a credential that is already past its whole window, then let it
	// lapse so every worker needs a renewal at the same instant.
	srv.setTTL(200 * time.Millisecond)
	if _, err := client.Login(ctx, "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	srv.setTTL(15 * time.Minute)
	time.Sleep(300 * time.Millisecond)

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := client.HTTPClient().Get(srv.srv.URL + "/api/data")
			if err != nil {
				results <- -1
				return
			}
			_ = resp.Body.Close()
			results <- resp.StatusCode
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	for code := range results {
		if code != http.StatusOK {
			t.Fatalf("expected every request to ride the shared renewal, got %d", code)
		}
	}
	if got := srv.refreshes(); got != 1 {
		t.Fatalf("expected exactly one refresh round trip, got %d", got)
	}
}
