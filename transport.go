package goAuthClient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goAuthClient/provider"
	"github.com/MrEthical07/goAuthClient/store"
	"github.com/MrEthical07/goAuthClient/token"
)

const (
	headerAuthorization = "Authorization"
	headerSessionID     = "X-Session-Id"
	headerAntiForgery   = "X-CSRF-Token"
)

// refreshResult settles one renewal for every request waiting on it.
type refreshResult struct {
	cred *token.Credential
	err  error
}

// refreshTicket is the single in-flight renewal: its waiter queue is
// replayed in FIFO enqueue order once the renewal settles.
type refreshTicket struct {
	waiters []chan refreshResult
}

// Transport authorizes every outbound request. It implements
// http.RoundTripper around a base transport.
//
// Proactively it resolves a missing credential through the fallback probe
// and renews one past two-thirds of its validity window. Reactively it
// answers a 401 with a single-flight refresh and exactly one retry.
//
// The refresh state machine has two states, idle (ticket == nil) and
// in-flight (ticket != nil). The existence check and the transition happen
// under one mutex hold with no suspension point between them; every exit
// path of the renewal — success, rejection, transient failure — returns the
// machine to idle before waiters resume.
type Transport struct {
	base     http.RoundTripper
	store    *store.Store
	provider *provider.Client
	fallback *fallbackResolver
	log      zerolog.Logger
	metrics  *Metrics
	audit    *auditDispatcher

	// proactive enables early renewal past the two-thirds mark; the
	// reactive 401 path works regardless.
	proactive bool

	mu     sync.Mutex
	ticket *refreshTicket

	csrfMu    sync.Mutex
	csrfToken string

	authPaths map[string]struct{}

	onSessionExpired func()

	now func() time.Time
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// mutated; retries are re-cloned from GetBody, so requests with a
// non-replayable body surface their 401 untouched.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	cred := t.credentialFor(ctx, req.URL.Path)

	out := req.Clone(ctx)
	t.decorate(out, cred)

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if t.isAuthPath(req.URL.Path) {
		// The auth surface answers 401 on its own terms; refreshing or
		// signaling session expiry here would loop.
		return resp, nil
	}
	if t.store.RefreshToken() == "" {
		return resp, nil
	}

	newCred, rerr := t.awaitRefresh(ctx)
	if rerr != nil {
		if errors.Is(rerr, provider.ErrRefreshRejected) || errors.Is(rerr, token.ErrMalformed) {
			// Terminal: the waiter surfaces its own original 401.
			return resp, nil
		}
		// Transient: this wave fails with the transient error, state intact.
		closeBody(resp)
		return nil, rerr
	}

	retry, ok := rewind(req)
	if !ok {
		return resp, nil
	}
	closeBody(resp)

	t.metrics.inc(MetricRequestRetried)
	t.decorate(retry, newCred)
	// A second 401 on this response is surfaced directly: retry depth is one.
	return t.base.RoundTrip(retry)
}

// credentialFor runs the proactive phase and returns the credential to
// attach, or nil for an unauthenticated send. The auth surface itself is
// exempt: it does not require authorization, so it neither probes nor renews.
func (t *Transport) credentialFor(ctx context.Context, path string) *token.Credential {
	cred := t.store.Current()

	if t.isAuthPath(path) {
		if cred != nil && token.IsExpired(&cred.Claims, t.now()) {
			cred = nil
		}
		return cred
	}

	if cred == nil {
		recovered, err := t.fallback.attempt(ctx)
		if err == nil {
			cred = recovered
		}
		// NoSession or probe failure: proceed unauthenticated, expect a 401.
	}

	if cred != nil && t.proactive && token.ShouldRenew(&cred.Claims, t.now()) && t.store.RefreshToken() != "" {
		renewed, err := t.awaitRefresh(ctx)
		switch {
		case err == nil:
			cred = renewed
		case errors.Is(err, provider.ErrRefreshRejected):
			cred = nil
		default:
			// Transient: the current credential may still be usable.
		}
	}

	if cred != nil && token.IsExpired(&cred.Claims, t.now()) {
		cred = nil
	}

	if cred != nil {
		t.metrics.inc(MetricRequestAuthorized)
	} else {
		t.metrics.inc(MetricRequestUnauthenticated)
	}
	return cred
}

// awaitRefresh joins the in-flight renewal or starts one, then waits. The
// caller's own deadline bounds only its wait, never the shared renewal.
func (t *Transport) awaitRefresh(ctx context.Context) (*token.Credential, error) {
	ch := make(chan refreshResult, 1)

	t.mu.Lock()
	if t.ticket != nil {
		t.ticket.waiters = append(t.ticket.waiters, ch)
		t.mu.Unlock()
		t.metrics.inc(MetricRefreshSingleFlightJoin)
	} else {
		t.ticket = &refreshTicket{waiters: []chan refreshResult{ch}}
		t.mu.Unlock()
		go t.runRefresh()
	}

	select {
	case res := <-ch:
		return res.cred, res.err
	case <-ctx.Done():
		// Deadline expiration is the caller's own timeout; plain cancellation
		// stays a cancellation, matching the provider's taxonomy.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", provider.ErrTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// runRefresh performs the single renewal round trip and settles the ticket.
// It runs on a background context: a renewal once started is left to
// complete naturally regardless of which request initiated it.
func (t *Transport) runRefresh() {
	ctx := context.Background()

	var res refreshResult
	pair, err := t.provider.Refresh(ctx, t.store.RefreshToken())
	if err == nil {
		var cred *token.Credential
		cred, err = token.NewCredential(pair.Access)
		if err == nil {
			t.store.Update(ctx, cred, pair.Refresh, store.SourceRefresh)
			res.cred = cred
			t.metrics.inc(MetricRefreshSuccess)
			t.audit.emit(AuditEvent{
				EventType: AuditRefresh,
				Subject:   cred.Claims.Subject,
				SessionID: cred.Claims.SessionID,
				Success:   true,
			})
		}
	}

	if err != nil {
		res.err = err
		t.audit.emit(AuditEvent{EventType: AuditRefresh, Success: false, Error: err.Error()})

		if errors.Is(err, provider.ErrRefreshRejected) || errors.Is(err, token.ErrMalformed) {
			t.metrics.inc(MetricRefreshRejected)
			t.store.Clear(ctx)
			t.signalSessionExpired()
		} else {
			t.metrics.inc(MetricRefreshTransientFailure)
			t.log.Debug().Err(err).Msg("credential renewal failed transiently")
		}
	}

	t.mu.Lock()
	waiters := t.ticket.waiters
	t.ticket = nil
	t.mu.Unlock()

	for _, ch := range waiters {
		ch <- res
	}
}

func (t *Transport) signalSessionExpired() {
	t.metrics.inc(MetricSessionExpired)
	t.audit.emit(AuditEvent{EventType: AuditSessionExpired, Success: false})
	if t.onSessionExpired != nil {
		t.onSessionExpired()
	}
}

// decorate attaches the bearer, the session-continuation header, and — for
// state-changing verbs — the cached anti-forgery token.
func (t *Transport) decorate(req *http.Request, cred *token.Credential) {
	if cred != nil {
		req.Header.Set(headerAuthorization, "Bearer "+cred.Raw)
		if cred.Claims.SessionID != "" {
			req.Header.Set(headerSessionID, cred.Claims.SessionID)
		}
	}

	if isStateChanging(req.Method) {
		if tok, err := t.antiForgeryToken(req.Context()); err == nil && tok != "" {
			req.Header.Set(headerAntiForgery, tok)
		} else if err != nil {
			t.log.Debug().Err(err).Msg("anti-forgery token unavailable")
		}
	}
}

// antiForgeryToken returns the cached token, fetching it once per process
// lifetime of that token.
func (t *Transport) antiForgeryToken(ctx context.Context) (string, error) {
	t.csrfMu.Lock()
	defer t.csrfMu.Unlock()
	if t.csrfToken != "" {
		return t.csrfToken, nil
	}

	tok, err := t.provider.AntiForgeryToken(ctx)
	if err != nil {
		return "", err
	}
	t.metrics.inc(MetricAntiForgeryFetch)
	t.csrfToken = tok
	return tok, nil
}

func (t *Transport) isAuthPath(path string) bool {
	_, ok := t.authPaths[path]
	return ok
}

func isStateChanging(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// rewind clones req with a fresh body for the single retry. Requests whose
// body cannot be replayed report !ok.
func rewind(req *http.Request) (*http.Request, bool) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	clone.Body = body
	return clone, true
}

func closeBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
