package goAuthClient

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goAuthClient/provider"
	"github.com/MrEthical07/goAuthClient/realtime"
	"github.com/MrEthical07/goAuthClient/store"
	"github.com/MrEthical07/goAuthClient/token"
)

// Client is the assembled authentication session: token store, credential
// provider, request interceptor, fallback resolver, and realtime bridge,
// sharing one lifecycle. Construct it through [Builder.Build]; dispose it
// with Close. All methods are safe for concurrent use.
type Client struct {
	cfg Config
	log zerolog.Logger

	store     *store.Store
	provider  *provider.Client
	transport *Transport
	bridge    *realtime.Bridge
	audit     *auditDispatcher
	metrics   *Metrics

	httpClient *http.Client
	expired    chan struct{}

	cancel context.CancelFunc
	closed atomic.Bool
}

func newClient(cfg Config, log zerolog.Logger, st *store.Store, prov *provider.Client, base http.RoundTripper, sink AuditSink) (*Client, error) {
	c := &Client{
		cfg:      cfg,
		log:      log,
		store:    st,
		provider: prov,
		metrics:  newMetrics(cfg.Metrics),
		audit:    newAuditDispatcher(cfg.Audit, sink),
		expired:  make(chan struct{}, 1),
	}

	fallback := &fallbackResolver{
		provider: prov,
		store:    st,
		log:      log.With().Str("component", "fallback").Logger(),
		metrics:  c.metrics,
		audit:    c.audit,
	}

	if base == nil {
		base = http.DefaultTransport
	}
	c.transport = &Transport{
		base:             base,
		store:            st,
		provider:         prov,
		fallback:         fallback,
		log:              log.With().Str("component", "transport").Logger(),
		metrics:          c.metrics,
		audit:            c.audit,
		proactive:        cfg.Renewal.Proactive,
		authPaths:        authPathSet(cfg),
		onSessionExpired: c.signalExpired,
		now:              time.Now,
	}
	c.httpClient = &http.Client{Transport: c.transport}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if err := st.Start(runCtx); err != nil {
		cancel()
		c.audit.Close()
		return nil, err
	}

	// External adoptions are observable; everything else is audited at the
	// point of change.
	st.Subscribe(func(ev store.Event) {
		if ev.Source != store.SourceExternal {
			return
		}
		c.metrics.inc(MetricExternalSync)
		event := AuditEvent{EventType: AuditExternalSync, Success: true}
		if ev.Credential != nil {
			event.Subject = ev.Credential.Claims.Subject
			event.SessionID = ev.Credential.Claims.SessionID
		}
		c.audit.emit(event)
	})

	if cfg.Realtime.Enabled {
		bridge, err := realtime.NewBridge(cfg.Realtime, st,
			realtime.WithLogger(log.With().Str("component", "realtime").Logger()),
			realtime.WithReconnectHook(func() {
				c.metrics.inc(MetricRealtimeReconnect)
				c.audit.emit(AuditEvent{EventType: AuditRealtimeReconnect, Success: true})
			}),
		)
		if err != nil {
			cancel()
			st.Close()
			c.audit.Close()
			return nil, err
		}
		if err := bridge.Start(runCtx); err != nil {
			cancel()
			st.Close()
			c.audit.Close()
			return nil, err
		}
		c.bridge = bridge
	}

	return c, nil
}

func authPathSet(cfg Config) map[string]struct{} {
	paths := cfg.AuthPaths
	if len(paths) == 0 {
		p := cfg.Provider
		paths = []string{p.LoginPath, p.RegisterPath, p.RefreshPath, p.LogoutPath, p.ProbePath, p.AntiForgeryPath}
	}
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

// Login authenticates and installs the returned pair into the store with
// source "login".
func (c *Client) Login(ctx context.Context, identity, secret string) (*Profile, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	res, err := c.provider.Login(ctx, identity, secret, provider.NewDeviceSignature())
	if err != nil {
		c.metrics.inc(MetricLoginFailure)
		c.audit.emit(AuditEvent{EventType: AuditLogin, Success: false, Error: err.Error()})
		return nil, err
	}

	cred, err := token.NewCredential(res.Access)
	if err != nil {
		c.metrics.inc(MetricLoginFailure)
		c.audit.emit(AuditEvent{EventType: AuditLogin, Success: false, Error: err.Error()})
		return nil, err
	}

	c.store.Update(ctx, cred, res.Refresh, store.SourceLogin)
	c.metrics.inc(MetricLoginSuccess)
	c.audit.emit(AuditEvent{
		EventType: AuditLogin,
		Subject:   cred.Claims.Subject,
		SessionID: cred.Claims.SessionID,
		Success:   true,
	})
	profile := res.Profile
	return &profile, nil
}

// Register creates an account; the token-handling contract matches Login.
func (c *Client) Register(ctx context.Context, draft ProfileDraft) (*Profile, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	res, err := c.provider.Register(ctx, draft, provider.NewDeviceSignature())
	if err != nil {
		c.metrics.inc(MetricRegisterFailure)
		c.audit.emit(AuditEvent{EventType: AuditRegister, Success: false, Error: err.Error()})
		return nil, err
	}

	cred, err := token.NewCredential(res.Access)
	if err != nil {
		c.metrics.inc(MetricRegisterFailure)
		c.audit.emit(AuditEvent{EventType: AuditRegister, Success: false, Error: err.Error()})
		return nil, err
	}

	c.store.Update(ctx, cred, res.Refresh, store.SourceRegister)
	c.metrics.inc(MetricRegisterSuccess)
	c.audit.emit(AuditEvent{
		EventType: AuditRegister,
		Subject:   cred.Claims.Subject,
		SessionID: cred.Claims.SessionID,
		Success:   true,
	})
	profile := res.Profile
	return &profile, nil
}

// Logout revokes the refresh credential best-effort, then clears local
// state unconditionally: a revoke failure never blocks cleanup.
func (c *Client) Logout(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	refresh := c.store.RefreshToken()
	var revokeErr error
	if refresh != "" {
		revokeErr = c.provider.Logout(ctx, refresh)
		if revokeErr != nil {
			c.log.Debug().Err(revokeErr).Msg("server-side revoke failed, clearing locally anyway")
		}
	}

	c.store.Clear(ctx)
	c.metrics.inc(MetricLogout)
	event := AuditEvent{EventType: AuditLogout, Success: revokeErr == nil}
	if revokeErr != nil {
		event.Error = revokeErr.Error()
	}
	c.audit.emit(event)
	return revokeErr
}

// Authenticated reports whether a usable (present, unexpired) credential is
// current.
func (c *Client) Authenticated() bool {
	cred := c.store.Current()
	return cred != nil && !token.IsExpired(&cred.Claims, time.Now())
}

// CurrentUser returns the best-effort decoded identity, or false when no
// credential is current. Display-only; never an authorization decision.
func (c *Client) CurrentUser() (Identity, bool) {
	cred := c.store.Current()
	if cred == nil {
		return Identity{}, false
	}
	return identityFromClaims(cred.Claims), true
}

// HTTPClient returns a client whose transport runs every request through
// the authorization interceptor.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Transport returns the interceptor for callers composing their own client.
func (c *Client) Transport() http.RoundTripper {
	return c.transport
}

// Store exposes the token store for subscriptions.
func (c *Client) Store() *store.Store {
	return c.store
}

// Realtime returns the bridge, or nil when disabled.
func (c *Client) Realtime() *realtime.Bridge {
	return c.bridge
}

// SessionExpired signals terminal session expiry (refresh rejected). The
// channel delivers at most one pending signal; consumers re-arm it by
// receiving.
func (c *Client) SessionExpired() <-chan struct{} {
	return c.expired
}

func (c *Client) signalExpired() {
	select {
	case c.expired <- struct{}{}:
	default:
	}
}

// MetricsSnapshot copies the counter registry.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped reports audit events shed under pressure.
func (c *Client) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Close disposes the client: realtime teardown, store watch shutdown, audit
// drain. The store's in-memory value stays readable; durable state is left
// as-is for the next process.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.bridge != nil {
		c.bridge.Close()
	}
	c.cancel()
	c.store.Close()
	c.audit.Close()
}
