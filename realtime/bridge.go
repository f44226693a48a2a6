package realtime

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/goAuthClient/store"
	"github.com/MrEthical07/goAuthClient/token"
)

// Config locates the notification endpoint and bounds reconnection.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// Enabled gates the whole bridge; a disabled bridge is never built.
	Enabled bool

	HandshakeTimeout time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	// SubscriberBuffer sizes the message fan-out channel; frames beyond it
	// are dropped rather than stalling the read pump.
	SubscriberBuffer int
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	return c
}

// Bridge subscribes to the token store and cycles the websocket connection
// whenever the bearer materially changes. Cleared credentials tear the
// connection down without reopening.
type Bridge struct {
	cfg    Config
	store  *store.Store
	log    zerolog.Logger
	dialer *websocket.Dialer

	// onReconnect is invoked after every successful (re)connect; the owner
	// wires metrics and audit through it.
	onReconnect func()

	mu     sync.Mutex
	conn   *websocket.Conn
	bearer string // bearer the open connection was dialed with
	gen    uint64 // connection generation, stops stale read pumps

	msgs chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithReconnectHook registers a callback fired after each successful dial.
func WithReconnectHook(fn func()) Option {
	return func(b *Bridge) { b.onReconnect = fn }
}

// NewBridge builds a bridge over st. Call Start to begin observing.
func NewBridge(cfg Config, st *store.Store, opts ...Option) (*Bridge, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, errors.New("realtime bridge requires a URL")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:   cfg,
		store: st,
		log:   zerolog.Nop(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		msgs: make(chan []byte, cfg.SubscriberBuffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Start subscribes to the store and opens the connection when a credential
// already exists. ctx bounds the bridge's lifetime alongside Close.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return errors.New("bridge already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.ctx = runCtx
	b.cancel = cancel
	b.mu.Unlock()

	b.unsub = b.store.Subscribe(b.onEvent)

	if cred := b.store.Current(); cred != nil {
		b.reconnect(cred)
	}
	return nil
}

// Close tears the connection down and stops observing the store.
func (b *Bridge) Close() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	if b.unsub != nil {
		b.unsub()
	}
	cancel()
	b.teardown()
	b.wg.Wait()
}

// Messages exposes incoming notification frames. Frames are dropped when
// the subscriber lags beyond the configured buffer.
func (b *Bridge) Messages() <-chan []byte {
	return b.msgs
}

// Connected reports whether a connection is currently open.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// onEvent follows credential state. A new bearer cycles an open connection
// and dials eagerly when none is open yet, so a login after Start brings the
// channel up without waiting for backoff. Same-bearer echoes are ignored.
func (b *Bridge) onEvent(ev store.Event) {
	switch ev.Type {
	case store.EventCleared:
		b.teardown()
	case store.EventUpdated:
		if ev.Credential == nil {
			return
		}
		b.mu.Lock()
		sameBearer := b.conn != nil && b.bearer == ev.Credential.Raw
		b.mu.Unlock()
		if sameBearer {
			// Cross-context echo of the bearer we already dialed with.
			return
		}
		b.reconnect(ev.Credential)
	}
}

// reconnect closes any open connection and dials with the new credential's
// bearer and session identifier. Dial failures retry with exponential
// backoff until the bridge is closed or the credential changes again.
func (b *Bridge) reconnect(cred *token.Credential) {
	b.mu.Lock()
	if b.ctx == nil || b.ctx.Err() != nil {
		b.mu.Unlock()
		return
	}
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.gen++
	gen := b.gen
	ctx := b.ctx
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dial(ctx, gen, cred)
	}()
}

func (b *Bridge) dial(ctx context.Context, gen uint64, cred *token.Credential) {
	u, err := url.Parse(b.cfg.URL)
	if err != nil {
		b.log.Error().Err(err).Msg("realtime URL unparsable")
		return
	}
	q := u.Query()
	q.Set("token", cred.Raw)
	if cred.Claims.SessionID != "" {
		q.Set("session", cred.Claims.SessionID)
	}
	u.RawQuery = q.Encode()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.InitialBackoff
	policy.MaxInterval = b.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	var conn *websocket.Conn
	dialOnce := func() error {
		c, _, derr := b.dialer.DialContext(ctx, u.String(), nil)
		if derr != nil {
			b.log.Debug().Err(derr).Msg("realtime dial failed, backing off")
			return derr
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(dialOnce, backoff.WithContext(policy, ctx)); err != nil {
		return
	}

	b.mu.Lock()
	if gen != b.gen || b.ctx == nil || b.ctx.Err() != nil {
		// A newer credential arrived while dialing; this connection lost.
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.conn = conn
	b.bearer = cred.Raw
	b.mu.Unlock()

	if b.onReconnect != nil {
		b.onReconnect()
	}
	b.log.Debug().Str("session", cred.Claims.SessionID).Msg("realtime connection established")

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.readPump(conn, gen)
	}()
}

// readPump fans incoming frames out to subscribers until the connection
// dies. A read error on the still-current generation redials with whatever
// credential is current at that moment.
func (b *Bridge) readPump(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			current := gen == b.gen && b.conn == conn
			if current {
				b.conn = nil
			}
			alive := b.ctx != nil && b.ctx.Err() == nil
			b.mu.Unlock()

			if current && alive {
				if cred := b.store.Current(); cred != nil {
					b.reconnect(cred)
				}
			}
			return
		}
		select {
		case b.msgs <- data:
		default:
			b.log.Debug().Msg("realtime subscriber lagging, frame dropped")
		}
	}
}

func (b *Bridge) teardown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++ // invalidate any in-flight dial
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
		b.bearer = ""
	}
}
