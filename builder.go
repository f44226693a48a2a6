package goAuthClient

import (
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/goAuthClient/provider"
	"github.com/MrEthical07/goAuthClient/store"
)

// Builder assembles a Client. Construction is allocation-only; network and
// storage I/O begin at Build.
type Builder struct {
	config Config

	storage       store.Storage
	redis         redis.UniversalClient
	providerHTTP  *http.Client
	baseTransport http.RoundTripper

	logger    zerolog.Logger
	loggerSet bool
	auditSink AuditSink

	built bool
}

// New starts a Builder with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithBaseURL sets the credential-issuing server, keeping other defaults.
func (b *Builder) WithBaseURL(u string) *Builder {
	b.config.Provider.BaseURL = u
	return b
}

// WithStorage injects an explicit durable layer, overriding WithRedis.
func (b *Builder) WithStorage(s store.Storage) *Builder {
	b.storage = s
	return b
}

// WithRedis backs the durable layer with redis; its pub/sub channel carries
// cross-context change notifications.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithProviderHTTPClient substitutes the HTTP client used for credential
// round trips. It should carry a cookie jar for session continuation.
func (b *Builder) WithProviderHTTPClient(hc *http.Client) *Builder {
	b.providerHTTP = hc
	return b
}

// WithBaseTransport sets the transport the interceptor wraps for ordinary
// requests. Defaults to http.DefaultTransport.
func (b *Builder) WithBaseTransport(rt http.RoundTripper) *Builder {
	b.baseTransport = rt
	return b
}

// WithLogger attaches a structured logger to every component.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.logger = log
	b.loggerSet = true
	return b
}

// WithAuditSink receives the credential lifecycle trail.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration, wires every component, loads persisted
// state, and starts the watch and realtime machinery. The returned Client
// owns their lifecycles until Close.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}
	b.built = true

	cfg := b.config
	cfg.Provider = cfg.Provider.Normalize()

	log := zerolog.Nop()
	if b.loggerSet {
		log = b.logger
	}

	storage, err := b.resolveStorage(cfg, log)
	if err != nil {
		return nil, err
	}

	providerOpts := []provider.Option{provider.WithLogger(log.With().Str("component", "provider").Logger())}
	if b.providerHTTP != nil {
		providerOpts = append(providerOpts, provider.WithHTTPClient(b.providerHTTP))
	}
	prov, err := provider.New(cfg.Provider, providerOpts...)
	if err != nil {
		return nil, err
	}

	st := store.New(storage, store.WithLogger(log.With().Str("component", "store").Logger()))

	return newClient(cfg, log, st, prov, b.baseTransport, b.auditSink)
}

func (b *Builder) resolveStorage(cfg Config, log zerolog.Logger) (store.Storage, error) {
	if b.storage != nil {
		return b.storage, nil
	}
	if b.redis != nil {
		return store.NewRedisStorage(b.redis,
			store.WithKeyPrefix(cfg.Storage.KeyPrefix),
			store.WithRedisLogger(log.With().Str("component", "storage").Logger()),
		)
	}
	// No durable layer requested: state lives for the process only.
	return store.NewMemoryStorage(), nil
}
