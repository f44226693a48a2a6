package goAuthClient

import (
	"errors"
	"time"

	"github.com/MrEthical07/goAuthClient/provider"
	"github.com/MrEthical07/goAuthClient/realtime"
)

// Config assembles the per-section settings. Zero values are filled from
// defaultConfig by the Builder; a Config is copied on Build and treated as
// immutable afterwards.
type Config struct {
	Provider provider.Config
	Renewal  RenewalConfig
	Storage  StorageConfig
	Realtime realtime.Config
	Audit    AuditConfig
	Metrics  MetricsConfig

	// AuthPaths are request paths that must never trigger the
	// session-expired signal or a reactive refresh: the authentication
	// surface itself and the passive continuation probe. Defaults to the
	// provider's configured paths.
	AuthPaths []string
}

// RenewalConfig controls the proactive phase of request authorization.
type RenewalConfig struct {
	// Proactive renews a credential that has consumed two-thirds of its
	// validity window before attaching it. Disabling leaves only the
	// reactive 401 path.
	Proactive bool
}

// StorageConfig controls the durable mirror.
type StorageConfig struct {
	// KeyPrefix namespaces the two credential keys and the change channel.
	KeyPrefix string
}

// AuditConfig controls the async event trail.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking mutators; the drop count
	// is observable through Client.AuditDropped.
	DropIfFull bool
}

// MetricsConfig controls the counter registry.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Renewal: RenewalConfig{Proactive: true},
		Storage: StorageConfig{KeyPrefix: "goauthclient"},
		Realtime: realtime.Config{
			HandshakeTimeout: 10 * time.Second,
			InitialBackoff:   250 * time.Millisecond,
			MaxBackoff:       30 * time.Second,
			SubscriberBuffer: 64,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func validateConfig(cfg Config) error {
	if cfg.Provider.BaseURL == "" {
		return errors.New("config: provider base URL required")
	}
	if cfg.Realtime.Enabled && cfg.Realtime.URL == "" {
		return errors.New("config: realtime enabled without a URL")
	}
	if cfg.Audit.Enabled && cfg.Audit.BufferSize < 0 {
		return errors.New("config: negative audit buffer")
	}
	return nil
}
