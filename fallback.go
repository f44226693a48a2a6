package goAuthClient

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/goAuthClient/provider"
	"github.com/MrEthical07/goAuthClient/store"
	"github.com/MrEthical07/goAuthClient/token"
)

// fallbackResolver recovers authorization when no local credential exists:
// one bearer-less continuation probe per unauthenticated burst, shared by
// every concurrent caller through the flight group. The flight is discarded
// after resolution, so a later burst may probe again.
type fallbackResolver struct {
	provider *provider.Client
	store    *store.Store
	log      zerolog.Logger
	metrics  *Metrics
	audit    *auditDispatcher

	group singleflight.Group
}

const fallbackFlightKey = "session-probe"

// attempt resolves to the installed credential, or ErrNoSession when the
// server recognizes nothing. Success installs the pair into the store with
// SourceFallback before any waiter resumes.
func (r *fallbackResolver) attempt(ctx context.Context) (*token.Credential, error) {
	// The group drops the key once the shared call settles, which is exactly
	// the single-use attempt marker: one probe per burst, none held across it.
	v, err, _ := r.group.Do(fallbackFlightKey, func() (any, error) {
		return r.probe(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*token.Credential), nil
}

func (r *fallbackResolver) probe(ctx context.Context) (*token.Credential, error) {
	r.metrics.inc(MetricFallbackProbe)

	res, err := r.provider.Probe(ctx, provider.NewDeviceSignature())
	if err != nil {
		if errors.Is(err, provider.ErrNoSession) {
			r.metrics.inc(MetricFallbackMiss)
			r.audit.emit(AuditEvent{EventType: AuditFallbackProbe, Success: false, Error: err.Error()})
		} else {
			r.log.Debug().Err(err).Msg("continuation probe failed")
			r.audit.emit(AuditEvent{EventType: AuditFallbackProbe, Success: false, Error: err.Error()})
		}
		return nil, err
	}

	cred, err := token.NewCredential(res.Access)
	if err != nil {
		r.log.Warn().Err(err).Msg("continuation probe returned undecodable credential")
		return nil, err
	}

	r.store.Update(ctx, cred, res.Refresh, store.SourceFallback)
	r.metrics.inc(MetricFallbackHit)
	r.audit.emit(AuditEvent{
		EventType: AuditFallbackProbe,
		Subject:   cred.Claims.Subject,
		SessionID: cred.Claims.SessionID,
		Success:   true,
	})
	return cred, nil
}
