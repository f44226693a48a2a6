package goAuthClient

import "sync/atomic"

// MetricID indexes the counter registry.
type MetricID uint16

const (
	// MetricLoginSuccess counts accepted logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected or failed logins.
	MetricLoginFailure
	// MetricRegisterSuccess counts accepted registrations.
	MetricRegisterSuccess
	// MetricRegisterFailure counts rejected or failed registrations.
	MetricRegisterFailure
	// MetricLogout counts logout operations, best-effort revoke included.
	MetricLogout
	// MetricRefreshSuccess counts renewals that installed a new credential.
	MetricRefreshSuccess
	// MetricRefreshRejected counts terminal refresh rejections.
	MetricRefreshRejected
	// MetricRefreshTransientFailure counts renewals lost to transient faults.
	MetricRefreshTransientFailure
	// MetricRefreshSingleFlightJoin counts requests that joined an already
	// in-flight renewal instead of issuing their own.
	MetricRefreshSingleFlightJoin
	// MetricFallbackProbe counts continuation probes actually sent.
	MetricFallbackProbe
	// MetricFallbackHit counts probes the server recognized.
	MetricFallbackHit
	// MetricFallbackMiss counts probes answered with no session.
	MetricFallbackMiss
	// MetricRequestAuthorized counts outbound requests sent with a bearer.
	MetricRequestAuthorized
	// MetricRequestUnauthenticated counts outbound requests sent without one.
	MetricRequestUnauthenticated
	// MetricRequestRetried counts 401-triggered single retries.
	MetricRequestRetried
	// MetricSessionExpired counts terminal session expirations signaled.
	MetricSessionExpired
	// MetricExternalSync counts credential changes adopted from another
	// execution context.
	MetricExternalSync
	// MetricRealtimeReconnect counts realtime connection cycles caused by
	// credential changes.
	MetricRealtimeReconnect
	// MetricAntiForgeryFetch counts anti-forgery token fetches (cache misses).
	MetricAntiForgeryFetch

	metricCount
)

var metricNames = [...]string{
	MetricLoginSuccess:            "login_success",
	MetricLoginFailure:            "login_failure",
	MetricRegisterSuccess:         "register_success",
	MetricRegisterFailure:         "register_failure",
	MetricLogout:                  "logout",
	MetricRefreshSuccess:          "refresh_success",
	MetricRefreshRejected:         "refresh_rejected",
	MetricRefreshTransientFailure: "refresh_transient_failure",
	MetricRefreshSingleFlightJoin: "refresh_singleflight_join",
	MetricFallbackProbe:           "fallback_probe",
	MetricFallbackHit:             "fallback_hit",
	MetricFallbackMiss:            "fallback_miss",
	MetricRequestAuthorized:       "request_authorized",
	MetricRequestUnauthenticated:  "request_unauthenticated",
	MetricRequestRetried:          "request_retried",
	MetricSessionExpired:          "session_expired",
	MetricExternalSync:            "external_sync",
	MetricRealtimeReconnect:       "realtime_reconnect",
	MetricAntiForgeryFetch:        "anti_forgery_fetch",
}

var metricHelp = [...]string{
	MetricLoginSuccess:            "Accepted login attempts.",
	MetricLoginFailure:            "Rejected or failed login attempts.",
	MetricRegisterSuccess:         "Accepted registrations.",
	MetricRegisterFailure:         "Rejected or failed registrations.",
	MetricLogout:                  "Logout operations, best-effort revoke included.",
	MetricRefreshSuccess:          "Renewals that installed a new credential.",
	MetricRefreshRejected:         "Terminal refresh rejections.",
	MetricRefreshTransientFailure: "Renewals lost to transient faults.",
	MetricRefreshSingleFlightJoin: "Requests that joined an in-flight renewal.",
	MetricFallbackProbe:           "Session continuation probes sent.",
	MetricFallbackHit:             "Continuation probes the server recognized.",
	MetricFallbackMiss:            "Continuation probes answered with no session.",
	MetricRequestAuthorized:       "Outbound requests sent with a bearer.",
	MetricRequestUnauthenticated:  "Outbound requests sent without a bearer.",
	MetricRequestRetried:          "Single retries triggered by an unauthorized reply.",
	MetricSessionExpired:          "Terminal session expirations signaled.",
	MetricExternalSync:            "Credential changes adopted from another execution context.",
	MetricRealtimeReconnect:       "Realtime connection cycles caused by credential changes.",
	MetricAntiForgeryFetch:        "Anti-forgery token fetches (cache misses).",
}

// Name returns the stable snake_case identifier exporters publish under.
func (id MetricID) Name() string {
	if int(id) < len(metricNames) {
		return metricNames[id]
	}
	return "unknown"
}

// Help returns the human-readable description exporters attach to the metric.
func (id MetricID) Help() string {
	if int(id) < len(metricHelp) {
		return metricHelp[id]
	}
	return ""
}

// MetricIDs lists every defined metric in declaration order.
func MetricIDs() []MetricID {
	ids := make([]MetricID, metricCount)
	for i := range ids {
		ids[i] = MetricID(i)
	}
	return ids
}

// Metrics is a fixed-size atomic counter registry. A nil registry (metrics
// disabled) accepts increments as no-ops.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

func newMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{}
}

func (m *Metrics) inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies the registry. Safe to call concurrently with increments.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricCount)}
	if m == nil {
		return snap
	}
	for i := range m.counters {
		snap.Counters[MetricID(i)] = m.counters[i].Load()
	}
	return snap
}
