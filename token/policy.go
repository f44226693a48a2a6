package token

import "time"

// IsExpired reports whether the credential must no longer be attached to an
// outbound request. The boundary is inclusive: now == exp is expired.
// Claims without a usable exp are treated as already expired.
func IsExpired(c *Claims, now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(c.ExpiresAt)
}

// ShouldRenew reports whether the credential has consumed at least two-thirds
// of its validity window and should be proactively exchanged before use.
// The two-thirds threshold is exact so the decision is deterministic across
// callers. Claims missing iat or exp never force a renewal.
func ShouldRenew(c *Claims, now time.Time) bool {
	if c == nil || c.IssuedAt.IsZero() || c.ExpiresAt.IsZero() {
		return false
	}
	window := c.ExpiresAt.Sub(c.IssuedAt)
	if window <= 0 {
		return false
	}
	return now.Sub(c.IssuedAt) >= window*2/3
}
