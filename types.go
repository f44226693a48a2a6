package goAuthClient

import (
	"time"

	"github.com/MrEthical07/goAuthClient/provider"
	"github.com/MrEthical07/goAuthClient/token"
)

// Profile is the server's view of the authenticated user, re-exported from
// the provider for callers that never import subpackages.
type Profile = provider.Profile

// ProfileDraft is the registration payload.
type ProfileDraft = provider.ProfileDraft

// Identity is the best-effort, client-decoded view of who is signed in.
// Display-only: the decode is unverified, so this must never gate anything.
type Identity struct {
	Subject   string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func identityFromClaims(c token.Claims) Identity {
	return Identity{
		Subject:   c.Subject,
		SessionID: c.SessionID,
		IssuedAt:  c.IssuedAt,
		ExpiresAt: c.ExpiresAt,
	}
}
