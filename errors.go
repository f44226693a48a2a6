package goAuthClient

import (
	"errors"

	"github.com/MrEthical07/goAuthClient/provider"
	"github.com/MrEthical07/goAuthClient/token"
)

// The full failure taxonomy, re-exported so callers match against one
// package. Decode-time and transport-time failures originate in their
// respective subpackages.
var (
	// ErrMalformedCredential is a decode failure. Non-fatal: the credential
	// is treated as already expired.
	ErrMalformedCredential = token.ErrMalformed
	// ErrInvalidCredentials is a rejected identity/secret pair. No retry.
	ErrInvalidCredentials = provider.ErrInvalidCredentials
	// ErrPermissionDenied is surfaced verbatim to the caller. No retry.
	ErrPermissionDenied = provider.ErrPermissionDenied
	// ErrRefreshRejected is terminal for the session: local state is cleared
	// and the session-expired signal fires.
	ErrRefreshRejected = provider.ErrRefreshRejected
	// ErrNoSession means the silent continuation probe was exhausted; the
	// request proceeds unauthenticated.
	ErrNoSession = provider.ErrNoSession
	// ErrServiceUnavailable is transient. No local state changes; callers
	// may retry manually.
	ErrServiceUnavailable = provider.ErrServiceUnavailable
	// ErrTimeout is a per-request deadline, independent of shared refresh
	// state.
	ErrTimeout = provider.ErrTimeout
	// ErrUnknown covers responses outside the documented contract.
	ErrUnknown = provider.ErrUnknown

	// ErrClientClosed is returned by operations on a disposed Client.
	ErrClientClosed = errors.New("client closed")
)

// ValidationError carries per-field rejections from a 400 response.
type ValidationError = provider.ValidationError

// IsTransient reports whether err warrants a manual retry rather than any
// local state change.
func IsTransient(err error) bool {
	return provider.IsTransient(err)
}
