package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials means the server rejected the identity/secret
	// pair. Surfaced verbatim; never retried.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPermissionDenied means the server understood the request and
	// refused it.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRefreshRejected means the server explicitly revoked or expired the
	// refresh credential. Terminal for the session, unlike a transient
	// transport failure.
	ErrRefreshRejected = errors.New("refresh credential rejected")
	// ErrNoSession means the silent continuation probe found no recognizable
	// server-side session.
	ErrNoSession = errors.New("no continuable session")
	// ErrServiceUnavailable covers 5xx responses and transport-level
	// failures. Transient: no local state is discarded because of it.
	ErrServiceUnavailable = errors.New("auth service unavailable")
	// ErrTimeout is the per-request deadline expiring, independent of any
	// shared refresh state.
	ErrTimeout = errors.New("request timed out")
	// ErrUnknown covers response shapes outside the documented contract.
	ErrUnknown = errors.New("unclassified auth failure")
)

// ValidationError reports per-field rejections from a 400 response.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// Error renders the message plus a stable field ordering.
func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "validation failed"
	}
	if len(e.Fields) == 0 {
		return msg
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

// IsTransient reports whether err is a failure the caller may simply retry
// later without touching local credential state.
func IsTransient(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrTimeout)
}
