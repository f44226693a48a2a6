package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned when a bearer string is not a three-part compact
// JWS, its payload is not decodable, or a required claim (exp, iat) is absent.
var ErrMalformed = errors.New("malformed credential")

// Claims is the decoded, trimmed-down view of a bearer credential's payload.
type Claims struct {
	Subject   string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Credential pairs the opaque bearer string with its decoded claims.
// A Credential is immutable once built; renewal produces a new value.
type Credential struct {
	Raw    string
	Claims Claims
}

// wireClaims mirrors the server's access token payload. uid and sid are the
// custom claims the issuing engine writes alongside the registered set.
type wireClaims struct {
	UID string `json:"uid,omitempty"`
	SID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser()

// Decode parses the payload segment of raw without verifying the signature.
// It fails with [ErrMalformed] when the structure is not a three-part compact
// encoding or when exp or iat is missing.
func Decode(raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	wire := &wireClaims{}
	if _, _, err := parser.ParseUnverified(raw, wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp claim", ErrMalformed)
	}
	if wire.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat claim", ErrMalformed)
	}

	subject := wire.UID
	if subject == "" {
		subject = wire.RegisteredClaims.Subject
	}

	return &Claims{
		Subject:   subject,
		SessionID: wire.SID,
		IssuedAt:  wire.IssuedAt.Time,
		ExpiresAt: wire.ExpiresAt.Time,
	}, nil
}

// NewCredential decodes raw and wraps it into an immutable Credential.
func NewCredential(raw string) (*Credential, error) {
	claims, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return &Credential{Raw: raw, Claims: *claims}, nil
}
