// Package token decodes bearer credentials and decides when they are due
// for renewal.
//
// Decoding is deliberately unverified: the payload segment of the compact
// JWS form is parsed without checking the signature. The resulting claims
// are a read-only hint used for renewal timing and opportunistic identity
// display. They are never an authorization decision — the issuing server
// remains the sole authority on whether a bearer is accepted.
package token
