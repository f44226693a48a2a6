// Package provider performs the network operations that mint, renew, and
// revoke credentials, and normalizes transport failures into a small error
// taxonomy so callers never branch on raw status codes.
//
// The provider is fetch-only: it hands credential pairs back to the caller
// and never touches the token store.
package provider
