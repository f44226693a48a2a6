// Package goAuthClient is the client half of a token-based authentication
// system: it owns the current bearer credential, renews it exactly once under
// concurrent load, silently recovers a session through a server-recognized
// continuation probe, authorizes every outbound request, and keeps a
// persistent realtime connection in lockstep with credential changes.
//
// The package is the public surface. It exposes [Client], [Builder],
// [Config], the error taxonomy, and value types. Claims decoding lives in
// token/, durable credential state in store/, the network operations in
// provider/, and the websocket bridge in realtime/.
//
// # Concurrency contract
//
// A Client and everything reachable from it are safe for concurrent use
// after [Builder.Build]. The two pieces of shared mutable state — the
// current credential and the single in-flight refresh — are owned by the
// store and the transport respectively and mutated only through their
// methods. At most one credential renewal is in flight per Client at any
// instant; concurrent 401s join the same renewal and are resumed in FIFO
// order with the same new bearer.
//
// # What this package must NOT do
//
//   - Treat client-decoded claims as an authorization decision. They steer
//     renewal timing and identity display; the server stays authoritative.
//   - Attach a credential past its expiry to an outbound request.
//   - Retry any single request more than once after a 401.
package goAuthClient
