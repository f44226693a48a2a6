// Package realtime keeps a persistent websocket notification connection in
// lockstep with the credential state machine.
//
// The bridge owns no token logic: it observes the store and reacts. A
// credential change is a full close-and-reopen with the new bearer and
// session identifier as connection-time parameters, never an in-place swap.
package realtime
