// Package store owns the current access credential for one execution
// context.
//
// The in-memory value is authoritative for the running process; durable
// storage is a best-effort mirror used for restarts and for reconciling
// independent execution contexts. External modifications of the durable
// layer surface through the [Storage] Watch port and reach local listeners
// as events with Source set to [SourceExternal], so several contexts stay
// eventually consistent without polling.
package store
