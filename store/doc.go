// Package store is the Redis-backed source of truth for token validity.
//
// It owns the key scheme shared with existing deployments:
//
//	access:<user_id>:<session_id>   -> current access jti
//	refresh:<user_id>:<session_id>  -> current refresh jti
//	family:<user_id>:<family_id>    -> liveness sentinel
//	used:<user_id>:<jti>            -> consumed-refresh marker
//
// The only multi-key mutation that must be atomic is [Store.TryRotate];
// it runs as a single server-side Lua script so that concurrent rotation
// attempts on the same token are serialized by Redis itself.
package store
