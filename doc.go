// Package rotor is a Redis-backed access/refresh token rotation engine.
//
// It issues signed token pairs, verifies them against store state, rotates
// refresh tokens atomically, and revokes sessions in bulk. Redis is the
// single source of truth for "is this token currently valid": a token's
// own content only proves authenticity and carries identifiers.
//
// Every refresh token belongs to a family, the lineage of tokens produced
// by successive rotations from one login. Presenting an already-consumed
// refresh token is treated as theft: the engine revokes every session in
// the user's set before reporting the rejection.
//
// Construction goes through the builder:
//
//	engine, err := rotor.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithIdentityProvider(users).
//		Build()
package rotor
