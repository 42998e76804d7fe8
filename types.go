package rotor

import (
	"context"

	"github.com/rotorauth/rotor/token"
)

// IdentityProvider is the interface callers implement to connect the engine
// to their user database. The engine only ever reads: account lifecycle,
// credentials, and profile data stay on the caller's side.
type IdentityProvider interface {
	FindByID(ctx context.Context, userID string) (UserRecord, error)
}

// UserRecord is the read-only account view consumed by the engine.
type UserRecord struct {
	ID       string
	Blocked  bool
	Verified bool
}

// TokenPair is the result of a successful login or rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	FamilyID     string
}

// Identity is returned by [Engine.Verify]: the authenticated user, the
// session the token belongs to, and the token's mode.
type Identity struct {
	UserID    string
	SessionID string
	Mode      token.Mode
}
