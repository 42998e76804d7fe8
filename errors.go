package rotor

import (
	"errors"

	"github.com/rotorauth/rotor/store"
)

var (
	// ErrTokenMalformed is an exported constant or variable used by the rotation engine.
	ErrTokenMalformed = errors.New("malformed token")
	// ErrTokenExpired is an exported constant or variable used by the rotation engine.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenSuperseded is returned when a token was valid once but a later
	// rotation, login, or logout replaced it. Benign: no cascade.
	ErrTokenSuperseded = errors.New("token superseded")
	// ErrReuseDetected is returned when an already-consumed refresh token is
	// presented again. This is the theft signal; every session for the user
	// is revoked before it is reported.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrFamilyInvalid is returned when a structurally valid refresh token
	// names a lineage that is absent or expired. Treated as tamper evidence
	// and cascades like reuse.
	ErrFamilyInvalid = errors.New("token family invalid")
	// ErrUserNotFound is an exported constant or variable used by the rotation engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserBlocked is an exported constant or variable used by the rotation engine.
	ErrUserBlocked = errors.New("user is blocked")
	// ErrUserUnverified is an exported constant or variable used by the rotation engine.
	ErrUserUnverified = errors.New("user is not verified")
	// ErrEngineNotReady is an exported constant or variable used by the rotation engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// ErrStoreUnavailable is infrastructure failure talking to Redis. It is
// retryable and must never be conflated with an authentication rejection.
var ErrStoreUnavailable = store.ErrUnavailable
