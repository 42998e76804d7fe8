package rotor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rotorauth/rotor/store"
	"github.com/rotorauth/rotor/token"
)

// Engine issues, verifies, rotates, and revokes access/refresh token
// pairs. It is stateless: every durable fact lives in Redis, which is the
// single arbitration point for concurrent callers. Any number of request
// handlers may call into one Engine concurrently.
type Engine struct {
	config  Config
	codec   *token.Codec
	store   *store.Store
	users   IdentityProvider
	audit   *auditDispatcher
	metrics *Metrics
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Login opens a session for an already-authenticated user: a fresh session
// id, a fresh rotation family, and a signed access/refresh pair recorded in
// the store. Credential checking happens before this call, on the caller's
// side. Fails without side effects when the user is unknown, blocked,
// unverified, or the store is unreachable.
func (e *Engine) Login(ctx context.Context, userID string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.checkIdentity(ctx, userID); err != nil {
		return nil, err
	}

	pair, err := e.issuePair(ctx, userID, uuid.NewString())
	if err != nil {
		return nil, err
	}

	e.metrics.incLogins()
	e.emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditLogin,
		UserID:    userID,
		SessionID: pair.SessionID,
		FamilyID:  pair.FamilyID,
	})

	return pair, nil
}

// Refresh exchanges a refresh token for a new access/refresh pair. The old
// token is retired atomically; the new pair keeps the old token's family.
//
// A reused token, a token naming a dead family, or a refresh token missing
// rotation fields all revoke every session for the user before the error
// is reported: the credential chain may be compromised, not just this
// request. A superseded token (stale duplicate of a request that already
// rotated, or post-logout use) is denied without a cascade.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.parseToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Mode != token.ModeRefresh {
		return nil, ErrTokenMalformed
	}

	userID, sessionID, jti, familyID, err := e.rotationFields(ctx, claims)
	if err != nil {
		return nil, err
	}

	if err := e.checkIdentity(ctx, userID); err != nil {
		return nil, err
	}

	live, err := e.store.FamilyLive(ctx, userID, familyID)
	if err != nil {
		e.metrics.incStoreFailures()
		return nil, err
	}
	if !live {
		e.metrics.incFamilyInvalid()
		if err := e.cascade(ctx, userID, familyID, "family absent or expired"); err != nil {
			return nil, err
		}
		return nil, ErrFamilyInvalid
	}

	outcome, err := e.store.TryRotate(ctx, userID, sessionID, jti, e.config.usedMarkerTTL())
	if err != nil {
		e.metrics.incStoreFailures()
		return nil, err
	}

	switch outcome {
	case store.OutcomeReused:
		e.metrics.incReuseDetected()
		if err := e.cascade(ctx, userID, familyID, "refresh token reuse"); err != nil {
			return nil, err
		}
		return nil, ErrReuseDetected
	case store.OutcomeSuperseded:
		return nil, ErrTokenSuperseded
	case store.OutcomeRotated:
		// fall through to mint the successor
	default:
		return nil, fmt.Errorf("%w: unknown rotate outcome %d", ErrStoreUnavailable, outcome)
	}

	pair, err := e.issuePair(ctx, userID, familyID)
	if err != nil {
		return nil, err
	}

	e.metrics.incRotations()
	e.emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditRefreshRotated,
		UserID:    userID,
		SessionID: pair.SessionID,
		FamilyID:  familyID,
	})

	return pair, nil
}

// Verify checks a presented token against store state and returns the
// identity it proves. Access tokens are checked against the active record
// only; refresh tokens additionally pass the used-marker and family
// checks, with the same cascade policy as [Engine.Refresh].
func (e *Engine) Verify(ctx context.Context, tokenStr string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.parseToken(tokenStr)
	if err != nil {
		e.metrics.incVerifyRejected()
		return nil, err
	}

	userID := claims.Subject
	sessionID := claims.SessionID
	jti := claims.ID

	if claims.Mode == token.ModeRefresh {
		if _, _, _, _, err := e.rotationFields(ctx, claims); err != nil {
			e.metrics.incVerifyRejected()
			return nil, err
		}

		used, err := e.store.UsedExists(ctx, userID, jti)
		if err != nil {
			e.metrics.incStoreFailures()
			return nil, err
		}
		if used {
			e.metrics.incReuseDetected()
			e.metrics.incVerifyRejected()
			if err := e.cascade(ctx, userID, claims.Family, "refresh token reuse"); err != nil {
				return nil, err
			}
			return nil, ErrReuseDetected
		}

		live, err := e.store.FamilyLive(ctx, userID, claims.Family)
		if err != nil {
			e.metrics.incStoreFailures()
			return nil, err
		}
		if !live {
			e.metrics.incFamilyInvalid()
			e.metrics.incVerifyRejected()
			if err := e.cascade(ctx, userID, claims.Family, "family absent or expired"); err != nil {
				return nil, err
			}
			return nil, ErrFamilyInvalid
		}
	} else if userID == "" || sessionID == "" || jti == "" {
		e.metrics.incVerifyRejected()
		return nil, ErrTokenMalformed
	}

	var storedJTI string
	if claims.Mode == token.ModeAccess {
		storedJTI, err = e.store.AccessJTI(ctx, userID, sessionID)
	} else {
		storedJTI, err = e.store.RefreshJTI(ctx, userID, sessionID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metrics.incVerifyRejected()
			return nil, ErrTokenSuperseded
		}
		e.metrics.incStoreFailures()
		return nil, err
	}
	if storedJTI != jti {
		e.metrics.incVerifyRejected()
		return nil, ErrTokenSuperseded
	}

	return &Identity{
		UserID:    userID,
		SessionID: sessionID,
		Mode:      claims.Mode,
	}, nil
}

// Logout retires a single session identified by a valid access token.
// The session's refresh token becomes superseded, which is a benign
// rejection on any later use; the family is left to lapse on its own.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	identity, err := e.Verify(ctx, accessToken)
	if err != nil {
		return err
	}
	if identity.Mode != token.ModeAccess {
		return ErrTokenMalformed
	}

	if err := e.store.DeleteSession(ctx, identity.UserID, identity.SessionID); err != nil {
		e.metrics.incStoreFailures()
		return err
	}

	e.emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditLogout,
		UserID:    identity.UserID,
		SessionID: identity.SessionID,
	})

	return nil
}

// RevokeAll invalidates every session, family, and used marker for a user.
// Idempotent. Exposed for explicit logout-everywhere; the engine also calls
// it internally when a cascade-class rejection fires.
func (e *Engine) RevokeAll(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.store.RevokeAll(ctx, userID); err != nil {
		e.metrics.incStoreFailures()
		return err
	}

	e.metrics.incRevocations()
	e.emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditRevokeAll,
		UserID:    userID,
	})

	return nil
}

// Ping reports store reachability and round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.store.Ping(ctx)
}

func (e *Engine) parseToken(tokenStr string) (*token.Claims, error) {
	claims, err := e.codec.Parse(tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// rotationFields extracts the fields a legitimate rotation input must
// carry. A refresh token without a complete set cannot be a real rotation
// input, so a missing field on an otherwise authentic token cascades.
func (e *Engine) rotationFields(ctx context.Context, claims *token.Claims) (userID, sessionID, jti, familyID string, err error) {
	userID = claims.Subject
	sessionID = claims.SessionID
	jti = claims.ID
	familyID = claims.Family

	if userID == "" {
		// nothing to revoke against
		return "", "", "", "", ErrTokenMalformed
	}
	if sessionID == "" || jti == "" || familyID == "" {
		if cerr := e.cascade(ctx, userID, familyID, "incomplete rotation claims"); cerr != nil {
			return "", "", "", "", cerr
		}
		return "", "", "", "", ErrTokenMalformed
	}

	return userID, sessionID, jti, familyID, nil
}

func (e *Engine) checkIdentity(ctx context.Context, userID string) error {
	rec, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserNotFound, err)
	}
	if rec.Blocked {
		return ErrUserBlocked
	}
	if !rec.Verified {
		return ErrUserUnverified
	}
	return nil
}

// issuePair mints a fresh session id and jtis, signs both tokens, and
// records them plus the family marker in one transaction.
func (e *Engine) issuePair(ctx context.Context, userID, familyID string) (*TokenPair, error) {
	sessionID := uuid.NewString()
	accessJTI := uuid.NewString()
	refreshJTI := uuid.NewString()

	accessToken, err := e.codec.SignAccess(userID, sessionID, accessJTI)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := e.codec.SignRefresh(userID, sessionID, refreshJTI, familyID)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	err = e.store.SaveSession(
		ctx,
		userID, sessionID, familyID,
		accessJTI, refreshJTI,
		e.config.Token.AccessTTL, e.config.Token.RefreshTTL,
	)
	if err != nil {
		e.metrics.incStoreFailures()
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		FamilyID:     familyID,
	}, nil
}

// cascade wipes every key the user owns. A failed wipe is reported as a
// store error instead of the original rejection: claiming "revoked" while
// keys survive would undo the security decision the cascade encodes.
func (e *Engine) cascade(ctx context.Context, userID, familyID, reason string) error {
	if err := e.store.RevokeAll(ctx, userID); err != nil {
		e.metrics.incStoreFailures()
		return err
	}

	e.metrics.incCascades()
	e.emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditCascadeRevocation,
		UserID:    userID,
		FamilyID:  familyID,
		Reason:    reason,
	})

	return nil
}

func (e *Engine) emit(ctx context.Context, event AuditEvent) {
	e.audit.Emit(ctx, event)
}
