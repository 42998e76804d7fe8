package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when Redis cannot be reached or misbehaves.
// It is infrastructure failure, never an authentication verdict.
var ErrUnavailable = errors.New("token store unavailable")

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// RotateOutcome is the verdict of the atomic check-and-retire step.
type RotateOutcome int

const (
	// OutcomeRotated means the presented jti was live and has been retired.
	OutcomeRotated RotateOutcome = iota
	// OutcomeReused means the presented jti was already consumed by a
	// prior rotation. This is the theft signal.
	OutcomeReused
	// OutcomeSuperseded means the active record is absent or holds a
	// different jti: the token was valid once but has been replaced.
	OutcomeSuperseded
)

const (
	rotateResultOK       = "OK"
	rotateResultReused   = "REUSED"
	rotateResultInvalid  = "INVALID"
	familyLivenessMarker = "1"
	usedMarkerValue      = "used"
)

// tryRotateScript reads and writes two keys and must run as one
// uninterruptible unit: a check-then-act sequence issued from the client
// admits a window where two concurrent requests both observe the live jti
// and both mint a successor.
const tryRotateScript = `
local active_key = KEYS[1]
local used_key = KEYS[2]
local presented_jti = ARGV[1]
local used_ttl_seconds = ARGV[2]

if redis.call('EXISTS', used_key) == 1 then
    return '` + rotateResultReused + `'
end

local stored_jti = redis.call('GET', active_key)
if stored_jti ~= presented_jti then
    return '` + rotateResultInvalid + `'
end

redis.call('SETEX', used_key, used_ttl_seconds, '` + usedMarkerValue + `')
redis.call('DEL', active_key)

return '` + rotateResultOK + `'
`

var tryRotateLua = redis.NewScript(tryRotateScript)

// Store exposes the registry, family ledger, used markers, and revocation
// over a shared Redis client. It holds no state of its own and is safe for
// concurrent use.
type Store struct {
	redis redis.UniversalClient
}

// NewStore wraps the given Redis client.
func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{redis: rdb}
}

func accessKey(userID, sessionID string) string {
	return "access:" + userID + ":" + sessionID
}

func refreshKey(userID, sessionID string) string {
	return "refresh:" + userID + ":" + sessionID
}

func familyKey(userID, familyID string) string {
	return "family:" + userID + ":" + familyID
}

func usedKey(userID, jti string) string {
	return "used:" + userID + ":" + jti
}

// SaveSession writes both active-token records and the family liveness
// marker for a session in one transaction, so a mid-write failure leaves
// no partial session behind. SET on the family key doubles as open (at
// login) and extend (after rotation): either way the lineage's sliding
// expiration restarts at refreshTTL.
func (s *Store) SaveSession(
	ctx context.Context,
	userID, sessionID, familyID string,
	accessJTI, refreshJTI string,
	accessTTL, refreshTTL time.Duration,
) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, accessKey(userID, sessionID), accessJTI, accessTTL)
		pipe.Set(ctx, refreshKey(userID, sessionID), refreshJTI, refreshTTL)
		pipe.Set(ctx, familyKey(userID, familyID), familyLivenessMarker, refreshTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// AccessJTI returns the currently-active access jti for a session, or
// [ErrNotFound] when no record exists.
func (s *Store) AccessJTI(ctx context.Context, userID, sessionID string) (string, error) {
	return s.getJTI(ctx, accessKey(userID, sessionID))
}

// RefreshJTI returns the currently-active refresh jti for a session, or
// [ErrNotFound] when no record exists.
func (s *Store) RefreshJTI(ctx context.Context, userID, sessionID string) (string, error) {
	return s.getJTI(ctx, refreshKey(userID, sessionID))
}

func (s *Store) getJTI(ctx context.Context, key string) (string, error) {
	jti, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return jti, nil
}

// DeleteSession removes both active-token records for a session. Missing
// keys are not an error.
func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	err := s.redis.Del(ctx, accessKey(userID, sessionID), refreshKey(userID, sessionID)).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// OpenFamily creates the liveness marker for a new refresh lineage.
func (s *Store) OpenFamily(ctx context.Context, userID, familyID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, familyKey(userID, familyID), familyLivenessMarker, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ExtendFamily slides a lineage's expiration forward. Lineages stay alive
// as long as they are actively rotated.
func (s *Store) ExtendFamily(ctx context.Context, userID, familyID string, ttl time.Duration) error {
	return s.OpenFamily(ctx, userID, familyID, ttl)
}

// FamilyLive reports whether a refresh lineage is still open.
func (s *Store) FamilyLive(ctx context.Context, userID, familyID string) (bool, error) {
	n, err := s.redis.Exists(ctx, familyKey(userID, familyID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// CloseFamily drops a lineage's liveness marker. Idempotent.
func (s *Store) CloseFamily(ctx context.Context, userID, familyID string) error {
	if err := s.redis.Del(ctx, familyKey(userID, familyID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// UsedExists reports whether a refresh jti has already been consumed.
func (s *Store) UsedExists(ctx context.Context, userID, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, usedKey(userID, jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// TryRotate executes the atomic check-and-retire step for a presented
// refresh token. On [OutcomeRotated] the active record is gone and the
// jti is marked used for usedTTL; the caller then mints the successor.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) TryRotate(
	ctx context.Context,
	userID, sessionID, jti string,
	usedTTL time.Duration,
) (RotateOutcome, error) {
	ttlSeconds := int64(usedTTL / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := tryRotateLua.Run(
		ctx,
		s.redis,
		[]string{refreshKey(userID, sessionID), usedKey(userID, jti)},
		jti,
		strconv.FormatInt(ttlSeconds, 10),
	).Text()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch result {
	case rotateResultOK:
		return OutcomeRotated, nil
	case rotateResultReused:
		return OutcomeReused, nil
	case rotateResultInvalid:
		return OutcomeSuperseded, nil
	default:
		return 0, fmt.Errorf("%w: unexpected rotate script result %q", ErrUnavailable, result)
	}
}

// RevokeAll deletes every access record, refresh record, family marker,
// and used marker belonging to a user. Idempotent and safe to call when
// some or all keys are already gone.
func (s *Store) RevokeAll(ctx context.Context, userID string) error {
	patterns := []string{
		"access:" + userID + ":*",
		"refresh:" + userID + ":*",
		"family:" + userID + ":*",
		"used:" + userID + ":*",
	}

	for _, pattern := range patterns {
		if err := s.deleteByPattern(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(keys) > 0 {
			if err := s.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
