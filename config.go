package rotor

import (
	"errors"
	"time"

	"github.com/rotorauth/rotor/token"
)

// Config defines a public type used by rotor APIs.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable. Lifetimes and retention are passed in here, not
// read from ambient process state, so the engine stays testable with fakes.
type Config struct {
	Token TokenConfig
	Audit AuditConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig covers signing and lifetime policy for issued tokens.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	UsedRetention time.Duration // capped at RefreshTTL at use time
	SigningMethod token.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit event dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the baseline configuration. Signing key material
// must still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			UsedRetention: 24 * time.Hour,
			SigningMethod: token.MethodHS256,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.Token.AccessTTL <= 0 {
		return errors.New("token access TTL must be positive")
	}
	if cfg.Token.RefreshTTL <= 0 {
		return errors.New("token refresh TTL must be positive")
	}
	if cfg.Token.UsedRetention <= 0 {
		return errors.New("used marker retention must be positive")
	}
	if len(cfg.Token.PrivateKey) == 0 {
		return errors.New("signing key is required")
	}
	return nil
}

// usedMarkerTTL returns the retention window for consumed-refresh markers.
// Never longer than the refresh lifetime: a marker outliving every token
// that could replay against it buys nothing.
func (c Config) usedMarkerTTL() time.Duration {
	if c.Token.UsedRetention > c.Token.RefreshTTL {
		return c.Token.RefreshTTL
	}
	return c.Token.UsedRetention
}
