package token

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned when a token fails signature or shape checks.
var ErrMalformed = errors.New("malformed token")

// ErrExpired is returned when a token is authentic but past its expiry.
var ErrExpired = errors.New("token expired")

// Mode distinguishes access tokens from refresh tokens on the wire.
type Mode string

const (
	// ModeAccess is an exported constant or variable used by the authentication engine.
	ModeAccess Mode = "access_token"
	// ModeRefresh is an exported constant or variable used by the authentication engine.
	ModeRefresh Mode = "refresh_token"
)

// SigningMethod selects the signature algorithm for issued tokens.
type SigningMethod string

const (
	// MethodHS256 is an exported constant or variable used by the authentication engine.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 is an exported constant or variable used by the authentication engine.
	MethodEd25519 SigningMethod = "ed25519"
)

// Claims is the signed claim set carried by every issued token. Subject,
// ID (jti), issue and expiry times live in the embedded RegisteredClaims.
// Family is present on refresh tokens only.
type Claims struct {
	Mode      Mode   `json:"mode"`
	SessionID string `json:"session_id,omitempty"`
	Family    string `json:"family,omitempty"`
	jwt.RegisteredClaims
}

// Config configures a [Codec]. Key material is referenced, not managed:
// rotation of the signing secret is the caller's concern.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Codec signs and parses token claim sets. Instances are immutable and
// safe for concurrent use.
type Codec struct {
	config Config
}

// NewCodec validates the configuration and returns a [Codec].
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("invalid ed25519 private key size")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("invalid ed25519 public key size")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Codec{config: cfg}, nil
}

// SignAccess issues a signed access token for the given user and session.
func (c *Codec) SignAccess(userID, sessionID, jti string) (string, error) {
	return c.sign(ModeAccess, userID, sessionID, jti, "", c.config.AccessTTL)
}

// SignRefresh issues a signed refresh token bound to a rotation family.
func (c *Codec) SignRefresh(userID, sessionID, jti, familyID string) (string, error) {
	return c.sign(ModeRefresh, userID, sessionID, jti, familyID, c.config.RefreshTTL)
}

func (c *Codec) sign(mode Mode, userID, sessionID, jti, familyID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Mode:      mode,
		SessionID: sessionID,
		Family:    familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    c.config.Issuer,
		},
	}

	tok := jwt.NewWithClaims(c.method(), claims)

	key, err := c.signKey()
	if err != nil {
		return "", err
	}

	return tok.SignedString(key)
}

// Parse verifies the signature and expiry of a token string and returns
// the decoded claims. Failures collapse to [ErrMalformed] or [ErrExpired];
// everything finer-grained is decided against store state by the caller.
func (c *Codec) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithIssuedAt(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, c.keyFunc, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}

	switch claims.Mode {
	case ModeAccess, ModeRefresh:
	default:
		return nil, ErrMalformed
	}

	return claims, nil
}

func (c *Codec) method() jwt.SigningMethod {
	if c.config.SigningMethod == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func (c *Codec) signKey() (interface{}, error) {
	if c.config.SigningMethod == MethodEd25519 {
		return ed25519.PrivateKey(c.config.PrivateKey), nil
	}
	return c.config.PrivateKey, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if c.config.SigningMethod == MethodEd25519 {
		return ed25519.PublicKey(c.config.PublicKey), nil
	}
	return c.config.PrivateKey, nil
}
