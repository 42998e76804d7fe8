package rotor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/rotorauth/rotor/store"
	"github.com/rotorauth/rotor/token"
)

// Builder assembles an [Engine]. Construction fails fast on missing
// dependencies or invalid configuration; a built engine never re-validates.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identity IdentityProvider
	sink     AuditSink
	registry prometheus.Registerer

	built bool
}

// New starts a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing all durable state.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider sets the caller's user lookup.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identity = p
	return b
}

// WithAuditSink sets the destination for audit events. Optional; without
// a sink, events go nowhere but cascades still happen.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithMetricsRegisterer enables Prometheus counters on the given
// registerer. Optional.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// Build validates and constructs the [Engine].
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already consumed")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.identity == nil {
		return nil, errors.New("identity provider is required")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(token.Config{
		AccessTTL:     b.config.Token.AccessTTL,
		RefreshTTL:    b.config.Token.RefreshTTL,
		SigningMethod: b.config.Token.SigningMethod,
		PrivateKey:    b.config.Token.PrivateKey,
		PublicKey:     b.config.Token.PublicKey,
		Issuer:        b.config.Token.Issuer,
		Leeway:        b.config.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	b.built = true

	return &Engine{
		config:  b.config,
		codec:   codec,
		store:   store.NewStore(b.redis),
		users:   b.identity,
		audit:   newAuditDispatcher(b.config.Audit, b.sink),
		metrics: newMetrics(b.registry),
	}, nil
}
