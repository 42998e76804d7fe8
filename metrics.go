package rotor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus counters. Constructed only when a
// registerer is supplied to the builder; a nil *Metrics is a no-op.
type Metrics struct {
	logins         prometheus.Counter
	rotations      prometheus.Counter
	reuseDetected  prometheus.Counter
	familyInvalid  prometheus.Counter
	cascades       prometheus.Counter
	revocations    prometheus.Counter
	storeFailures  prometheus.Counter
	verifyRejected prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)

	return &Metrics{
		logins: factory.NewCounter(prometheus.CounterOpts{
			Name: "rotor_logins_total",
			Help: "Sessions issued at login.",
		}),
		rotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "rotor_rotations_total",
			Help: "Successful refresh token rotations.",
		}),
		reuseDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "rotor_reuse_detected_total",
			Help: "Refresh tokens presented after already being consumed.",
		}),
		familyInvalid: factory.NewCounter(prometheus.CounterOpts{
			Name: "rotor_family_invalid_total",
			Help: "Refresh tokens naming a dead or unknown family.",
		}),
		cascades: factory.NewCounter(prometheus.CounterOpts{
			Name: "rotor_cascade_revocations_total",
			Help: "Full-user revocations triggered by suspicious rejections.",
		}),
		revocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "rotor_explicit_revocations_total",
			Help: "Explicit logout-everywhere revocations.",
		}),
		storeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rotor_store_failures_total",
			Help: "Redis round-trips that failed.",
		}),
		verifyRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "rotor_verify_rejected_total",
			Help: "Token verifications rejected for any reason.",
		}),
	}
}

func (m *Metrics) incLogins() {
	if m != nil {
		m.logins.Inc()
	}
}

func (m *Metrics) incRotations() {
	if m != nil {
		m.rotations.Inc()
	}
}

func (m *Metrics) incReuseDetected() {
	if m != nil {
		m.reuseDetected.Inc()
	}
}

func (m *Metrics) incFamilyInvalid() {
	if m != nil {
		m.familyInvalid.Inc()
	}
}

func (m *Metrics) incCascades() {
	if m != nil {
		m.cascades.Inc()
	}
}

func (m *Metrics) incRevocations() {
	if m != nil {
		m.revocations.Inc()
	}
}

func (m *Metrics) incStoreFailures() {
	if m != nil {
		m.storeFailures.Inc()
	}
}

func (m *Metrics) incVerifyRejected() {
	if m != nil {
		m.verifyRejected.Inc()
	}
}
