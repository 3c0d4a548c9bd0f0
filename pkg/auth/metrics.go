package auth

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters recorded by this package. All
// methods are no-ops on a nil *Metrics.
type Metrics struct {
	keyFetches  *prometheus.CounterVec
	validations *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg (the
// default registerer when nil). Counters that are already registered are
// reused, so constructing Metrics twice against one registry is safe.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_key_fetch_total",
			Help: "Signing key set fetches by schema version and result",
		}, []string{"version", "result"}), // result: success|stale|failed|throttled

		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_token_validations_total",
			Help: "Token validations by result and rejection reason",
		}, []string{"result", "reason"}),

		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_token_refresh_total",
			Help: "Refresh grant exchanges by result",
		}, []string{"result"}),
	}

	var err error
	if m.keyFetches, err = registerCounter(reg, m.keyFetches); err != nil {
		return nil, err
	}
	if m.validations, err = registerCounter(reg, m.validations); err != nil {
		return nil, err
	}
	if m.refreshes, err = registerCounter(reg, m.refreshes); err != nil {
		return nil, err
	}
	return m, nil
}

func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *Metrics) keyFetch(version SchemaVersion, result string) {
	if m == nil {
		return
	}
	m.keyFetches.WithLabelValues(string(version), result).Inc()
}

func (m *Metrics) validation(result string, reason RejectReason) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result, string(reason)).Inc()
}

func (m *Metrics) refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}
