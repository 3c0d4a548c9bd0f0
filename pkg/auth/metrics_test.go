package auth

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()

	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	first.refresh("success")
	second.refresh("success")
	assert.Equal(t, float64(2), promtest.ToFloat64(first.refreshes.WithLabelValues("success")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{"authgate_token_refresh_total"}, names)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.keyFetch(SchemaV2, "success")
		m.validation("rejected", ReasonExpired)
		m.refresh("failed")
	})
}

func TestMetrics_Labels(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.keyFetch(SchemaV1, "stale")
	m.validation("rejected", ReasonBadSignature)
	m.validation("rejected", ReasonBadSignature)

	assert.Equal(t, float64(1), promtest.ToFloat64(m.keyFetches.WithLabelValues("v1", "stale")))
	assert.Equal(t, float64(2), promtest.ToFloat64(m.validations.WithLabelValues("rejected", "bad_signature")))
}
