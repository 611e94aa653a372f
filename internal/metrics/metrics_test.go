package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderAttempt("entry")
		m.OrderFailed("stop_loss", "exhausted")
		m.PartialProtection()
		m.Cycle("traded", time.Second)
		m.SetPortfolio(1, 100, 5)
	})
}

func TestCollectors(t *testing.T) {
	m := New()

	m.OrderAttempt("entry")
	m.OrderAttempt("entry")
	m.OrderRetry("entry")
	m.OrderPlaced("entry")
	m.OrderFailed("stop_loss", "exhausted")
	m.PartialProtection()
	m.RiskRejected("daily trade limit reached")
	m.TradeClosed("CLOSED_WIN")
	m.SetPortfolio(2, 450, -12.5)
	m.SetRiskState(3, 1)
	m.Cycle("traded", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersAttempted.WithLabelValues("entry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersFailed.WithLabelValues("stop_loss", "exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partialProtection))
	assert.Equal(t, 450.0, testutil.ToFloat64(m.exposure))
	assert.Equal(t, -12.5, testutil.ToFloat64(m.realizedPnL))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("traded")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["gtrader_partial_protection_total"])
	assert.True(t, names["go_goroutines"])
}
