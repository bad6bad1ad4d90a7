package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netconfd/pkg/metrics"
)

// value reads the current value of a single counter or gauge.
func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestNewNetconfMetricsDisabled(t *testing.T) {
	metrics.ResetRegistry()

	m := NewNetconfMetrics()
	assert.Nil(t, m)

	// nil receivers are no-ops
	m.RecordTransportAccepted()
	m.RecordRPC("get", "ok", time.Millisecond)
	m.SetLifecycleState("START")
}

func TestNetconfMetrics(t *testing.T) {
	metrics.ResetRegistry()
	metrics.InitRegistry()
	t.Cleanup(metrics.ResetRegistry)

	m := NewNetconfMetrics()
	require.NotNil(t, m)

	t.Run("RPCLabelsFoldUnknownOperations", func(t *testing.T) {
		m.RecordRPC("get-config", "forwarded", time.Millisecond)
		m.RecordRPC("my-vendor-op", "operation-not-supported", time.Millisecond)

		assert.Equal(t, 1.0, value(t, m.rpcTotal.WithLabelValues("get-config", "forwarded")))
		assert.Equal(t, 1.0, value(t, m.rpcTotal.WithLabelValues("other", "operation-not-supported")))
	})

	t.Run("LifecycleStateIsOneHot", func(t *testing.T) {
		m.SetLifecycleState("READY_TO_START")
		m.SetLifecycleState("START")

		assert.Equal(t, 0.0, value(t, m.lifecycleState.WithLabelValues("READY_TO_START")))
		assert.Equal(t, 1.0, value(t, m.lifecycleState.WithLabelValues("START")))
	})

	t.Run("Gauges", func(t *testing.T) {
		m.SetActiveSessions(3)
		m.SetQueueDepth(7)
		m.RecordOfferRejected()

		assert.Equal(t, 3.0, value(t, m.activeSessions))
		assert.Equal(t, 7.0, value(t, m.queueDepth))
		assert.Equal(t, 1.0, value(t, m.offerRejected))
	})
}
