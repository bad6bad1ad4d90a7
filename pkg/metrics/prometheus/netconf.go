package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/netconfd/pkg/metrics"
)

// knownOperations bounds the operation label cardinality.
var knownOperations = map[string]struct{}{
	"get": {}, "get-config": {}, "edit-config": {}, "copy-config": {}, "delete-config": {},
	"lock": {}, "unlock": {}, "close-session": {}, "kill-session": {},
	"commit": {}, "discard-changes": {}, "validate": {},
}

// netconfMetrics is the Prometheus implementation of metrics.NetconfMetrics.
type netconfMetrics struct {
	transportsAccepted prometheus.Counter
	transportsRejected *prometheus.CounterVec
	activeTransports   prometheus.Gauge

	sessionsOpened prometheus.Counter
	sessionsClosed prometheus.Counter
	activeSessions prometheus.Gauge

	rpcTotal    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	dispatchTotal  *prometheus.CounterVec
	offerRejected  prometheus.Counter
	queueDepth     prometheus.Gauge
	outstanding    prometheus.Gauge
	lifecycleState *prometheus.GaugeVec

	statesMu sync.Mutex
	states   map[string]struct{}
}

var _ metrics.NetconfMetrics = (*netconfMetrics)(nil)

// NewNetconfMetrics creates a Prometheus-backed NetconfMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewNetconfMetrics() *netconfMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	f := promauto.With(metrics.GetRegistry())

	return &netconfMetrics{
		transportsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "netconfd_transports_accepted_total",
			Help: "Total number of authenticated transports",
		}),
		transportsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netconfd_transports_rejected_total",
			Help: "Total number of transports closed by the server, by reason",
		}, []string{"reason"}),
		activeTransports: f.NewGauge(prometheus.GaugeOpts{
			Name: "netconfd_transports_active",
			Help: "Current number of live transports",
		}),
		sessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "netconfd_sessions_opened_total",
			Help: "Total number of NETCONF sessions opened",
		}),
		sessionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "netconfd_sessions_closed_total",
			Help: "Total number of NETCONF sessions closed",
		}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "netconfd_sessions_active",
			Help: "Current number of registered NETCONF sessions",
		}),
		rpcTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netconfd_rpc_total",
			Help: "Total number of rpcs handled by operation and result",
		}, []string{"operation", "result"}),
		rpcDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netconfd_rpc_duration_seconds",
			Help:    "Time spent in the protocol engine per rpc",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
		dispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netconfd_dispatch_total",
			Help: "Completions processed by the reply dispatcher by result",
		}, []string{"result"}),
		offerRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "netconfd_dispatch_offer_rejected_total",
			Help: "Completions refused because the dispatcher queue was full",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "netconfd_dispatch_queue_depth",
			Help: "Completions waiting in the dispatcher queue",
		}),
		outstanding: f.NewGauge(prometheus.GaugeOpts{
			Name: "netconfd_order_engine_outstanding",
			Help: "Outstanding order engine transactions observed during drain",
		}),
		lifecycleState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netconfd_lifecycle_state",
			Help: "Current lifecycle status (1 for the active state)",
		}, []string{"state"}),
		states: make(map[string]struct{}),
	}
}

func (m *netconfMetrics) RecordTransportAccepted() {
	if m == nil {
		return
	}
	m.transportsAccepted.Inc()
}

func (m *netconfMetrics) RecordTransportRejected(reason string) {
	if m == nil {
		return
	}
	m.transportsRejected.WithLabelValues(reason).Inc()
}

func (m *netconfMetrics) SetActiveTransports(count int) {
	if m == nil {
		return
	}
	m.activeTransports.Set(float64(count))
}

func (m *netconfMetrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
}

func (m *netconfMetrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.sessionsClosed.Inc()
}

func (m *netconfMetrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordRPC folds unknown operation names into "other" to keep label
// cardinality bounded; clients control the operation name.
func (m *netconfMetrics) RecordRPC(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	if _, ok := knownOperations[operation]; !ok {
		operation = "other"
	}
	m.rpcTotal.WithLabelValues(operation, result).Inc()
	m.rpcDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *netconfMetrics) RecordDispatch(result string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(result).Inc()
}

func (m *netconfMetrics) RecordOfferRejected() {
	if m == nil {
		return
	}
	m.offerRejected.Inc()
}

func (m *netconfMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *netconfMetrics) SetOutstanding(count int) {
	if m == nil {
		return
	}
	m.outstanding.Set(float64(count))
}

// SetLifecycleState sets state to 1 and every previously seen state to 0.
func (m *netconfMetrics) SetLifecycleState(state string) {
	if m == nil {
		return
	}
	m.statesMu.Lock()
	defer m.statesMu.Unlock()

	m.states[state] = struct{}{}
	for s := range m.states {
		if s == state {
			m.lifecycleState.WithLabelValues(s).Set(1)
		} else {
			m.lifecycleState.WithLabelValues(s).Set(0)
		}
	}
}
