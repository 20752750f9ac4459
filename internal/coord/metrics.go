package coord

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks coordinator throughput for Prometheus. All methods handle a
// nil receiver gracefully, so a nil *Metrics acts as a no-op and the core
// stays functional when the sink is absent.
type Metrics struct {
	// MessagesIn counts inbound protocol messages by type.
	MessagesIn *prometheus.CounterVec

	// MessagesOut counts outbound protocol messages by type.
	MessagesOut *prometheus.CounterVec

	// BytesIn and BytesOut count wire bytes after framing.
	BytesIn  prometheus.Counter
	BytesOut prometheus.Counter

	// ConnectionsActive tracks currently open sessions.
	ConnectionsActive prometheus.Gauge

	// ConnectionsTotal counts sessions over the process lifetime.
	ConnectionsTotal prometheus.Counter

	// ProtocolErrors counts malformed frames, unknown types, and messages
	// illegal in the current session state.
	ProtocolErrors prometheus.Counter

	// MissionsAssigned and MissionsCompleted count assignment transactions
	// and reconciled completions.
	MissionsAssigned  prometheus.Counter
	MissionsCompleted prometheus.Counter

	// ReconcileMisses counts completions with no matching survivor.
	ReconcileMisses prometheus.Counter

	// DronesReaped counts registrations removed by the reaper.
	DronesReaped prometheus.Counter

	// ResponseTime samples handshake-to-ack and assignment emit latency.
	ResponseTime prometheus.Histogram
}

// NewMetrics creates and registers coordinator metrics. If registerer is
// nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		MessagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skycoord_messages_in_total",
			Help: "Inbound protocol messages by type.",
		}, []string{"type"}),
		MessagesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skycoord_messages_out_total",
			Help: "Outbound protocol messages by type.",
		}, []string{"type"}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skycoord_bytes_in_total",
			Help: "Bytes received from drone clients.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skycoord_bytes_out_total",
			Help: "Bytes sent to drone clients.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skycoord_connections_active",
			Help: "Currently open drone sessions.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skycoord_connections_total",
			Help: "Drone sessions accepted over the process lifetime.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skycoord_protocol_errors_total",
			Help: "Malformed frames, unknown types, and out-of-state messages.",
		}),
		MissionsAssigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skycoord_missions_assigned_total",
			Help: "Successful assignment transactions.",
		}),
		MissionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skycoord_missions_completed_total",
			Help: "Mission completions reconciled against a survivor.",
		}),
		ReconcileMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skycoord_reconcile_misses_total",
			Help: "Completions with no matching being-helped survivor.",
		}),
		DronesReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skycoord_drones_reaped_total",
			Help: "Disconnected drones removed after the grace period.",
		}),
		ResponseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "skycoord_response_time_seconds",
			Help:    "Server-side processing latency samples.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}

	registerer.MustRegister(
		m.MessagesIn, m.MessagesOut, m.BytesIn, m.BytesOut,
		m.ConnectionsActive, m.ConnectionsTotal, m.ProtocolErrors,
		m.MissionsAssigned, m.MissionsCompleted, m.ReconcileMisses,
		m.DronesReaped, m.ResponseTime,
	)
	return m
}

func (m *Metrics) RecordMessageIn(msgType string, bytes int) {
	if m == nil {
		return
	}
	m.MessagesIn.WithLabelValues(msgType).Inc()
	m.BytesIn.Add(float64(bytes))
}

func (m *Metrics) RecordMessageOut(msgType string, bytes int) {
	if m == nil {
		return
	}
	m.MessagesOut.WithLabelValues(msgType).Inc()
	m.BytesOut.Add(float64(bytes))
}

func (m *Metrics) RecordConnection() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

func (m *Metrics) RecordDisconnection() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) RecordProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

func (m *Metrics) RecordMissionAssigned() {
	if m == nil {
		return
	}
	m.MissionsAssigned.Inc()
}

func (m *Metrics) RecordMissionCompleted() {
	if m == nil {
		return
	}
	m.MissionsCompleted.Inc()
}

func (m *Metrics) RecordReconcileMiss() {
	if m == nil {
		return
	}
	m.ReconcileMisses.Inc()
}

func (m *Metrics) RecordDroneReaped() {
	if m == nil {
		return
	}
	m.DronesReaped.Inc()
}

func (m *Metrics) ObserveResponseTime(seconds float64) {
	if m == nil {
		return
	}
	m.ResponseTime.Observe(seconds)
}
