// Package metrics generalizes the ad hoc package-level counters in
// internal/runtime/netstack (TCPMetrics/TCPMetricsForExport) into a real
// Prometheus exporter: ships sent/received/dropped, retries, connection
// state transitions, and porter status, labeled by gate node id.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric the transport core exports. Callers embed
// or hold one and attach it to a porter with port.Porter.WithMetrics; a nil
// *Registry is valid there and simply does nothing, so metrics stay opt-in.
type Registry struct {
	ShipsReceived    *prometheus.CounterVec
	ShipsSent        *prometheus.CounterVec
	ShipsDropped     *prometheus.CounterVec
	DepartureRetries *prometheus.CounterVec
	ConnectionState  *prometheus.GaugeVec
	PorterStatus     *prometheus.GaugeVec
}

// NewRegistry creates a Registry and registers its collectors with reg. If
// reg is nil, prometheus.DefaultRegisterer is used, matching how most
// Prometheus-instrumented Go services wire a package-level exporter.
func NewRegistry(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Registry{
		ShipsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "startrek",
			Name:      "ships_received_total",
			Help:      "Completed ships delivered to a gate delegate.",
		}, []string{"node"}),
		ShipsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "startrek",
			Name:      "ships_sent_total",
			Help:      "Departures fully acknowledged or dispatched.",
		}, []string{"node"}),
		ShipsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "startrek",
			Name:      "ships_dropped_total",
			Help:      "Departures that failed after exhausting retries.",
		}, []string{"node"}),
		DepartureRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "startrek",
			Name:      "departure_retries_total",
			Help:      "Fragment retransmissions issued by a departure hall.",
		}, []string{"node"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "startrek",
			Name:      "connection_state",
			Help:      "Current fsm.State of a connection (0=DEFAULT..5=ERROR).",
		}, []string{"node", "remote"}),
		PorterStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "startrek",
			Name:      "porter_status",
			Help:      "Current port.Status of a porter (0=INIT..3=ERROR).",
		}, []string{"node", "remote"}),
	}

	for _, c := range []prometheus.Collector{
		r.ShipsReceived, r.ShipsSent, r.ShipsDropped,
		r.DepartureRetries, r.ConnectionState, r.PorterStatus,
	} {
		_ = reg.Register(c)
	}

	return r
}
