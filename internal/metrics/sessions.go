package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session Metrics
//
// These metrics track the per-connection session lifecycle: admission,
// authentication, and termination.

var (
	// ActiveSessions tracks the number of sessions currently admitted.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudvault_active_sessions",
			Help: "Number of currently admitted sessions",
		},
	)

	// SessionsTotal counts sessions by how they ended.
	// Labels: outcome (logout, timeout, lockout, protocol_error, connection_lost, shutdown)
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudvault_sessions_total",
			Help: "Total sessions by termination outcome",
		},
		[]string{"outcome"},
	)

	// RejectedConnectionsTotal counts connections closed at the admission
	// gate because the session limit was reached.
	RejectedConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudvault_rejected_connections_total",
			Help: "Connections closed because the session limit was reached",
		},
	)

	// AuthFailuresTotal counts failed login attempts that reached the
	// credential check.
	AuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudvault_auth_failures_total",
			Help: "Failed login attempts",
		},
	)

	// PacketsTotal counts packets by command and direction.
	// Labels: command, direction (in, out)
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudvault_packets_total",
			Help: "Packets processed by command and direction",
		},
		[]string{"command", "direction"},
	)
)

// RecordSessionEnd records a session termination outcome.
func RecordSessionEnd(outcome string) {
	SessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordPacket records one processed packet.
func RecordPacket(command, direction string) {
	PacketsTotal.WithLabelValues(command, direction).Inc()
}
