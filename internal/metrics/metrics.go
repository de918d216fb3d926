// Package metrics exposes the Relay Server's counters as Prometheus
// metrics, served at /metrics by cmd/relayd (the teacher's
// prometheus/client_golang dependency ships unused in its own tree; this
// package gives it an actual home). The JSON /health payload does not read
// these metrics; it is computed from the relay registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge the relay updates.
type Metrics struct {
	WorkstationConnections prometheus.Gauge
	ViewerConnections      prometheus.Gauge
	Sessions               prometheus.Gauge
	AuthFailures           prometheus.Counter
	PushesDispatched       *prometheus.CounterVec
	PairingAttempts        prometheus.Counter
}

// New registers and returns a fresh metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WorkstationConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sessionrelay_workstation_connections",
			Help: "Currently connected workstation links.",
		}),
		ViewerConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sessionrelay_viewer_connections",
			Help: "Currently connected viewer links.",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sessionrelay_sessions",
			Help: "Currently tracked sessions across all workstations.",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessionrelay_auth_failures_total",
			Help: "Connections closed for authentication failure.",
		}),
		PushesDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionrelay_pushes_dispatched_total",
			Help: "Push notifications dispatched, by outcome.",
		}, []string{"kind", "outcome"}),
		PairingAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessionrelay_pairing_attempts_total",
			Help: "Device-code pairing flows started.",
		}),
	}
}
