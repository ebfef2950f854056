package hub

import "github.com/prometheus/client_golang/prometheus"

// MetricsRegisterer is the slice of prometheus.Registerer Hub needs;
// satisfied by *prometheus.Registry or prometheus.DefaultRegisterer,
// so callers can inject a per-test registry instead of polluting the
// default one.
type MetricsRegisterer = prometheus.Registerer

// Metrics are the Hub Orchestrator's process gauges/counters (§4.K).
type Metrics struct {
	PeersConnected   prometheus.Gauge
	StableMCI        prometheus.Gauge
	JointsHandled    prometheus.Counter
	JointsRejected   prometheus.Counter
}

// NewMetrics registers the Hub's collectors against reg. reg may be
// nil, in which case metrics are created but never exposed -- useful
// for tests that don't care about scraping.
func NewMetrics(reg MetricsRegisterer) *Metrics {
	m := &Metrics{
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_peers_connected",
			Help: "Number of currently connected peer hubs.",
		}),
		StableMCI: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_stable_main_chain_index",
			Help: "Main chain index of the most recently stabilized unit.",
		}),
		JointsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_joints_handled_total",
			Help: "Joints successfully validated and persisted.",
		}),
		JointsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_joints_rejected_total",
			Help: "Joints rejected by validation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PeersConnected, m.StableMCI, m.JointsHandled, m.JointsRejected)
	}
	return m
}
