// Package metrics registers the prometheus collectors exposed on
// sentryd's /metrics endpoint.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PacketsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Name:      "packets_total",
			Help:      "Total packets accepted into the pipeline.",
		},
	)

	PacketsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Name:      "packets_dropped_total",
			Help:      "Packets dropped from the bounded ingest queue.",
		},
	)

	DecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Name:      "decode_errors_total",
			Help:      "Frames rejected by the IPv4/TCP decoder.",
		},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryd",
			Name:      "alerts_total",
			Help:      "Alerts assembled, labeled by kind and severity.",
		},
		[]string{"kind", "severity"},
	)

	BlockedSources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentryd",
			Name:      "blocked_sources",
			Help:      "Current number of blocked source addresses.",
		},
	)

	ActiveSources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentryd",
			Name:      "active_sources",
			Help:      "Current number of sources with a dossier entry.",
		},
	)

	BaselineEstablished = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentryd",
			Name:      "anomaly_baseline_established",
			Help:      "1 once the anomaly detector's baseline has been established, 0 otherwise.",
		},
	)

	AlertBusCircuitOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentryd",
			Name:      "alertbus_circuit_open",
			Help:      "1 while the alert bus circuit breaker is open (publishing suppressed), 0 otherwise.",
		},
	)

	registerOnce sync.Once
)

// Register registers every sentryd collector against reg exactly
// once, regardless of how many callers request it.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			PacketsTotal,
			PacketsDropped,
			DecodeErrors,
			AlertsTotal,
			BlockedSources,
			ActiveSources,
			BaselineEstablished,
			AlertBusCircuitOpen,
		)
	})
}
