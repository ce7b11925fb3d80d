package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the collector registry served on the agent's /metrics endpoint.
var Registry = prometheus.NewRegistry()

var (
	// BrokerConnectivityStatus records the MQTT connection state.
	// 1 = Connected, 0 = Disconnected
	BrokerConnectivityStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "otapolicy_broker_connectivity_status",
			Help: "The connectivity status to the MQTT broker (1=Connected, 0=Disconnected).",
		},
	)

	// DecisionsTotal counts load decisions by outcome and by the check that decided them.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otapolicy_decisions_total",
			Help: "Total number of update load decisions.",
		},
		[]string{"result", "check"}, // result: load/skip
	)

	// BundleDownloadSeconds records the time spent fetching update bundles.
	BundleDownloadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otapolicy_bundle_download_seconds",
			Help:    "Latency of fetching update bundles from object storage.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"status"}, // status: success/failed
	)

	// StoredUpdates tracks the number of update records held on the device.
	StoredUpdates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "otapolicy_stored_updates",
			Help: "Number of update records held on the device.",
		},
	)

	// ReapedUpdatesTotal counts update records removed by the reaper.
	ReapedUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otapolicy_reaped_updates_total",
			Help: "Total number of update records removed by the reaper.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BrokerConnectivityStatus,
		DecisionsTotal,
		BundleDownloadSeconds,
		StoredUpdates,
		ReapedUpdatesTotal,
	)
}

// ObserveDecision records one load decision.
func ObserveDecision(load bool, check string) {
	result := "skip"
	if load {
		result = "load"
	}
	DecisionsTotal.WithLabelValues(result, check).Inc()
}
