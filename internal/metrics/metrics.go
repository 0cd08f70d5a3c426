// Package metrics registers the Prometheus collectors for the
// ingest-and-fulfilment engine: key pool budgeting, circuit breaker trips,
// queue throughput, AI upstream calls, and hardlink materialisation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "anidown",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
	}, []string{"method", "path"})

	KeyPoolReservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "keypool_reservations_total",
		Help:      "Total key reservations by purpose and outcome (granted, exhausted).",
	}, []string{"purpose", "outcome"})

	KeyPoolAvailableKeys = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "anidown",
		Name:      "keypool_available_keys",
		Help:      "Number of currently reservable keys per purpose.",
	}, []string{"purpose"})

	KeyPoolErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "keypool_errors_total",
		Help:      "Total key errors by purpose and error kind.",
	}, []string{"purpose", "kind"})

	KeyPoolDisabledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "keypool_disabled_total",
		Help:      "Total keys transitioned to disabled, by purpose.",
	}, []string{"purpose"})

	BreakerTripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "breaker_trips_total",
		Help:      "Total circuit breaker trips by purpose.",
	}, []string{"purpose"})

	BreakerOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "anidown",
		Name:      "breaker_open",
		Help:      "1 if the circuit breaker for this purpose is currently open, else 0.",
	}, []string{"purpose"})

	AIClientCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "aiclient_calls_total",
		Help:      "Total AI client calls (one per call, across its retries) by purpose and outcome.",
	}, []string{"purpose", "outcome"})

	AIClientCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "anidown",
		Name:      "aiclient_call_duration_seconds",
		Help:      "AI upstream call duration in seconds.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"purpose"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "anidown",
		Name:      "queue_depth",
		Help:      "Number of pending events in a queue.",
	}, []string{"queue"})

	QueueProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "queue_processed_total",
		Help:      "Total events dispatched by a queue, by outcome (success, failed).",
	}, []string{"queue", "outcome"})

	RSSItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "rss_items_total",
		Help:      "Total RSS items processed, by outcome (success, exists, filtered, failed).",
	}, []string{"outcome"})

	RenameDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "rename_decisions_total",
		Help:      "Total rename decisions by method (regex, ai).",
	}, []string{"method"})

	HardlinksCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "hardlinks_created_total",
		Help:      "Total hardlink rows newly created (excludes idempotent no-ops).",
	})

	HardlinkFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "hardlink_failures_total",
		Help:      "Total per-file hardlink failures by reason.",
	}, []string{"reason"})

	DownloadsArchivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anidown",
		Name:      "downloads_archived_total",
		Help:      "Total torrents reaching the archived terminal state.",
	})
)

// Register registers every collector above against reg. Call once from the
// composition root before serving /metrics.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		KeyPoolReservationsTotal,
		KeyPoolAvailableKeys,
		KeyPoolErrorsTotal,
		KeyPoolDisabledTotal,
		BreakerTripsTotal,
		BreakerOpen,
		AIClientCallsTotal,
		AIClientCallDuration,
		QueueDepth,
		QueueProcessedTotal,
		RSSItemsTotal,
		RenameDecisionsTotal,
		HardlinksCreatedTotal,
		HardlinkFailuresTotal,
		DownloadsArchivedTotal,
	)
}
