package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	// WorkerCreationLatency tracks the time from create request to healthy worker
	WorkerCreationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_creation_latency_ms",
			Help:    "Latency of worker creation in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
	)

	// WorkerCreationResponses tracks total creation attempts and their results
	WorkerCreationResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_creation_responses",
			Help: "Total number of worker creation requests and their results",
		},
		[]string{"result"}, // "success" or "failure"
	)

	// WorkersDestroyed tracks destroyed workers by reason
	WorkersDestroyed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workers_destroyed_total",
			Help: "Total number of destroyed workers by reason",
		},
		[]string{"reason"}, // "release", "failure", "idle_timeout", "shutdown"
	)

	// PoolWorkers reports the current pool occupancy
	PoolWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pool_workers",
			Help: "Current number of workers in the pool by state",
		},
		[]string{"state"}, // "idle" or "busy"
	)
)

func init() {
	Registry.MustRegister(WorkerCreationLatency, WorkerCreationResponses, WorkersDestroyed, PoolWorkers)
}

// Handler serves the gateway metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
