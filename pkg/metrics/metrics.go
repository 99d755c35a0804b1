// Package metrics provides the Prometheus collectors exported by the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LLMBuckets covers inference latencies from 100ms to two minutes.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts gateway requests by outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgate_requests_total",
			Help: "Gateway requests",
		},
		[]string{"selection", "outcome"},
	)

	// CacheLookups counts cache lookups by result (hit, miss, error).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgate_cache_lookups_total",
			Help: "Cache lookups",
		},
		[]string{"result"},
	)

	// CacheWrites counts cache writes by result (ok, error).
	CacheWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgate_cache_writes_total",
			Help: "Cache writes",
		},
		[]string{"result"},
	)

	// ProviderRequestsTotal counts provider invocations by failure kind ("ok" on success).
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgate_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "status"},
	)

	// ProviderLatency records time until a provider produced a response or stream.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptgate_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider"},
	)

	// StreamsActive tracks streams currently being assembled.
	StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptgate_streams_active",
			Help: "Active streams",
		},
	)

	// StreamsTotal counts finished streams by outcome (complete, aborted).
	StreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgate_streams_total",
			Help: "Finished streams",
		},
		[]string{"outcome"},
	)

	// LocalQueueDepth tracks requests waiting for a local runtime slot.
	LocalQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptgate_local_queue_depth",
			Help: "Requests waiting for the local runtime",
		},
	)

	// LocalBusyTotal counts requests rejected because the local queue was full.
	LocalBusyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "promptgate_local_busy_total",
			Help: "Local runtime rejections",
		},
	)

	// JournalDropped counts journal records dropped because the writer was saturated.
	JournalDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgate_journal_dropped_total",
			Help: "Dropped journal records",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		CacheLookups,
		CacheWrites,
		ProviderRequestsTotal,
		ProviderLatency,
		StreamsActive,
		StreamsTotal,
		LocalQueueDepth,
		LocalBusyTotal,
		JournalDropped,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
