package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the gasfeed collectors.
	Registry = prometheus.NewRegistry()

	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gasfeed",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Upstream provider calls by outcome (ok, timeout, invalid, error).",
		},
		[]string{"network", "provider", "outcome"},
	)

	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gasfeed",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"provider"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gasfeed",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Price cache lookups by result (hit, fetch, shared, stale, error).",
		},
		[]string{"network", "result"},
	)

	HistoryWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gasfeed",
			Subsystem: "history",
			Name:      "writes_total",
			Help:      "History appends by outcome (ok, error, dropped).",
		},
		[]string{"outcome"},
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gasfeed",
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Per-connection price update deliveries by outcome.",
		},
		[]string{"network", "outcome"},
	)

	SchedulerCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gasfeed",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Refresh iterations per network by outcome (ok, failed, skipped).",
		},
		[]string{"network", "outcome"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gasfeed",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Connections currently in the active state.",
		},
	)

	GasPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gas_price_gwei",
			Help: "Latest aggregate gas price per network.",
		},
		[]string{"network", "source"},
	)
)

func init() {
	Registry.MustRegister(
		ProviderRequests,
		ProviderDuration,
		CacheLookups,
		HistoryWrites,
		Deliveries,
		SchedulerCycles,
		ActiveConnections,
		GasPrice,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
