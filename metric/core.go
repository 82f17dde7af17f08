// Package metric defines the platform-level Prometheus metrics for AtomHub.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics
type Metrics struct {
	// Store metrics
	StoreQueriesTotal  *prometheus.CounterVec
	StoreQueryDuration *prometheus.HistogramVec
	StoreErrorsTotal   *prometheus.CounterVec

	// Snapshot cache metrics
	CacheHits            prometheus.Counter
	CacheMisses          prometheus.Counter
	CacheRefreshFailures prometheus.Counter
	CacheAgeSeconds      prometheus.Gauge
	DevicesTracked       prometheus.Gauge

	// Stream metrics
	Subscribers     *prometheus.GaugeVec
	EventsPublished *prometheus.CounterVec

	// Ingest metrics
	PointsWritten     prometheus.Counter
	IngestErrorsTotal *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// New creates a Metrics instance with all platform metrics
func New() *Metrics {
	return &Metrics{
		StoreQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "atomhub",
				Subsystem: "store",
				Name:      "queries_total",
				Help:      "Total number of store queries issued",
			},
			[]string{"query"},
		),

		StoreQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "atomhub",
				Subsystem: "store",
				Name:      "query_duration_seconds",
				Help:      "Store query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"query"},
		),

		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "atomhub",
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Total number of failed store queries",
			},
			[]string{"query"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "atomhub",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Snapshot cache hits served without a store query",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "atomhub",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Snapshot cache misses that triggered a refresh",
			},
		),

		CacheRefreshFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "atomhub",
				Subsystem: "cache",
				Name:      "refresh_failures_total",
				Help:      "Snapshot refreshes that failed and served stale data",
			},
		),

		CacheAgeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "atomhub",
				Subsystem: "cache",
				Name:      "age_seconds",
				Help:      "Age of the cached snapshot set in seconds",
			},
		),

		DevicesTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "atomhub",
				Subsystem: "snapshot",
				Name:      "devices_tracked",
				Help:      "Number of devices in the current snapshot set",
			},
		),

		Subscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "atomhub",
				Subsystem: "stream",
				Name:      "subscribers",
				Help:      "Currently connected live stream subscribers",
			},
			[]string{"transport"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "atomhub",
				Subsystem: "stream",
				Name:      "events_published_total",
				Help:      "Total number of events pushed to subscribers",
			},
			[]string{"transport", "event"},
		),

		PointsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "atomhub",
				Subsystem: "ingest",
				Name:      "points_written_total",
				Help:      "Total number of status points written to the store",
			},
		),

		IngestErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "atomhub",
				Subsystem: "ingest",
				Name:      "errors_total",
				Help:      "Total number of ingest failures",
			},
			[]string{"stage"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "atomhub",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "atomhub",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnects",
			},
		),
	}
}

// Register registers all metrics with the given registry
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.StoreQueriesTotal,
		m.StoreQueryDuration,
		m.StoreErrorsTotal,
		m.CacheHits,
		m.CacheMisses,
		m.CacheRefreshFailures,
		m.CacheAgeSeconds,
		m.DevicesTracked,
		m.Subscribers,
		m.EventsPublished,
		m.PointsWritten,
		m.IngestErrorsTotal,
		m.NATSConnected,
		m.NATSReconnects,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveQuery records the outcome of one store query
func (m *Metrics) ObserveQuery(query string, start time.Time, err error) {
	m.StoreQueriesTotal.WithLabelValues(query).Inc()
	m.StoreQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(query).Inc()
	}
}
