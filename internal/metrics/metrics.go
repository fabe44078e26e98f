package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the ingestor's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	unitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "units_total",
			Help:      "Work units processed, by terminal status.",
		},
		[]string{"status", "timeframe"},
	)

	rowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "rows_total",
			Help:      "Rows upserted into the relational store.",
		},
		[]string{"timeframe"},
	)

	unitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "unit_duration_seconds",
			Help:      "Wall time of one work unit.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"timeframe"},
	)

	fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_attempts_total",
			Help: "Data source calls, by outcome.",
		},
		[]string{"source", "outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled by the API.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	Registry.MustRegister(
		unitsTotal,
		rowsTotal,
		unitDuration,
		fetchAttempts,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordUnit counts a finished work unit.
func RecordUnit(status, timeframe string, rows int, d time.Duration) {
	unitsTotal.WithLabelValues(status, timeframe).Inc()
	if rows > 0 {
		rowsTotal.WithLabelValues(timeframe).Add(float64(rows))
	}
	unitDuration.WithLabelValues(timeframe).Observe(d.Seconds())
}

// RecordAttempt counts one adapter call. An empty outcome means success.
func RecordAttempt(source, outcome string) {
	if outcome == "" {
		outcome = "ok"
	}
	fetchAttempts.WithLabelValues(source, outcome).Inc()
}

// RecordHTTP counts one API request.
func RecordHTTP(method, path string, status int) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
