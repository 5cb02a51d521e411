// Package metrics provides Prometheus instrumentation for Sentinel.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsScored counts scored rows by risk level.
	TransactionsScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "transactions_scored_total",
			Help:      "Total transactions scored by risk level.",
		},
		[]string{"level"},
	)

	// BatchesStreamed counts live batches delivered to the scorer.
	BatchesStreamed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "batches_streamed_total",
		Help:      "Total live batches streamed.",
	})

	// IncidentsRecorded counts rows added to session incident logs.
	IncidentsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "incidents_recorded_total",
		Help:      "Total HIGH risk rows added to incident logs after deduplication.",
	})

	// AuditDuration observes forensic audit latency.
	AuditDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "audit_duration_seconds",
		Help:      "Forensic audit duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// ForensicsCacheLookups counts forensic cache lookups by kind and result.
	ForensicsCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "forensics_cache_lookups_total",
			Help:      "Forensic result cache lookups by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// ActiveSessions tracks sessions held by the session manager.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "active_sessions",
		Help:      "Number of live sessions.",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(
		TransactionsScored,
		BatchesStreamed,
		IncidentsRecorded,
		AuditDuration,
		ForensicsCacheLookups,
		ActiveSessions,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScored records the level of every scored row.
func ObserveScored(rows []domain.ScoredTransaction) {
	var low, medium, high int
	for _, r := range rows {
		switch r.Risk.Level {
		case domain.RiskHigh:
			high++
		case domain.RiskMedium:
			medium++
		default:
			low++
		}
	}
	if low > 0 {
		TransactionsScored.WithLabelValues(string(domain.RiskLow)).Add(float64(low))
	}
	if medium > 0 {
		TransactionsScored.WithLabelValues(string(domain.RiskMedium)).Add(float64(medium))
	}
	if high > 0 {
		TransactionsScored.WithLabelValues(string(domain.RiskHigh)).Add(float64(high))
	}
}

// ObserveCache records a forensic cache lookup.
func ObserveCache(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	ForensicsCacheLookups.WithLabelValues(kind, result).Inc()
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
