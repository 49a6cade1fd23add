// Package metrics exposes the Prometheus collectors for the pool service.
//
// Collectors are registered on a dedicated registry rather than the default
// one so tests and embedders control exactly what is exported. HTTP handlers
// and background jobs record through the package-level helpers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tapforge/preview-pool/pkg/pool"
)

const namespace = "preview_pool"

var (
	// Registry holds the service-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "allocations_total",
			Help:      "Total number of successful allocations by outcome.",
		},
		[]string{"outcome"},
	)

	quotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "quota_rejections_total",
			Help:      "Total number of allocations rejected over quota.",
		},
	)

	releases = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "releases_total",
			Help:      "Total number of sessions released back to their pool.",
		},
	)

	sessionsHibernated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "sessions_hibernated_total",
			Help:      "Total number of idle sessions parked in hibernation.",
		},
	)

	sessionsTerminated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "sessions_terminated_total",
			Help:      "Total number of sessions torn down at the provider.",
		},
	)

	scaleDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "scale_decisions_total",
			Help:      "Total number of autoscale decisions by action.",
		},
		[]string{"action"},
	)

	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total number of provider API calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of provider API calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"op"},
	)

	poolSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "sessions",
			Help:      "Current number of sessions per pool and state.",
		},
		[]string{"pool_id", "state"},
	)

	poolTargetSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "target_size",
			Help:      "Configured target size per pool.",
		},
		[]string{"pool_id"},
	)

	poolRecentDemand = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "recent_demand",
			Help:      "Allocations observed in the demand window per pool.",
		},
		[]string{"pool_id"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total number of background job runs.",
		},
		[]string{"job", "success"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of background job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		allocations,
		quotaRejections,
		releases,
		sessionsHibernated,
		sessionsTerminated,
		scaleDecisions,
		providerCalls,
		providerDuration,
		poolSessions,
		poolTargetSize,
		poolRecentDemand,
		jobRuns,
		jobDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight marks one more HTTP request in flight.
func IncInFlight() { httpInFlight.Inc() }

// DecInFlight marks one HTTP request finished.
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAllocation records a successful allocation.
func RecordAllocation(outcome pool.AllocationType) {
	allocations.WithLabelValues(string(outcome)).Inc()
}

// RecordQuotaRejection records an allocation rejected over quota.
func RecordQuotaRejection() { quotaRejections.Inc() }

// RecordRelease records a session returned to its pool.
func RecordRelease() { releases.Inc() }

// RecordHibernated records idle sessions parked in hibernation.
func RecordHibernated(count int) {
	if count > 0 {
		sessionsHibernated.Add(float64(count))
	}
}

// RecordTerminated records sessions torn down at the provider.
func RecordTerminated(count int) {
	if count > 0 {
		sessionsTerminated.Add(float64(count))
	}
}

// RecordScaleDecision records one autoscale decision.
func RecordScaleDecision(action pool.ScaleAction) {
	scaleDecisions.WithLabelValues(string(action)).Inc()
}

// RecordProviderCall records one provider API call.
func RecordProviderCall(op string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	providerCalls.WithLabelValues(op, outcome).Inc()
	providerDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// ProviderObserver feeds provider call outcomes into the collectors. It
// satisfies the provider adapter's observer hook.
type ProviderObserver struct{}

// ObserveCall implements provider.CallObserver.
func (ProviderObserver) ObserveCall(op string, duration time.Duration, err error) {
	RecordProviderCall(op, duration, err)
}

// RecordPoolGauges publishes a pool's current occupancy snapshot.
func RecordPoolGauges(poolID string, m *pool.Metrics) {
	if m == nil {
		return
	}
	poolSessions.WithLabelValues(poolID, string(pool.StatusReady)).Set(float64(m.ReadyCount))
	poolSessions.WithLabelValues(poolID, string(pool.StatusAllocated)).Set(float64(m.AllocatedCount))
	poolSessions.WithLabelValues(poolID, string(pool.StatusHibernated)).Set(float64(m.HibernatedCount))
	poolSessions.WithLabelValues(poolID, string(pool.StatusTerminating)).Set(float64(m.TerminatingCount))
	poolTargetSize.WithLabelValues(poolID).Set(float64(m.TargetSize))
	poolRecentDemand.WithLabelValues(poolID).Set(float64(m.RecentDemand))
}

// RecordJobRun records one background job run.
func RecordJobRun(job string, duration time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	jobRuns.WithLabelValues(job, success).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}
