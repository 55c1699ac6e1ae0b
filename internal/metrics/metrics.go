// Package metrics holds the Prometheus instruments of the calendar service.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"calendar-service/internal/domain"
)

var (
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_mutations_total",
			Help: "Appointment mutations by operation, recurrence action and outcome",
		},
		[]string{"operation", "action", "outcome"},
	)

	MutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calendar_mutation_duration_seconds",
			Help:    "Duration of appointment mutations including the transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	Conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_conflicts_total",
			Help: "Scheduling conflicts reported to callers",
		},
		[]string{"kind"}, // hard, soft
	)

	PostCommitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_post_commit_failures_total",
			Help: "Reminder or notification failures after a committed mutation",
		},
		[]string{"stage"},
	)

	ListingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calendar_listing_cache_hits_total",
			Help: "Occurrence listing cache hits",
		},
	)

	ListingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calendar_listing_cache_misses_total",
			Help: "Occurrence listing cache misses",
		},
	)

	ListingCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calendar_listing_cache_invalidations_total",
			Help: "Tenant invalidations of the occurrence listing cache",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "calendar_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calendar_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordMutation records one orchestrator call.
func RecordMutation(operation, action string, duration time.Duration, err error) {
	MutationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	Mutations.WithLabelValues(operation, action, Outcome(err)).Inc()
}

// RecordConflicts counts the reported conflicts by kind.
func RecordConflicts(hard, soft int) {
	if hard > 0 {
		Conflicts.WithLabelValues("hard").Add(float64(hard))
	}
	if soft > 0 {
		Conflicts.WithLabelValues("soft").Add(float64(soft))
	}
}

func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Outcome maps an error to a low cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, domain.ErrOptimisticConflict):
		return "optimistic_conflict"
	case errors.Is(err, domain.ErrRecurrence):
		return "recurrence"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "persistence"
	}
}
