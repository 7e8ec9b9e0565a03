// Package metrics exposes prometheus instruments for the access path and background sweeps.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded by RecordAccess.
const (
	OutcomeCacheHit   = "cache_hit"
	OutcomeSessionHit = "session_hit"
	OutcomeSessionRun = "session_fetch"
	OutcomeCharged    = "charged_fetch"
	OutcomeError      = "error"
)

var (
	// Access path metrics
	AccessRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_access_requests_total",
			Help: "Total number of data access requests by data type and outcome",
		},
		[]string{"data_type", "outcome"},
	)

	AccessErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_access_errors_total",
			Help: "Total number of typed access errors by kind",
		},
		[]string{"kind"},
	)

	CreditsChargedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_credits_charged_total",
			Help: "Credits charged for fetches by tier and data type",
		},
		[]string{"tier", "data_type"},
	)

	CreditsRefundedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_credits_refunded_total",
			Help: "Credits refunded after failed fetches by data type",
		},
		[]string{"data_type"},
	)

	FetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datagate_fetch_duration_seconds",
			Help:    "Duration of upstream fetches",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}, // 50ms to 30s
		},
		[]string{"data_type", "result"},
	)

	SessionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_sessions_created_total",
			Help: "Total number of research sessions created by component",
		},
		[]string{"component"},
	)

	// Background sweep metrics
	SweepAffectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_sweep_affected_rows_total",
			Help: "Rows expired or deleted by background sweeps",
		},
		[]string{"sweep"},
	)

	SweepFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_sweep_failures_total",
			Help: "Failed background sweep runs",
		},
		[]string{"sweep"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datagate_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter",
		},
	)
)

// RecordAccess records the outcome of one access request.
func RecordAccess(dataType, outcome string) {
	AccessRequestsTotal.WithLabelValues(dataType, outcome).Inc()
}

// RecordAccessError records a typed access error.
func RecordAccessError(dataType, kind string) {
	AccessRequestsTotal.WithLabelValues(dataType, OutcomeError).Inc()
	AccessErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordCharge records credits charged for a fetch.
func RecordCharge(tier, dataType string, credits int) {
	CreditsChargedTotal.WithLabelValues(tier, dataType).Add(float64(credits))
}

// RecordRefund records credits refunded after a failed fetch.
func RecordRefund(dataType string, credits int) {
	CreditsRefundedTotal.WithLabelValues(dataType).Add(float64(credits))
}

// RecordFetch records the duration of an upstream fetch.
func RecordFetch(dataType string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FetchDurationSeconds.WithLabelValues(dataType, result).Observe(time.Since(started).Seconds())
}

// RecordSweep records the result of one background sweep.
func RecordSweep(sweep string, affected int64, err error) {
	if err != nil {
		SweepFailuresTotal.WithLabelValues(sweep).Inc()
		return
	}
	if affected > 0 {
		SweepAffectedTotal.WithLabelValues(sweep).Add(float64(affected))
	}
}
