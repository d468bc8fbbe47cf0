package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	HoldAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_hold_attempts_total",
			Help: "Hold attempts by outcome",
		},
		[]string{"outcome"},
	)

	SeatWriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_version_conflict_retries_total",
			Help: "Conditional seat writes retried after a version mismatch",
		},
	)

	ReservationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seats_commit_seconds",
			Help:    "Duration of the locked reservation commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	HoldsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_holds_reaped_total",
			Help: "Expired holds released by the reaper",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seats_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_rabbit_publish_failures_total",
			Help: "Total failed rabbit publishes",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
