package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Tick outcomes recorded on SchedulerTicks and OptimiserTicks.
const (
	TickOK      = "ok"
	TickSkipped = "skipped"
	TickError   = "error"
)

// Publish outcomes recorded on PublishOutcomes.
const (
	OutcomePosted    = "posted"
	OutcomeFailed    = "failed"
	OutcomeMissing   = "missing_entity"
	OutcomeDuplicate = "duplicate"
)

var (
	// SchedulerTicks counts publish ticks by result (ok|skipped|error).
	SchedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Publish ticks by result.",
		},
		[]string{"result"},
	)

	// SchedulerTickDuration observes wall time of completed publish ticks.
	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Duration of publish ticks in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// LockMisses counts ticks whose lease could not be taken, by reason
	// (held|error).
	LockMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_lock_misses_total",
			Help: "Tick lease acquisitions that did not succeed.",
		},
		[]string{"reason"},
	)

	// PublishAttempts counts calls made to the publisher gateway, by result
	// (ok|error).
	PublishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_attempts_total",
			Help: "Publisher gateway calls by result.",
		},
		[]string{"result"},
	)

	// PublishOutcomes counts terminal or skipped schedule outcomes.
	PublishOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_schedule_outcomes_total",
			Help: "Schedule outcomes produced by publish ticks.",
		},
		[]string{"outcome"},
	)

	// OptimiserTicks counts optimiser ticks by result.
	OptimiserTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimiser_ticks_total",
			Help: "Optimiser ticks by result.",
		},
		[]string{"result"},
	)

	// OptimiserUpdates counts bandit state updates applied from metrics.
	OptimiserUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "optimiser_updates_total",
			Help: "Bandit arm updates applied from schedule metrics.",
		},
	)

	// RewardValues records the distribution of applied rewards.
	RewardValues = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "optimiser_reward",
			Help:    "Rewards fed into the bandit.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
)

func init() {
	prometheus.MustRegister(
		SchedulerTicks, SchedulerTickDuration, LockMisses,
		PublishAttempts, PublishOutcomes,
		OptimiserTicks, OptimiserUpdates, RewardValues,
	)
}
