// Package monitor exposes Prometheus counters for the dispatch path. Per-key and per-provider
// counters are sharded in-process and scraped rather than written to the relational store on
// every request, matching the "global mutable metrics -> sharded counters" design used
// throughout the gateway.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesSkipped counts candidates removed from a dispatch plan before the Executor ever
	// tried them, labeled by the reason the Candidate Builder or Pool Manager recorded.
	CandidatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_candidates_skipped_total",
		Help: "Candidates removed from a dispatch plan before being attempted.",
	}, []string{"reason"})

	// CooldownsEntered counts cooldowns placed on a key by the Pool Manager, labeled by reason.
	CooldownsEntered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cooldowns_entered_total",
		Help: "Cooldowns placed on a provider key.",
	}, []string{"reason"})

	// ExecutorAttempts counts upstream attempts, labeled by provider and outcome.
	ExecutorAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_executor_attempts_total",
		Help: "Upstream attempts made by the Executor.",
	}, []string{"provider", "outcome"})

	// BillingErrors counts billing-step failures that did not prevent the client response.
	BillingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_billing_errors_total",
		Help: "Billing Engine failures, surfaced to audit only.",
	}, []string{"stage"})

	// CoordinationStoreDegraded counts operations served in degraded ("unknown") mode because
	// the coordination store was unreachable.
	CoordinationStoreDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_coordination_store_degraded_total",
		Help: "Coordination store operations answered with ok=false.",
	})

	// DispatchDurationSeconds observes end-to-end wall time from admission to finalize.
	DispatchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_dispatch_duration_seconds",
		Help:    "End-to-end request duration from admission to usage finalize.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"dialect", "status"})
)
