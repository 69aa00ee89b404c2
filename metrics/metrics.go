// Package metrics registers the gateway's prometheus collectors on the
// default registry, served by the API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts SIP2 operations by branch, action and outcome
	// (ok, error, circuit_open).
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sip2gate",
		Name:      "requests_total",
		Help:      "SIP2 operations executed, by branch, action and outcome.",
	}, []string{"branch", "action", "outcome"})

	// RequestDuration observes full operation latency including queueing
	// behind the per-branch chain.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sip2gate",
		Name:      "request_duration_seconds",
		Help:      "SIP2 operation latency by branch and action.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"branch", "action"})

	// BreakerState exports the circuit state per branch: 0 closed, 1 half
	// open, 2 open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sip2gate",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per branch (0=closed, 1=half-open, 2=open).",
	}, []string{"branch"})

	// BreakerTransitions counts state changes by target state.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sip2gate",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker transitions per branch and target state.",
	}, []string{"branch", "to"})

	// ClientConnects counts connection attempts per branch.
	ClientConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sip2gate",
		Name:      "client_connects_total",
		Help:      "SIP2 connection attempts per branch and outcome.",
	}, []string{"branch", "outcome"})

	// EventsDropped counts bus events discarded under backpressure.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sip2gate",
		Name:      "events_dropped_total",
		Help:      "Events dropped from a full bus queue, per channel.",
	}, []string{"channel"})
)
