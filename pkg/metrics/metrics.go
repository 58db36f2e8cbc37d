// Package metrics defines Prometheus metrics for the warden process.
//
// Metric naming follows Prometheus conventions: warden_ prefix, _total
// suffix for counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsPublishedTotal counts events published to the broker by type.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_events_published_total",
			Help: "Total events published to live subscribers, by event type.",
		},
		[]string{"event_type"},
	)

	// SSESubscribers tracks currently attached SSE subscribers.
	SSESubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_sse_subscribers",
			Help: "Currently attached SSE subscribers.",
		},
	)

	// SubscriberOverflowsTotal counts subscribers disconnected on overflow.
	SubscriberOverflowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_subscriber_overflows_total",
			Help: "Subscribers disconnected because their queue overflowed.",
		},
	)

	// EgressDecisionsTotal counts egress decisions by outcome.
	EgressDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_egress_decisions_total",
			Help: "Egress requests by policy decision.",
		},
		[]string{"decision"},
	)

	// RunCyclesTotal counts run worker cycles.
	RunCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_run_cycles_total",
			Help: "Run worker claim cycles executed.",
		},
	)

	// RunsTotal counts runs by terminal status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_runs_total",
			Help: "Runs completed by terminal status.",
		},
		[]string{"status"},
	)
)

// Register registers all warden metrics with the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsPublishedTotal,
		SSESubscribers,
		SubscriberOverflowsTotal,
		EgressDecisionsTotal,
		RunCyclesTotal,
		RunsTotal,
	)
}
