// Package metrics exposes Prometheus instrumentation for the pipeline:
// counters for queue pushes/pops/completions/failures/dead-letters by
// priority and event type, gauges for queue depth, and a histogram for
// alert-sink delivery latency. Ambient observability carried regardless
// of any functional Non-goals, matching the teacher's practice of wiring
// Prometheus into every long-running loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the collectors eventpipe exposes over /metrics.
type Registry struct {
	EventsPushed     *prometheus.CounterVec
	EventsPopped     *prometheus.CounterVec
	EventsCompleted  *prometheus.CounterVec
	EventsFailed     *prometheus.CounterVec
	EventsDeadLetter *prometheus.CounterVec

	PendingCount    *prometheus.GaugeVec
	ProcessingCount *prometheus.GaugeVec

	AlertSinkLatency *prometheus.HistogramVec
}

// New registers and returns the standard eventpipe collector set against
// registerer (typically prometheus.DefaultRegisterer).
func New(registerer prometheus.Registerer) *Registry {
	factory := promauto.With(registerer)

	return &Registry{
		EventsPushed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventpipe",
			Name:      "events_pushed_total",
			Help:      "Total events pushed onto a queue, by priority and event type.",
		}, []string{"priority", "event_type"}),

		EventsPopped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventpipe",
			Name:      "events_popped_total",
			Help:      "Total events popped off a queue, by priority and event type.",
		}, []string{"priority", "event_type"}),

		EventsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventpipe",
			Name:      "events_completed_total",
			Help:      "Total events marked complete, by priority and event type.",
		}, []string{"priority", "event_type"}),

		EventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventpipe",
			Name:      "events_failed_total",
			Help:      "Total events routed through Fail (whether requeued or dead-lettered), by priority and event type.",
		}, []string{"priority", "event_type"}),

		EventsDeadLetter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventpipe",
			Name:      "events_dead_lettered_total",
			Help:      "Total events moved to the dead-letter queue, by priority and event type.",
		}, []string{"priority", "event_type"}),

		PendingCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventpipe",
			Name:      "queue_pending_count",
			Help:      "Current number of pending events, sampled periodically.",
		}, []string{"backend"}),

		ProcessingCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventpipe",
			Name:      "queue_processing_count",
			Help:      "Current number of events in flight, sampled periodically.",
		}, []string{"backend"}),

		AlertSinkLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventpipe",
			Name:      "alert_sink_duration_seconds",
			Help:      "Latency of alert-sink delivery calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink", "outcome"}),
	}
}

// ObserveSample records the current pending/processing counts for a
// queue backend; cmd/eventpipe calls it every 10s from the metrics server.
func (r *Registry) ObserveSample(backend string, pending, processing int) {
	r.PendingCount.WithLabelValues(backend).Set(float64(pending))
	r.ProcessingCount.WithLabelValues(backend).Set(float64(processing))
}
