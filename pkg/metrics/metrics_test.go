package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/ops-automation/eventpipe/pkg/metrics"
)

func TestNew_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	m.EventsPushed.WithLabelValues("p0", "monitoring.error_detected").Inc()
	m.EventsPopped.WithLabelValues("p0", "monitoring.error_detected").Inc()
	m.EventsCompleted.WithLabelValues("p0", "monitoring.error_detected").Inc()
	m.EventsFailed.WithLabelValues("p1", "github.issue_opened").Inc()
	m.EventsDeadLetter.WithLabelValues("p1", "github.issue_opened").Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"eventpipe_events_pushed_total",
		"eventpipe_events_popped_total",
		"eventpipe_events_completed_total",
		"eventpipe_events_failed_total",
		"eventpipe_events_dead_lettered_total",
	} {
		if !names[want] {
			t.Errorf("expected metric family %q to be registered", want)
		}
	}
}

func TestObserveSample(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	m.ObserveSample("file", 3, 1)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}

	var pending, processing *dto.MetricFamily
	for _, f := range families {
		switch f.GetName() {
		case "eventpipe_queue_pending_count":
			pending = f
		case "eventpipe_queue_processing_count":
			processing = f
		}
	}

	if pending == nil || len(pending.Metric) != 1 || pending.Metric[0].GetGauge().GetValue() != 3 {
		t.Errorf("pending gauge = %v, want 3", pending)
	}
	if processing == nil || len(processing.Metric) != 1 || processing.Metric[0].GetGauge().GetValue() != 1 {
		t.Errorf("processing gauge = %v, want 1", processing)
	}
}
