// Package dispatcher pops events off a queue, applies the trigger filter,
// and routes survivors to a type-specific handler, grounded in
// monitoring/processor.rs's EventProcessor.
package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/go-logr/logr"

	apperrors "github.com/ops-automation/eventpipe/internal/errors"
	"github.com/ops-automation/eventpipe/internal/logging"
	"github.com/ops-automation/eventpipe/pkg/alertsink"
	"github.com/ops-automation/eventpipe/pkg/event"
	"github.com/ops-automation/eventpipe/pkg/metrics"
	"github.com/ops-automation/eventpipe/pkg/queue"
	"github.com/ops-automation/eventpipe/pkg/retry"
	"github.com/ops-automation/eventpipe/pkg/trigger"
)

const defaultPollInterval = 1 * time.Second

// Dispatcher pops events from a queue, filters them through a
// trigger.Filter, and routes survivors to the handler matching their
// event type.
type Dispatcher struct {
	queue        queue.Queue
	alertSink    alertsink.AlertSink
	filter       *trigger.Filter
	pollInterval time.Duration
	alertTimeout time.Duration
	log          logr.Logger
	metrics      *metrics.Registry
}

// New creates a Dispatcher with a 1 second poll interval and a 5 second
// alert-sink timeout, matching EventProcessor::new's defaults.
func New(q queue.Queue, sink alertsink.AlertSink, filter *trigger.Filter, log logr.Logger) *Dispatcher {
	return &Dispatcher{
		queue:        q,
		alertSink:    sink,
		filter:       filter,
		pollInterval: defaultPollInterval,
		alertTimeout: 5 * time.Second,
		log:          log,
	}
}

// WithPollInterval overrides the poll interval used by Run.
func (d *Dispatcher) WithPollInterval(interval time.Duration) *Dispatcher {
	d.pollInterval = interval
	return d
}

// WithAlertTimeout overrides the per-alert delivery timeout.
func (d *Dispatcher) WithAlertTimeout(timeout time.Duration) *Dispatcher {
	d.alertTimeout = timeout
	return d
}

// WithMetrics attaches a metrics registry that alert-sink calls time their
// latency against; a nil registry (the default) disables recording.
func (d *Dispatcher) WithMetrics(m *metrics.Registry) *Dispatcher {
	d.metrics = m
	return d
}

// Queue returns the underlying queue.
func (d *Dispatcher) Queue() queue.Queue { return d.queue }

// Filter returns the underlying trigger filter.
func (d *Dispatcher) Filter() *trigger.Filter { return d.filter }

// ProcessOnce pops a single event and processes it. It returns
// (true, nil) if an event was processed, (false, nil) if the queue was
// empty, and a non-nil error if processing failed (the event has already
// been routed to Fail by the time this returns).
func (d *Dispatcher) ProcessOnce(ctx context.Context) (bool, error) {
	evt, err := d.queue.Pop(ctx)
	if err != nil {
		return false, err
	}
	if evt == nil {
		d.log.V(1).Info("queue empty, no event to process")
		return false, nil
	}

	fields := logging.DispatcherFields("process", evt.ID.String()).Custom("event_type", evt.EventType)
	d.log.Info("processing event", fields.KeysAndValues()...)

	if !d.filter.ShouldTrigger(*evt) {
		d.log.Info("event filtered out by trigger filter", logging.DispatcherFields("filter", evt.ID.String()).KeysAndValues()...)
		if err := d.queue.Complete(ctx, evt.ID); err != nil {
			return true, err
		}
		return true, nil
	}

	if err := d.dispatchEvent(ctx, *evt); err != nil {
		d.log.Error(err, "event processing failed",
			logging.DispatcherFields("process", evt.ID.String()).Custom("retry_count", evt.RetryCount).KeysAndValues()...)
		if failErr := d.queue.Fail(ctx, *evt); failErr != nil {
			return true, failErr
		}
		return true, err
	}

	if err := d.queue.Complete(ctx, evt.ID); err != nil {
		return true, err
	}
	d.log.Info("event processed successfully", logging.DispatcherFields("process", evt.ID.String()).KeysAndValues()...)
	return true, nil
}

// dispatchEvent routes evt to the handler matching its event type,
// mirroring EventProcessor::dispatch_event's match arms.
func (d *Dispatcher) dispatchEvent(ctx context.Context, evt event.Event) error {
	switch {
	case evt.EventType == "monitoring.error_detected":
		return d.handleMonitoringEvent(ctx, evt)
	case strings.HasPrefix(evt.EventType, "discord.command"):
		return d.handleDiscordEvent(ctx, evt)
	case strings.HasPrefix(evt.EventType, "github."):
		return d.handleGithubEvent(ctx, evt)
	default:
		d.log.Info("unknown event type, skipping", "event_type", evt.EventType)
		return nil
	}
}

// handleMonitoringEvent sends an alert for a detected error, retrying
// transient alert-sink failures with pkg/retry's backoff. Severity
// defaults to warning (not info) and the alert is sent via SendErrorAlert
// with the error's own fields, matching handle_monitoring_event.
func (d *Dispatcher) handleMonitoringEvent(ctx context.Context, evt event.Event) error {
	ctx, cancel := context.WithTimeout(ctx, d.alertTimeout)
	defer cancel()

	errorCode := stringDataOr(evt, "error_code", "UNKNOWN")
	message := stringDataOr(evt, "message", "No message provided")
	target := stringDataOr(evt, "target", "unknown")
	requestID := stringDataOr(evt, "request_id", "-")

	severity, err := event.ParseSeverity(stringDataOr(evt, "severity", "warning"))
	if err != nil {
		severity = event.SeverityWarning
	}

	d.log.Info("processing monitoring event", "error_code", errorCode, "severity", severity.String())

	fields := []alertsink.Field{
		{Name: "Target", Value: target},
		{Name: "Request ID", Value: requestID},
		{Name: "Event ID", Value: evt.ID.String()},
	}

	err = retry.Do(ctx, d.log, apperrors.IsRetryable, func() error {
		start := time.Now()
		sendErr := d.alertSink.SendErrorAlert(ctx, errorCode, message, severity, fields)
		if d.metrics != nil {
			outcome := "success"
			if sendErr != nil {
				outcome = "failure"
			}
			d.metrics.AlertSinkLatency.WithLabelValues("alertsink", outcome).Observe(time.Since(start).Seconds())
		}
		return sendErr
	})
	if err != nil {
		return err
	}

	d.log.Info("alert sent for monitoring event", "error_code", errorCode)
	return nil
}

func stringDataOr(evt event.Event, key, fallback string) string {
	if v, ok := evt.Data[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// Run polls the queue until ctx is cancelled, processing one event per
// iteration and sleeping pollInterval whenever the queue is empty or an
// iteration errored, matching EventProcessor::run_loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("starting dispatcher loop", "poll_interval", d.pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		processed, err := d.ProcessOnce(ctx)
		switch {
		case err != nil:
			d.log.Error(err, "dispatcher iteration error, continuing")
			if !sleepOrDone(ctx, d.pollInterval) {
				return ctx.Err()
			}
		case !processed:
			if !sleepOrDone(ctx, d.pollInterval) {
				return ctx.Err()
			}
		default:
			// An event was processed; loop immediately to drain the queue.
		}
	}
}

// RunIterations processes at most maxIterations events, stopping early
// once the queue is empty, matching EventProcessor::run_iterations. It's
// meant for tests and bounded batch runs.
func (d *Dispatcher) RunIterations(ctx context.Context, maxIterations int) (int, error) {
	processed := 0
	for i := 0; i < maxIterations; i++ {
		ok, err := d.ProcessOnce(ctx)
		if err != nil {
			d.log.Error(err, "dispatcher iteration error")
			break
		}
		if !ok {
			break
		}
		processed++
	}
	return processed, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
