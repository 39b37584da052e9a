// Command eventpipe runs the event-ingestion and dispatch pipeline: the
// log watcher, the dispatcher loop, and the metrics/health HTTP server,
// all under one cancellable lifecycle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ops-automation/eventpipe/internal/config"
	"github.com/ops-automation/eventpipe/internal/logging"
	"github.com/ops-automation/eventpipe/pkg/alertsink"
	"github.com/ops-automation/eventpipe/pkg/alertsink/slacksink"
	"github.com/ops-automation/eventpipe/pkg/dispatcher"
	"github.com/ops-automation/eventpipe/pkg/event"
	"github.com/ops-automation/eventpipe/pkg/logwatcher"
	"github.com/ops-automation/eventpipe/pkg/metrics"
	"github.com/ops-automation/eventpipe/pkg/queue"
	"github.com/ops-automation/eventpipe/pkg/queue/filequeue"
	"github.com/ops-automation/eventpipe/pkg/queue/redisqueue"
	"github.com/ops-automation/eventpipe/pkg/ratelimit"
	"github.com/ops-automation/eventpipe/pkg/trigger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the eventpipe config file")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics and /healthz on")
	flag.Parse()

	if err := run(*configPath, *metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "eventpipe:", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	q, err := buildQueue(cfg, m, log)
	if err != nil {
		return fmt.Errorf("failed to build queue: %w", err)
	}

	watcher, err := logwatcher.WithConfig(logwatcher.Config{
		LogDir:      cfg.LogWatcher.LogDir,
		StateDir:    cfg.LogWatcher.StateDir,
		DedupWindow: cfg.LogWatcher.DedupWindow,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to build log watcher: %w", err)
	}

	filter := buildTriggerFilter(cfg, log)
	sink := buildAlertSink(cfg, log)

	d := dispatcher.New(q, sink, filter, log).
		WithPollInterval(cfg.Dispatcher.PollInterval).
		WithAlertTimeout(cfg.Dispatcher.AlertTimeout).
		WithMetrics(m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return d.Run(ctx)
	})

	group.Go(func() error {
		return runLogWatcherLoop(ctx, watcher, q, cfg.LogWatcher.StateRetentionDays, log)
	})

	group.Go(func() error {
		return serveMetrics(ctx, metricsAddr, reg, m, q, log)
	})

	log.Info("eventpipe started", "queue_backend", cfg.Queue.Backend, "metrics_addr", metricsAddr)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("eventpipe stopped")
	return nil
}

func buildQueue(cfg *config.Config, m *metrics.Registry, log logr.Logger) (queue.Queue, error) {
	qc := queue.Config{
		MaxRetries:  cfg.Queue.MaxRetries,
		DedupWindow: queue.DurationSeconds(cfg.Queue.DedupWindow / time.Second),
	}

	switch cfg.Queue.Backend {
	case "redis":
		q, err := redisqueue.New(cfg.Queue.RedisAddr, qc)
		if err != nil {
			return nil, err
		}
		return q.WithMetrics(m), nil
	default:
		q, err := filequeue.WithConfig(cfg.Queue.Dir, qc, log)
		if err != nil {
			return nil, err
		}
		return q.WithMetrics(m), nil
	}
}

// buildTriggerFilter wires a rate limiter matching cfg.RateLimit.Backend:
// redis when more than one dispatcher process shares queue state, the
// in-process limiter otherwise.
func buildTriggerFilter(cfg *config.Config, log logr.Logger) *trigger.Filter {
	filter := trigger.New(log).
		WithEnabledEvents(cfg.Trigger.EnabledEvents).
		WithAllowedUsers(cfg.Trigger.AllowedUsers).
		WithIgnoredErrorCodes(cfg.Trigger.IgnoredErrorCodes).
		WithActive(cfg.Trigger.Active)

	if severity, err := event.ParseSeverity(cfg.Trigger.MinSeverity); err == nil {
		filter.WithMinSeverity(severity)
	}

	limiterConfig := ratelimit.Config{
		ApiCallsPerMinute:      cfg.RateLimit.ApiCallsPerMinute,
		BranchCreationsPerHour: cfg.RateLimit.BranchCreationsPerHour,
		PrCreationsPerHour:     cfg.RateLimit.PrCreationsPerHour,
	}

	if cfg.RateLimit.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
		filter.WithRateLimiter(ratelimit.NewRedisLimiter(client, limiterConfig, "ratelimit"))
	} else {
		filter.WithRateLimiter(ratelimit.New(limiterConfig))
	}

	return filter
}

func buildAlertSink(cfg *config.Config, log logr.Logger) alertsink.AlertSink {
	return slacksink.New(cfg.Alert.SlackWebhookURL, log)
}

// runLogWatcherLoop drives the log watcher via its fsnotify-backed Poller
// (falling back to a 5s tick if fsnotify is unavailable), pushing every
// emitted event onto the queue, alongside a daily state-retention sweep.
func runLogWatcherLoop(ctx context.Context, watcher *logwatcher.Watcher, q queue.Queue, retentionDays int, log logr.Logger) error {
	poller := logwatcher.NewPoller(watcher, 5*time.Second)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return poller.Run(ctx, func(events []event.Event) {
			for _, evt := range events {
				if err := q.Push(ctx, evt); err != nil {
					log.Error(err, "failed to push log-watcher event", "event_id", evt.ID.String())
				}
			}
		})
	})

	group.Go(func() error {
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-cleanupTicker.C:
				if retentionDays > 0 {
					if err := watcher.CleanupOldState(retentionDays); err != nil {
						log.Error(err, "failed to clean up old log-watcher state")
					}
				}
			}
		}
	})

	return group.Wait()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, m *metrics.Registry, q queue.Queue, log logr.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go sampleQueueDepth(ctx, q, m, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func sampleQueueDepth(ctx context.Context, q queue.Queue, m *metrics.Registry, log logr.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := q.PendingCount(ctx)
			if err != nil {
				log.Error(err, "failed to sample pending count")
				continue
			}
			processing, err := q.ProcessingCount(ctx)
			if err != nil {
				log.Error(err, "failed to sample processing count")
				continue
			}
			m.ObserveSample("queue", pending, processing)
		}
	}
}
