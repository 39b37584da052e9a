// Command webhookd is a minimal chi router demonstrating the webhook->queue
// boundary: decode an inbound payload, build an Event, push it. It
// intentionally does not verify signatures, parse slash commands, or
// authenticate as a GitHub App — those are out of scope here.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"

	"github.com/ops-automation/eventpipe/internal/config"
	"github.com/ops-automation/eventpipe/internal/logging"
	"github.com/ops-automation/eventpipe/pkg/event"
	"github.com/ops-automation/eventpipe/pkg/queue"
	"github.com/ops-automation/eventpipe/pkg/queue/filequeue"
	"github.com/ops-automation/eventpipe/pkg/queue/redisqueue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the eventpipe config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "webhookd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	qc := queue.Config{
		MaxRetries:  cfg.Queue.MaxRetries,
		DedupWindow: queue.DurationSeconds(cfg.Queue.DedupWindow / time.Second),
	}

	var q queue.Queue
	if cfg.Queue.Backend == "redis" {
		q, err = redisqueue.New(cfg.Queue.RedisAddr, qc)
	} else {
		q, err = filequeue.WithConfig(cfg.Queue.Dir, qc, log)
	}
	if err != nil {
		return fmt.Errorf("failed to build queue: %w", err)
	}

	handler := newReceiver(q, cfg.Webhook.Path, log)

	addr := ":" + cfg.Webhook.Port
	log.Info("webhookd started", "addr", addr, "path", cfg.Webhook.Path)
	return http.ListenAndServe(addr, handler)
}

// inboundPayload is the shape every webhook source is expected to post:
// an event type, an originating source label, and an opaque data bag.
type inboundPayload struct {
	EventType string                 `json:"event_type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
}

func newReceiver(q queue.Queue, path string, log logr.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	rv := &receiverHandler{queue: q, log: log}
	r.Post(path+"/{source}", rv.handle)

	return r
}

type receiverHandler struct {
	queue queue.Queue
	log   logr.Logger
}

func (h *receiverHandler) handle(w http.ResponseWriter, req *http.Request) {
	source := chi.URLParam(req, "source")

	var payload inboundPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		h.log.Error(err, "failed to decode webhook payload", "source", source)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.EventType == "" {
		http.Error(w, "event_type is required", http.StatusBadRequest)
		return
	}
	if payload.Source == "" {
		payload.Source = source
	}

	evt := event.NewWithAutoPriority(payload.EventType, payload.Source, payload.Data)

	if err := h.queue.Push(req.Context(), evt); err != nil {
		h.log.Error(err, "failed to push webhook event", "event_type", payload.EventType)
		http.Error(w, "failed to enqueue event", http.StatusInternalServerError)
		return
	}

	h.log.Info("webhook event enqueued", "event_id", evt.ID.String(), "event_type", evt.EventType)
	w.WriteHeader(http.StatusAccepted)
}
