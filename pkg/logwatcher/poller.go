package logwatcher

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ops-automation/eventpipe/internal/logging"
	"github.com/ops-automation/eventpipe/pkg/event"
)

// Poller calls Watch on a fallback ticker and, when available, on fsnotify
// write events in the log directory, so new log lines are picked up
// without waiting for the next tick. fsnotify only decides when Watch
// runs; Watch's own offset tracking, rotation detection, and dedup are
// unchanged.
type Poller struct {
	watcher       *Watcher
	fallbackEvery time.Duration
}

// NewPoller wraps watcher with a fallback tick interval for when fsnotify
// is unavailable or the log directory can't be watched.
func NewPoller(watcher *Watcher, fallbackEvery time.Duration) *Poller {
	return &Poller{watcher: watcher, fallbackEvery: fallbackEvery}
}

// Run calls emit with the events from every Watch call until ctx is
// cancelled. It attempts to watch the log directory with fsnotify; if that
// fails, it falls back to the ticker alone.
func (p *Poller) Run(ctx context.Context, emit func([]event.Event)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		p.watcher.log.Info("fsnotify unavailable, falling back to tick-only polling",
			logging.WatcherFields("poller").Error(err).KeysAndValues()...)
		return p.runTickOnly(ctx, emit)
	}
	defer fsw.Close()

	if err := fsw.Add(p.watcher.LogDir()); err != nil {
		p.watcher.log.Info("failed to watch log directory, falling back to tick-only polling",
			logging.WatcherFields("poller").Error(err).KeysAndValues()...)
		return p.runTickOnly(ctx, emit)
	}

	ticker := time.NewTicker(p.fallbackEvery)
	defer ticker.Stop()

	poll := func() {
		events, err := p.watcher.Watch()
		if err != nil {
			p.watcher.log.Error(err, "poller watch tick failed")
			return
		}
		if len(events) > 0 {
			emit(events)
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			poll()
		case fsEvent, ok := <-fsw.Events:
			if !ok {
				return p.runTickOnly(ctx, emit)
			}
			if fsEvent.Has(fsnotify.Write) || fsEvent.Has(fsnotify.Create) {
				poll()
			}
		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return p.runTickOnly(ctx, emit)
			}
			p.watcher.log.Error(watchErr, "fsnotify watch error")
		}
	}
}

func (p *Poller) runTickOnly(ctx context.Context, emit func([]event.Event)) error {
	ticker := time.NewTicker(p.fallbackEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			events, err := p.watcher.Watch()
			if err != nil {
				p.watcher.log.Error(err, "poller watch tick failed")
				continue
			}
			if len(events) > 0 {
				emit(events)
			}
		}
	}
}
