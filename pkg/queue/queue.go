// Package queue defines the Queue contract implementations share, grounded
// in the original event::queue trait and its QueueConfig default (queue.rs).
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ops-automation/eventpipe/pkg/event"
)

// Queue is the contract a priority event queue must satisfy. At-least-once
// delivery only: a crash between pop and complete/fail can redeliver an
// event, and cross-priority FIFO ordering is not guaranteed.
type Queue interface {
	// Push enqueues an event. Duplicate fingerprints (within the
	// implementation's dedup window) are silently dropped.
	Push(ctx context.Context, evt event.Event) error

	// Pop returns and removes the highest-priority pending event, or
	// (nil, nil) if the queue is empty.
	Pop(ctx context.Context) (*event.Event, error)

	// Complete marks a previously popped event as done.
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail re-queues evt with an incremented retry count, or moves it to
	// the dead-letter queue once Config.MaxRetries is reached.
	Fail(ctx context.Context, evt event.Event) error

	PendingCount(ctx context.Context) (int, error)
	ProcessingCount(ctx context.Context) (int, error)

	// ContainsFingerprint reports whether a pending, processing, or
	// recently-completed event carries this fingerprint.
	ContainsFingerprint(ctx context.Context, fingerprint string) (bool, error)
}

// Config controls retry and dedup behavior shared by every Queue
// implementation.
type Config struct {
	// MaxRetries is the number of Fail calls an event tolerates before
	// being routed to the dead-letter queue.
	MaxRetries uint32
	// DedupWindow is how long a completed event's fingerprint continues
	// to suppress duplicates.
	DedupWindow DurationSeconds
}

// DurationSeconds exists so Config can be loaded straight out of YAML
// (seconds, an integer) while still being explicit about units at call
// sites; see (DurationSeconds).Duration.
type DurationSeconds int64

// Duration converts to a time.Duration.
func (d DurationSeconds) Duration() time.Duration {
	return time.Duration(d) * time.Second
}

// DefaultConfig mirrors the original QueueConfig::default(): 3 retries, a
// 5 minute dedup window.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		DedupWindow: 300,
	}
}
