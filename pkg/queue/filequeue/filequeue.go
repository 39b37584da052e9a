// Package filequeue implements pkg/queue.Queue on top of a directory tree,
// grounded in the original FileEventQueue (file_queue.rs): four
// subdirectories (pending/processing/completed/dlq), filenames encoding
// priority so a directory listing alone establishes pop order, and
// same-filesystem renames as the atomic state-transition primitive.
//
// Suitable for single-instance deployments. It makes no cross-node
// coordination guarantee. Pop takes events by priority class (P0 first,
// P3 last); the order of events within one class is not defined.
package filequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apperrors "github.com/ops-automation/eventpipe/internal/errors"
	"github.com/ops-automation/eventpipe/internal/logging"
	"github.com/ops-automation/eventpipe/pkg/event"
	"github.com/ops-automation/eventpipe/pkg/metrics"
	"github.com/ops-automation/eventpipe/pkg/queue"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	subPending    = "pending"
	subProcessing = "processing"
	subCompleted  = "completed"
	subDLQ        = "dlq"
)

// Queue is a filesystem-backed implementation of queue.Queue.
type Queue struct {
	dir     string
	config  queue.Config
	mu      sync.RWMutex
	log     logr.Logger
	metrics *metrics.Registry
}

var _ queue.Queue = (*Queue)(nil)

// New creates a file queue under dir using queue.DefaultConfig.
func New(dir string, log logr.Logger) (*Queue, error) {
	return WithConfig(dir, queue.DefaultConfig(), log)
}

// WithConfig creates a file queue under dir with an explicit Config.
func WithConfig(dir string, config queue.Config, log logr.Logger) (*Queue, error) {
	for _, sub := range []string{subPending, subProcessing, subCompleted, subDLQ} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, dirPerm); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to create queue directory").WithDetails(path)
		}
	}

	log.Info("file event queue initialized", logging.NewFields().Custom("queue_dir", dir).KeysAndValues()...)

	return &Queue{dir: dir, config: config, log: log}, nil
}

// WithMetrics attaches a metrics registry that Push/Pop/Complete/Fail
// record against; a nil registry (the default) disables recording.
func (q *Queue) WithMetrics(m *metrics.Registry) *Queue {
	q.metrics = m
	return q
}

func (q *Queue) pendingDir() string    { return filepath.Join(q.dir, subPending) }
func (q *Queue) processingDir() string { return filepath.Join(q.dir, subProcessing) }
func (q *Queue) completedDir() string  { return filepath.Join(q.dir, subCompleted) }
func (q *Queue) dlqDir() string        { return filepath.Join(q.dir, subDLQ) }

func readEventFile(path string) (event.Event, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return event.Event{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to read event file").WithDetails(path)
	}
	var evt event.Event
	if err := json.Unmarshal(content, &evt); err != nil {
		return event.Event{}, apperrors.Wrap(err, apperrors.ErrorTypeCorruptData, "failed to parse event file").WithDetails(path)
	}
	return evt, nil
}

func writeEventFile(dir string, evt event.Event) (string, error) {
	path := filepath.Join(dir, evt.Filename())
	content, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to serialize event")
	}
	if err := os.WriteFile(path, content, filePerm); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to write event file").WithDetails(path)
	}
	return path, nil
}

func findEventFile(dir string, id uuid.UUID) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to read directory").WithDetails(dir)
	}
	idStr := id.String()
	for _, entry := range entries {
		if strings.Contains(entry.Name(), idStr) {
			return filepath.Join(dir, entry.Name()), true, nil
		}
	}
	return "", false, nil
}

func countFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to read directory").WithDetails(dir)
	}
	return len(entries), nil
}

// Push enqueues evt, skipping it if a fingerprint match is already pending,
// processing, or within the dedup window in completed.
func (q *Queue) Push(ctx context.Context, evt event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	duplicate, err := q.containsFingerprintLocked(evt.Metadata.Fingerprint)
	if err != nil {
		return err
	}
	if duplicate {
		q.log.Info("duplicate event detected, skipping",
			logging.QueueFields("push", evt.ID.String()).Custom("fingerprint", evt.Metadata.Fingerprint).KeysAndValues()...)
		return nil
	}

	if _, err := writeEventFile(q.pendingDir(), evt); err != nil {
		return err
	}

	q.log.Info("event pushed to queue",
		logging.QueueFields("push", evt.ID.String()).Custom("event_type", evt.EventType).Custom("priority", evt.Priority.String()).KeysAndValues()...)
	if q.metrics != nil {
		q.metrics.EventsPushed.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
	}
	return nil
}

// Pop returns and removes the highest-priority pending event. A file that
// fails to parse is moved to the dead-letter queue (or rolled back to
// pending if even that move fails) and the parse error is returned.
func (q *Queue) Pop(ctx context.Context) (*event.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pendingDir := q.pendingDir()
	processingDir := q.processingDir()

	for priority := 0; priority <= 3; priority++ {
		prefix := fmt.Sprintf("p%d_", priority)

		entries, err := os.ReadDir(pendingDir)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to read pending directory")
		}

		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
				continue
			}

			originalPath := filepath.Join(pendingDir, name)
			newPath := filepath.Join(processingDir, name)

			if err := os.Rename(originalPath, newPath); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to move event to processing")
			}

			evt, err := readEventFile(newPath)
			if err != nil {
				dlqPath := filepath.Join(q.dlqDir(), name)
				if moveErr := os.Rename(newPath, dlqPath); moveErr != nil {
					q.log.Error(moveErr, "failed to move corrupted event to DLQ, attempting rollback to pending")
					_ = os.Rename(newPath, originalPath)
				}
				return nil, err
			}
			evt.Status = event.StatusProcessing

			content, err := json.MarshalIndent(evt, "", "  ")
			if err != nil {
				if rollbackErr := os.Rename(newPath, originalPath); rollbackErr != nil {
					q.log.Error(rollbackErr, "failed to rollback event to pending")
				}
				return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to serialize event")
			}
			if err := os.WriteFile(newPath, content, filePerm); err != nil {
				if rollbackErr := os.Rename(newPath, originalPath); rollbackErr != nil {
					q.log.Error(rollbackErr, "failed to rollback event to pending")
				}
				return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to update event file")
			}

			q.log.Info("event popped from queue",
				logging.QueueFields("pop", evt.ID.String()).Custom("event_type", evt.EventType).Custom("priority", evt.Priority.String()).KeysAndValues()...)
			if q.metrics != nil {
				q.metrics.EventsPopped.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
			}

			return &evt, nil
		}
	}

	return nil, nil
}

// Complete marks the event at id as done, moving it from processing to
// completed. A missing processing entry is logged and treated as a no-op,
// since a previous crash may have already completed it.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	path, found, err := findEventFile(q.processingDir(), id)
	if err != nil {
		return err
	}
	if !found {
		q.log.Info("event not found in processing directory", logging.QueueFields("complete", id.String()).KeysAndValues()...)
		return nil
	}

	evt, err := readEventFile(path)
	if err != nil {
		return err
	}
	evt.Status = event.StatusCompleted

	newPath := filepath.Join(q.completedDir(), filepath.Base(path))
	content, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to serialize event")
	}
	if err := os.WriteFile(newPath, content, filePerm); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to write completed event").WithDetails(newPath)
	}
	if err := os.Remove(path); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to remove event from processing").WithDetails(path)
	}

	q.log.Info("event completed successfully", logging.QueueFields("complete", id.String()).KeysAndValues()...)
	if q.metrics != nil {
		q.metrics.EventsCompleted.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
	}
	return nil
}

// Fail removes evt from processing and either re-queues it with an
// incremented retry count, or routes it to the dead-letter queue once
// Config.MaxRetries is reached.
func (q *Queue) Fail(ctx context.Context, evt event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	path, found, err := findEventFile(q.processingDir(), evt.ID)
	if err != nil {
		return err
	}
	if found {
		if err := os.Remove(path); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to remove event from processing").WithDetails(path)
		}
	}

	if evt.RetryCount >= q.config.MaxRetries {
		dlqEvent := evt
		dlqEvent.Status = event.StatusFailed
		if _, err := writeEventFile(q.dlqDir(), dlqEvent); err != nil {
			return err
		}
		q.log.Info("event moved to dead letter queue after max retries",
			logging.QueueFields("fail", evt.ID.String()).Custom("retry_count", evt.RetryCount).KeysAndValues()...)
		if q.metrics != nil {
			q.metrics.EventsFailed.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
			q.metrics.EventsDeadLetter.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
		}
		return nil
	}

	retryEvent := evt
	retryEvent.RetryCount++
	retryEvent.Status = event.StatusRetrying
	if _, err := writeEventFile(q.pendingDir(), retryEvent); err != nil {
		return err
	}
	q.log.Info("event re-queued for retry",
		logging.QueueFields("fail", evt.ID.String()).Custom("retry_count", retryEvent.RetryCount).KeysAndValues()...)
	if q.metrics != nil {
		q.metrics.EventsFailed.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
	}
	return nil
}

// Sweep removes completed-queue files older than olderThan, keyed off
// file mtime like ContainsFingerprint's own dedup-window check. The
// completed directory otherwise accumulates forever; callers that want
// bounded disk usage schedule Sweep themselves (e.g. alongside
// logwatcher's state cleanup) — it is never called automatically.
func (q *Queue) Sweep(olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dir := q.completedDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to read completed directory").WithDetails(dir)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		q.log.Info("swept old completed events", logging.NewFields().Component("filequeue").Operation("sweep").Count(removed).KeysAndValues()...)
	}
	return removed, nil
}

// PendingCount returns the number of files in the pending directory.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return countFiles(q.pendingDir())
}

// ProcessingCount returns the number of files in the processing directory.
func (q *Queue) ProcessingCount(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return countFiles(q.processingDir())
}

// ContainsFingerprint reports whether fingerprint is pending, processing,
// or within the dedup window in completed.
func (q *Queue) ContainsFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.containsFingerprintLocked(fingerprint)
}

// containsFingerprintLocked assumes the caller already holds either the
// read or write lock; Push calls it while holding the write lock to avoid
// deadlocking against ContainsFingerprint's own read lock.
func (q *Queue) containsFingerprintLocked(fingerprint string) (bool, error) {
	for _, dir := range []string{q.pendingDir(), q.processingDir()} {
		found, err := scanDirForFingerprint(dir, fingerprint, nil)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}

	window := q.config.DedupWindow.Duration()
	cutoff := time.Now().Add(-window)
	return scanDirForFingerprint(q.completedDir(), fingerprint, &cutoff)
}

// scanDirForFingerprint reads every file in dir looking for a matching
// fingerprint. If cutoff is non-nil, files whose mtime is older than cutoff
// are skipped — this implements the completed directory's dedup window.
// Unreadable or unparsable files are skipped rather than treated as errors,
// matching the original's flatten()-over-fallible-entries behavior.
func scanDirForFingerprint(dir, fingerprint string, cutoff *time.Time) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to read directory").WithDetails(dir)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if cutoff != nil {
			info, err := entry.Info()
			if err == nil && info.ModTime().Before(*cutoff) {
				continue
			}
		}

		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var evt event.Event
		if err := json.Unmarshal(content, &evt); err != nil {
			continue
		}
		if evt.Metadata.Fingerprint == fingerprint {
			return true, nil
		}
	}

	return false, nil
}
