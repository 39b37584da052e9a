// Package redisqueue implements queue.Queue on top of Redis sorted sets,
// an alternative backend to pkg/queue/filequeue for deployments that want
// queue state shared across more than one dispatcher process.
//
// Four sorted sets per queue: pending:{priority} (one per priority class),
// processing, completed, and dlq, each keyed by event ID and scored by push
// time. Pop is ZPOPMIN off the highest-priority non-empty pending set
// followed by a ZADD into processing; a crash between those two calls loses
// visibility of the event until an operator re-derives it from the Redis
// command log, which is why the file backend remains the default.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/ops-automation/eventpipe/internal/errors"
	"github.com/ops-automation/eventpipe/pkg/event"
	"github.com/ops-automation/eventpipe/pkg/metrics"
	"github.com/ops-automation/eventpipe/pkg/queue"
)

const (
	keyProcessing = "processing"
	keyCompleted  = "completed"
	keyDLQ        = "dlq"
)

// Queue is a Redis-backed implementation of queue.Queue.
type Queue struct {
	client  *redis.Client
	config  queue.Config
	prefix  string
	metrics *metrics.Registry
}

var _ queue.Queue = (*Queue)(nil)

// New connects to addr using config and no key prefix.
func New(addr string, config queue.Config) (*Queue, error) {
	return WithClient(redis.NewClient(&redis.Options{Addr: addr}), config, ""), nil
}

// WithClient wraps an existing *redis.Client, typically a miniredis-backed
// one in tests. prefix namespaces every key this Queue touches, so
// multiple queues can share one Redis instance.
func WithClient(client *redis.Client, config queue.Config, prefix string) *Queue {
	return &Queue{client: client, config: config, prefix: prefix}
}

// WithMetrics attaches a metrics registry that Push/Pop/Complete/Fail
// record against; a nil registry (the default) disables recording.
func (q *Queue) WithMetrics(m *metrics.Registry) *Queue {
	q.metrics = m
	return q
}

func (q *Queue) key(name string) string {
	if q.prefix == "" {
		return name
	}
	return q.prefix + ":" + name
}

func (q *Queue) pendingKey(priority event.Priority) string {
	return q.key(fmt.Sprintf("pending:%s", priority.String()))
}

func wrapRedisErr(err error, op string) error {
	return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "redis "+op+" failed")
}

// Push enqueues evt onto its priority's pending set, skipping it if its
// fingerprint is already pending, processing, or within the dedup window
// in completed.
func (q *Queue) Push(ctx context.Context, evt event.Event) error {
	duplicate, err := q.ContainsFingerprint(ctx, evt.Metadata.Fingerprint)
	if err != nil {
		return err
	}
	if duplicate {
		return nil
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to serialize event")
	}

	member := memberFor(evt.ID, payload)
	score := float64(time.Now().UnixNano())

	if err := q.client.ZAdd(ctx, q.pendingKey(evt.Priority), redis.Z{Score: score, Member: member}).Err(); err != nil {
		return wrapRedisErr(err, "ZADD pending")
	}
	if q.metrics != nil {
		q.metrics.EventsPushed.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
	}
	return nil
}

// Pop returns and removes the oldest pending event from the
// highest-priority non-empty set, moving it into processing.
func (q *Queue) Pop(ctx context.Context) (*event.Event, error) {
	for priority := event.PriorityP0; priority <= event.PriorityP3; priority++ {
		key := q.pendingKey(priority)

		popped, err := q.client.ZPopMin(ctx, key, 1).Result()
		if err != nil {
			return nil, wrapRedisErr(err, "ZPOPMIN pending")
		}
		if len(popped) == 0 {
			continue
		}

		member := popped[0].Member.(string)
		payload, id, err := splitMember(member)
		if err != nil {
			return nil, err
		}

		var evt event.Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			if moveErr := q.client.ZAdd(ctx, q.key(keyDLQ), redis.Z{Score: float64(time.Now().UnixNano()), Member: member}).Err(); moveErr != nil {
				return nil, wrapRedisErr(moveErr, "ZADD dlq")
			}
			if q.metrics != nil {
				q.metrics.EventsDeadLetter.WithLabelValues(priority.String(), "unknown").Inc()
			}
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeCorruptData, "failed to parse queued event").WithDetails(id.String())
		}

		evt.Status = event.StatusProcessing
		updated, err := json.Marshal(evt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to serialize event")
		}

		if err := q.client.ZAdd(ctx, q.key(keyProcessing), redis.Z{
			Score:  float64(time.Now().UnixNano()),
			Member: memberFor(evt.ID, updated),
		}).Err(); err != nil {
			return nil, wrapRedisErr(err, "ZADD processing")
		}

		if q.metrics != nil {
			q.metrics.EventsPopped.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
		}

		return &evt, nil
	}

	return nil, nil
}

// Complete moves id's entry from processing to completed.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	member, found, err := q.findInSet(ctx, q.key(keyProcessing), id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	payload, _, err := splitMember(member)
	if err != nil {
		return err
	}
	var evt event.Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeCorruptData, "failed to parse processing event")
	}
	evt.Status = event.StatusCompleted

	updated, err := json.Marshal(evt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to serialize event")
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key(keyProcessing), member)
	pipe.ZAdd(ctx, q.key(keyCompleted), redis.Z{Score: float64(time.Now().UnixNano()), Member: memberFor(id, updated)})
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapRedisErr(err, "complete transaction")
	}
	if q.metrics != nil {
		q.metrics.EventsCompleted.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
	}
	return nil
}

// Fail removes evt from processing and either re-queues it with an
// incremented retry count or routes it to the dead-letter queue once
// Config.MaxRetries is reached.
func (q *Queue) Fail(ctx context.Context, evt event.Event) error {
	member, found, err := q.findInSet(ctx, q.key(keyProcessing), evt.ID)
	if err != nil {
		return err
	}
	if found {
		if err := q.client.ZRem(ctx, q.key(keyProcessing), member).Err(); err != nil {
			return wrapRedisErr(err, "ZREM processing")
		}
	}

	if evt.RetryCount >= q.config.MaxRetries {
		dlqEvent := evt
		dlqEvent.Status = event.StatusFailed
		payload, err := json.Marshal(dlqEvent)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to serialize event")
		}
		if err := q.client.ZAdd(ctx, q.key(keyDLQ), redis.Z{Score: float64(time.Now().UnixNano()), Member: memberFor(evt.ID, payload)}).Err(); err != nil {
			return wrapRedisErr(err, "ZADD dlq")
		}
		if q.metrics != nil {
			q.metrics.EventsFailed.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
			q.metrics.EventsDeadLetter.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
		}
		return nil
	}

	retryEvent := evt
	retryEvent.RetryCount++
	retryEvent.Status = event.StatusRetrying
	payload, err := json.Marshal(retryEvent)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to serialize event")
	}
	if err := q.client.ZAdd(ctx, q.pendingKey(retryEvent.Priority), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: memberFor(evt.ID, payload),
	}).Err(); err != nil {
		return wrapRedisErr(err, "ZADD pending")
	}
	if q.metrics != nil {
		q.metrics.EventsFailed.WithLabelValues(evt.Priority.String(), evt.EventType).Inc()
	}
	return nil
}

// PendingCount sums the cardinality of every priority's pending set.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	total := 0
	for priority := event.PriorityP0; priority <= event.PriorityP3; priority++ {
		count, err := q.client.ZCard(ctx, q.pendingKey(priority)).Result()
		if err != nil {
			return 0, wrapRedisErr(err, "ZCARD pending")
		}
		total += int(count)
	}
	return total, nil
}

// ProcessingCount returns the processing set's cardinality.
func (q *Queue) ProcessingCount(ctx context.Context) (int, error) {
	count, err := q.client.ZCard(ctx, q.key(keyProcessing)).Result()
	if err != nil {
		return 0, wrapRedisErr(err, "ZCARD processing")
	}
	return int(count), nil
}

// ContainsFingerprint reports whether fingerprint is pending, processing,
// or within the dedup window in completed.
func (q *Queue) ContainsFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	for priority := event.PriorityP0; priority <= event.PriorityP3; priority++ {
		found, err := q.scanForFingerprint(ctx, q.pendingKey(priority), fingerprint, 0)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}

	found, err := q.scanForFingerprint(ctx, q.key(keyProcessing), fingerprint, 0)
	if err != nil {
		return false, err
	}
	if found {
		return true, nil
	}

	cutoff := time.Now().Add(-q.config.DedupWindow.Duration()).UnixNano()
	return q.scanForFingerprint(ctx, q.key(keyCompleted), fingerprint, cutoff)
}

func (q *Queue) scanForFingerprint(ctx context.Context, key, fingerprint string, minScore int64) (bool, error) {
	members, err := q.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return false, wrapRedisErr(err, "ZRANGEBYSCORE")
	}
	for _, z := range members {
		if int64(z.Score) < minScore {
			continue
		}
		payload, _, err := splitMember(z.Member.(string))
		if err != nil {
			continue
		}
		var evt event.Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			continue
		}
		if evt.Metadata.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (q *Queue) findInSet(ctx context.Context, key string, id uuid.UUID) (string, bool, error) {
	members, err := q.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return "", false, wrapRedisErr(err, "ZRANGEBYSCORE")
	}
	idStr := id.String()
	for _, z := range members {
		member := z.Member.(string)
		_, memberID, err := splitMember(member)
		if err == nil && memberID.String() == idStr {
			return member, true, nil
		}
	}
	return "", false, nil
}

// memberFor packs an event ID and its JSON payload into one sorted-set
// member, since redis sorted sets have no side channel for a value.
func memberFor(id uuid.UUID, payload []byte) string {
	return id.String() + "\x00" + string(payload)
}

func splitMember(member string) (payload string, id uuid.UUID, err error) {
	for i := 0; i < len(member); i++ {
		if member[i] == 0 {
			id, err = uuid.Parse(member[:i])
			if err != nil {
				return "", uuid.UUID{}, apperrors.Wrap(err, apperrors.ErrorTypeCorruptData, "failed to parse member id")
			}
			return member[i+1:], id, nil
		}
	}
	return "", uuid.UUID{}, apperrors.New(apperrors.ErrorTypeCorruptData, "malformed queue member")
}
