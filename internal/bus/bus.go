// Package bus adapts Redis into the shared job queue and the per-task event
// channel.
//
// Producers push JSON jobs onto the "jobs" list; the worker drains it with a
// blocking left-pop. Every published event is also cached under
// "tasks:{id}:last" with a bounded TTL so a late SSE subscriber can be handed
// the current phase without replaying history.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pubwiki/provisioner/internal/events"
)

const (
	jobsKey      = "jobs"
	lastEventTTL = time.Hour
)

// TaskChannel returns the pub/sub channel for a task.
func TaskChannel(taskID string) string {
	return "tasks:" + taskID
}

func lastEventKey(taskID string) string {
	return TaskChannel(taskID) + ":last"
}

// Bus publishes task events and moves jobs through the shared queue.
type Bus struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a bus on top of an existing Redis client.
func New(client *redis.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{client: client, logger: logger}
}

// EnqueueJob appends a job payload to the right end of the queue.
func (b *Bus) EnqueueJob(ctx context.Context, payload []byte) error {
	return b.client.RPush(ctx, jobsKey, payload).Err()
}

// DequeueJob blocks up to timeout for the next job. The second return is
// false when the pop timed out; the caller loops so shutdown stays
// observable.
func (b *Bus) DequeueJob(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	res, err := b.client.BLPop(ctx, timeout, jobsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return nil, false, nil
	}
	return []byte(res[1]), true, nil
}

// Publish sends an event on the task channel and refreshes the last-event
// cache. Cache failures are logged, never surfaced: the stream is the source
// of truth, the cache is a convenience snapshot.
func (b *Bus) Publish(ctx context.Context, taskID string, ev events.Event) error {
	payload, err := events.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, TaskChannel(taskID), payload).Err(); err != nil {
		return err
	}
	if err := b.client.Set(ctx, lastEventKey(taskID), payload, lastEventTTL).Err(); err != nil {
		b.logger.Warn("failed to cache last event",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// LastEvent fetches the cached last event for a task. Returns the raw payload
// alongside the parsed event so callers can forward the exact bytes. Absent
// or unparseable cache entries report ok=false.
func (b *Bus) LastEvent(ctx context.Context, taskID string) (raw string, ev events.Event, ok bool) {
	raw, err := b.client.Get(ctx, lastEventKey(taskID)).Result()
	if err != nil {
		return "", nil, false
	}
	ev, err = events.Parse([]byte(raw))
	if err != nil {
		return "", nil, false
	}
	return raw, ev, true
}

// Subscribe opens a dedicated pub/sub subscription on the task channel. The
// caller owns the subscription and must Close it.
func (b *Bus) Subscribe(ctx context.Context, taskID string) *redis.PubSub {
	return b.client.Subscribe(ctx, TaskChannel(taskID))
}
