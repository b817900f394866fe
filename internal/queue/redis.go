package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/observability/metrics"
)

const (
	taskField        = "task"
	defaultStream    = "envsense:tasks"
	defaultGroup     = "envsense-workers"
	defaultClaimIdle = time.Minute
	defaultBlock     = time.Second
	readBatch        = 16
	errorBackoff     = time.Second
)

// RedisConfig configures a RedisQueue. Zero values take the defaults.
type RedisConfig struct {
	Stream    string
	Group     string
	Workers   int
	ClaimIdle time.Duration
	MaxLen    int64
	// Block bounds each XREADGROUP wait, and therefore how quickly Run
	// notices cancellation.
	Block time.Duration
}

// RedisQueue is a durable queue on a Redis stream with one consumer group.
// Each worker is a named consumer. A task is acknowledged after its handler
// returns; tasks left pending by a consumer that died are claimed by the
// survivors once they have been idle for ClaimIdle.
type RedisQueue struct {
	client   *redis.Client
	cfg      RedisConfig
	consumer string
	log      logger.Logger
	metrics  *metrics.Metrics
}

// NewRedisQueue creates a queue on client.
func NewRedisQueue(client *redis.Client, cfg RedisConfig, log logger.Logger, m *metrics.Metrics) *RedisQueue {
	if cfg.Stream == "" {
		cfg.Stream = defaultStream
	}
	if cfg.Group == "" {
		cfg.Group = defaultGroup
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = defaultClaimIdle
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	return &RedisQueue{
		client:   client,
		cfg:      cfg,
		consumer: "envsense-" + uuid.NewString()[:8],
		log:      log.Module("queue"),
		metrics:  m,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task *Task) error {
	stamp(task)
	payload, err := encodeTask(task)
	if err != nil {
		return queueError(err, task.Type)
	}
	args := &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{taskField: payload},
	}
	if q.cfg.MaxLen > 0 {
		args.MaxLen = q.cfg.MaxLen
		args.Approx = true
	}
	if err := q.client.XAdd(ctx, args).Err(); err != nil {
		return queueError(fmt.Errorf("failed to add task to stream %s: %w", q.cfg.Stream, err), task.Type)
	}
	return nil
}

// ensureGroup creates the stream and consumer group if missing.
func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return queueError(fmt.Errorf("failed to create consumer group %s: %w", q.cfg.Group, err), "")
	}
	return nil
}

// Run consumes the stream with Workers consumers until ctx is cancelled.
func (q *RedisQueue) Run(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	q.log.Info("stream consumers started",
		logger.String("stream", q.cfg.Stream),
		logger.String("group", q.cfg.Group),
		logger.Int("workers", q.cfg.Workers))

	g, gctx := errgroup.WithContext(ctx)
	for i := range q.cfg.Workers {
		consumer := fmt.Sprintf("%s-%d", q.consumer, i)
		g.Go(func() error {
			q.consume(gctx, consumer, handler)
			return nil
		})
	}
	err := g.Wait()
	q.log.Info("stream consumers stopped")
	return err
}

func (q *RedisQueue) consume(ctx context.Context, consumer string, handler Handler) {
	taskCtx := context.WithoutCancel(ctx)
	var lastClaim time.Time

	for ctx.Err() == nil {
		if time.Since(lastClaim) >= q.cfg.ClaimIdle/2 {
			q.reclaim(ctx, taskCtx, consumer, handler)
			lastClaim = time.Now()
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    readBatch,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			q.log.Warn("failed to read from stream", logger.String("consumer", consumer), logger.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handle(taskCtx, handler, msg)
			}
		}
	}
}

// reclaim takes over entries another consumer received but never
// acknowledged. XCLAIM rechecks the idle time, so two survivors cannot
// both take the same entry.
func (q *RedisQueue) reclaim(ctx, taskCtx context.Context, consumer string, handler Handler) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  readBatch,
	}).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			q.log.Warn("failed to list pending tasks", logger.String("consumer", consumer), logger.Error(err))
		}
		return
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if p.Idle >= q.cfg.ClaimIdle && p.Consumer != consumer {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: consumer,
		MinIdle:  q.cfg.ClaimIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			q.log.Warn("failed to claim idle tasks", logger.String("consumer", consumer), logger.Error(err))
		}
		return
	}
	for _, msg := range msgs {
		q.log.Debug("claimed idle task", logger.String("entry", msg.ID), logger.String("consumer", consumer))
		q.handle(taskCtx, handler, msg)
	}
}

func (q *RedisQueue) handle(ctx context.Context, handler Handler, msg redis.XMessage) {
	raw, _ := msg.Values[taskField].(string)
	task, err := decodeTask(raw)
	if err != nil {
		// Unreadable entries would be redelivered forever.
		q.log.Error("dropping malformed task", logger.String("entry", msg.ID), logger.Error(err))
	} else {
		execute(ctx, handler, task, q.log, q.metrics)
	}
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID).Err(); err != nil {
		q.log.Warn("failed to acknowledge task", logger.String("entry", msg.ID), logger.Error(err))
	}
}

// Close is a no-op; the client is owned by the caller.
func (q *RedisQueue) Close() error { return nil }
