package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dispatcher drains the notifications outbox and publishes each event to the
// sink. Everything here is best-effort: failures are logged and retried up to
// maxRetries, and never reach the transaction that produced the event.
type Dispatcher struct {
	store      Store
	publisher  Publisher
	deduper    *Deduper
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	d.maxRetries = maxRetries
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	d.batchSize = batchSize
	return d
}

func (d *Dispatcher) WithDeduper(deduper *Deduper) *Dispatcher {
	d.deduper = deduper
	return d
}

// Start runs the scan loop until the context is cancelled. Run it in its own
// goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting notification dispatcher",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
		zap.Int("max_retries", d.maxRetries),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopped")
			return
		case <-ticker.C:
			d.processPending(ctx)
		}
	}
}

func (d *Dispatcher) processPending(ctx context.Context) {
	messages, err := d.store.ListPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("list pending notifications", zap.Error(err))
		return
	}

	for _, msg := range messages {
		if d.deduper != nil && !d.deduper.AcquireOnce(ctx, "dispatch", msg.ID) {
			if err := d.store.MarkSent(ctx, msg.ID); err != nil {
				d.logger.Error("mark deduped notification sent", zap.Int64("id", msg.ID), zap.Error(err))
			}
			continue
		}

		routingKey := "notification." + string(msg.Type)
		payload := map[string]any{
			"id":           msg.ID,
			"type":         msg.Type,
			"recipient_id": msg.RecipientID,
			"payload":      msg.Payload,
		}
		if msg.ActorID != nil {
			payload["actor_id"] = *msg.ActorID
		}

		if err := d.publisher.Publish(ctx, routingKey, payload); err != nil {
			publishFailedCount.WithLabelValues(string(msg.Type)).Inc()
			d.logger.Error("publish notification",
				zap.Int64("id", msg.ID),
				zap.String("routing_key", routingKey),
				zap.Error(err),
			)
			if err := d.store.MarkFailed(ctx, msg.ID, d.maxRetries); err != nil {
				d.logger.Error("mark notification failed", zap.Int64("id", msg.ID), zap.Error(err))
			}
			continue
		}

		publishedCount.WithLabelValues(string(msg.Type)).Inc()
		if err := d.store.MarkSent(ctx, msg.ID); err != nil {
			d.logger.Error("mark notification sent", zap.Int64("id", msg.ID), zap.Error(err))
		}
	}
}

// Deduper guards against double-publishing a message when multiple dispatcher
// replicas scan the same outbox. Redis outages fail open.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger}
}

// AcquireOnce reports whether this is the first delivery attempt for the key.
func (d *Deduper) AcquireOnce(ctx context.Context, scope string, id int64) bool {
	key := fmt.Sprintf("notify:dedup:%s:%d", scope, id)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("redis dedup check failed, allowing delivery",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}
	return ok
}
