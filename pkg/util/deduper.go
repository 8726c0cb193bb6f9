package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb redis.Cmdable, ttl time.Duration) *Deduper {
	return NewDeduperWithLogger(rdb, ttl, zap.NewNop())
}

// NewDeduperWithLogger creates a deduper with logger support
func NewDeduperWithLogger(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func dedupKey(handler, eventKey string) string {
	return fmt.Sprintf("dedup:%s:%s", handler, eventKey)
}

// AcquireOnce tries to acquire a dedup marker for handler + eventKey.
// It returns true the first time an event is seen and false for duplicates.
func (d *Deduper) AcquireOnce(ctx context.Context, handler string, eventKey string) bool {
	key := dedupKey(handler, eventKey)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理，重复计算是幂等的
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("event_key", eventKey),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("event_key", eventKey),
			zap.String("dedup_key", key),
		)
	}
	return ok
}

// Release forgets an event so a redelivery is processed again. Handlers call
// it when they give the message back to the broker for a retry.
func (d *Deduper) Release(ctx context.Context, handler string, eventKey string) {
	if err := d.rdb.Del(ctx, dedupKey(handler, eventKey)).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("handler", handler),
			zap.String("event_key", eventKey),
			zap.Error(err),
		)
	}
}
