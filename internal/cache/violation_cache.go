package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"phaseplanner/internal/schedule"
	"phaseplanner/pkg/circuitbreaker"
	"phaseplanner/pkg/metrics"
)

// ViolationCache stores the last computed violation map of each project.
// Every Redis call goes through a circuit breaker so a slow or dead Redis
// degrades to "always miss" instead of stalling requests.
type ViolationCache struct {
	rdb    redis.Cmdable
	cb     *circuitbreaker.CircuitBreaker
	ttl    time.Duration
	logger *zap.Logger
}

func NewViolationCache(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *ViolationCache {
	cfg := circuitbreaker.DefaultConfig("violation_cache")
	cfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		metrics.SetCircuitBreakerState(name, int(to))
		logger.Warn("Circuit breaker state changed",
			zap.String("name", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &ViolationCache{
		rdb:    rdb,
		cb:     circuitbreaker.NewCircuitBreaker(cfg),
		ttl:    ttl,
		logger: logger,
	}
}

func key(projectID int) string {
	return fmt.Sprintf("violations:project:%d", projectID)
}

// Get returns the cached map. ok is false on a miss; err is set only when
// Redis could not be asked.
func (c *ViolationCache) Get(ctx context.Context, projectID int) (schedule.ViolationMap, bool, error) {
	var data []byte
	err := c.cb.Execute(func() error {
		b, err := c.rdb.Get(ctx, key(projectID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		data = b
		return err
	})
	if err != nil {
		metrics.IncrementViolationCache("error")
		return nil, false, err
	}
	if data == nil {
		metrics.IncrementViolationCache("miss")
		return nil, false, nil
	}

	var m schedule.ViolationMap
	if err := json.Unmarshal(data, &m); err != nil {
		// 旧格式或损坏的数据按未命中处理
		c.logger.Warn("Dropping undecodable cache entry",
			zap.Int("project_id", projectID),
			zap.Error(err),
		)
		metrics.IncrementViolationCache("miss")
		return nil, false, nil
	}
	if m == nil {
		m = schedule.ViolationMap{}
	}
	metrics.IncrementViolationCache("hit")
	return m, true, nil
}

func (c *ViolationCache) Set(ctx context.Context, projectID int, m schedule.ViolationMap) error {
	if m == nil {
		m = schedule.ViolationMap{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode violation map: %w", err)
	}
	return c.cb.Execute(func() error {
		return c.rdb.Set(ctx, key(projectID), data, c.ttl).Err()
	})
}

func (c *ViolationCache) Invalidate(ctx context.Context, projectID int) error {
	return c.cb.Execute(func() error {
		return c.rdb.Del(ctx, key(projectID)).Err()
	})
}
