package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	DBSlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 调度引擎耗时（秒）
	EngineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schedule_engine_duration_seconds",
			Help:    "Time spent in the scheduling engine per operation",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~0.4s
		},
		[]string{"operation"}, // operation: evaluate, correct, fix
	)

	// 每个项目当前的违规数量
	ProjectViolations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "project_violation_count",
			Help: "Number of dependency violations found at the last evaluation of a project",
		},
		[]string{"project_id"},
	)

	// 级联修正产生的 phase 更新数
	CascadeUpdateCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_phase_update_count",
			Help: "Total number of phase date changes produced by fix-all",
		},
		[]string{"status"}, // status: applied, failed
	)

	// 违规缓存命中
	ViolationCacheCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "violation_cache_count",
			Help: "Violation map cache lookups",
		},
		[]string{"result"}, // result: hit, miss, error
	)

	// 熔断器状态 0=closed 1=open 2=half_open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0 closed, 1 open, 2 half open)",
		},
		[]string{"name"},
	)

	// 消费者处理结果
	MQHandlerResultCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_handler_result_count",
			Help: "Consumer outcomes per routing key",
		},
		[]string{"routing_key", "result"}, // result: ok, duplicate, retry, dlq
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录一次慢查询
func IncrementSlowQuery() {
	DBSlowQueryCount.Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordEngineDuration 记录调度引擎耗时
func RecordEngineDuration(operation string, duration time.Duration) {
	EngineDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetProjectViolations 更新项目违规数
func SetProjectViolations(projectID string, count int) {
	ProjectViolations.WithLabelValues(projectID).Set(float64(count))
}

// AddCascadeUpdates 增加级联更新计数
func AddCascadeUpdates(status string, n int) {
	CascadeUpdateCount.WithLabelValues(status).Add(float64(n))
}

// IncrementViolationCache 记录缓存查询结果
func IncrementViolationCache(result string) {
	ViolationCacheCount.WithLabelValues(result).Inc()
}

// SetCircuitBreakerState 更新熔断器状态
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// IncrementMQHandlerResult 记录消费结果
func IncrementMQHandlerResult(routingKey, result string) {
	MQHandlerResultCount.WithLabelValues(routingKey, result).Inc()
}
