package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// PermanentError marks an error that retrying cannot fix.
type PermanentError struct {
	Kind string
	Err  error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so IsRetryableError reports it as non retryable.
func Permanent(kind string, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Kind: kind, Err: err}
}

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		return false, perm.Kind
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	if errors.Is(err, pgx.ErrNoRows) {
		// 项目或阶段已被删除 - 不可重试
		return false, "not_found"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgError(pgErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	if errors.Is(err, redis.ErrClosed) {
		return true, "redis_closed"
	}

	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) {
		if amqpErr.Recover {
			return true, "mq_error"
		}
		return false, "mq_error"
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true, "mq_closed"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset") {
		return true, "connection_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// classifyPgError 按 SQLSTATE 分类
func classifyPgError(pgErr *pgconn.PgError) (bool, string) {
	switch {
	case pgErr.Code == "23505":
		return false, "duplicate_key"
	case pgErr.Code == "23503":
		return false, "foreign_key_violation"
	case pgErr.Code == "40001" || pgErr.Code == "40P01":
		return true, "serialization_failure"
	case strings.HasPrefix(pgErr.Code, "08"):
		return true, "db_connection_error"
	case strings.HasPrefix(pgErr.Code, "57"):
		return true, "db_unavailable"
	case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
		return false, "data_error"
	default:
		return false, "db_error"
	}
}

// ShouldRetry checks if an error should be retried based on retry count
func ShouldRetry(retryCount int64, maxRetries int64, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount <= maxRetries
}
