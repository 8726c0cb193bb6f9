package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"phaseplanner/pkg/trace"
)

// InsertEventInTx marshals payload and queues it in the caller's transaction.
// The trace id of ctx, if any, travels in the payload as "trace_id" so the
// dispatcher can restore it.
func InsertEventInTx(
	ctx context.Context,
	tx pgx.Tx,
	repo *Repository,
	aggregateType string,
	aggregateID *int64,
	routingKey string,
	payload any,
) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	payloadJSON = withTraceID(ctx, payloadJSON)

	return repo.InsertEvent(ctx, tx, &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       payloadJSON,
		Status:        StatusPending,
	})
}

func withTraceID(ctx context.Context, payload json.RawMessage) json.RawMessage {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return payload
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil || m == nil {
		return payload
	}
	if _, ok := m["trace_id"]; ok {
		return payload
	}
	m["trace_id"] = traceID
	out, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return out
}

// traceContext 从 payload 中提取 trace_id（如果存在）
func traceContext(ctx context.Context, payload json.RawMessage) context.Context {
	var m struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return ctx
	}
	if m.TraceID != "" {
		ctx = trace.WithContext(ctx, m.TraceID)
	}
	return ctx
}

// NewEventID returns a random id consumers use to drop redeliveries.
func NewEventID() string {
	return trace.GenerateTraceID()
}
