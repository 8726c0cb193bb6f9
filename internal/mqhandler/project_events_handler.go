package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	mqcontracts "phaseplanner/contracts/mq"
	"phaseplanner/internal/schedule"
	"phaseplanner/internal/service/planning"
	"phaseplanner/pkg/logger"
	"phaseplanner/pkg/metrics"
	"phaseplanner/pkg/util"
)

const defaultMaxRetries = 5

type Recomputer interface {
	Recompute(ctx context.Context, projectID int) (schedule.ViolationMap, error)
}

// Deduper is satisfied by *util.Deduper.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler string, eventKey string) bool
	Release(ctx context.Context, handler string, eventKey string)
}

// RetryCounter is satisfied by *util.RetryCounter.
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

// ProjectEventsHandler recomputes a project's violation map whenever one of
// its phases or dependencies changed, then announces the new map.
type ProjectEventsHandler struct {
	routingKey   string
	svc          Recomputer
	deduper      Deduper
	retryCounter RetryCounter
	publisher    Publisher
	maxRetries   int64
	logger       *zap.Logger
}

func NewProjectEventsHandler(
	routingKey string,
	svc Recomputer,
	deduper Deduper,
	retryCounter RetryCounter,
	publisher Publisher,
	maxRetries int64,
	logger *zap.Logger,
) *ProjectEventsHandler {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &ProjectEventsHandler{
		routingKey:   routingKey,
		svc:          svc,
		deduper:      deduper,
		retryCounter: retryCounter,
		publisher:    publisher,
		maxRetries:   maxRetries,
		logger:       logger.With(zap.String("routing_key", routingKey)),
	}
}

// handlerName keys the dedupe and retry entries per queue.
func (h *ProjectEventsHandler) handlerName() string {
	return "recompute:" + h.routingKey
}

// Handle is a mq.MessageHandler. A returned error makes the consumer nack and
// requeue; everything else is acked.
func (h *ProjectEventsHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var ev mqcontracts.ProjectEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return h.deadLetter(ctx, raw, util.Permanent("json_decode_error", err))
	}
	if ev.ProjectID <= 0 {
		return h.deadLetter(ctx, raw, util.Permanent("invalid_payload", fmt.Errorf("missing project_id")))
	}

	log = log.With(zap.Int("project_id", ev.ProjectID), zap.String("event_id", ev.EventID))

	// 没有 event_id 的消息不去重，重算本身是幂等的
	if ev.EventID != "" && !h.deduper.AcquireOnce(ctx, h.handlerName(), ev.EventID) {
		log.Info("Skipped duplicated project event")
		metrics.IncrementMQHandlerResult(h.routingKey, "duplicate")
		return nil
	}

	m, err := h.svc.Recompute(ctx, ev.ProjectID)
	if err != nil {
		if errors.Is(err, planning.ErrProjectNotFound) {
			// 项目已删除，没什么可算的
			log.Warn("Project gone, dropping event", zap.Error(err))
			metrics.IncrementMQHandlerResult(h.routingKey, "ok")
			return nil
		}
		return h.onFailure(ctx, log, raw, ev, err)
	}

	if err := h.retryCounter.Reset(ctx, h.retryKey(ev)); err != nil {
		log.Debug("Failed to reset retry count", zap.Error(err))
	}

	if h.routingKey == mqcontracts.RoutingKeyPhaseCorrected && m.Count() > 0 {
		log.Warn("Violations remain after correction", zap.Int("violation_count", m.Count()))
	}

	out := mqcontracts.ProjectViolationsUpdatedPayload{
		ProjectID:        ev.ProjectID,
		ViolationCount:   m.Count(),
		ViolatedPhaseIDs: violatedPhaseIDs(m),
		TriggeredBy:      h.routingKey,
		SourceEventID:    ev.EventID,
		ComputedAt:       time.Now().UTC(),
	}
	if err := h.publisher.PublishWithContext(ctx, mqcontracts.RoutingKeyProjectViolationsUpdated, out); err != nil {
		// 缓存已经刷新，通知丢了不影响正确性
		log.Warn("Failed to publish violations update", zap.Error(err))
	}

	log.Info("Project violations recomputed", zap.Int("violation_count", out.ViolationCount))
	metrics.IncrementMQHandlerResult(h.routingKey, "ok")
	return nil
}

func (h *ProjectEventsHandler) retryKey(ev mqcontracts.ProjectEvent) string {
	if ev.EventID == "" {
		return util.FormatRetryKey(h.handlerName(), fmt.Sprintf("project-%d", ev.ProjectID))
	}
	return util.FormatRetryKey(h.handlerName(), ev.EventID)
}

func (h *ProjectEventsHandler) onFailure(ctx context.Context, log *zap.Logger, raw json.RawMessage, ev mqcontracts.ProjectEvent, err error) error {
	isRetryable, errType := util.IsRetryableError(err)
	if !isRetryable {
		log.Error("Recompute failed (non-retryable)", zap.String("error_type", errType), zap.Error(err))
		return h.deadLetter(ctx, raw, err)
	}

	retryKey := h.retryKey(ev)
	retryCount, rerr := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if rerr != nil {
		log.Warn("Failed to get retry count, continuing anyway", zap.Error(rerr))
		retryCount = 1
	}

	if !util.ShouldRetry(retryCount, h.maxRetries, true) {
		log.Error("Max retries exceeded, sending to DLQ",
			zap.Int64("retry_count", retryCount),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		_ = h.retryCounter.Reset(ctx, retryKey)
		return h.deadLetter(ctx, raw, err)
	}

	log.Warn("Recompute failed, will retry",
		zap.Int64("retry_count", retryCount),
		zap.Int64("max_retries", h.maxRetries),
		zap.String("error_type", errType),
		zap.Error(err),
	)
	// 放开去重 key，否则重投的消息会被当成重复
	if ev.EventID != "" {
		h.deduper.Release(ctx, h.handlerName(), ev.EventID)
	}
	metrics.IncrementMQHandlerResult(h.routingKey, "retry")
	return err
}

// deadLetter parks the message on the DLQ and acks it. If the DLQ publish
// itself fails the message is requeued instead of being lost.
func (h *ProjectEventsHandler) deadLetter(ctx context.Context, raw json.RawMessage, cause error) error {
	if err := h.publisher.PublishToDLQ(ctx, h.routingKey, raw, cause.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err), zap.NamedError("cause", cause))
		return fmt.Errorf("dlq publish: %w", err)
	}
	h.logger.Warn("Message sent to DLQ", zap.Error(cause), zap.String("raw_payload", string(raw)))
	metrics.IncrementMQHandlerResult(h.routingKey, "dlq")
	return nil
}

func violatedPhaseIDs(m schedule.ViolationMap) []int {
	ids := make([]int, 0, len(m))
	for id, vs := range m {
		if len(vs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}
