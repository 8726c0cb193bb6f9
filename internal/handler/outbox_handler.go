package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"phaseplanner/pkg/outbox"
)

type OutboxReplayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

type FailedEventLister interface {
	GetFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error)
}

// OutboxHandler lets operators inspect and republish dead outbox events.
type OutboxHandler struct {
	events   FailedEventLister
	replayer OutboxReplayer
	logger   *zap.Logger
}

func NewOutboxHandler(events FailedEventLister, replayer OutboxReplayer, logger *zap.Logger) *OutboxHandler {
	return &OutboxHandler{events: events, replayer: replayer, logger: logger}
}

func limitParam(c *gin.Context) (int, bool) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return 0, false
		}
		limit = n
	}
	return limit, true
}

func (h *OutboxHandler) ListFailed(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	events, err := h.events.GetFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("ListFailed: failed to query outbox", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	if events == nil {
		events = []*outbox.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *OutboxHandler) Replay(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.replayer.ReplayEvent(c.Request.Context(), id); err != nil {
		if errors.Is(err, outbox.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Replay failed", zap.Int64("event_id", id), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "replay failed"})
		return
	}

	h.logger.Info("Outbox event replayed", zap.Int64("event_id", id))
	c.JSON(http.StatusOK, gin.H{"status": "replayed"})
}

// ReplayFailed republishes up to ?limit failed events. Events that fail again
// stay failed and are only counted.
func (h *OutboxHandler) ReplayFailed(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	n, err := h.replayer.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("ReplayFailed: failed to query outbox", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	h.logger.Info("Failed outbox events replayed", zap.Int("replayed", n), zap.Int("limit", limit))
	c.JSON(http.StatusOK, gin.H{"replayed": n})
}
