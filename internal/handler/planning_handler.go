package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"phaseplanner/internal/model"
	"phaseplanner/internal/schedule"
	"phaseplanner/internal/service/planning"
	"phaseplanner/pkg/logger"
)

// PlanningService is implemented by *planning.Service.
type PlanningService interface {
	Phases(ctx context.Context, projectID int) ([]model.Phase, error)
	Dependencies(ctx context.Context, projectID int) ([]model.Dependency, error)
	Violations(ctx context.Context, projectID int) (schedule.ViolationMap, error)
	CheckPhase(ctx context.Context, phaseID int, start, end schedule.Day) (*planning.CheckResult, error)
	UpdatePhase(ctx context.Context, phaseID int, patch model.PhasePatch) (*planning.UpdateResult, error)
	FixAll(ctx context.Context, projectID int) (*planning.FixResult, error)
	CreateDependency(ctx context.Context, in planning.DependencyInput) (*model.Dependency, error)
	DeleteDependency(ctx context.Context, id int) error
}

type PlanningHandler struct {
	svc    PlanningService
	logger *zap.Logger
}

func NewPlanningHandler(svc PlanningService, logger *zap.Logger) *PlanningHandler {
	return &PlanningHandler{svc: svc, logger: logger}
}

type checkPhaseRequest struct {
	StartDate *schedule.Day `json:"start_date"`
	EndDate   *schedule.Day `json:"end_date"`
}

func idParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// writeError maps service errors to status codes. Unknown errors are logged
// and hidden behind a generic message.
func (h *PlanningHandler) writeError(c *gin.Context, op string, err error) {
	log := logger.WithTrace(c.Request.Context(), h.logger).With(zap.String("op", op))

	var cycle *schedule.CycleError
	switch {
	case errors.As(err, &cycle):
		log.Warn("Dependency cycle", zap.Ints("phase_ids", cycle.PhaseIDs))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "phase_ids": cycle.PhaseIDs})
	case errors.Is(err, planning.ErrDependencyCycle):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, planning.ErrProjectNotFound),
		errors.Is(err, planning.ErrPhaseNotFound),
		errors.Is(err, planning.ErrDependencyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, planning.ErrInvalidDependency),
		errors.Is(err, planning.ErrInvalidDates),
		errors.Is(err, planning.ErrProjectTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, planning.ErrFixInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *PlanningHandler) ListPhases(c *gin.Context) {
	projectID, ok := idParam(c, "id")
	if !ok {
		return
	}
	phases, err := h.svc.Phases(c.Request.Context(), projectID)
	if err != nil {
		h.writeError(c, "list_phases", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phases": phases})
}

func (h *PlanningHandler) ListDependencies(c *gin.Context) {
	projectID, ok := idParam(c, "id")
	if !ok {
		return
	}
	deps, err := h.svc.Dependencies(c.Request.Context(), projectID)
	if err != nil {
		h.writeError(c, "list_dependencies", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dependencies": deps})
}

func (h *PlanningHandler) GetViolations(c *gin.Context) {
	projectID, ok := idParam(c, "id")
	if !ok {
		return
	}
	m, err := h.svc.Violations(c.Request.Context(), projectID)
	if err != nil {
		h.writeError(c, "violations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"violations":      m,
		"violation_count": m.Count(),
	})
}

func (h *PlanningHandler) FixAll(c *gin.Context) {
	projectID, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.logger.Info("FixAll request received",
		zap.Int("project_id", projectID),
		zap.String("client_ip", c.ClientIP()),
	)

	res, err := h.svc.FixAll(c.Request.Context(), projectID)
	if err != nil {
		h.writeError(c, "fix_all", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PlanningHandler) CheckPhase(c *gin.Context) {
	phaseID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req checkPhaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	if req.StartDate == nil || req.EndDate == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date are required"})
		return
	}

	res, err := h.svc.CheckPhase(c.Request.Context(), phaseID, *req.StartDate, *req.EndDate)
	if err != nil {
		h.writeError(c, "check_phase", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PlanningHandler) UpdatePhase(c *gin.Context) {
	phaseID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var patch model.PhasePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	res, err := h.svc.UpdatePhase(c.Request.Context(), phaseID, patch)
	if err != nil {
		h.writeError(c, "update_phase", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PlanningHandler) CreateDependency(c *gin.Context) {
	var in planning.DependencyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	d, err := h.svc.CreateDependency(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, "create_dependency", err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *PlanningHandler) DeleteDependency(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteDependency(c.Request.Context(), id); err != nil {
		h.writeError(c, "delete_dependency", err)
		return
	}
	c.Status(http.StatusNoContent)
}
