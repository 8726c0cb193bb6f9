package mq

import "time"

// Routing keys
const (
	RoutingKeyPhaseCorrected           = "phase.corrected"
	RoutingKeyPhaseUpdated             = "phase.updated"
	RoutingKeyDependencyChanged        = "dependency.changed"
	RoutingKeyProjectViolationsUpdated = "project.violations.updated"
)

// PhaseCorrectedPayload is written when fix-all applied a batch of new dates.
type PhaseCorrectedPayload struct {
	EventID     string       `json:"event_id"`
	ProjectID   int          `json:"project_id"`
	Corrections []PhaseDates `json:"corrections"`
	CorrectedAt time.Time    `json:"corrected_at"`
	TraceID     string       `json:"trace_id,omitempty"`
}

type PhaseDates struct {
	PhaseID   int    `json:"phase_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// PhaseUpdatedPayload 单个阶段被用户编辑
type PhaseUpdatedPayload struct {
	EventID   string     `json:"event_id"`
	ProjectID int        `json:"project_id"`
	Phase     PhaseDates `json:"phase"`
	UpdatedAt time.Time  `json:"updated_at"`
	TraceID   string     `json:"trace_id,omitempty"`
}

// DependencyChangedPayload 依赖被创建或删除
type DependencyChangedPayload struct {
	EventID       string    `json:"event_id"`
	ProjectID     int       `json:"project_id"`
	DependencyID  int       `json:"dependency_id"`
	Action        string    `json:"action"` // created / deleted
	PredecessorID int       `json:"predecessor_phase_id"`
	SuccessorID   int       `json:"successor_phase_id"`
	Type          string    `json:"dep_type"`
	LagDays       int       `json:"lag_days"`
	ChangedAt     time.Time `json:"changed_at"`
	TraceID       string    `json:"trace_id,omitempty"`
}

const (
	DependencyActionCreated = "created"
	DependencyActionDeleted = "deleted"
)

// ProjectViolationsUpdatedPayload is published by the worker after it
// recomputed a project's violation map.
type ProjectViolationsUpdatedPayload struct {
	ProjectID        int       `json:"project_id"`
	ViolationCount   int       `json:"violation_count"`
	ViolatedPhaseIDs []int     `json:"violated_phase_ids"`
	TriggeredBy      string    `json:"triggered_by"`
	SourceEventID    string    `json:"source_event_id,omitempty"`
	ComputedAt       time.Time `json:"computed_at"`
}

// ProjectEvent is the common part of every event the worker consumes.
type ProjectEvent struct {
	EventID   string `json:"event_id"`
	ProjectID int    `json:"project_id"`
}
