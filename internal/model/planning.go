package model

import (
	"time"

	"phaseplanner/internal/schedule"
)

type Project struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Phase is a row of the phases table.
type Phase struct {
	ID        int          `json:"id"`
	ProjectID int          `json:"project_id"`
	Name      string       `json:"name"`
	StartDate schedule.Day `json:"start_date"`
	EndDate   schedule.Day `json:"end_date"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (p Phase) Schedule() schedule.Phase {
	return schedule.Phase{ID: p.ID, Name: p.Name, Start: p.StartDate, End: p.EndDate}
}

// Dependency is a row of the phase_dependencies table.
type Dependency struct {
	ID            int                     `json:"id"`
	ProjectID     int                     `json:"project_id"`
	PredecessorID int                     `json:"predecessor_phase_id"`
	SuccessorID   int                     `json:"successor_phase_id"`
	Type          schedule.DependencyType `json:"dep_type"`
	LagDays       int                     `json:"lag_days"`
	CreatedAt     time.Time               `json:"created_at"`
}

func (d Dependency) Schedule() schedule.Dependency {
	return schedule.Dependency{
		ID:            d.ID,
		PredecessorID: d.PredecessorID,
		SuccessorID:   d.SuccessorID,
		Type:          d.Type,
		LagDays:       d.LagDays,
	}
}

// NewDependency is the input of a dependency insert.
type NewDependency struct {
	ProjectID     int
	PredecessorID int
	SuccessorID   int
	Type          schedule.DependencyType
	LagDays       int
}

// PhasePatch is a partial phase update; nil fields are left alone.
type PhasePatch struct {
	Name      *string       `json:"name,omitempty"`
	StartDate *schedule.Day `json:"start_date,omitempty"`
	EndDate   *schedule.Day `json:"end_date,omitempty"`
}

func (p PhasePatch) Empty() bool {
	return p.Name == nil && p.StartDate == nil && p.EndDate == nil
}

// PhaseCorrection is one row of a bulk date update.
type PhaseCorrection struct {
	ID        int          `json:"id"`
	StartDate schedule.Day `json:"start_date"`
	EndDate   schedule.Day `json:"end_date"`
}

func SchedulePhases(phases []Phase) []schedule.Phase {
	out := make([]schedule.Phase, len(phases))
	for i, p := range phases {
		out[i] = p.Schedule()
	}
	return out
}

func ScheduleDependencies(deps []Dependency) []schedule.Dependency {
	out := make([]schedule.Dependency, len(deps))
	for i, d := range deps {
		out[i] = d.Schedule()
	}
	return out
}

func CorrectionsFromUpdates(updates []schedule.PhaseUpdate) []PhaseCorrection {
	out := make([]PhaseCorrection, len(updates))
	for i, u := range updates {
		out[i] = PhaseCorrection{ID: u.ID, StartDate: u.NewStart, EndDate: u.NewEnd}
	}
	return out
}
