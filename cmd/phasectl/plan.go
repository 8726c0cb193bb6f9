package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"phaseplanner/internal/schedule"
)

// Plan is the file format phasectl works on:
//
//	phases:
//	  - {id: 1, name: Design, start: 2025-01-01, end: 2025-01-10}
//	dependencies:
//	  - {predecessor: 1, successor: 2, type: FS, lag: 0}
type Plan struct {
	Phases       []schedule.Phase `yaml:"phases" json:"phases"`
	Dependencies []planDependency `yaml:"dependencies" json:"dependencies"`
}

// planDependency accepts any spelling of the type and an optional id.
type planDependency struct {
	ID          int    `yaml:"id,omitempty" json:"id,omitempty"`
	Predecessor int    `yaml:"predecessor" json:"predecessor"`
	Successor   int    `yaml:"successor" json:"successor"`
	Type        string `yaml:"type" json:"type"`
	Lag         int    `yaml:"lag,omitempty" json:"lag,omitempty"`
}

func loadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return parsePlan(data)
}

func parsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) validate() error {
	var errs []error
	seen := make(map[int]bool, len(p.Phases))
	for _, ph := range p.Phases {
		if ph.ID <= 0 {
			errs = append(errs, fmt.Errorf("phase %q: id must be positive", ph.Name))
			continue
		}
		if seen[ph.ID] {
			errs = append(errs, fmt.Errorf("phase %d: duplicate id", ph.ID))
		}
		seen[ph.ID] = true
	}
	for i, d := range p.Dependencies {
		if _, err := schedule.ParseDependencyType(d.Type); err != nil {
			errs = append(errs, fmt.Errorf("dependency #%d: %w", i+1, err))
		}
		if d.Predecessor == d.Successor {
			errs = append(errs, fmt.Errorf("dependency #%d: phase %d depends on itself", i+1, d.Predecessor))
		}
	}
	return errors.Join(errs...)
}

// engineDependencies converts the file entries. Entries without an id are
// numbered by position.
func (p *Plan) engineDependencies() []schedule.Dependency {
	out := make([]schedule.Dependency, 0, len(p.Dependencies))
	for i, d := range p.Dependencies {
		t, _ := schedule.ParseDependencyType(d.Type)
		id := d.ID
		if id == 0 {
			id = i + 1
		}
		out = append(out, schedule.Dependency{
			ID:            id,
			PredecessorID: d.Predecessor,
			SuccessorID:   d.Successor,
			Type:          t,
			LagDays:       d.Lag,
		})
	}
	return out
}

func (p *Plan) phase(id int) (schedule.Phase, bool) {
	for _, ph := range p.Phases {
		if ph.ID == id {
			return ph, true
		}
	}
	return schedule.Phase{}, false
}

// apply returns the phases with the diff written over them.
func (p *Plan) apply(updates []schedule.PhaseUpdate) []schedule.Phase {
	byID := make(map[int]schedule.PhaseUpdate, len(updates))
	for _, u := range updates {
		byID[u.ID] = u
	}
	out := make([]schedule.Phase, len(p.Phases))
	for i, ph := range p.Phases {
		if u, ok := byID[ph.ID]; ok {
			ph.Start, ph.End = u.NewStart, u.NewEnd
		}
		out[i] = ph
	}
	return out
}
