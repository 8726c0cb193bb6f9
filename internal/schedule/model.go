package schedule

import (
	"fmt"
	"strings"
)

// Span is an inclusive date range.
type Span struct {
	Start Day `json:"start_date" yaml:"start"`
	End   Day `json:"end_date" yaml:"end"`
}

// Valid reports whether the span ends strictly after it starts. Same-day
// phases are not allowed.
func (s Span) Valid() bool {
	return s.End > s.Start
}

// Duration is End - Start in whole days.
func (s Span) Duration() int {
	return s.End.Sub(s.Start)
}

// Shift moves both boundaries by n days.
func (s Span) Shift(n int) Span {
	return Span{Start: s.Start.AddDays(n), End: s.End.AddDays(n)}
}

func (s Span) String() string {
	return s.Start.String() + ".." + s.End.String()
}

// Phase is one stage of a project.
type Phase struct {
	ID    int    `json:"id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Start Day    `json:"start_date" yaml:"start"`
	End   Day    `json:"end_date" yaml:"end"`
}

func (p Phase) Span() Span {
	return Span{Start: p.Start, End: p.End}
}

// label is how a phase is named in violation messages.
func (p Phase) label() string {
	if p.Name != "" {
		return fmt.Sprintf("%q (#%d)", p.Name, p.ID)
	}
	return fmt.Sprintf("#%d", p.ID)
}

// DependencyType names which boundary of the predecessor constrains which
// boundary of the successor.
type DependencyType string

const (
	FinishToStart  DependencyType = "finish_to_start"
	StartToStart   DependencyType = "start_to_start"
	FinishToFinish DependencyType = "finish_to_finish"
	StartToFinish  DependencyType = "start_to_finish"
)

// ParseDependencyType accepts the canonical snake_case names, the CamelCase
// names and the two letter abbreviations (FS, SS, FF, SF).
func ParseDependencyType(s string) (DependencyType, error) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	switch key {
	case "finishtostart", "fs":
		return FinishToStart, nil
	case "starttostart", "ss":
		return StartToStart, nil
	case "finishtofinish", "ff":
		return FinishToFinish, nil
	case "starttofinish", "sf":
		return StartToFinish, nil
	}
	return "", fmt.Errorf("unknown dependency type %q", s)
}

// IsValid reports whether t is one of the four supported types.
func (t DependencyType) IsValid() bool {
	_, ok := relations[t]
	return ok
}

// Dependency is a directed edge predecessor -> successor.
type Dependency struct {
	ID            int            `json:"id" yaml:"id"`
	PredecessorID int            `json:"predecessor_phase_id" yaml:"predecessor"`
	SuccessorID   int            `json:"successor_phase_id" yaml:"successor"`
	Type          DependencyType `json:"type" yaml:"type"`
	LagDays       int            `json:"lag_days" yaml:"lag"`
}

// ViolationKind tells which side of a phase a violation was found on.
type ViolationKind string

const (
	ViolationSelf     ViolationKind = "self"
	ViolationIncoming ViolationKind = "incoming"
	ViolationOutgoing ViolationKind = "outgoing"
)

// Violation describes one breached bound of a phase. DependencyID is zero for
// self-consistency violations.
type Violation struct {
	PhaseID      int           `json:"phase_id" yaml:"phase_id"`
	DependencyID int           `json:"dependency_id,omitempty" yaml:"dependency_id,omitempty"`
	Kind         ViolationKind `json:"kind" yaml:"kind"`
	Message      string        `json:"message" yaml:"message"`
	// Bound is the earliest legal date for incoming violations and the
	// latest legal date for outgoing ones.
	Bound *Day `json:"bound,omitempty" yaml:"bound,omitempty"`
}

// ViolationMap groups violations by phase id. Phases without violations are
// absent.
type ViolationMap map[int][]Violation

// Count returns the total number of violations.
func (m ViolationMap) Count() int {
	n := 0
	for _, v := range m {
		n += len(v)
	}
	return n
}

// Has reports whether phaseID has at least one violation.
func (m ViolationMap) Has(phaseID int) bool {
	return len(m[phaseID]) > 0
}

// Correction is the result of Correct.
type Correction struct {
	Start   Day  `json:"start_date" yaml:"start"`
	End     Day  `json:"end_date" yaml:"end"`
	Changed bool `json:"changed" yaml:"changed"`
}

func (c Correction) Span() Span {
	return Span{Start: c.Start, End: c.End}
}

// PhaseUpdate is one entry of the ScheduleFix diff.
type PhaseUpdate struct {
	ID       int `json:"id" yaml:"id"`
	NewStart Day `json:"start_date" yaml:"start"`
	NewEnd   Day `json:"end_date" yaml:"end"`
}
