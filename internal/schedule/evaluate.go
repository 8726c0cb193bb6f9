package schedule

import "fmt"

// Evaluate returns every bound the proposed dates of phase break: the
// self-consistency check, then incoming edges (phase is the successor), then
// outgoing edges (phase is the predecessor). The other endpoint of each edge
// is read from phases; edges to phases that are not there are ignored.
func Evaluate(phase Phase, proposedStart, proposedEnd Day, phases []Phase, deps []Dependency) []Violation {
	g := newGraph(withPhase(phases, phase), deps)
	return g.evaluate(phase, Span{Start: proposedStart, End: proposedEnd})
}

// BuildViolationMap evaluates every phase at its current dates.
func BuildViolationMap(phases []Phase, deps []Dependency) ViolationMap {
	g := newGraph(phases, deps)
	m := make(ViolationMap)
	for _, id := range g.order {
		p := g.phases[id]
		if vs := g.evaluate(p, p.Span()); len(vs) > 0 {
			m[id] = vs
		}
	}
	return m
}

func withPhase(phases []Phase, phase Phase) []Phase {
	for _, p := range phases {
		if p.ID == phase.ID {
			return phases
		}
	}
	out := make([]Phase, 0, len(phases)+1)
	out = append(out, phases...)
	return append(out, phase)
}

func (g *graph) evaluate(phase Phase, span Span) []Violation {
	var out []Violation

	if !span.Valid() {
		out = append(out, Violation{
			PhaseID: phase.ID,
			Kind:    ViolationSelf,
			Message: fmt.Sprintf("end date %s must be after start date %s", span.End, span.Start),
		})
	}

	for _, e := range g.incoming[phase.ID] {
		pred := g.phases[e.dep.PredecessorID]
		b := e.rel.successorBound(pred.Span(), e.dep.LagDays)
		if span.edge(b.Edge) >= b.Day {
			continue
		}
		day := b.Day
		out = append(out, Violation{
			PhaseID:      phase.ID,
			DependencyID: e.dep.ID,
			Kind:         ViolationIncoming,
			Message: fmt.Sprintf("%s must be on or after %s: %s dependency on %s, lag %d",
				b.Edge, b.Day, e.rel.label(), pred.label(), e.dep.LagDays),
			Bound: &day,
		})
	}

	for _, e := range g.outgoing[phase.ID] {
		succ := g.phases[e.dep.SuccessorID]
		b := e.rel.predecessorBound(succ.Span(), e.dep.LagDays)
		if span.edge(b.Edge) <= b.Day {
			continue
		}
		day := b.Day
		out = append(out, Violation{
			PhaseID:      phase.ID,
			DependencyID: e.dep.ID,
			Kind:         ViolationOutgoing,
			Message: fmt.Sprintf("%s must be on or before %s: %s dependency of %s, lag %d",
				b.Edge, b.Day, e.rel.label(), succ.label(), e.dep.LagDays),
			Bound: &day,
		})
	}

	return out
}
