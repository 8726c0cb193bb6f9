package schedule

// ScheduleFix computes one consistent set of corrected dates for the whole
// phase set and returns only the phases whose dates change.
//
// Phases are visited in topological order. A phase is corrected when it has a
// recorded violation or when one of its predecessors moved; its new dates are
// reduced over all incoming edges using the predecessors' corrected dates.
// Each correction is pushed forward to direct successors straight away.
// Phases only ever move later and keep their duration.
//
// A dependency cycle aborts the run with a *CycleError. The caller must apply
// the updates and re-evaluate fresh data afterwards.
func ScheduleFix(phases []Phase, deps []Dependency, violations ViolationMap) ([]PhaseUpdate, error) {
	g := newGraph(phases, deps)
	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}

	corrected := make(map[int]Span)
	dirty := make(map[int]bool)
	spanOf := func(id int) Span {
		if s, ok := corrected[id]; ok {
			return s
		}
		return g.phases[id].Span()
	}

	for _, id := range order {
		if !violations.Has(id) && !dirty[id] {
			continue
		}

		current := spanOf(id)
		next := g.correct(id, current, spanOf)
		if next != current {
			corrected[id] = next
		}

		for _, e := range g.outgoing[id] {
			succID := e.dep.SuccessorID
			succ := spanOf(succID)
			b := e.rel.successorBound(spanOf(id), e.dep.LagDays)
			if succ.edge(b.Edge) >= b.Day {
				continue
			}
			corrected[succID] = succ.Shift(b.Day.Sub(succ.edge(b.Edge)))
			dirty[succID] = true
		}
	}

	var updates []PhaseUpdate
	for _, id := range order {
		s, ok := corrected[id]
		if !ok || s == g.phases[id].Span() {
			continue
		}
		updates = append(updates, PhaseUpdate{ID: id, NewStart: s.Start, NewEnd: s.End})
	}
	return updates, nil
}
