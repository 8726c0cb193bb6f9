package schedule

// Correct returns the earliest dates at or after the proposal that satisfy
// every incoming dependency of phase, keeping the proposed duration (at least
// one day). All start bounds are reduced to their latest value and all end
// bounds likewise before anything moves, so the answer does not depend on the
// order of deps. Outgoing dependencies are not considered.
func Correct(phase Phase, proposedStart, proposedEnd Day, phases []Phase, deps []Dependency) Correction {
	g := newGraph(withPhase(phases, phase), deps)
	proposed := Span{Start: proposedStart, End: proposedEnd}
	fixed := g.correct(phase.ID, proposed, g.persisted)
	return Correction{
		Start:   fixed.Start,
		End:     fixed.End,
		Changed: fixed != proposed,
	}
}

func (g *graph) persisted(id int) Span {
	return g.phases[id].Span()
}

// correct applies the incoming bounds of id to span, reading predecessor
// dates through spanOf.
func (g *graph) correct(id int, span Span, spanOf func(int) Span) Span {
	duration := span.Duration()
	if duration < 1 {
		duration = 1
		span.End = span.Start.AddDays(1)
	}

	var (
		minStart, minEnd Day
		hasStart, hasEnd bool
	)
	for _, e := range g.incoming[id] {
		b := e.rel.successorBound(spanOf(e.dep.PredecessorID), e.dep.LagDays)
		switch b.Edge {
		case EdgeStart:
			if !hasStart || b.Day > minStart {
				minStart, hasStart = b.Day, true
			}
		case EdgeEnd:
			if !hasEnd || b.Day > minEnd {
				minEnd, hasEnd = b.Day, true
			}
		}
	}

	if hasStart && span.Start < minStart {
		span = Span{Start: minStart, End: minStart.AddDays(duration)}
	}
	if hasEnd && span.End < minEnd {
		span = Span{Start: minEnd.AddDays(-duration), End: minEnd}
	}
	return span
}
