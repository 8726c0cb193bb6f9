package schedule

// Edge selects a boundary of a span.
type Edge int

const (
	EdgeStart Edge = iota
	EdgeEnd
)

func (e Edge) String() string {
	if e == EdgeEnd {
		return "end"
	}
	return "start"
}

// Bound is a constraint on one boundary of a phase.
type Bound struct {
	Edge Edge
	Day  Day
}

func (s Span) edge(e Edge) Day {
	if e == EdgeEnd {
		return s.End
	}
	return s.Start
}

// relation holds the two bound formulas of a dependency type. successorBound
// is the earliest legal date for the constrained successor boundary given the
// predecessor's dates; predecessorBound is the latest legal date for the
// constrained predecessor boundary given the successor's dates.
type relation interface {
	successorBound(pred Span, lag int) Bound
	predecessorBound(succ Span, lag int) Bound
	label() string
}

var relations = map[DependencyType]relation{
	FinishToStart:  finishToStart{},
	StartToStart:   startToStart{},
	FinishToFinish: finishToFinish{},
	StartToFinish:  startToFinish{},
}

func relationOf(t DependencyType) (relation, bool) {
	r, ok := relations[t]
	return r, ok
}

// EffectiveLag is the lag a dependency is enforced with. Finish-to-start edges
// always keep at least one free day between the phases.
func EffectiveLag(t DependencyType, lag int) int {
	if t == FinishToStart && lag < 1 {
		return 1
	}
	return lag
}

type finishToStart struct{}

func (finishToStart) successorBound(pred Span, lag int) Bound {
	return Bound{Edge: EdgeStart, Day: pred.End.AddDays(EffectiveLag(FinishToStart, lag))}
}

func (finishToStart) predecessorBound(succ Span, lag int) Bound {
	return Bound{Edge: EdgeEnd, Day: succ.Start.AddDays(-EffectiveLag(FinishToStart, lag))}
}

func (finishToStart) label() string { return "finish-to-start" }

type startToStart struct{}

func (startToStart) successorBound(pred Span, lag int) Bound {
	return Bound{Edge: EdgeStart, Day: pred.Start.AddDays(lag)}
}

func (startToStart) predecessorBound(succ Span, lag int) Bound {
	return Bound{Edge: EdgeStart, Day: succ.Start.AddDays(-lag)}
}

func (startToStart) label() string { return "start-to-start" }

type finishToFinish struct{}

func (finishToFinish) successorBound(pred Span, lag int) Bound {
	return Bound{Edge: EdgeEnd, Day: pred.End.AddDays(lag)}
}

func (finishToFinish) predecessorBound(succ Span, lag int) Bound {
	return Bound{Edge: EdgeEnd, Day: succ.End.AddDays(-lag)}
}

func (finishToFinish) label() string { return "finish-to-finish" }

type startToFinish struct{}

func (startToFinish) successorBound(pred Span, lag int) Bound {
	return Bound{Edge: EdgeEnd, Day: pred.Start.AddDays(lag)}
}

func (startToFinish) predecessorBound(succ Span, lag int) Bound {
	return Bound{Edge: EdgeStart, Day: succ.End.AddDays(-lag)}
}

func (startToFinish) label() string { return "start-to-finish" }
