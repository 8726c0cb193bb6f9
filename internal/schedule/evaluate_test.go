package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) Day { return MustParseDay(s) }

func ph(id int, start, end string) Phase {
	return Phase{ID: id, Start: day(start), End: day(end)}
}

func dep(id, pred, succ int, t DependencyType, lag int) Dependency {
	return Dependency{ID: id, PredecessorID: pred, SuccessorID: succ, Type: t, LagDays: lag}
}

func TestEvaluate_SelfConsistency(t *testing.T) {
	p := ph(1, "2025-01-05", "2025-01-06")

	vs := Evaluate(p, day("2025-01-05"), day("2025-01-05"), []Phase{p}, nil)
	require.Len(t, vs, 1)
	assert.Equal(t, ViolationSelf, vs[0].Kind)
	assert.Zero(t, vs[0].DependencyID)

	vs = Evaluate(p, day("2025-01-05"), day("2025-01-04"), []Phase{p}, nil)
	require.Len(t, vs, 1)

	assert.Empty(t, Evaluate(p, day("2025-01-05"), day("2025-01-06"), []Phase{p}, nil))
}

func TestEvaluate_IncomingBounds(t *testing.T) {
	pred := Phase{ID: 1, Name: "Design", Start: day("2025-01-01"), End: day("2025-01-10")}

	tests := []struct {
		name       string
		typ        DependencyType
		lag        int
		start, end string
		wantBound  string // empty means no violation
	}{
		{"FS gap of one day is legal", FinishToStart, 0, "2025-01-11", "2025-01-15", ""},
		{"FS same day as finish is not", FinishToStart, 0, "2025-01-10", "2025-01-15", "2025-01-11"},
		{"FS negative lag still needs a gap", FinishToStart, -3, "2025-01-10", "2025-01-15", "2025-01-11"},
		{"FS positive lag", FinishToStart, 3, "2025-01-12", "2025-01-15", "2025-01-13"},
		{"FS positive lag at bound", FinishToStart, 3, "2025-01-13", "2025-01-15", ""},
		{"SS equal starts", StartToStart, 0, "2025-01-01", "2025-01-03", ""},
		{"SS with lag", StartToStart, 2, "2025-01-02", "2025-01-05", "2025-01-03"},
		{"SS negative lag", StartToStart, -2, "2024-12-30", "2025-01-05", ""},
		{"FF equal ends", FinishToFinish, 0, "2025-01-03", "2025-01-10", ""},
		{"FF end too early", FinishToFinish, 1, "2025-01-03", "2025-01-10", "2025-01-11"},
		{"SF equal", StartToFinish, 0, "2024-12-20", "2025-01-01", ""},
		{"SF end too early", StartToFinish, 0, "2024-12-20", "2024-12-31", "2025-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			succ := Phase{ID: 2, Name: "Build", Start: day("2025-02-01"), End: day("2025-02-05")}
			phases := []Phase{pred, succ}
			deps := []Dependency{dep(10, 1, 2, tt.typ, tt.lag)}

			vs := Evaluate(succ, day(tt.start), day(tt.end), phases, deps)
			if tt.wantBound == "" {
				assert.Empty(t, vs)
				return
			}
			require.Len(t, vs, 1)
			v := vs[0]
			assert.Equal(t, ViolationIncoming, v.Kind)
			assert.Equal(t, 10, v.DependencyID)
			assert.Equal(t, 2, v.PhaseID)
			require.NotNil(t, v.Bound)
			assert.Equal(t, tt.wantBound, v.Bound.String())
			assert.Contains(t, v.Message, `"Design"`)
			assert.Contains(t, v.Message, tt.wantBound)
		})
	}
}

func TestEvaluate_OutgoingBounds(t *testing.T) {
	succ := Phase{ID: 2, Name: "Build", Start: day("2025-01-11"), End: day("2025-01-20")}

	tests := []struct {
		name       string
		typ        DependencyType
		lag        int
		start, end string
		wantBound  string
	}{
		{"FS finishing one day before is legal", FinishToStart, 0, "2025-01-01", "2025-01-10", ""},
		{"FS finishing on successor start", FinishToStart, 0, "2025-01-01", "2025-01-11", "2025-01-10"},
		{"FS lag applies on this side too", FinishToStart, 2, "2025-01-01", "2025-01-10", "2025-01-09"},
		{"SS", StartToStart, 0, "2025-01-12", "2025-01-15", "2025-01-11"},
		{"FF equal ends", FinishToFinish, 0, "2025-01-01", "2025-01-20", ""},
		{"FF", FinishToFinish, 0, "2025-01-01", "2025-01-21", "2025-01-20"},
		{"SF", StartToFinish, 5, "2025-01-16", "2025-01-25", "2025-01-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := Phase{ID: 1, Name: "Design", Start: day("2024-12-01"), End: day("2024-12-05")}
			deps := []Dependency{dep(7, 1, 2, tt.typ, tt.lag)}

			vs := Evaluate(pred, day(tt.start), day(tt.end), []Phase{pred, succ}, deps)
			if tt.wantBound == "" {
				assert.Empty(t, vs)
				return
			}
			require.Len(t, vs, 1)
			assert.Equal(t, ViolationOutgoing, vs[0].Kind)
			assert.Equal(t, tt.wantBound, vs[0].Bound.String())
			assert.Contains(t, vs[0].Message, `"Build"`)
		})
	}
}

func TestEvaluate_FinishToStartIsSymmetric(t *testing.T) {
	a := ph(1, "2025-01-01", "2025-01-10")
	b := ph(2, "2025-01-10", "2025-01-12")
	deps := []Dependency{dep(1, 1, 2, FinishToStart, 0)}
	phases := []Phase{a, b}

	m := BuildViolationMap(phases, deps)
	assert.True(t, m.Has(1))
	assert.True(t, m.Has(2))

	b.Start = day("2025-01-11")
	m = BuildViolationMap([]Phase{a, b}, deps)
	assert.Empty(t, m)
}

func TestEvaluate_MissingPhaseIsIgnored(t *testing.T) {
	a := ph(1, "2025-01-01", "2025-01-10")
	b := ph(2, "2025-01-05", "2025-01-08")
	phases := []Phase{a, b}
	base := []Dependency{dep(1, 1, 2, StartToStart, 0)}
	withMissing := append([]Dependency{dep(2, 99, 2, FinishToStart, 0), dep(3, 2, 98, FinishToStart, 0)}, base...)

	assert.Equal(t,
		Evaluate(b, b.Start, b.End, phases, base),
		Evaluate(b, b.Start, b.End, phases, withMissing),
	)
	assert.Empty(t, Evaluate(b, b.Start, b.End, phases, withMissing))
}

func TestEvaluate_IgnoresUnknownTypeAndSelfLoop(t *testing.T) {
	a := ph(1, "2025-01-01", "2025-01-10")
	b := ph(2, "2025-01-05", "2025-01-08")
	deps := []Dependency{
		dep(1, 1, 2, DependencyType("blocks"), 0),
		dep(2, 2, 2, FinishToStart, 0),
	}
	assert.Empty(t, Evaluate(b, b.Start, b.End, []Phase{a, b}, deps))
}

func TestEvaluate_PhaseNotYetInSet(t *testing.T) {
	a := ph(1, "2025-01-01", "2025-01-10")
	draft := ph(5, "2025-01-03", "2025-01-06")
	deps := []Dependency{dep(1, 1, 5, FinishToStart, 0)}

	vs := Evaluate(draft, draft.Start, draft.End, []Phase{a}, deps)
	require.Len(t, vs, 1)
	assert.Equal(t, "2025-01-11", vs[0].Bound.String())
}

func TestBuildViolationMap_Chain(t *testing.T) {
	phases, deps := chainFixture()

	m := BuildViolationMap(phases, deps)
	require.Len(t, m, 3)
	assert.Equal(t, ViolationOutgoing, m[1][0].Kind)
	assert.Len(t, m[2], 2)
	assert.Equal(t, ViolationIncoming, m[3][0].Kind)
	assert.Equal(t, 4, m.Count())
}

// chainFixture is A -> B -> C, all finish-to-start with lag 0, where B and C
// start before their predecessors finish.
func chainFixture() ([]Phase, []Dependency) {
	return []Phase{
			ph(1, "2025-01-01", "2025-01-10"),
			ph(2, "2025-01-05", "2025-01-08"),
			ph(3, "2025-01-06", "2025-01-09"),
		}, []Dependency{
			dep(1, 1, 2, FinishToStart, 0),
			dep(2, 2, 3, FinishToStart, 0),
		}
}
