package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalOrder(t *testing.T) {
	phases := []Phase{
		ph(5, "2025-01-09", "2025-01-10"),
		ph(4, "2025-01-01", "2025-01-02"),
		ph(3, "2025-01-01", "2025-01-02"),
		ph(2, "2025-01-20", "2025-01-22"),
	}
	deps := []Dependency{dep(1, 2, 5, FinishToStart, 0)}

	order, err := TopologicalOrder(phases, deps)
	require.NoError(t, err)
	// 3 and 4 tie on start and fall back to id; 5 waits for 2.
	assert.Equal(t, []int{3, 4, 2, 5}, order)
}

func TestWouldCreateCycle(t *testing.T) {
	deps := []Dependency{
		dep(1, 1, 2, FinishToStart, 0),
		dep(2, 2, 3, StartToStart, 0),
	}

	tests := []struct {
		name      string
		candidate Dependency
		want      bool
	}{
		{"closing the chain", dep(0, 3, 1, FinishToStart, 0), true},
		{"back edge", dep(0, 2, 1, FinishToFinish, 0), true},
		{"shortcut", dep(0, 1, 3, FinishToStart, 0), false},
		{"new phase", dep(0, 3, 4, FinishToStart, 0), false},
		{"self loop", dep(0, 2, 2, FinishToStart, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WouldCreateCycle(deps, tt.candidate))
		})
	}
}

func TestParseDependencyType(t *testing.T) {
	for in, want := range map[string]DependencyType{
		"finish_to_start":  FinishToStart,
		"FinishToStart":    FinishToStart,
		"SS":               StartToStart,
		"finish-to-finish": FinishToFinish,
		"sf":               StartToFinish,
	} {
		got, err := ParseDependencyType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
		assert.True(t, got.IsValid())
	}

	_, err := ParseDependencyType("blocks")
	assert.Error(t, err)
	assert.False(t, DependencyType("blocks").IsValid())
}
