package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/stepmesh/core"
)

func TestRegistry_EnterAdvancesStepAndPhase(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, core.ExecutionState{Phase: core.PhaseInitial}, r.Get("t1"))

	r.Reset("t1")
	s := r.Enter("t1", NodePlanner)
	assert.Equal(t, core.ExecutionState{Step: 1, Phase: core.PhasePlanning}, s)

	s = r.Enter("t1", NodeExecute)
	assert.Equal(t, 2, s.Step)
	assert.Equal(t, core.PhaseExecuting, s.Phase)

	s = r.Enter("t1", "custom")
	assert.Equal(t, 3, s.Step)
	assert.Equal(t, core.PhaseExecuting, s.Phase)

	assert.Equal(t, core.ExecutionState{Step: 0, Phase: core.PhaseInitial}, r.Reset("t1"))
}

func TestRegistry_MonotonicAndIsolated(t *testing.T) {
	r := NewRegistry()
	r.Reset("a")
	r.Reset("b")

	prev := 0
	for _, node := range []string{NodeCallModel, NodeTools, NodeCallModel} {
		s := r.Enter("a", node)
		assert.GreaterOrEqual(t, s.Step, prev)
		prev = s.Step
	}
	assert.Equal(t, core.PhaseReasoning, r.Get("a").Phase)
	assert.Equal(t, 0, r.Get("b").Step)
}

func TestPhaseMapping(t *testing.T) {
	for node, phase := range nodePhases {
		got, ok := NodeFor(phase)
		assert.True(t, ok)
		assert.Equal(t, node, got)
	}
	_, ok := NodeFor(core.PhaseInitial)
	assert.False(t, ok)
	_, ok = PhaseFor("unknown")
	assert.False(t, ok)
}
