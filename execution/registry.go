// Package execution tracks the per-thread step counter and phase of in-flight
// runs. The stream transcoder reads it to enrich frame metadata.
package execution

import (
	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/internal/threadmap"
)

// Node names mapped to phases.
const (
	NodePlanner     = "planner"
	NodeExecute     = "execute"
	NodeReplan      = "replan"
	NodeFinalReport = "final_report"
	NodeCallModel   = "call_model"
	NodeTools       = "tools"
)

var nodePhases = map[string]core.Phase{
	NodePlanner:     core.PhasePlanning,
	NodeExecute:     core.PhaseExecuting,
	NodeReplan:      core.PhaseReplanning,
	NodeFinalReport: core.PhaseReporting,
	NodeCallModel:   core.PhaseReasoning,
	NodeTools:       core.PhaseActing,
}

// PhaseFor returns the phase for a node name. Unknown nodes keep the phase
// unchanged, reported by ok=false.
func PhaseFor(node string) (core.Phase, bool) {
	p, ok := nodePhases[node]
	return p, ok
}

// NodeFor is the inverse of PhaseFor.
func NodeFor(phase core.Phase) (string, bool) {
	for node, p := range nodePhases {
		if p == phase {
			return node, true
		}
	}
	return "", false
}

// Options configures a Registry.
type Options struct {
	Policy threadmap.Policy
}

// Registry maps thread ids to their ExecutionState.
type Registry struct {
	states *threadmap.Map[core.ExecutionState]
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{states: threadmap.New[core.ExecutionState](opts.Policy)}
}

// Reset starts a new run for threadID at step 0 in the initial phase.
func (r *Registry) Reset(threadID string) core.ExecutionState {
	return r.states.Update(threadID, func(core.ExecutionState, bool) core.ExecutionState {
		return core.ExecutionState{Step: 0, Phase: core.PhaseInitial}
	})
}

// Enter records that threadID entered node: the step advances by one and the
// phase follows the node.
func (r *Registry) Enter(threadID, node string) core.ExecutionState {
	return r.states.Update(threadID, func(cur core.ExecutionState, exists bool) core.ExecutionState {
		if !exists {
			cur.Phase = core.PhaseInitial
		}
		cur.Step++
		if p, ok := PhaseFor(node); ok {
			cur.Phase = p
		}
		return cur
	})
}

// Get returns the current state for threadID. Unknown threads report the
// initial state.
func (r *Registry) Get(threadID string) core.ExecutionState {
	s, ok := r.states.Get(threadID)
	if !ok {
		return core.ExecutionState{Phase: core.PhaseInitial}
	}
	return s
}
