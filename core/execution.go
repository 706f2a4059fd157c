package core

// Phase names the state-machine node a thread's in-flight run is in.
type Phase string

const (
	PhaseInitial    Phase = "initial"
	PhasePlanning   Phase = "planning"
	PhaseExecuting  Phase = "executing"
	PhaseReplanning Phase = "replanning"
	PhaseReporting  Phase = "reporting"
	PhaseReasoning  Phase = "reasoning"
	PhaseActing     Phase = "acting"
)

// ExecutionState is the per-thread step counter and phase tag.
type ExecutionState struct {
	Step  int   `json:"step"`
	Phase Phase `json:"phase"`
}
