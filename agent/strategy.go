package agent

import (
	"context"

	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/graph"
)

// Outcome is the strategy-independent result of a run segment.
type Outcome struct {
	// Response is the final assistant message. It is empty while the run is
	// suspended.
	Response core.Content
	Status   graph.Status
	Handle   *graph.Handle
	Steps    int
}

// Interrupted reports whether the run suspended.
func (o Outcome) Interrupted() bool { return o.Status == graph.StatusInterrupted }

// Strategy is an orchestration strategy the engine can drive.
type Strategy interface {
	// Name returns the strategy name used in configuration.
	Name() string
	// Start runs the strategy over the assembled conversation.
	Start(ctx context.Context, threadID string, messages []core.Content, emit graph.Emitter) (Outcome, error)
	// Continue resumes a suspended run.
	Continue(ctx context.Context, h graph.Handle, emit graph.Emitter) (Outcome, error)
	// Pending returns the handle of the suspended run of threadID.
	Pending(threadID string) (graph.Handle, bool)
}

// Strategy names.
const (
	StrategyReact       = "react"
	StrategyPlanExecute = "plan-execute"
)

var (
	_ Strategy = (*React)(nil)
	_ Strategy = (*PlanExecute)(nil)
)

// Name implements Strategy.
func (r *React) Name() string { return StrategyReact }

// Start implements Strategy.
func (r *React) Start(ctx context.Context, threadID string, messages []core.Content, emit graph.Emitter) (Outcome, error) {
	res, err := r.Run(ctx, threadID, messages, emit)
	return reactOutcome(res), err
}

// Continue implements Strategy.
func (r *React) Continue(ctx context.Context, h graph.Handle, emit graph.Emitter) (Outcome, error) {
	res, err := r.Resume(ctx, h, emit)
	return reactOutcome(res), err
}

// Pending implements Strategy.
func (r *React) Pending(threadID string) (graph.Handle, bool) {
	h, _, err := r.graph.Pending(threadID)
	return h, err == nil
}

func reactOutcome(res graph.Result[*ReactState]) Outcome {
	out := Outcome{Status: res.Status, Handle: res.Handle, Steps: res.Steps}
	if res.State != nil && res.Status == graph.StatusCompleted {
		if msg, ok := res.State.LastAssistant(); ok {
			out.Response = msg
		}
	}
	return out
}

// Name implements Strategy.
func (p *PlanExecute) Name() string { return StrategyPlanExecute }

// Start implements Strategy.
func (p *PlanExecute) Start(ctx context.Context, threadID string, messages []core.Content, emit graph.Emitter) (Outcome, error) {
	res, err := p.Run(ctx, threadID, messages, emit)
	return planOutcome(res), err
}

// Continue implements Strategy.
func (p *PlanExecute) Continue(ctx context.Context, h graph.Handle, emit graph.Emitter) (Outcome, error) {
	res, err := p.Resume(ctx, h, nil, emit)
	return planOutcome(res), err
}

// Pending implements Strategy.
func (p *PlanExecute) Pending(threadID string) (graph.Handle, bool) {
	h, _, err := p.graph.Pending(threadID)
	return h, err == nil
}

func planOutcome(res graph.Result[*PlanState]) Outcome {
	out := Outcome{Status: res.Status, Handle: res.Handle, Steps: res.Steps}
	if res.State != nil && res.Status == graph.StatusCompleted && res.State.Response != "" {
		out.Response = core.AssistantText(res.State.Response)
	}
	return out
}
