package core

import (
	"fmt"
	"strings"
)

// Plan is an ordered list of not-yet-executed step descriptions. Plans are
// replaced, never mutated in place.
type Plan []string

// Clone returns an independent copy of the plan.
func (p Plan) Clone() Plan {
	if p == nil {
		return nil
	}
	out := make(Plan, len(p))
	copy(out, p)
	return out
}

// Rest returns the plan without its first step.
func (p Plan) Rest() Plan {
	if len(p) <= 1 {
		return Plan{}
	}
	return p[1:].Clone()
}

// Numbered renders the plan as "1. step" lines.
func (p Plan) Numbered() string {
	lines := make([]string, len(p))
	for i, step := range p {
		lines[i] = fmt.Sprintf("%d. %s", i+1, step)
	}
	return strings.Join(lines, "\n")
}

// PastStep is a completed (step description, result) record.
type PastStep struct {
	Task   string `json:"task"`
	Result string `json:"result"`
}

type actionKind int

const (
	actionNone actionKind = iota
	actionResponse
	actionPlan
)

// Action is the replanner output: either a final response or a revised plan.
// Exactly one variant is populated; the zero value carries neither.
type Action struct {
	kind     actionKind
	response string
	steps    Plan
}

// FinalResponse builds the response variant.
func FinalResponse(text string) Action {
	return Action{kind: actionResponse, response: text}
}

// RevisedPlan builds the plan variant. An empty list is a valid revision.
func RevisedPlan(steps []string) Action {
	return Action{kind: actionPlan, steps: Plan(steps).Clone()}
}

// Response returns the final response if this is the response variant.
func (a Action) Response() (string, bool) {
	return a.response, a.kind == actionResponse
}

// Steps returns the revised plan if this is the plan variant.
func (a Action) Steps() (Plan, bool) {
	if a.kind != actionPlan {
		return nil, false
	}
	return a.steps.Clone(), true
}

// IsZero reports whether neither variant is populated.
func (a Action) IsZero() bool { return a.kind == actionNone }
