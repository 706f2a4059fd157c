package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/invopop/jsonschema"

	"github.com/hupe1980/stepmesh/checkpoint"
	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/execution"
	"github.com/hupe1980/stepmesh/graph"
	"github.com/hupe1980/stepmesh/heuristic"
	"github.com/hupe1980/stepmesh/logging"
	"github.com/hupe1980/stepmesh/model"
	"github.com/hupe1980/stepmesh/prompt"
	"github.com/hupe1980/stepmesh/tool"
)

// PlanExecuteGraphName names the plan-and-execute graph in checkpoints.
const PlanExecuteGraphName = "plan-execute"

// DefaultExecuteMaxSteps bounds the embedded react run of one execute step.
const DefaultExecuteMaxSteps = 10

// Canned texts recorded by the plan-and-execute nodes.
const (
	DefaultQuery          = "사용자 요청을 분석하고 처리해주세요"
	EmptyPlanTask         = "No steps to execute"
	EmptyPlanResult       = "Plan is empty"
	NoMoreStepsMessage    = "더 이상 필요한 단계가 없습니다. 작업이 완료되었습니다."
	ReplanFailedMessage   = "작업을 완료했습니다. 정보를 분석하고 결과를 제공했습니다."
	ReportFailedMessage   = "처리 중 문제가 발생했습니다. 나중에 다시 시도해주세요."
	checklistResultLength = 150
)

// PlanState is the state of the plan-and-execute graph.
type PlanState struct {
	Messages  []core.Content  `json:"messages"`
	Plan      core.Plan       `json:"plan"`
	PastSteps []core.PastStep `json:"past_steps"`
	Response  string          `json:"response"`
}

// Query returns the latest user text, or DefaultQuery.
func (s *PlanState) Query() string {
	if q := core.LastUserText(s.Messages); q != "" {
		return q
	}
	return DefaultQuery
}

// PlanExecuteOptions configures a PlanExecute agent.
type PlanExecuteOptions struct {
	Name string
	// MaxSteps bounds node executions per run (0 = DefaultMaxSteps).
	MaxSteps int
	// ExecuteMaxSteps bounds the react run inside one execute step.
	ExecuteMaxSteps int
	Prompts         *prompt.Library
	Catalog         tool.Catalog
	Executor        *tool.Executor
	// Checkpoints holds suspended runs. Nil uses an in-memory store.
	Checkpoints checkpoint.Store
	Tracker     graph.Tracker
	Arithmetic  *heuristic.Arithmetic
	Relevance   *heuristic.Relevance
	// DisableInterrupts runs execute and replan without suspending between them.
	DisableInterrupts bool
	DisableStreaming  bool
	Logger            logging.Logger
}

// PlanExecute plans a task list, executes it one step at a time through an
// embedded React agent and revises the plan after every step:
//
//	planner -> execute -> replan -> (done ? final_report : execute)
//	final_report -> end
//
// Unless disabled the run suspends once after execute, before replan.
type PlanExecute struct {
	model    model.Model
	executor *React
	graph    *graph.Graph[*PlanState]
	opts     PlanExecuteOptions
}

// NewPlanExecute creates a PlanExecute agent over m.
func NewPlanExecute(m model.Model, optFns ...func(o *PlanExecuteOptions)) *PlanExecute {
	opts := PlanExecuteOptions{
		Name:            PlanExecuteGraphName,
		MaxSteps:        DefaultMaxSteps,
		ExecuteMaxSteps: DefaultExecuteMaxSteps,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.ExecuteMaxSteps <= 0 {
		opts.ExecuteMaxSteps = DefaultExecuteMaxSteps
	}
	if opts.Prompts == nil {
		opts.Prompts = prompt.NewLibrary()
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewInMemoryStore()
	}
	if opts.Arithmetic == nil {
		opts.Arithmetic = heuristic.NewArithmetic(nil)
	}
	if opts.Relevance == nil {
		opts.Relevance = heuristic.NewRelevance(0, nil)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Executor == nil {
		opts.Executor = tool.NewExecutor(func(o *tool.ExecutorOptions) { o.Logger = opts.Logger })
	}

	p := &PlanExecute{model: m, opts: opts}
	p.executor = NewReact(m, func(o *ReactOptions) {
		o.Name = opts.Name + "/execute"
		o.MaxSteps = opts.ExecuteMaxSteps
		o.Prompts = opts.Prompts
		o.Catalog = opts.Catalog
		o.Executor = opts.Executor
		o.DisableStreaming = opts.DisableStreaming
		o.Logger = opts.Logger
	})

	g := graph.New[*PlanState](execution.NodePlanner, func(o *graph.Options) {
		o.Name = opts.Name
		o.MaxSteps = opts.MaxSteps
		o.Checkpoints = opts.Checkpoints
		o.Tracker = opts.Tracker
		o.Logger = opts.Logger
		if !opts.DisableInterrupts {
			o.InterruptAfter = []string{execution.NodeExecute}
			o.InterruptBefore = []string{execution.NodeReplan}
		}
	})
	g.AddNode(execution.NodePlanner, p.plan).
		AddNode(execution.NodeExecute, p.execute).
		AddNode(execution.NodeReplan, p.replan).
		AddNode(execution.NodeFinalReport, p.finalReport).
		AddEdge(execution.NodePlanner, execution.NodeExecute).
		AddEdge(execution.NodeExecute, execution.NodeReplan).
		AddConditionalEdges(execution.NodeReplan, shouldEnd).
		AddEdge(execution.NodeFinalReport, graph.End)
	p.graph = g

	return p
}

// Graph exposes the underlying graph.
func (p *PlanExecute) Graph() *graph.Graph[*PlanState] { return p.graph }

// Run starts a run over messages for threadID.
func (p *PlanExecute) Run(ctx context.Context, threadID string, messages []core.Content, emit graph.Emitter) (graph.Result[*PlanState], error) {
	return p.graph.Run(ctx, threadID, &PlanState{Messages: core.CloneContents(messages)}, emit)
}

// Resume continues a suspended run. edit, when non-nil, may change the
// suspended state before the run continues.
func (p *PlanExecute) Resume(ctx context.Context, h graph.Handle, edit func(*PlanState) *PlanState, emit graph.Emitter) (graph.Result[*PlanState], error) {
	return p.graph.Resume(ctx, h, edit, emit)
}

// shouldEnd routes to the final report once a response exists or the plan is
// exhausted.
func shouldEnd(s *PlanState) string {
	if s.Response != "" || len(s.Plan) == 0 {
		return execution.NodeFinalReport
	}
	return execution.NodeExecute
}

func (p *PlanExecute) plan(ctx context.Context, s *PlanState, scope *graph.Scope) (*PlanState, error) {
	query := s.Query()
	s.PastSteps = nil
	s.Response = ""

	if expr, ok := p.opts.Arithmetic.Parse(query); ok {
		s.Plan = core.Plan(expr.Plan())
		p.opts.Logger.Debug("plan_execute.planner.arithmetic", "thread_id", scope.ThreadID, "operator", expr.Operator)
		scope.EmitContent(core.AssistantText(s.Plan.Numbered()))
		return s, nil
	}

	steps, err := p.generatePlan(ctx, query)
	switch {
	case err != nil:
		p.opts.Logger.Warn("plan_execute.planner.failed", "thread_id", scope.ThreadID, "error", err.Error())
		steps = heuristic.GenericPlan()
	case len(steps) == 0:
		p.opts.Logger.Warn("plan_execute.planner.empty", "thread_id", scope.ThreadID)
		steps = heuristic.GenericPlan()
	case !p.opts.Relevance.IsRelevant(query, steps):
		p.opts.Logger.Info("plan_execute.planner.irrelevant", "thread_id", scope.ThreadID, "steps", len(steps))
		steps = heuristic.FallbackPlan(query)
	}

	s.Plan = core.Plan(steps).Clone()
	scope.EmitContent(core.AssistantText(s.Plan.Numbered()))
	return s, nil
}

func (p *PlanExecute) generatePlan(ctx context.Context, query string) ([]string, error) {
	view := tool.NewView(ctx, p.opts.Catalog, p.opts.Logger)
	msgs, err := p.opts.Prompts.Messages(prompt.Planner, map[string]any{
		"messages":  query,
		"tool_desc": view.Describe(),
	})
	if err != nil {
		return nil, err
	}
	out, err := model.Structured[planOutput](ctx, p.model, "plan", "", msgs)
	if err != nil {
		return nil, err
	}
	steps := make([]string, 0, len(out.Steps))
	for _, step := range out.Steps {
		step = strings.TrimSpace(strings.ReplaceAll(step, "{messages}", query))
		if step != "" {
			steps = append(steps, step)
		}
	}
	return steps, nil
}

func (p *PlanExecute) execute(ctx context.Context, s *PlanState, scope *graph.Scope) (*PlanState, error) {
	if len(s.Plan) == 0 {
		s.PastSteps = append(s.PastSteps, core.PastStep{Task: EmptyPlanTask, Result: EmptyPlanResult})
		return s, nil
	}

	task := s.Plan[0]
	result, err := p.executeTask(ctx, s, task, scope)
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		p.opts.Logger.Warn("plan_execute.execute.failed", "thread_id", scope.ThreadID, "task", task, "error", err.Error())
		result = "Error during execution: " + err.Error()
		scope.EmitContent(core.AssistantText(result))
	}

	s.PastSteps = append(s.PastSteps, core.PastStep{Task: task, Result: result})
	s.Plan = s.Plan.Rest()
	return s, nil
}

func (p *PlanExecute) executeTask(ctx context.Context, s *PlanState, task string, scope *graph.Scope) (string, error) {
	if heuristic.IsCalculationTask(task) {
		if expr, ok := p.opts.Arithmetic.Parse(s.Query()); ok {
			result := expr.Result()
			scope.EmitContent(core.AssistantText(result))
			return result, nil
		}
	}

	system, err := p.opts.Prompts.SystemPrompt(prompt.Execute, nil)
	if err != nil {
		return "", fmt.Errorf("render execute prompt: %w", err)
	}
	framed := fmt.Sprintf("For the following plan:\n%s\n\nYou are tasked with executing [step 1. %s].", s.Plan.Numbered(), task)

	res, err := p.executor.Run(ctx, scope.ThreadID, []core.Content{core.SystemText(system), core.UserText(framed)}, scope.Emitter())
	if err != nil {
		return "", err
	}
	last, ok := res.State.LastAssistant()
	if !ok {
		return "", errors.New("executor produced no answer")
	}
	return last.Text(), nil
}

func (p *PlanExecute) replan(ctx context.Context, s *PlanState, scope *graph.Scope) (*PlanState, error) {
	query := s.Query()

	if _, ok := p.opts.Arithmetic.Parse(query); ok && hasCalculation(s.PastSteps) {
		p.opts.Logger.Debug("plan_execute.replan.arithmetic", "thread_id", scope.ThreadID, "remaining", len(s.Plan))
		return s, nil
	}

	action, err := p.generateAction(ctx, query, s)
	switch {
	case err != nil && !errors.Is(err, model.ErrInvalidStructuredOutput):
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		p.opts.Logger.Warn("plan_execute.replan.failed", "thread_id", scope.ThreadID, "error", err.Error())
		s.Response = ReplanFailedMessage
		s.Plan = core.Plan{}
		return s, nil
	case err != nil:
		p.opts.Logger.Warn("plan_execute.replan.uninterpretable", "thread_id", scope.ThreadID, "error", err.Error())
	}

	if response, ok := action.Response(); ok {
		s.Response = response
		s.Plan = core.Plan{}
		return s, nil
	}
	if steps, ok := action.Steps(); ok {
		if len(steps) == 0 {
			s.Response = NoMoreStepsMessage
			s.Plan = core.Plan{}
			return s, nil
		}
		s.Plan = steps
		return s, nil
	}

	if len(s.Plan) > 0 {
		return s, nil
	}
	s.Response = "작업 완료.\n\n실행된 단계:\n" + formatPastSteps(s.PastSteps)
	return s, nil
}

func (p *PlanExecute) generateAction(ctx context.Context, query string, s *PlanState) (core.Action, error) {
	msgs, err := p.opts.Prompts.Messages(prompt.Replanner, map[string]any{
		"messages":   query,
		"plan":       s.Plan.Numbered(),
		"past_steps": formatPastSteps(s.PastSteps),
	})
	if err != nil {
		return core.Action{}, err
	}
	out, err := model.Structured[actOutput](ctx, p.model, "act", "", msgs)
	if err != nil {
		return core.Action{}, err
	}
	return out.action(), nil
}

func (p *PlanExecute) finalReport(ctx context.Context, s *PlanState, scope *graph.Scope) (*PlanState, error) {
	if s.Response != "" {
		scope.EmitContent(core.AssistantText(s.Response))
		return s, nil
	}

	query := s.Query()
	if _, ok := p.opts.Arithmetic.Parse(query); ok {
		for _, step := range s.PastSteps {
			if answer, ok := heuristic.FinalAnswer(step.Result); ok {
				s.Response = answer
				scope.EmitContent(core.AssistantText(answer))
				return s, nil
			}
		}
	}

	msgs, err := p.opts.Prompts.Messages(prompt.FinalReport, map[string]any{
		"messages":   query,
		"past_steps": Checklist(s.PastSteps, s.Plan),
	})
	if err == nil {
		var resp model.Response
		resp, err = model.Collect(ctx, p.model, model.Request{Contents: msgs, Stream: !p.opts.DisableStreaming}, scope.EmitPartial)
		if err == nil {
			s.Response = strings.TrimSpace(resp.Content.Text())
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		p.opts.Logger.Warn("plan_execute.final_report.failed", "thread_id", scope.ThreadID, "error", err.Error())
	}
	if s.Response == "" {
		s.Response = ReportFailedMessage
	}

	scope.EmitContent(core.AssistantText(s.Response))
	return s, nil
}

// Checklist renders completed steps with truncated results followed by the
// steps still pending.
func Checklist(past []core.PastStep, pending core.Plan) string {
	lines := make([]string, 0, len(past)+len(pending))
	for _, step := range past {
		lines = append(lines, fmt.Sprintf("✅ %s\n   🔹 결과: %s", step.Task, truncate(step.Result, checklistResultLength)))
	}
	for _, step := range pending {
		lines = append(lines, "⏳ "+step)
	}
	return strings.Join(lines, "\n")
}

func formatPastSteps(past []core.PastStep) string {
	blocks := make([]string, len(past))
	for i, step := range past {
		blocks[i] = fmt.Sprintf("질문: %s\n\n답변: %s\n\n####", step.Task, step.Result)
	}
	return strings.Join(blocks, "\n\n")
}

func hasCalculation(past []core.PastStep) bool {
	for _, step := range past {
		if _, ok := heuristic.FinalAnswer(step.Result); ok {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// StepList decodes a plan given either as a JSON array or as a single
// newline-separated, optionally numbered string.
type StepList []string

// JSONSchema implements the invopop schema hook.
func (StepList) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			{Type: "string"},
		},
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *StepList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("steps: expected array or string: %w", err)
	}
	var steps []string
	for _, line := range strings.Split(text, "\n") {
		if step := stripNumbering(strings.TrimSpace(line)); step != "" {
			steps = append(steps, step)
		}
	}
	*l = steps
	return nil
}

// stripNumbering removes "1.", "1)", "1:" and "1-" prefixes.
func stripNumbering(line string) string {
	if line == "" || !unicode.IsDigit(rune(line[0])) {
		return line
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i < len(line) && strings.ContainsRune(".):-", rune(line[i])) {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

type planOutput struct {
	Steps StepList `json:"steps" jsonschema:"description=Ordered steps of the plan"`
}

type actOutput struct {
	Action *actionOutput `json:"action,omitempty"`
}

type actionOutput struct {
	Response string   `json:"response,omitempty" jsonschema:"description=Final answer for the user"`
	Steps    []string `json:"steps,omitempty" jsonschema:"description=Remaining steps"`
}

func (o actOutput) action() core.Action {
	switch {
	case o.Action == nil:
		return core.Action{}
	case strings.TrimSpace(o.Action.Response) != "":
		return core.FinalResponse(o.Action.Response)
	case o.Action.Steps != nil:
		return core.RevisedPlan(o.Action.Steps)
	default:
		return core.RevisedPlan(nil)
	}
}
