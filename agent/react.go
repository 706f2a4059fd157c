package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/stepmesh/checkpoint"
	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/execution"
	"github.com/hupe1980/stepmesh/graph"
	"github.com/hupe1980/stepmesh/logging"
	"github.com/hupe1980/stepmesh/model"
	"github.com/hupe1980/stepmesh/prompt"
	"github.com/hupe1980/stepmesh/tool"
)

// ReactGraphName names the react graph in checkpoints.
const ReactGraphName = "react"

// DefaultMaxSteps bounds the node executions of one react run.
const DefaultMaxSteps = 25

// StepBudgetExhaustedMessage replaces a tool-call request on the last
// allowed step.
const StepBudgetExhaustedMessage = "Unable to find an answer to the question within the specified step count."

// ImageProcessedMessage is the text shown in place of an image artifact.
const ImageProcessedMessage = "요청하신 이미지가 성공적으로 처리되었습니다."

// ReactState is the state of the react graph: the conversation so far.
type ReactState struct {
	Messages []core.Content `json:"messages"`
}

// LastAssistant returns the most recent assistant message.
func (s *ReactState) LastAssistant() (core.Content, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == core.RoleAssistant {
			return s.Messages[i], true
		}
	}
	return core.Content{}, false
}

// ReactOptions configures a React agent.
type ReactOptions struct {
	// Name identifies the graph in checkpoints.
	Name string
	// MaxSteps bounds node executions per run (0 = DefaultMaxSteps).
	MaxSteps int
	// SystemPrompt overrides the rendered "system" template.
	SystemPrompt string
	Prompts      *prompt.Library
	Catalog      tool.Catalog
	Executor     *tool.Executor
	// Checkpoints enables suspension and Resume. Nil keeps runs in memory only.
	Checkpoints checkpoint.Store
	Tracker     graph.Tracker
	// DisableStreaming asks the model for complete responses only.
	DisableStreaming bool
	Logger           logging.Logger
}

// React is the two-node tool-calling loop:
//
//	call_model -> (tool calls ? tools : end)
//	tools      -> call_model
type React struct {
	model model.Model
	graph *graph.Graph[*ReactState]
	opts  ReactOptions
}

// NewReact creates a React agent over m.
func NewReact(m model.Model, optFns ...func(o *ReactOptions)) *React {
	opts := ReactOptions{
		Name:     ReactGraphName,
		MaxSteps: DefaultMaxSteps,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Prompts == nil {
		opts.Prompts = prompt.NewLibrary()
	}
	if opts.Executor == nil {
		opts.Executor = tool.NewExecutor(func(o *tool.ExecutorOptions) { o.Logger = opts.Logger })
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	r := &React{model: m, opts: opts}

	g := graph.New[*ReactState](execution.NodeCallModel, func(o *graph.Options) {
		o.Name = opts.Name
		o.MaxSteps = opts.MaxSteps
		o.Checkpoints = opts.Checkpoints
		o.Tracker = opts.Tracker
		o.Logger = opts.Logger
	})
	g.AddNode(execution.NodeCallModel, r.callModel).
		AddNode(execution.NodeTools, r.callTools).
		AddConditionalEdges(execution.NodeCallModel, routeModelOutput).
		AddEdge(execution.NodeTools, execution.NodeCallModel)
	r.graph = g

	return r
}

// Graph exposes the underlying graph.
func (r *React) Graph() *graph.Graph[*ReactState] { return r.graph }

// Run starts a run over messages for threadID.
func (r *React) Run(ctx context.Context, threadID string, messages []core.Content, emit graph.Emitter) (graph.Result[*ReactState], error) {
	return r.graph.Run(ctx, threadID, &ReactState{Messages: core.CloneContents(messages)}, emit)
}

// Resume continues a suspended run.
func (r *React) Resume(ctx context.Context, h graph.Handle, emit graph.Emitter) (graph.Result[*ReactState], error) {
	return r.graph.Resume(ctx, h, nil, emit)
}

// routeModelOutput ends the run unless the latest assistant message requests tools.
func routeModelOutput(s *ReactState) string {
	if len(s.Messages) == 0 {
		return graph.End
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Role == core.RoleAssistant && last.HasFunctionCalls() {
		return execution.NodeTools
	}
	return graph.End
}

func (r *React) systemPrompt() (string, error) {
	if r.opts.SystemPrompt != "" {
		return r.opts.SystemPrompt, nil
	}
	return r.opts.Prompts.SystemPrompt(prompt.System, nil)
}

func (r *React) callModel(ctx context.Context, s *ReactState, scope *graph.Scope) (*ReactState, error) {
	view := tool.NewView(ctx, r.opts.Catalog, r.opts.Logger)

	contents := s.Messages
	if !hasSystemMessage(contents) {
		system, err := r.systemPrompt()
		if err != nil {
			return s, fmt.Errorf("render system prompt: %w", err)
		}
		contents = append([]core.Content{core.SystemText(system)}, contents...)
	}

	req := model.Request{
		Contents: contents,
		Tools:    view.Definitions(),
		Stream:   !r.opts.DisableStreaming,
	}

	resp, err := model.Collect(ctx, r.model, req, scope.EmitPartial)
	if err != nil {
		r.opts.Logger.Error("react.call_model.error", "thread_id", scope.ThreadID, "step", scope.Step, "error", err.Error())
		return s, err
	}

	msg := resp.Content
	msg.Role = core.RoleAssistant
	if scope.IsLastStep && msg.HasFunctionCalls() {
		r.opts.Logger.Warn("react.step_budget_exhausted", "thread_id", scope.ThreadID, "step", scope.Step)
		msg = core.AssistantText(StepBudgetExhaustedMessage)
	}

	s.Messages = append(s.Messages, msg)
	scope.EmitContent(msg)
	return s, nil
}

func (r *React) callTools(ctx context.Context, s *ReactState, scope *graph.Scope) (*ReactState, error) {
	if len(s.Messages) == 0 {
		return s, nil
	}
	calls := s.Messages[len(s.Messages)-1].FunctionCalls()
	if len(calls) == 0 {
		return s, nil
	}

	view := tool.NewView(ctx, r.opts.Catalog, r.opts.Logger)
	responses := r.opts.Executor.Execute(ctx, view, calls)

	for _, resp := range responses {
		msg := core.Content{Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: resp}}}
		s.Messages = append(s.Messages, msg)

		if len(resp.Images) == 0 {
			scope.EmitContent(msg)
			continue
		}
		for _, img := range resp.Images {
			scope.Emit(imageEvent(scope, img))
		}
	}
	return s, nil
}

func imageEvent(scope *graph.Scope, img core.ImagePart) core.Event {
	ev := core.NewImageEvent(scope.ThreadID, scope.Node, scope.Step, img)
	text := core.AssistantText(ImageProcessedMessage)
	ev.Content = &text
	return ev
}

func hasSystemMessage(contents []core.Content) bool {
	for _, c := range contents {
		if c.Role == core.RoleSystem {
			return true
		}
	}
	return false
}
