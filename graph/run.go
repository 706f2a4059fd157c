package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/stepmesh/checkpoint"
	"github.com/hupe1980/stepmesh/core"
)

// Status is the outcome of Run or Resume.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// Emitter receives the events produced by nodes, in order.
type Emitter func(core.Event)

// Handle is the resumable token of a suspended run.
type Handle struct {
	ID       string `json:"id"` // checkpoint id
	ThreadID string `json:"thread_id"`
	Next     string `json:"next"`
}

// Result is the outcome of a run segment.
type Result[S any] struct {
	State  S
	Status Status
	Handle *Handle // set when Status is StatusInterrupted
	Steps  int     // node executions of the run so far
}

// Interrupted reports whether the run suspended.
func (r Result[S]) Interrupted() bool { return r.Status == StatusInterrupted }

// Scope is handed to every node execution.
type Scope struct {
	ThreadID string
	RunID    string
	Node     string
	Step     int
	Phase    core.Phase
	// IsLastStep is set when the step ceiling leaves no room for another
	// round trip through the graph after this node.
	IsLastStep bool

	emit Emitter
}

// NewScope creates a detached scope, mainly for calling nodes directly.
func NewScope(threadID, node string, step int, emit Emitter) *Scope {
	return &Scope{ThreadID: threadID, Node: node, Step: step, emit: emit}
}

// Emit forwards ev. Missing routing fields are filled from the scope.
func (s *Scope) Emit(ev core.Event) {
	if s == nil || s.emit == nil {
		return
	}
	if ev.ThreadID == "" {
		ev.ThreadID = s.ThreadID
	}
	if ev.RunID == "" {
		ev.RunID = s.RunID
	}
	if ev.Node == "" {
		ev.Node = s.Node
	}
	if ev.Step == 0 {
		ev.Step = s.Step
	}
	if ev.Phase == "" {
		ev.Phase = s.Phase
	}
	s.emit(ev)
}

// EmitContent emits a complete message.
func (s *Scope) EmitContent(c core.Content) {
	s.Emit(core.NewContentEvent(s.ThreadID, s.Node, s.Step, c))
}

// EmitPartial emits a streaming text delta.
func (s *Scope) EmitPartial(delta string) {
	if delta == "" {
		return
	}
	s.Emit(core.NewPartialEvent(s.ThreadID, s.Node, s.Step, delta))
}

// EmitImage emits an image artifact.
func (s *Scope) EmitImage(img core.ImagePart) {
	s.Emit(core.NewImageEvent(s.ThreadID, s.Node, s.Step, img))
}

// Emitter returns an emitter that re-tags events from a nested run with this
// scope's step and phase.
func (s *Scope) Emitter() Emitter {
	return func(ev core.Event) {
		ev.Step = s.Step
		ev.Phase = s.Phase
		ev.RunID = ""
		s.Emit(ev)
	}
}

type runCtx struct {
	runID    string
	threadID string
	limiter  *core.StepLimiter
	emit     Emitter
}

// Run executes the graph from its entry node for threadID.
func (g *Graph[S]) Run(ctx context.Context, threadID string, state S, emit Emitter) (Result[S], error) {
	if err := g.Validate(); err != nil {
		return Result[S]{State: state}, err
	}
	rc := &runCtx{
		runID:    core.NewID(),
		threadID: threadID,
		limiter:  core.NewStepLimiter(g.opts.MaxSteps),
		emit:     emit,
	}
	g.opts.Logger.Debug("graph.run.start", "graph", g.opts.Name, "thread_id", threadID, "run_id", rc.runID)
	return g.loop(ctx, rc, g.entry, "", state, false)
}

// Resume continues the suspended run h names. edit, when non-nil, may modify
// the checkpointed state before the run continues. The interrupt that guards
// the node being resumed into is not triggered again.
func (g *Graph[S]) Resume(ctx context.Context, h Handle, edit func(S) S, emit Emitter) (Result[S], error) {
	var zero S
	cp, err := g.resumable(h.ThreadID)
	if err != nil {
		return Result[S]{State: zero}, err
	}
	if cp.ID != h.ID {
		return Result[S]{State: zero}, fmt.Errorf("%w: %s is not the latest checkpoint of thread %s", ErrStaleHandle, h.ID, h.ThreadID)
	}

	state, ok := cp.State.(S)
	if !ok {
		return Result[S]{State: zero}, fmt.Errorf("%w: unexpected state type %T", ErrStaleHandle, cp.State)
	}
	if edit != nil {
		state = edit(state)
	}

	rc := &runCtx{
		runID:    cp.RunID,
		threadID: h.ThreadID,
		limiter:  core.NewStepLimiterFrom(g.opts.MaxSteps, cp.Step),
		emit:     emit,
	}
	g.opts.Logger.Debug("graph.run.resume", "graph", g.opts.Name, "thread_id", h.ThreadID, "run_id", rc.runID, "next", cp.Next)
	return g.loop(ctx, rc, cp.Next, cp.Node, state, true)
}

// Pending returns the handle and state of the suspended run of threadID.
func (g *Graph[S]) Pending(threadID string) (Handle, S, error) {
	var zero S
	cp, err := g.resumable(threadID)
	if err != nil {
		return Handle{}, zero, err
	}
	state, ok := cp.State.(S)
	if !ok {
		return Handle{}, zero, fmt.Errorf("%w: unexpected state type %T", ErrStaleHandle, cp.State)
	}
	return Handle{ID: cp.ID, ThreadID: threadID, Next: cp.Next}, state, nil
}

func (g *Graph[S]) resumable(threadID string) (checkpoint.Checkpoint, error) {
	if g.opts.Checkpoints == nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("%w: checkpointing disabled", ErrNotResumable)
	}
	cp, err := g.opts.Checkpoints.Latest(threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return checkpoint.Checkpoint{}, fmt.Errorf("%w: no checkpoint for thread %s", ErrNotResumable, threadID)
		}
		return checkpoint.Checkpoint{}, err
	}
	if cp.Graph != g.opts.Name {
		return checkpoint.Checkpoint{}, fmt.Errorf("%w: checkpoint belongs to graph %q", ErrStaleHandle, cp.Graph)
	}
	if cp.Next == "" {
		return checkpoint.Checkpoint{}, fmt.Errorf("%w: run of thread %s already ended", ErrNotResumable, threadID)
	}
	return cp, nil
}

func (g *Graph[S]) loop(ctx context.Context, rc *runCtx, node, prev string, state S, resumed bool) (Result[S], error) {
	skipBefore := resumed

	for node != End {
		if err := ctx.Err(); err != nil {
			return Result[S]{State: state, Steps: rc.limiter.Count()}, err
		}

		fn, ok := g.nodes[node]
		if !ok {
			return Result[S]{State: state, Steps: rc.limiter.Count()}, fmt.Errorf("%w: %q", ErrUnknownNode, node)
		}

		if g.before[node] && !skipBefore && g.opts.Checkpoints != nil {
			id, err := g.save(rc, prev, node, state)
			if err != nil {
				return Result[S]{State: state, Steps: rc.limiter.Count()}, err
			}
			return g.interrupted(rc, id, node, state), nil
		}
		skipBefore = false

		if err := rc.limiter.Increment(); err != nil {
			g.opts.Logger.Warn("graph.step_limit", "graph", g.opts.Name, "thread_id", rc.threadID, "max_steps", g.opts.MaxSteps)
			return Result[S]{State: state, Steps: rc.limiter.Count()}, fmt.Errorf("%w: %d steps", ErrStepLimit, g.opts.MaxSteps)
		}

		scope := g.scope(rc, node)
		g.opts.Logger.Debug("graph.node.enter", "graph", g.opts.Name, "thread_id", rc.threadID, "node", node, "step", scope.Step)

		updated, err := fn(ctx, state, scope)
		if err != nil {
			return Result[S]{State: state, Steps: rc.limiter.Count()}, fmt.Errorf("node %s: %w", node, err)
		}
		state = updated

		next := g.next(node, state)
		id, err := g.save(rc, node, next, state)
		if err != nil {
			return Result[S]{State: state, Steps: rc.limiter.Count()}, err
		}

		if g.after[node] && next != End && g.opts.Checkpoints != nil {
			return g.interrupted(rc, id, next, state), nil
		}

		prev, node = node, next
	}

	g.opts.Logger.Debug("graph.run.complete", "graph", g.opts.Name, "thread_id", rc.threadID, "steps", rc.limiter.Count())
	return Result[S]{State: state, Status: StatusCompleted, Steps: rc.limiter.Count()}, nil
}

func (g *Graph[S]) scope(rc *runCtx, node string) *Scope {
	sc := &Scope{
		ThreadID:   rc.threadID,
		RunID:      rc.runID,
		Node:       node,
		Step:       rc.limiter.Count(),
		IsLastStep: rc.limiter.IsLast(),
		emit:       rc.emit,
	}
	if g.opts.Tracker != nil {
		es := g.opts.Tracker.Enter(rc.threadID, node)
		sc.Step = es.Step
		sc.Phase = es.Phase
	}
	return sc
}

func (g *Graph[S]) interrupted(rc *runCtx, id, next string, state S) Result[S] {
	g.opts.Logger.Info("graph.run.interrupted", "graph", g.opts.Name, "thread_id", rc.threadID, "next", next, "checkpoint", id)
	return Result[S]{
		State:  state,
		Status: StatusInterrupted,
		Handle: &Handle{ID: id, ThreadID: rc.threadID, Next: next},
		Steps:  rc.limiter.Count(),
	}
}

// save stores a checkpoint after node; it returns "" when checkpointing is off.
func (g *Graph[S]) save(rc *runCtx, node, next string, state S) (string, error) {
	if g.opts.Checkpoints == nil {
		return "", nil
	}
	if next == End {
		next = ""
	}
	cp := checkpoint.Checkpoint{
		ID:        core.NewID(),
		ThreadID:  rc.threadID,
		RunID:     rc.runID,
		Graph:     g.opts.Name,
		Node:      node,
		Next:      next,
		Step:      rc.limiter.Count(),
		State:     state,
		CreatedAt: time.Now(),
	}
	if err := g.opts.Checkpoints.Put(cp); err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}
	return cp.ID, nil
}
