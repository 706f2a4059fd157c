package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/stepmesh/agent"
	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/execution"
	"github.com/hupe1980/stepmesh/graph"
	"github.com/hupe1980/stepmesh/logging"
	"github.com/hupe1980/stepmesh/session"
	"github.com/hupe1980/stepmesh/stream"
)

var (
	// ErrEmptyInput is returned when a request carries neither message text
	// nor attachments.
	ErrEmptyInput = errors.New("message or attachment files are required")

	// ErrUnknownStrategy is returned for a strategy name nobody registered.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrThreadBusy is returned when a thread already has a run in flight.
	ErrThreadBusy = errors.New("thread already has an active run")
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// Example:
//
//	cfg := DefaultConfig()
//	cfg.MaxConcurrentRuns = 50
//	cfg.AutoResume = false
type Config struct {
	// DefaultStrategy is used when a request names none.
	DefaultStrategy string

	// MaxConcurrentRuns limits the number of runs that execute
	// simultaneously. Callers block until a slot frees up. 0 = unlimited.
	MaxConcurrentRuns int

	// EventBufferSize sets the channel buffer size of Stream and Resume.
	EventBufferSize int

	// AutoResume continues suspended runs immediately instead of ending the
	// stream with an interrupt event.
	AutoResume bool

	// Attachments bounds attachment preprocessing.
	Attachments AttachmentOptions
}

// DefaultConfig returns the configuration used by New.
//
// Configuration values:
//   - DefaultStrategy: react
//   - MaxConcurrentRuns: 10
//   - EventBufferSize: 100
//   - AutoResume: true
func DefaultConfig() Config {
	return Config{
		DefaultStrategy:   agent.StrategyReact,
		MaxConcurrentRuns: 10,
		EventBufferSize:   100,
		AutoResume:        true,
		Attachments:       DefaultAttachmentOptions(),
	}
}

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Store keeps the per-thread conversation. Defaults to an unbounded
	// in-memory store.
	Store session.Store

	// Registry tracks step and phase per thread. Strategies should use the
	// same registry as their tracker so interrupt events carry the position.
	Registry *execution.Registry

	// Callbacks receives run lifecycle events.
	Callbacks *CallbackManager

	// Publisher, when set, receives a copy of every frame produced by Frames.
	Publisher *stream.Publisher

	// Logger defaults to a NoOp logger.
	Logger logging.Logger
}

// RunOptions tunes a single Stream, Resume or Invoke call.
type RunOptions struct {
	// Strategy selects a registered strategy; empty uses Config.DefaultStrategy.
	Strategy    string
	Attachments []Attachment
	AutoResume  bool
}

// Engine runs strategies against per-thread conversations.
//
// A run goes through the same stages for every strategy:
//  1. input validation and attachment preprocessing
//  2. execution-state reset and conversation assembly from the store
//  3. the strategy run, auto-resuming through interrupts when enabled
//  4. fold-back of the final answer (or the error text) into the store
//
// Run failures never escape as Go errors from a started run: they are folded
// into history and emitted as one error event, the last event of the stream.
type Engine struct {
	store     session.Store
	registry  *execution.Registry
	callbacks *CallbackManager
	publisher *stream.Publisher
	logger    logging.Logger
	config    Config
	sem       *semaphore.Weighted

	mu         sync.RWMutex
	strategies map[string]agent.Strategy

	runsMu sync.Mutex
	runs   map[string]context.CancelFunc
}

// New creates a new Engine with in-memory defaults.
//
// Example:
//
//	registry := execution.NewRegistry()
//	e := engine.New(func(o *engine.Options) { o.Registry = registry })
//	e.Register(agent.NewReact(m, func(o *agent.ReactOptions) { o.Tracker = registry }))
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Registry == nil {
		opts.Registry = execution.NewRegistry()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Config.DefaultStrategy == "" {
		opts.Config.DefaultStrategy = agent.StrategyReact
	}
	if opts.Config.EventBufferSize < 0 {
		opts.Config.EventBufferSize = 0
	}

	e := &Engine{
		store:      opts.Store,
		registry:   opts.Registry,
		callbacks:  opts.Callbacks,
		publisher:  opts.Publisher,
		logger:     logging.OrNoOp(opts.Logger),
		config:     opts.Config,
		strategies: make(map[string]agent.Strategy),
		runs:       make(map[string]context.CancelFunc),
	}
	if opts.Config.MaxConcurrentRuns > 0 {
		e.sem = semaphore.NewWeighted(int64(opts.Config.MaxConcurrentRuns))
	}
	return e
}

// Register adds a strategy under its name, replacing any previous one.
func (e *Engine) Register(s agent.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Name()] = s
}

// Strategy returns a registered strategy by name.
func (e *Engine) Strategy(name string) (agent.Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[name]
	return s, ok
}

// Strategies returns the registered strategy names, sorted.
func (e *Engine) Strategies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store returns the conversation store.
func (e *Engine) Store() session.Store { return e.store }

// Registry returns the execution-state registry.
func (e *Engine) Registry() *execution.Registry { return e.registry }

// Callbacks returns the callback manager.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// Stream starts a run for threadID and streams its events. Validation
// failures (unknown strategy, empty input, busy thread) are returned before
// anything runs. The events channel closes when the run ends; errs only
// carries failures that prevented the run from starting.
//
// The caller must drain events until it closes. To abandon a run, cancel ctx
// (or call Cancel) and keep draining: a run whose consumer simply stops
// reading blocks on the events channel and keeps threadID busy.
func (e *Engine) Stream(
	ctx context.Context,
	threadID string,
	messages []core.Content,
	optFns ...func(o *RunOptions),
) (<-chan core.Event, <-chan error, error) {
	opts := e.runOptions(optFns)
	s, err := e.lookup(opts.Strategy)
	if err != nil {
		return nil, nil, err
	}
	if !hasInput(messages, opts.Attachments) {
		return nil, nil, ErrEmptyInput
	}
	return e.start(ctx, job{threadID: threadID, strategy: s, opts: opts, messages: messages})
}

// Resume continues the suspended run of threadID. handleID, when non-empty,
// must name the latest suspension; an outdated handle fails with
// graph.ErrStaleHandle.
func (e *Engine) Resume(
	ctx context.Context,
	threadID string,
	handleID string,
	optFns ...func(o *RunOptions),
) (<-chan core.Event, <-chan error, error) {
	opts := e.runOptions(optFns)
	s, err := e.lookup(opts.Strategy)
	if err != nil {
		return nil, nil, err
	}
	h, err := e.pending(s, threadID, handleID)
	if err != nil {
		return nil, nil, err
	}
	return e.start(ctx, job{threadID: threadID, strategy: s, opts: opts, handle: &h})
}

// Result is the outcome of a synchronous Invoke.
type Result struct {
	// Messages holds the final assistant message, or the error text.
	Messages []core.Content `json:"messages"`
	// History is the stored conversation after the run.
	History []core.Content `json:"history"`
	// Error is the run failure message, empty on success.
	Error string `json:"error,omitempty"`
	// Errors lists individual attachment problems.
	Errors []string `json:"errors,omitempty"`
	// Interrupt is set when the run suspended without auto-resume.
	Interrupt *core.Interrupt `json:"interrupt,omitempty"`
}

// Invoke runs synchronously and returns the final answer. It never returns a
// Go error: every failure is reported through Result.Error.
func (e *Engine) Invoke(
	ctx context.Context,
	threadID string,
	messages []core.Content,
	optFns ...func(o *RunOptions),
) Result {
	opts := e.runOptions(optFns)
	s, err := e.lookup(opts.Strategy)
	if err != nil {
		return Result{Error: err.Error()}
	}
	if !hasInput(messages, opts.Attachments) {
		return Result{Error: ErrEmptyInput.Error()}
	}

	runCtx, end, err := e.begin(ctx, threadID)
	if err != nil {
		return Result{Error: err.Error()}
	}
	defer end()

	out := e.execute(runCtx, job{threadID: threadID, strategy: s, opts: opts, messages: messages}, func(core.Event) {})

	res := Result{Error: out.errMsg, Errors: out.problems, Interrupt: out.interrupt}
	switch {
	case out.errMsg != "":
		res.Messages = []core.Content{core.AssistantText(out.errMsg)}
	case !out.response.IsEmpty():
		res.Messages = []core.Content{out.response}
	}
	if history, err := e.store.History(threadID); err == nil {
		res.History = history
	}
	return res
}

// Cancel stops the active run of threadID.
func (e *Engine) Cancel(threadID string) error {
	e.runsMu.Lock()
	cancel, ok := e.runs[threadID]
	e.runsMu.Unlock()
	if !ok {
		return fmt.Errorf("no active run for thread %s", threadID)
	}
	cancel()
	return nil
}

// Frames transcodes a Stream or Resume result into client frames. When a
// publisher is configured every frame is also published on the thread topic.
func (e *Engine) Frames(ctx context.Context, threadID string, events <-chan core.Event, errs <-chan error) <-chan stream.Frame {
	frames := stream.Pipe(ctx, stream.NewTranscoder(), events, errs)
	if e.publisher != nil {
		return e.publisher.Tee(ctx, threadID, frames)
	}
	return frames
}

// WriteSSE writes frames as server-sent events and terminates the stream.
func WriteSSE(w io.Writer, frames <-chan stream.Frame) error {
	return stream.WriteSSE(w, frames)
}

type job struct {
	threadID string
	strategy agent.Strategy
	opts     RunOptions
	messages []core.Content
	handle   *graph.Handle
}

type outcome struct {
	response  core.Content
	errMsg    string
	problems  []string
	interrupt *core.Interrupt
}

func (e *Engine) start(ctx context.Context, j job) (<-chan core.Event, <-chan error, error) {
	runCtx, end, err := e.begin(ctx, j.threadID)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan core.Event, e.config.EventBufferSize)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(events)
		defer end()

		emit := func(ev core.Event) {
			select {
			case events <- ev:
			case <-runCtx.Done():
			}
		}
		e.execute(runCtx, j, emit)
	}()

	return events, errs, nil
}

// begin claims the thread and a concurrency slot.
func (e *Engine) begin(ctx context.Context, threadID string) (context.Context, func(), error) {
	runCtx, cancel := context.WithCancel(ctx)

	e.runsMu.Lock()
	if _, busy := e.runs[threadID]; busy {
		e.runsMu.Unlock()
		cancel()
		return nil, nil, fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}
	e.runs[threadID] = cancel
	e.runsMu.Unlock()

	release := func() {
		e.runsMu.Lock()
		delete(e.runs, threadID)
		e.runsMu.Unlock()
		cancel()
	}

	if e.sem != nil {
		if err := e.sem.Acquire(runCtx, 1); err != nil {
			release()
			return nil, nil, fmt.Errorf("acquire run slot: %w", err)
		}
		inner := release
		release = func() {
			e.sem.Release(1)
			inner()
		}
	}
	return runCtx, release, nil
}

func (e *Engine) execute(ctx context.Context, j job, emit graph.Emitter) outcome {
	cc := &CallbackContext{ThreadID: j.threadID, Strategy: j.strategy.Name()}

	var (
		out agent.Outcome
		err error
	)
	if j.handle != nil {
		e.logger.Info("engine.run.resume", "thread_id", j.threadID, "strategy", cc.Strategy, "handle_id", j.handle.ID)
		out, err = j.strategy.Continue(ctx, *j.handle, emit)
	} else {
		parts, perr := PrepareAttachments(j.opts.Attachments, e.config.Attachments)
		e.registry.Reset(j.threadID)
		if perr != nil {
			e.logger.Warn("engine.attachments.rejected", "thread_id", j.threadID, "error", perr.Error())
			emit(core.NewErrorEvent(j.threadID, 0, perr.Error()))
			var ae *AttachmentError
			o := outcome{errMsg: perr.Error()}
			if errors.As(perr, &ae) {
				o.problems = ae.Problems
			}
			return o
		}

		conversation, serr := e.store.Assemble(j.threadID, j.messages)
		if serr != nil {
			return e.fail(ctx, cc, fmt.Errorf("assemble conversation: %w", serr), emit)
		}
		conversation = MergeAttachments(conversation, parts)

		cc.Messages = conversation
		if cerr := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeRun, cc); cerr != nil {
			return e.fail(ctx, cc, cerr, emit)
		}

		e.logger.Info("engine.run.start", "thread_id", j.threadID, "strategy", cc.Strategy, "messages", len(conversation))
		out, err = j.strategy.Start(ctx, j.threadID, conversation, emit)
	}

	for err == nil && out.Interrupted() && out.Handle != nil {
		if !j.opts.AutoResume {
			return e.suspend(ctx, cc, *out.Handle, emit)
		}
		e.logger.Debug("engine.run.auto_resume", "thread_id", j.threadID, "next", out.Handle.Next)
		out, err = j.strategy.Continue(ctx, *out.Handle, emit)
	}
	if err != nil {
		return e.fail(ctx, cc, err, emit)
	}

	if !out.Response.IsEmpty() {
		if _, serr := e.store.AppendAssistant(j.threadID, out.Response); serr != nil {
			e.logger.Warn("engine.history.append_failed", "thread_id", j.threadID, "error", serr.Error())
		}
	}
	e.logger.Info("engine.run.complete", "thread_id", j.threadID, "strategy", cc.Strategy, "steps", out.Steps)

	cc.Response = out.Response
	if cerr := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterRun, cc); cerr != nil {
		e.logger.Warn("engine.callback.failed", "thread_id", j.threadID, "error", cerr.Error())
	}
	return outcome{response: out.Response}
}

func (e *Engine) suspend(ctx context.Context, cc *CallbackContext, h graph.Handle, emit graph.Emitter) outcome {
	st := e.registry.Get(cc.ThreadID)
	node, _ := execution.NodeFor(st.Phase)
	ev := core.NewInterruptEvent(cc.ThreadID, node, st.Step, h.ID, h.Next)
	ev.Phase = st.Phase
	emit(ev)

	e.logger.Info("engine.run.interrupted", "thread_id", cc.ThreadID, "handle_id", h.ID, "next", h.Next)
	cc.Interrupt = ev.Interrupt
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnInterrupt, cc); err != nil {
		e.logger.Warn("engine.callback.failed", "thread_id", cc.ThreadID, "error", err.Error())
	}
	return outcome{interrupt: ev.Interrupt}
}

// fail folds err into history as an assistant message and emits the
// terminal error event. Cancelled runs leave history untouched.
func (e *Engine) fail(ctx context.Context, cc *CallbackContext, err error, emit graph.Emitter) outcome {
	msg := err.Error()

	if cancelled(ctx, err) {
		e.logger.Info("engine.run.cancelled", "thread_id", cc.ThreadID, "strategy", cc.Strategy, "error", msg)
	} else {
		e.logger.Error("engine.run.failed", "thread_id", cc.ThreadID, "strategy", cc.Strategy, "error", msg)
		if _, serr := e.store.AppendAssistant(cc.ThreadID, core.AssistantText(msg)); serr != nil {
			e.logger.Warn("engine.history.append_failed", "thread_id", cc.ThreadID, "error", serr.Error())
		}
	}
	emit(core.NewErrorEvent(cc.ThreadID, 0, msg))

	cc.Err = err
	if cerr := e.callbacks.ExecuteCallbacks(context.WithoutCancel(ctx), CallbackOnError, cc); cerr != nil {
		e.logger.Warn("engine.callback.failed", "thread_id", cc.ThreadID, "error", cerr.Error())
	}
	return outcome{errMsg: msg}
}

func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) pending(s agent.Strategy, threadID, handleID string) (graph.Handle, error) {
	h, ok := s.Pending(threadID)
	if !ok {
		return graph.Handle{}, fmt.Errorf("%w: thread %s has no suspended run", graph.ErrNotResumable, threadID)
	}
	if handleID != "" && handleID != h.ID {
		return graph.Handle{}, fmt.Errorf("%w: %s is not the latest suspension of thread %s", graph.ErrStaleHandle, handleID, threadID)
	}
	return h, nil
}

func (e *Engine) runOptions(optFns []func(o *RunOptions)) RunOptions {
	opts := RunOptions{
		Strategy:   e.config.DefaultStrategy,
		AutoResume: e.config.AutoResume,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Strategy == "" {
		opts.Strategy = e.config.DefaultStrategy
	}
	return opts
}

func (e *Engine) lookup(name string) (agent.Strategy, error) {
	s, ok := e.Strategy(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

func hasInput(messages []core.Content, attachments []Attachment) bool {
	if len(attachments) > 0 {
		return true
	}
	for _, m := range messages {
		if m.Role != core.RoleUser && m.Role != "" {
			continue
		}
		if session.Normalize(m) != "" || len(m.Images()) > 0 {
			return true
		}
	}
	return false
}
