// Package stepmesh provides a high-level facade that assembles a complete
// stepmesh deployment from a config.Config: the model adapter, the tool
// service, the react and plan-execute strategies and the engine that drives
// them. Most applications interact with this package by:
//  1. Creating a StepMesh via New (optionally overriding model, tools or stores)
//  2. Starting the tool service with Start
//  3. Streaming runs (Stream, Resume) or running them synchronously (Invoke)
//
// The facade delegates orchestration to engine.Engine while keeping setup
// concise. All defaults are in-memory and safe for local development.
package stepmesh

import (
	"context"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/stepmesh/agent"
	"github.com/hupe1980/stepmesh/checkpoint"
	"github.com/hupe1980/stepmesh/config"
	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/engine"
	"github.com/hupe1980/stepmesh/execution"
	"github.com/hupe1980/stepmesh/heuristic"
	"github.com/hupe1980/stepmesh/logging"
	"github.com/hupe1980/stepmesh/model"
	"github.com/hupe1980/stepmesh/model/anthropic"
	"github.com/hupe1980/stepmesh/model/openai"
	"github.com/hupe1980/stepmesh/prompt"
	"github.com/hupe1980/stepmesh/session"
	"github.com/hupe1980/stepmesh/stream"
	"github.com/hupe1980/stepmesh/tool"
)

// Options configures the StepMesh instance.
type Options struct {
	// Config is the deployment configuration. Defaults to config.Default().
	Config config.Config

	// Model overrides the provider selected by Config.Model.
	Model model.Model

	// ToolSource backs the tool service. Defaults to a static source over Tools.
	ToolSource tool.Source
	Tools      []tool.Tool

	// Stores (default to in-memory implementations bounded by Config.Store)
	Store       session.Store
	Checkpoints checkpoint.Store

	// Publisher receives every frame produced by Stream and Resume.
	Publisher *stream.Publisher

	// Logger defaults to the logger described by Config.Logging.
	Logger logging.Logger

	// Now is the prompt clock. Defaults to time.Now.
	Now func() time.Time
}

// StepMesh aggregates the engine, strategies and tool service.
type StepMesh struct {
	opts     Options
	engine   *engine.Engine
	tools    *tool.Service
	registry *execution.Registry
	logger   logging.Logger
}

// New builds a StepMesh from its options. It fails when the configuration is
// invalid or the model provider cannot be constructed.
func New(optFns ...func(o *Options)) (*StepMesh, error) {
	opts := Options{
		Config: config.Default(),
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(cfg.LoggerConfig())
	}

	m := opts.Model
	if m == nil {
		var err error
		if m, err = NewModel(cfg.Model); err != nil {
			return nil, err
		}
	}

	source := opts.ToolSource
	if source == nil {
		source = tool.NewStaticSource(opts.Tools...)
	}
	tools := tool.NewService(source, func(o *tool.ServiceOptions) {
		o.SettleDelay = cfg.Tools.RestartSettleDelay
		o.Logger = logger
	})
	executor := tool.NewExecutor(func(o *tool.ExecutorOptions) {
		o.MaxParallel = cfg.Tools.MaxParallelCalls
		o.Logger = logger
	})

	prompts := prompt.NewLibrary(func(o *prompt.Options) {
		o.Templates = cfg.Prompts
		if opts.Now != nil {
			o.Now = opts.Now
		}
	})

	registry := execution.NewRegistry(func(o *execution.Options) { o.Policy = cfg.Store })

	store := opts.Store
	if store == nil {
		store = session.NewInMemoryStore(func(o *session.Options) { o.Policy = cfg.Store })
	}
	checkpoints := opts.Checkpoints
	if checkpoints == nil {
		checkpoints = checkpoint.NewInMemoryStore(func(o *checkpoint.Options) { o.Policy = cfg.Store })
	}

	e := engine.New(func(o *engine.Options) {
		o.Config = engine.Config{
			DefaultStrategy:   cfg.Engine.Strategy,
			MaxConcurrentRuns: cfg.Engine.MaxConcurrentRuns,
			EventBufferSize:   cfg.Engine.EventBufferSize,
			AutoResume:        cfg.Engine.AutoResume,
			Attachments: engine.AttachmentOptions{
				MaxBytes:     cfg.Attachments.MaxBytes,
				AllowedMimes: cfg.Attachments.AllowedMimes,
			},
		}
		o.Store = store
		o.Registry = registry
		o.Publisher = opts.Publisher
		o.Logger = logger
	})

	e.Register(agent.NewReact(m, func(o *agent.ReactOptions) {
		o.MaxSteps = cfg.Engine.MaxSteps
		o.Prompts = prompts
		o.Catalog = tools
		o.Executor = executor
		o.Tracker = registry
		o.Logger = logger
	}))
	e.Register(agent.NewPlanExecute(m, func(o *agent.PlanExecuteOptions) {
		o.MaxSteps = cfg.Engine.MaxSteps
		o.ExecuteMaxSteps = cfg.Engine.ExecuteMaxSteps
		o.Prompts = prompts
		o.Catalog = tools
		o.Executor = executor
		o.Checkpoints = checkpoints
		o.Tracker = registry
		o.Arithmetic = heuristic.NewArithmetic(cfg.Heuristics.WordOperators)
		o.Relevance = heuristic.NewRelevance(cfg.Heuristics.RelevanceThreshold, cfg.Heuristics.Intents)
		o.Logger = logger
	}))

	logger.Info("stepmesh.init", "model", m.Info().Name, "provider", m.Info().Provider, "strategy", cfg.Engine.Strategy)

	return &StepMesh{opts: opts, engine: e, tools: tools, registry: registry, logger: logger}, nil
}

// NewModel constructs the model adapter selected by cfg.
func NewModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			if cfg.Temperature != nil {
				o.Temperature = *cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
			o.APIKey = cfg.APIKey()
			o.BaseURL = cfg.BaseURL
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			if cfg.Temperature != nil {
				o.Temperature = *cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
			o.APIKey = cfg.APIKey()
			o.BaseURL = cfg.BaseURL
		}), nil
	case "echo", "":
		return model.NewEchoModel(), nil
	default:
		return nil, fmt.Errorf("%w: unknown model provider %q", config.ErrInvalid, cfg.Provider)
	}
}

// Engine exposes the underlying engine.
func (m *StepMesh) Engine() *engine.Engine { return m.engine }

// ToolService exposes the tool service.
func (m *StepMesh) ToolService() *tool.Service { return m.tools }

// Start starts the tool service.
func (m *StepMesh) Start(ctx context.Context) error { return m.tools.Start(ctx) }

// Stop shuts the tool service down.
func (m *StepMesh) Stop(ctx context.Context) error { return m.tools.Stop(ctx) }

// RestartTools restarts the tool service and reports the outcome.
func (m *StepMesh) RestartTools(ctx context.Context) tool.RestartResult {
	return m.tools.Restart(ctx)
}

// Tools snapshots the currently available tools.
func (m *StepMesh) Tools(ctx context.Context) *tool.View {
	return tool.NewView(ctx, m.tools, m.logger)
}

// Stream starts a run for threadID and returns its client frames. The
// channel closes after the last frame.
func (m *StepMesh) Stream(
	ctx context.Context,
	threadID string,
	messages []core.Content,
	optFns ...func(o *engine.RunOptions),
) (<-chan stream.Frame, error) {
	events, errs, err := m.engine.Stream(ctx, threadID, messages, optFns...)
	if err != nil {
		return nil, err
	}
	return m.engine.Frames(ctx, threadID, events, errs), nil
}

// Resume continues the suspended run of threadID and returns its frames.
func (m *StepMesh) Resume(
	ctx context.Context,
	threadID, handleID string,
	optFns ...func(o *engine.RunOptions),
) (<-chan stream.Frame, error) {
	events, errs, err := m.engine.Resume(ctx, threadID, handleID, optFns...)
	if err != nil {
		return nil, err
	}
	return m.engine.Frames(ctx, threadID, events, errs), nil
}

// Invoke runs synchronously and returns the final answer.
func (m *StepMesh) Invoke(
	ctx context.Context,
	threadID string,
	messages []core.Content,
	optFns ...func(o *engine.RunOptions),
) engine.Result {
	return m.engine.Invoke(ctx, threadID, messages, optFns...)
}

// History returns the stored conversation of threadID.
func (m *StepMesh) History(threadID string) ([]core.Content, error) {
	return m.engine.Store().History(threadID)
}

// State returns the execution state of threadID.
func (m *StepMesh) State(threadID string) core.ExecutionState {
	return m.registry.Get(threadID)
}
