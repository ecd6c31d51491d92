// Package agentcrew assembles a complete multi-agent crew: a coordinator,
// the specialised agents, the orchestration engine and the plan executor.
// Most applications interact with this package by:
//  1. Creating a Crew via New() or NewFromConfig()
//  2. Adding domain experts or custom agents if needed
//  3. Running goals end to end with Run, or single tasks through System()
//
// Every capability defaults to its simulated counterpart so a crew built
// without options is deterministic and needs no network access.
package agentcrew

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentcrew/agent"
	"github.com/hupe1980/agentcrew/code"
	"github.com/hupe1980/agentcrew/config"
	"github.com/hupe1980/agentcrew/coordinator"
	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/engine"
	"github.com/hupe1980/agentcrew/knowledge"
	"github.com/hupe1980/agentcrew/logging"
	"github.com/hupe1980/agentcrew/model"
	"github.com/hupe1980/agentcrew/model/anthropic"
	"github.com/hupe1980/agentcrew/model/openai"
	"github.com/hupe1980/agentcrew/planner"
	"github.com/hupe1980/agentcrew/store"
	"github.com/hupe1980/agentcrew/store/sqlite"
	"github.com/hupe1980/agentcrew/tool"
)

// Options configures a Crew.
type Options struct {
	// LLM backs every agent. Defaults to the simulated model.
	LLM model.LLM

	// Tools is the tool executor's registry. Defaults to the simulated tools.
	Tools *tool.Registry

	// Stores (default to in-memory implementations if not provided)
	Knowledge core.KnowledgeStore
	Plans     core.PlanStore

	// EngineConfig holds the orchestration policies.
	EngineConfig engine.Config

	// Workers starts one goroutine per agent in Start instead of ticking.
	Workers bool

	// MaxPlanTasks bounds generated plans.
	MaxPlanTasks int

	// DomainExperts are added at construction, one per domain.
	DomainExperts []string

	// Callbacks observe the engine lifecycle. Optional.
	Callbacks *engine.CallbackManager

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Crew is the high-level facade over the engine and the plan executor.
type Crew struct {
	opts    Options
	system  *engine.System
	planner *planner.Executor
	closers []io.Closer
}

// New creates a crew with the coordinator and one agent per role. Any unset
// capability or store is initialized with a simulated or in-memory
// implementation.
func New(optFns ...func(o *Options)) (*Crew, error) {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		MaxPlanTasks: agent.DefaultMaxPlanTasks,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.LLM == nil {
		opts.LLM = model.NewSimulated()
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry(tool.NewSimulatedTools(), func(o *tool.RegistryOptions) { o.Logger = opts.Logger })
	}
	if opts.Knowledge == nil {
		opts.Knowledge = knowledge.NewInMemoryStore()
	}
	if opts.Plans == nil {
		opts.Plans = store.NewInMemoryPlanStore()
	}
	logger := logging.OrNoOp(opts.Logger)

	withLogger := func(o *agent.Options) { o.Logger = logger }
	coord := coordinator.New(opts.LLM, func(o *coordinator.Options) { o.Logger = logger })
	system := engine.New(coord, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Callbacks = opts.Callbacks
		o.Logger = logger
	})

	agents := []core.Agent{
		agent.NewReasoning(opts.LLM, withLogger),
		agent.NewKnowledge(opts.LLM, opts.Knowledge, withLogger),
		agent.NewToolExecutor(opts.Tools, opts.LLM, withLogger),
		agent.NewEvaluation(opts.LLM, withLogger),
	}
	for _, a := range agents {
		if err := system.AddAgent(a); err != nil {
			return nil, fmt.Errorf("add %s agent: %w", a.Role(), err)
		}
	}
	for _, domain := range opts.DomainExperts {
		if _, err := system.AddDomainExpert(domain, opts.LLM, withLogger); err != nil {
			return nil, fmt.Errorf("add domain expert %q: %w", domain, err)
		}
	}

	exec := planner.New(system, opts.Plans, func(o *planner.Options) {
		o.MaxTasks = opts.MaxPlanTasks
		o.Logger = logger
	})

	return &Crew{opts: opts, system: system, planner: exec}, nil
}

// NewFromConfig builds the capabilities and stores described by cfg and
// returns the assembled crew. Close releases stores opened here.
func NewFromConfig(cfg *config.Config, optFns ...func(o *Options)) (*Crew, error) {
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  cfg.Log.LogLevel(),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	var closers []io.Closer
	fns := []func(o *Options){func(o *Options) {
		o.Logger = logger
		o.EngineConfig = engine.Config{
			MaxIterations:         cfg.Engine.MaxIterations,
			Timeout:               cfg.Engine.Timeout,
			StaleAfter:            cfg.Engine.StaleAfter,
			ForceComplete:         cfg.Engine.ForceComplete,
			PollInterval:          cfg.Engine.PollInterval,
			FallbackToCoordinator: cfg.Engine.FallbackToCoordinator,
			HeartbeatInterval:     cfg.Engine.HeartbeatInterval,
		}
		o.Workers = cfg.Engine.Workers
		o.MaxPlanTasks = cfg.Planner.MaxTasks
		o.DomainExperts = cfg.DomainExperts
	}}

	if !cfg.Simulated {
		llm, err := NewLLM(cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		tools := tool.NewRegistry(tool.NewLiveTools(func(o *tool.LiveOptions) {
			o.SearchEndpoint = cfg.Tools.SearchEndpoint
			o.MaxFetchBytes = cfg.Tools.MaxFetchBytes
			o.Executor = code.NewProcessExecutor(func(o *code.ProcessOptions) {
				if cfg.Tools.Interpreter != "" {
					o.Interpreter = cfg.Tools.Interpreter
				}
				if cfg.Tools.CodeTimeout > 0 {
					o.Timeout = cfg.Tools.CodeTimeout
				}
			})
		}), func(o *tool.RegistryOptions) { o.Logger = logger })
		fns = append(fns, func(o *Options) {
			o.LLM = llm
			o.Tools = tools
		})
	}

	if cfg.Store.Driver == "sqlite" {
		db, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		closers = append(closers, db)
		fns = append(fns, func(o *Options) {
			o.Plans = db
			o.Knowledge = db
		})
	}

	crew, err := New(append(fns, optFns...)...)
	if err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}
	crew.closers = closers
	return crew, nil
}

// NewLLM builds the live language model selected by cfg.
func NewLLM(cfg config.ModelConfig, logger logging.Logger) (*model.Live, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model %s: missing API key", cfg.Provider)
	}
	var m model.Model
	switch cfg.Provider {
	case "openai":
		m = openai.NewModel(func(o *openai.Options) {
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
		})
	case "anthropic":
		m = anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
		})
	default:
		return nil, fmt.Errorf("model: unknown provider %q", cfg.Provider)
	}
	return model.NewLive(m, func(o *model.LiveOptions) {
		o.MaxCalls = cfg.MaxCalls
		o.MaxTokens = cfg.MaxTokens
		o.Logger = logger
	}), nil
}

// System returns the orchestration engine.
func (c *Crew) System() *engine.System { return c.system }

// Planner returns the plan executor.
func (c *Crew) Planner() *planner.Executor { return c.planner }

// Plans returns the plan store.
func (c *Crew) Plans() core.PlanStore { return c.opts.Plans }

// Start launches the workers when the crew was configured for worker mode.
// Without workers every wait drives the engine by ticking.
func (c *Crew) Start(ctx context.Context) error {
	if !c.opts.Workers {
		return nil
	}
	return c.system.Start(ctx)
}

// Run generates a plan for goal, executes it and returns the report.
func (c *Crew) Run(ctx context.Context, goal string) (planner.Report, error) {
	return c.planner.Execute(ctx, goal)
}

// Close stops the workers and releases the stores the crew opened.
func (c *Crew) Close() error {
	var errs []error
	if c.system.Running() {
		errs = append(errs, c.system.Stop())
	}
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}
