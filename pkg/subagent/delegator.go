package subagent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/rlm/internal/observability"
	"github.com/harun/rlm/internal/tracing"
	"github.com/harun/rlm/pkg/agent"
	"github.com/harun/rlm/pkg/outcome"
	"github.com/harun/rlm/pkg/repl"
)

// DefaultMaxDepth is the delegation depth cap used when none is configured
const DefaultMaxDepth = 5

// ExecSession is a session a Delegator can drive and dispose of
type ExecSession interface {
	agent.Session
	Close() error
}

// SessionFactory starts a session for one agent run
type SessionFactory func(ctx context.Context, cfg repl.Config) (ExecSession, error)

// Config holds delegator configuration
type Config struct {
	Provider    agent.LLMProvider
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int

	RootPrompt     string
	SubAgentPrompt string

	// Truncation limits for tool output; 0 disables
	RootTruncateLimit     int
	SubAgentTruncateLimit int

	// MaxDepth caps nesting; 0 means unlimited
	MaxDepth int

	// Session is the template for every session; Depth, Globals and
	// Delegate are filled in per run
	Session    repl.Config
	NewSession SessionFactory

	Coordinator *Coordinator
	Recorder    agent.Recorder
	OnEvent     agent.EventHandler
	Logger      zerolog.Logger
}

// Delegator runs the root agent and every nested agent spawned through AGENT
type Delegator struct {
	cfg    Config
	logger zerolog.Logger
}

// NewDelegator creates a delegator
func NewDelegator(cfg Config) (*Delegator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth cannot be negative: %d", cfg.MaxDepth)
	}
	if cfg.RootTruncateLimit < 0 || cfg.SubAgentTruncateLimit < 0 {
		return nil, fmt.Errorf("truncate limits cannot be negative")
	}
	if cfg.RootPrompt == "" {
		cfg.RootPrompt = agent.RootSystemPrompt
	}
	if cfg.SubAgentPrompt == "" {
		cfg.SubAgentPrompt = agent.SubAgentSystemPrompt
	}
	if cfg.NewSession == nil {
		cfg.NewSession = func(ctx context.Context, sc repl.Config) (ExecSession, error) {
			s, err := repl.New(ctx, sc)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = NewCoordinator(cfg.Logger)
	}

	return &Delegator{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "subagent").Logger(),
	}, nil
}

// Coordinator returns the run registry
func (d *Delegator) Coordinator() *Coordinator {
	return d.cfg.Coordinator
}

// RunRoot drives the top-level agent on task
func (d *Delegator) RunRoot(ctx context.Context, task string) (outcome.Outcome, error) {
	ctx = tracing.NewAgentRunContext(ctx)

	return d.run(ctx, run{
		depth:  0,
		task:   task,
		prompt: d.cfg.RootPrompt,
		limit:  d.cfg.RootTruncateLimit,
	})
}

// Delegate drives a nested agent for an AGENT call made by an agent at
// parentDepth. A call beyond MaxDepth fails without starting anything.
func (d *Delegator) Delegate(ctx context.Context, parentDepth int, task string, taskContext map[string]interface{}) (outcome.Outcome, error) {
	depth := parentDepth + 1
	if d.cfg.MaxDepth > 0 && depth > d.cfg.MaxDepth {
		observability.RecordDelegation("rejected")
		d.logger.Warn().
			Int("depth", depth).
			Int("max_depth", d.cfg.MaxDepth).
			Msg("Delegation rejected")
		return outcome.Failed(fmt.Sprintf("maximum delegation depth (%d) exceeded", d.cfg.MaxDepth)), nil
	}

	parentRunID := tracing.GetRunID(ctx)
	ctx = tracing.PropagateToSubAgent(ctx)
	ctx = tracing.WithDepth(ctx, depth)

	ctx, span := tracing.StartSpan(ctx, "rlm.subagent", "subagent.delegate",
		attribute.Int("rlm.child_depth", depth),
	)
	defer span.End()

	result, err := d.run(ctx, run{
		depth:       depth,
		parentRunID: parentRunID,
		task:        task,
		taskContext: taskContext,
		prompt:      d.cfg.SubAgentPrompt,
		limit:       d.cfg.SubAgentTruncateLimit,
	})
	if err != nil {
		observability.RecordDelegation("error")
		span.RecordError(err)
		return outcome.Outcome{}, err
	}

	observability.RecordDelegation(string(result.Status))
	return result, nil
}

type run struct {
	depth       int
	parentRunID string
	task        string
	taskContext map[string]interface{}
	prompt      string
	limit       int
}

func (d *Delegator) run(ctx context.Context, r run) (outcome.Outcome, error) {
	runID, err := d.cfg.Coordinator.Register(RunParams{
		ID:          tracing.GetRunID(ctx),
		ParentRunID: r.parentRunID,
		Task:        r.task,
		Depth:       r.depth,
		Context:     r.taskContext,
	})
	if err != nil {
		return outcome.Outcome{}, err
	}

	logger := tracing.LoggerFromContext(ctx, d.logger)
	startTime := time.Now()

	result, err := d.drive(ctx, logger, runID, r)
	if err != nil {
		_ = d.cfg.Coordinator.Abort(runID, err)
		return outcome.Outcome{}, err
	}
	_ = d.cfg.Coordinator.Finish(runID, result)

	logger.Debug().
		Str("status", string(result.Status)).
		Dur("duration", time.Since(startTime)).
		Msg("Agent finished")
	return result, nil
}

func (d *Delegator) drive(ctx context.Context, logger zerolog.Logger, runID string, r run) (outcome.Outcome, error) {
	sessionCfg := d.cfg.Session
	sessionCfg.Depth = r.depth
	sessionCfg.Logger = logger
	sessionCfg.Globals = map[string]interface{}{}
	for k, v := range d.cfg.Session.Globals {
		sessionCfg.Globals[k] = v
	}
	if r.depth > 0 {
		sessionCfg.Globals["context"] = r.taskContext
	}
	sessionCfg.Delegate = func(ctx context.Context, task string, taskContext map[string]interface{}) (outcome.Outcome, error) {
		return d.Delegate(ctx, r.depth, task, taskContext)
	}

	session, err := d.cfg.NewSession(ctx, sessionCfg)
	if err != nil {
		return outcome.Outcome{}, fmt.Errorf("failed to start session at depth %d: %w", r.depth, err)
	}
	defer session.Close()

	loop, err := agent.NewLoop(agent.Config{
		Provider:      d.cfg.Provider,
		Session:       session,
		Model:         d.cfg.Model,
		SystemPrompt:  r.prompt,
		MaxTokens:     d.cfg.MaxTokens,
		Temperature:   d.cfg.Temperature,
		MaxRetries:    d.cfg.MaxRetries,
		TruncateLimit: r.limit,
		Depth:         r.depth,
		Logger:        logger,
		OnEvent:       d.cfg.OnEvent,
		Recorder:      d.cfg.Recorder,
	})
	if err != nil {
		return outcome.Outcome{}, err
	}

	_ = d.cfg.Coordinator.MarkRunning(runID)

	task := r.task
	if r.depth > 0 {
		task = RenderTask(r.task, r.taskContext)
	}
	return loop.Run(ctx, task)
}
