package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/rlm/internal/observability"
	"github.com/harun/rlm/internal/tracing"
	"github.com/harun/rlm/pkg/outcome"
	"github.com/harun/rlm/pkg/repl"
	"github.com/harun/rlm/pkg/toolexecutor"
)

// NoProgressReason is the failure reason when a round neither calls a tool
// nor records a final answer
const NoProgressReason = "no tool call and no FINAL"

const (
	defaultMaxTokens  = 2000
	defaultMaxRetries = 3
)

// State is the position of a loop in its state machine
type State string

const (
	StateAwaitingModel  State = "awaiting_model"
	StateHandlingBlocks State = "handling_blocks"
	StateTerminated     State = "terminated"
)

// Session is the execution session a loop drives
type Session interface {
	Submit(ctx context.Context, code string) (repl.ExecutionOutcome, error)
	Final() (interface{}, bool)
}

// Config holds loop configuration
type Config struct {
	Provider LLMProvider
	Session  Session

	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64

	// MaxRetries is the number of attempts per model call for retryable errors
	MaxRetries int

	// TruncateLimit caps each tool output stream; 0 disables truncation
	TruncateLimit int

	// Depth is 0 for the root agent
	Depth int

	Logger   zerolog.Logger
	OnEvent  EventHandler
	Recorder Recorder
}

// Loop drives one agent from task to outcome
type Loop struct {
	cfg          Config
	bridge       *toolexecutor.Bridge
	logger       zerolog.Logger
	conversation *Conversation
	state        State
	retryDelay   time.Duration
}

// NewLoop creates a loop over cfg.Session
func NewLoop(cfg Config) (*Loop, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	bridge, err := toolexecutor.New(cfg.Session, toolexecutor.Options{
		TruncateLimit: cfg.TruncateLimit,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tool bridge: %w", err)
	}

	return &Loop{
		cfg:          cfg,
		bridge:       bridge,
		logger:       cfg.Logger.With().Str("component", "agent").Logger(),
		conversation: &Conversation{},
		state:        StateAwaitingModel,
		retryDelay:   time.Second,
	}, nil
}

// Run drives the loop until the model records a final answer or stops
// calling tools. A model service failure is returned as an error, never as
// a failed outcome.
func (l *Loop) Run(ctx context.Context, task string) (outcome.Outcome, error) {
	if l.state == StateTerminated || l.conversation.Len() > 0 {
		return outcome.Outcome{}, fmt.Errorf("loop has already run")
	}

	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.NewAgentRunContext(ctx)
	}
	ctx, span := tracing.StartSpan(ctx, "rlm.agent", "agent.run",
		attribute.String("rlm.provider", l.cfg.Provider.Provider()),
		attribute.String("rlm.model", l.cfg.Model),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, l.logger)
	startTime := time.Now()

	logger.Info().Str("model", l.cfg.Model).Msg("Agent run started")

	l.appendTurn(ctx, logger, Turn{Role: RoleUser, Blocks: []ContentBlock{TextBlock(task)}})

	for round := 1; ; round++ {
		result, done, err := l.round(ctx, logger, round)
		if err != nil {
			l.state = StateTerminated
			observability.RecordAgentRun(l.cfg.Depth, time.Since(startTime), "error")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error().Err(err).Int("round", round).Msg("Agent run aborted")
			return outcome.Outcome{}, err
		}
		if !done {
			continue
		}

		l.state = StateTerminated
		observability.RecordAgentRun(l.cfg.Depth, time.Since(startTime), string(result.Status))
		span.SetAttributes(attribute.String("rlm.outcome", string(result.Status)))

		if l.cfg.Recorder != nil {
			if err := l.cfg.Recorder.RecordOutcome(ctx, result); err != nil {
				logger.Warn().Err(err).Msg("Failed to record outcome")
			}
		}
		l.emit(Event{Type: EventOutcome, Round: round, Outcome: &result})

		logger.Info().
			Str("status", string(result.Status)).
			Int("rounds", round).
			Dur("duration", time.Since(startTime)).
			Msg("Agent run finished")
		return result, nil
	}
}

// round performs one model call and handles its blocks
func (l *Loop) round(ctx context.Context, logger zerolog.Logger, round int) (outcome.Outcome, bool, error) {
	if err := ctx.Err(); err != nil {
		return outcome.Outcome{}, false, err
	}

	l.state = StateAwaitingModel
	observability.RecordRound(l.cfg.Depth)

	ctx, span := tracing.StartSpan(ctx, "rlm.agent", "agent.round", attribute.Int("rlm.round", round))
	defer span.End()

	response, err := l.callLLMWithRetry(ctx, logger)
	if err != nil {
		return outcome.Outcome{}, false, fmt.Errorf("model call failed: %w", err)
	}

	l.appendTurn(ctx, logger, Turn{Role: RoleAssistant, Blocks: response.Blocks})
	l.state = StateHandlingBlocks

	results := []ContentBlock{}
	for _, block := range response.Blocks {
		switch block.Type {
		case BlockThinking:
			l.emit(Event{Type: EventThinking, Round: round, Text: block.Thinking})
		case BlockText:
			l.emit(Event{Type: EventText, Round: round, Text: block.Text})
		case BlockToolUse:
			call := toolexecutor.ToolCall{ID: block.ID, Name: block.Name, Input: block.Input}
			l.emit(Event{Type: EventToolCall, Round: round, ToolCall: &call})

			res, err := l.bridge.Execute(ctx, call)
			if err != nil {
				return outcome.Outcome{}, false, err
			}
			l.emit(Event{Type: EventToolResult, Round: round, ToolResult: &res})
			results = append(results, ToolResultBlock(res.ToolUseID, res.Content, res.IsError))
		default:
			logger.Debug().Str("type", string(block.Type)).Msg("Skipping content block")
		}
	}

	if len(results) > 0 {
		l.appendTurn(ctx, logger, Turn{Role: RoleUser, Blocks: results})
	}

	if value, ok := l.cfg.Session.Final(); ok {
		return outcome.Completed(value), true, nil
	}
	if len(results) == 0 {
		return outcome.Failed(NoProgressReason), true, nil
	}

	logger.Debug().Int("round", round).Int("tool_calls", len(results)).Msg("Round completed")
	return outcome.Outcome{}, false, nil
}

// callLLMWithRetry calls the provider with exponential backoff on retryable errors
func (l *Loop) callLLMWithRetry(ctx context.Context, logger zerolog.Logger) (*LLMResponse, error) {
	var lastErr error

	for attempt := 0; attempt < l.cfg.MaxRetries; attempt++ {
		response, err := l.callLLM(ctx)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if ctx.Err() != nil || !IsRetryableError(err) {
			return nil, err
		}

		if attempt == l.cfg.MaxRetries-1 {
			break
		}

		delay := l.retryDelay * time.Duration(1<<attempt)
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", l.cfg.MaxRetries, lastErr)
}

// callLLM makes a single LLM API call
func (l *Loop) callLLM(ctx context.Context) (*LLMResponse, error) {
	provider := l.cfg.Provider.Provider()
	ctx, span := tracing.StartSpan(ctx, "rlm.agent", "model.call", attribute.String("rlm.provider", provider))
	defer span.End()

	request := LLMRequest{
		Model:        l.cfg.Model,
		SystemPrompt: l.cfg.SystemPrompt,
		Tools:        l.bridge.Schemas(),
		Turns:        l.conversation.Turns(),
		Temperature:  l.cfg.Temperature,
		MaxTokens:    l.cfg.MaxTokens,
	}

	start := time.Now()
	response, err := l.cfg.Provider.Call(ctx, request)
	observability.RecordModelCall(provider, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if response == nil {
		return nil, fmt.Errorf("provider %s returned no response", provider)
	}

	if response.Usage != nil {
		observability.RecordTokens(provider, response.Usage.InputTokens, response.Usage.OutputTokens)
	}
	return response, nil
}

func (l *Loop) appendTurn(ctx context.Context, logger zerolog.Logger, turn Turn) {
	l.conversation.Append(turn)
	if l.cfg.Recorder == nil {
		return
	}
	if err := l.cfg.Recorder.RecordTurn(ctx, turn); err != nil {
		logger.Warn().Err(err).Msg("Failed to record turn")
	}
}

func (l *Loop) emit(event Event) {
	if l.cfg.OnEvent == nil {
		return
	}
	event.Depth = l.cfg.Depth
	l.cfg.OnEvent(event)
}
