package repl

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/rlm/internal/observability"
	"github.com/harun/rlm/internal/tracing"
	"github.com/harun/rlm/pkg/outcome"
)

const sessionIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// DelegateFunc runs a nested agent for an AGENT call made inside a submission.
// A returned error is a service fault and surfaces as an exception in the
// calling code; task-level failure belongs in the Outcome.
type DelegateFunc func(ctx context.Context, task string, taskContext map[string]interface{}) (outcome.Outcome, error)

// Config configures a Session
type Config struct {
	PythonPath string
	WorkDir    string
	Env        []string

	// Globals are bound into the namespace before the first submission
	Globals map[string]interface{}

	// Depth is the delegation depth of the agent owning this session
	Depth int

	Delegate DelegateFunc
	Logger   zerolog.Logger
}

// ExecutionOutcome is what one submission wrote
type ExecutionOutcome struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Session is a persistent interpreter namespace. Submissions are serialized.
type Session struct {
	id     string
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	proc     *interpreter
	final    interface{}
	hasFinal bool
	closed   bool
}

// New starts an interpreter and binds FINAL, AGENT and cfg.Globals.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.PythonPath == "" {
		cfg.PythonPath = "python3"
	}

	id, err := gonanoid.Generate(sessionIDAlphabet, 12)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	s := &Session{
		id:  id,
		cfg: cfg,
		logger: cfg.Logger.With().
			Str("component", "repl").
			Str("session_id", id).
			Int("depth", cfg.Depth).
			Logger(),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proc, err := s.start()
	if err != nil {
		return nil, err
	}
	s.proc = proc

	observability.SessionStarted()
	s.logger.Debug().Str("python", proc.version).Msg("Session started")
	return s, nil
}

func (s *Session) start() (*interpreter, error) {
	proc, err := launch(s.cfg, s.logger)
	if err != nil {
		return nil, err
	}

	globals := map[string]interface{}{
		"SESSION_ID":  s.id,
		"AGENT_DEPTH": s.cfg.Depth,
	}
	for k, v := range s.cfg.Globals {
		globals[k] = v
	}

	if err := proc.handshake(globals); err != nil {
		proc.kill()
		proc.stop()
		return nil, fmt.Errorf("%w: %v", ErrInterpreterStart, err)
	}
	return proc, nil
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Final returns the value most recently passed to FINAL, if any.
func (s *Session) Final() (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final, s.hasFinal
}

// Submit executes code in the session namespace and returns the captured
// output. Failures of the code itself are reported in Stderr, not as an error.
// An error is returned only when the session is closed, the context ends, or
// the interpreter cannot be brought back after a crash.
func (s *Session) Submit(ctx context.Context, code string) (ExecutionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ExecutionOutcome{}, ErrSessionClosed
	}

	ctx, span := tracing.StartSpan(ctx, "repl", "session.submit",
		attribute.String("rlm.session_id", s.id),
		attribute.Int("rlm.code_length", len(code)),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordSubmission(time.Since(start)) }()

	proc := s.proc
	stopWatch := context.AfterFunc(ctx, proc.kill)
	defer stopWatch()

	if err := proc.send(request{Type: msgExec, Code: code}); err != nil {
		return s.recover(ctx, err)
	}

	for {
		var msg reply
		if err := proc.dec.Decode(&msg); err != nil {
			return s.recover(ctx, err)
		}

		switch msg.Type {
		case msgAgent:
			answer := s.delegate(ctx, msg.Task, msg.Context)
			if err := proc.send(answer); err != nil {
				return s.recover(ctx, err)
			}

		case msgResult:
			if msg.Final != nil {
				s.final = msg.Final.Value
				s.hasFinal = true
			}
			return ExecutionOutcome{Stdout: msg.Stdout, Stderr: msg.Stderr}, nil

		default:
			s.logger.Warn().Str("type", msg.Type).Msg("Ignoring unexpected interpreter message")
		}
	}
}

func (s *Session) delegate(ctx context.Context, task string, taskContext map[string]interface{}) agentReply {
	if s.cfg.Delegate == nil {
		return newAgentReply(outcome.Failed("delegation is not available in this session"))
	}

	result, err := s.cfg.Delegate(ctx, task, taskContext)
	if err != nil {
		s.logger.Error().Err(err).Str("task", task).Msg("Delegation fault")
		return agentReply{Type: msgAgentResult, Fault: err.Error()}
	}
	return newAgentReply(result)
}

// recover handles a broken control channel. The interpreter is replaced with a
// fresh one; its namespace does not survive.
func (s *Session) recover(ctx context.Context, cause error) (ExecutionOutcome, error) {
	dead := s.proc
	status := dead.exitStatus()
	dead.stop()

	s.logger.Warn().Err(cause).Str("status", status).Msg("Interpreter exited during submission")

	proc, err := s.start()
	if err != nil {
		s.closed = true
		observability.SessionStopped()
		return ExecutionOutcome{}, err
	}
	s.proc = proc
	observability.RecordInterpreterRestart()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ExecutionOutcome{}, ctxErr
	}

	return ExecutionOutcome{
		Stderr: fmt.Sprintf("SessionError: the interpreter exited unexpectedly (%s); the session namespace was reset.\n", status),
	}, nil
}

// Close stops the interpreter. Further submissions fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.proc.stop()
	observability.SessionStopped()
	s.logger.Debug().Msg("Session closed")
	return nil
}
