package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harun/rlm/pkg/outcome"
	"github.com/harun/rlm/pkg/repl"
)

// MockProvider is a mock implementation of LLMProvider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	args := m.Called(ctx, request)
	resp, _ := args.Get(0).(*LLMResponse)
	return resp, args.Error(1)
}

func (m *MockProvider) Provider() string {
	return "mock"
}

// fakeSession records submitted code and sets the final value when the code
// matches finalOn.
type fakeSession struct {
	submitted []string
	outputs   map[string]repl.ExecutionOutcome
	finalOn   string
	final     interface{}
	hasFinal  bool
	err       error
}

func (s *fakeSession) Submit(ctx context.Context, code string) (repl.ExecutionOutcome, error) {
	if s.err != nil {
		return repl.ExecutionOutcome{}, s.err
	}
	s.submitted = append(s.submitted, code)
	if code == s.finalOn {
		s.hasFinal = true
	}
	return s.outputs[code], nil
}

func (s *fakeSession) Final() (interface{}, bool) {
	return s.final, s.hasFinal
}

type memoryRecorder struct {
	turns    []Turn
	outcomes []outcome.Outcome
}

func (r *memoryRecorder) RecordTurn(ctx context.Context, turn Turn) error {
	r.turns = append(r.turns, turn)
	return nil
}

func (r *memoryRecorder) RecordOutcome(ctx context.Context, o outcome.Outcome) error {
	r.outcomes = append(r.outcomes, o)
	return nil
}

func toolUse(id, code string) ContentBlock {
	input, _ := json.Marshal(map[string]string{"code": code})
	return ToolUseBlock(id, "run_python", input)
}

func newTestLoop(t *testing.T, provider LLMProvider, session Session, mutate func(*Config)) *Loop {
	t.Helper()
	cfg := Config{
		Provider:     provider,
		Session:      session,
		Model:        "test-model",
		SystemPrompt: RootSystemPrompt,
		Logger:       zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	loop, err := NewLoop(cfg)
	require.NoError(t, err)
	loop.retryDelay = time.Millisecond
	return loop
}

func TestNewLoop(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing provider", cfg: Config{Session: &fakeSession{}, Model: "m"}},
		{name: "missing session", cfg: Config{Provider: &MockProvider{}, Model: "m"}},
		{name: "missing model", cfg: Config{Provider: &MockProvider{}, Session: &fakeSession{}}},
		{name: "negative truncation", cfg: Config{Provider: &MockProvider{}, Session: &fakeSession{}, Model: "m", TruncateLimit: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoop(tt.cfg)
			assert.Error(t, err)
		})
	}

	t.Run("should apply defaults", func(t *testing.T) {
		loop := newTestLoop(t, &MockProvider{}, &fakeSession{}, nil)
		assert.Equal(t, defaultMaxTokens, loop.cfg.MaxTokens)
		assert.Equal(t, defaultMaxRetries, loop.cfg.MaxRetries)
		assert.Equal(t, StateAwaitingModel, loop.state)
	})
}

func TestLoop_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("should complete when FINAL is recorded", func(t *testing.T) {
		session := &fakeSession{
			finalOn: "FINAL(500 * 100)",
			final:   50000,
			outputs: map[string]repl.ExecutionOutcome{"print(500 * 100)": {Stdout: "50000\n"}},
		}

		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.MatchedBy(func(r LLMRequest) bool { return len(r.Turns) == 1 })).
			Return(&LLMResponse{Blocks: []ContentBlock{
				{Type: BlockThinking, Thinking: "compute it", Signature: "sig"},
				toolUse("toolu_1", "print(500 * 100)"),
			}}, nil).Once()
		provider.On("Call", mock.Anything, mock.MatchedBy(func(r LLMRequest) bool { return len(r.Turns) == 3 })).
			Return(&LLMResponse{Blocks: []ContentBlock{
				TextBlock("Recording the answer."),
				toolUse("toolu_2", "FINAL(500 * 100)"),
			}}, nil).Once()

		var events []Event
		recorder := &memoryRecorder{}
		loop := newTestLoop(t, provider, session, func(cfg *Config) {
			cfg.OnEvent = func(e Event) { events = append(events, e) }
			cfg.Recorder = recorder
		})

		result, err := loop.Run(ctx, "Calculate 500 times 100")
		require.NoError(t, err)

		assert.Equal(t, outcome.Completed(50000), result)
		assert.Equal(t, StateTerminated, loop.state)
		assert.Equal(t, []string{"print(500 * 100)", "FINAL(500 * 100)"}, session.submitted)

		turns := loop.conversation.Turns()
		require.Len(t, turns, 5)
		assert.Equal(t, RoleUser, turns[0].Role)
		assert.Equal(t, "Calculate 500 times 100", turns[0].Blocks[0].Text)
		assert.Equal(t, RoleAssistant, turns[1].Role)
		assert.Equal(t, "sig", turns[1].Blocks[0].Signature)
		assert.Equal(t, RoleUser, turns[2].Role)
		assert.Equal(t, "toolu_1", turns[2].Blocks[0].ToolUseID)
		assert.Equal(t, `{"stdout":"50000\n","stderr":""}`, turns[2].Blocks[0].Content)
		assert.Equal(t, "toolu_2", turns[4].Blocks[0].ToolUseID)

		assert.Len(t, recorder.turns, 5)
		assert.Equal(t, []outcome.Outcome{outcome.Completed(50000)}, recorder.outcomes)

		var types []EventType
		for _, e := range events {
			types = append(types, e.Type)
		}
		assert.Equal(t, []EventType{
			EventThinking, EventToolCall, EventToolResult,
			EventText, EventToolCall, EventToolResult,
			EventOutcome,
		}, types)
		provider.AssertExpectations(t)
	})

	t.Run("should send tool schema and system prompt", func(t *testing.T) {
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.Anything).
			Return(&LLMResponse{Blocks: []ContentBlock{TextBlock("done")}}, nil).Once()

		loop := newTestLoop(t, provider, &fakeSession{}, nil)
		_, err := loop.Run(ctx, "task")
		require.NoError(t, err)

		request := provider.Calls[0].Arguments.Get(1).(LLMRequest)
		assert.Equal(t, "test-model", request.Model)
		assert.Equal(t, RootSystemPrompt, request.SystemPrompt)
		require.Len(t, request.Tools, 1)
		assert.Equal(t, "run_python", request.Tools[0].Name)
		assert.Equal(t, defaultMaxTokens, request.MaxTokens)
	})

	t.Run("should fail when round has no tool call", func(t *testing.T) {
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.Anything).
			Return(&LLMResponse{Blocks: []ContentBlock{TextBlock("The answer is 50000.")}}, nil).Once()

		session := &fakeSession{}
		loop := newTestLoop(t, provider, session, nil)

		result, err := loop.Run(ctx, "Calculate 500 times 100")
		require.NoError(t, err)
		assert.Equal(t, outcome.Failed(NoProgressReason), result)
		assert.Equal(t, "no tool call and no FINAL", result.Reason)
		assert.Empty(t, session.submitted)
		assert.Equal(t, 2, loop.conversation.Len())
	})

	t.Run("should fail on empty response", func(t *testing.T) {
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.Anything).
			Return(&LLMResponse{}, nil).Once()

		loop := newTestLoop(t, provider, &fakeSession{}, nil)
		result, err := loop.Run(ctx, "task")
		require.NoError(t, err)
		assert.False(t, result.IsCompleted())
	})

	t.Run("should prefer FINAL over missing tool call", func(t *testing.T) {
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.Anything).
			Return(&LLMResponse{Blocks: []ContentBlock{TextBlock("done")}}, nil).Once()

		session := &fakeSession{hasFinal: true, final: "already"}
		loop := newTestLoop(t, provider, session, nil)

		result, err := loop.Run(ctx, "task")
		require.NoError(t, err)
		assert.Equal(t, outcome.Completed("already"), result)
	})

	t.Run("should group tool results in one turn", func(t *testing.T) {
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.MatchedBy(func(r LLMRequest) bool { return len(r.Turns) == 1 })).
			Return(&LLMResponse{Blocks: []ContentBlock{
				toolUse("a", "x = 1"),
				ToolUseBlock("b", "unknown_tool", json.RawMessage(`{}`)),
				toolUse("c", "FINAL(x)"),
			}}, nil).Once()

		session := &fakeSession{finalOn: "FINAL(x)", final: 1}
		loop := newTestLoop(t, provider, session, nil)

		result, err := loop.Run(ctx, "task")
		require.NoError(t, err)
		assert.True(t, result.IsCompleted())

		turns := loop.conversation.Turns()
		require.Len(t, turns, 3)
		results := turns[2].Blocks
		require.Len(t, results, 3)
		assert.Equal(t, "a", results[0].ToolUseID)
		assert.Equal(t, "b", results[1].ToolUseID)
		assert.True(t, results[1].IsError)
		assert.Equal(t, "c", results[2].ToolUseID)
	})

	t.Run("should truncate tool output", func(t *testing.T) {
		session := &fakeSession{
			outputs: map[string]repl.ExecutionOutcome{"print('x' * 30)": {Stdout: "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxx\n"}},
		}
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.MatchedBy(func(r LLMRequest) bool { return len(r.Turns) == 1 })).
			Return(&LLMResponse{Blocks: []ContentBlock{toolUse("a", "print('x' * 30)")}}, nil).Once()
		provider.On("Call", mock.Anything, mock.MatchedBy(func(r LLMRequest) bool { return len(r.Turns) == 3 })).
			Return(&LLMResponse{Blocks: []ContentBlock{TextBlock("stop")}}, nil).Once()

		loop := newTestLoop(t, provider, session, func(cfg *Config) { cfg.TruncateLimit = 10 })
		_, err := loop.Run(ctx, "task")
		require.NoError(t, err)

		content := loop.conversation.Turns()[2].Blocks[0].Content
		assert.Equal(t, `{"stdout":"xxxxxxxxxx\n... [truncated 21 characters]","stderr":""}`, content)
	})

	t.Run("should return provider errors", func(t *testing.T) {
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.Anything).
			Return(nil, errors.New("invalid api key")).Once()

		loop := newTestLoop(t, provider, &fakeSession{}, nil)
		_, err := loop.Run(ctx, "task")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid api key")
		assert.Equal(t, StateTerminated, loop.state)
		provider.AssertNumberOfCalls(t, "Call", 1)
	})

	t.Run("should retry retryable errors", func(t *testing.T) {
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.Anything).
			Return(nil, errors.New("503 service unavailable")).Once()
		provider.On("Call", mock.Anything, mock.Anything).
			Return(&LLMResponse{Blocks: []ContentBlock{TextBlock("ok")}}, nil).Once()

		loop := newTestLoop(t, provider, &fakeSession{}, nil)
		result, err := loop.Run(ctx, "task")
		require.NoError(t, err)
		assert.False(t, result.IsCompleted())
		provider.AssertNumberOfCalls(t, "Call", 2)
	})

	t.Run("should give up after max retries", func(t *testing.T) {
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.Anything).
			Return(nil, errors.New("429 rate limit"))

		loop := newTestLoop(t, provider, &fakeSession{}, func(cfg *Config) { cfg.MaxRetries = 2 })
		_, err := loop.Run(ctx, "task")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max retries (2) exceeded")
		provider.AssertNumberOfCalls(t, "Call", 2)
	})

	t.Run("should return session errors", func(t *testing.T) {
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.Anything).
			Return(&LLMResponse{Blocks: []ContentBlock{toolUse("a", "x")}}, nil).Once()

		loop := newTestLoop(t, provider, &fakeSession{err: repl.ErrSessionClosed}, nil)
		_, err := loop.Run(ctx, "task")
		assert.ErrorIs(t, err, repl.ErrSessionClosed)
	})

	t.Run("should stop on cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		provider := &MockProvider{}
		loop := newTestLoop(t, provider, &fakeSession{}, nil)
		_, err := loop.Run(cancelled, "task")
		assert.ErrorIs(t, err, context.Canceled)
		provider.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
	})

	t.Run("should refuse to run twice", func(t *testing.T) {
		provider := &MockProvider{}
		provider.On("Call", mock.Anything, mock.Anything).
			Return(&LLMResponse{Blocks: []ContentBlock{TextBlock("x")}}, nil).Once()

		loop := newTestLoop(t, provider, &fakeSession{}, nil)
		_, err := loop.Run(ctx, "task")
		require.NoError(t, err)

		_, err = loop.Run(ctx, "task")
		assert.Error(t, err)
	})
}

func TestLoop_RunWithInterpreter(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	ctx := context.Background()
	session, err := repl.New(ctx, repl.Config{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer session.Close()

	provider := &MockProvider{}
	provider.On("Call", mock.Anything, mock.MatchedBy(func(r LLMRequest) bool { return len(r.Turns) == 1 })).
		Return(&LLMResponse{Blocks: []ContentBlock{toolUse("toolu_1", "x = 500 * 100\nprint(x)")}}, nil).Once()
	provider.On("Call", mock.Anything, mock.MatchedBy(func(r LLMRequest) bool {
		if len(r.Turns) != 3 {
			return false
		}
		return r.Turns[2].Blocks[0].Content == `{"stdout":"50000\n","stderr":""}`
	})).
		Return(&LLMResponse{Blocks: []ContentBlock{toolUse("toolu_2", "FINAL(x)")}}, nil).Once()

	loop := newTestLoop(t, provider, session, nil)
	result, err := loop.Run(ctx, "Calculate 500 times 100")
	require.NoError(t, err)

	assert.Equal(t, outcome.StatusCompleted, result.Status)
	assert.Equal(t, json.Number("50000"), result.Value)
	assert.Equal(t, "50000", result.Display())
	provider.AssertExpectations(t)
}

func sdkError(status int) error {
	return &anthropic.Error{
		StatusCode: status,
		Request:    httptest.NewRequest(http.MethodPost, "/v1/messages", nil),
		Response:   &http.Response{StatusCode: status},
	}
}

func openAIError(status int) error {
	return &openai.Error{
		StatusCode: status,
		Request:    httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil),
		Response:   &http.Response{StatusCode: status},
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: errors.New("invalid api key"), want: false},
		{err: errors.New("POST /v1/messages: 529 Overloaded"), want: true},
		{err: errors.New("rate limit reached"), want: true},
		{err: fmt.Errorf("wrapped: %w", errors.New("read: connection reset by peer")), want: true},
		{err: errors.New("POST /v1/messages: 503 Service Unavailable"), want: true},
		{err: errors.New("max_tokens: 1500 is below the thinking budget"), want: false},
		{err: errors.New("thinking budget must be under max_tokens 5000"), want: false},
		{err: sdkError(http.StatusBadRequest), want: false},
		{err: fmt.Errorf("call failed: %w", sdkError(http.StatusTooManyRequests)), want: true},
		{err: sdkError(529), want: true},
		{err: openAIError(http.StatusBadGateway), want: true},
		{err: openAIError(http.StatusUnauthorized), want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}
