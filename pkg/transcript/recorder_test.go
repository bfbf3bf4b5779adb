package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/rlm/internal/tracing"
	"github.com/harun/rlm/pkg/agent"
	"github.com/harun/rlm/pkg/outcome"
)

func setupTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	rec, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return rec
}

func rootContext(traceID string) context.Context {
	ctx := tracing.WithTraceID(context.Background(), traceID)
	ctx = tracing.WithRunID(ctx, "run-root")
	return tracing.WithDepth(ctx, 0)
}

func TestNew(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "transcripts")

	rec, err := New(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, dir, rec.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRecorderLogsThroughGivenLogger(t *testing.T) {
	var buf bytes.Buffer
	rec, err := New(t.TempDir(), zerolog.New(&buf).Level(zerolog.DebugLevel))
	require.NoError(t, err)

	require.NoError(t, rec.RecordOutcome(rootContext("trace-log"), outcome.Completed(1)))

	out := buf.String()
	assert.Contains(t, out, "Transcript entry appended")
	assert.Contains(t, out, `"component":"transcript"`)
	assert.Contains(t, out, `"trace_id":"trace-log"`)
	assert.Contains(t, out, `"kind":"outcome"`)
}

func TestRecordTurn(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := rootContext("trace-1")

	require.NoError(t, rec.RecordTurn(ctx, agent.Turn{
		Role:   agent.RoleUser,
		Blocks: []agent.ContentBlock{agent.TextBlock("Calculate 500 times 100")},
	}))
	require.NoError(t, rec.RecordTurn(ctx, agent.Turn{
		Role: agent.RoleAssistant,
		Blocks: []agent.ContentBlock{
			agent.ToolUseBlock("toolu_1", "run_python", json.RawMessage(`{"code":"FINAL(500*100)"}`)),
		},
	}))

	entries, err := rec.Load("trace-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, KindTurn, first.Kind)
	assert.Equal(t, "trace-1", first.TraceID)
	assert.Equal(t, "run-root", first.RunID)
	assert.Equal(t, 0, first.Depth)
	assert.False(t, first.Timestamp.IsZero())
	require.NotNil(t, first.Turn)
	assert.Equal(t, agent.RoleUser, first.Turn.Role)
	assert.Equal(t, "Calculate 500 times 100", first.Turn.Blocks[0].Text)
	assert.Nil(t, first.Outcome)

	second := entries[1]
	require.NotNil(t, second.Turn)
	require.Len(t, second.Turn.Blocks, 1)
	assert.Equal(t, agent.BlockToolUse, second.Turn.Blocks[0].Type)
	assert.Equal(t, "toolu_1", second.Turn.Blocks[0].ID)
	assert.JSONEq(t, `{"code":"FINAL(500*100)"}`, string(second.Turn.Blocks[0].Input))
}

func TestRecordOutcome(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := rootContext("trace-2")

	require.NoError(t, rec.RecordOutcome(ctx, outcome.Completed(50000)))

	entries, err := rec.Load("trace-2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindOutcome, entries[0].Kind)
	require.NotNil(t, entries[0].Outcome)
	assert.True(t, entries[0].Outcome.IsCompleted())
	assert.EqualValues(t, 50000, entries[0].Outcome.Value)
}

func TestNestedRunsShareFile(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := rootContext("trace-3")
	childCtx := tracing.PropagateToSubAgent(ctx)

	require.NoError(t, rec.RecordTurn(ctx, agent.Turn{Role: agent.RoleUser, Blocks: []agent.ContentBlock{agent.TextBlock("root")}}))
	require.NoError(t, rec.RecordOutcome(childCtx, outcome.Failed("no tool call and no FINAL")))
	require.NoError(t, rec.RecordOutcome(ctx, outcome.Completed("done")))

	entries, err := rec.Load("trace-3")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	child := entries[1]
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, "run-root", child.ParentRunID)
	assert.NotEqual(t, "run-root", child.RunID)
	assert.Equal(t, "no tool call and no FINAL", child.Outcome.Reason)

	assert.Equal(t, 0, entries[2].Depth)
	assert.Empty(t, entries[2].ParentRunID)
}

func TestRecordWithoutTraceID(t *testing.T) {
	rec := setupTestRecorder(t)

	err := rec.RecordTurn(context.Background(), agent.Turn{Role: agent.RoleUser})
	assert.Error(t, err)

	traces, err := rec.List()
	require.NoError(t, err)
	assert.Empty(t, traces)
}

func TestValidateTraceID(t *testing.T) {
	tests := []struct {
		name    string
		traceID string
		wantErr bool
	}{
		{name: "uuid", traceID: "0b8f7c52-6f4e-4b1e-9a55-1f4d3c2b1a00", wantErr: false},
		{name: "simple", traceID: "trace-1", wantErr: false},
		{name: "empty", traceID: "", wantErr: true},
		{name: "parent traversal", traceID: "../etc/passwd", wantErr: true},
		{name: "forward slash", traceID: "a/b", wantErr: true},
		{name: "backslash", traceID: "a\\b", wantErr: true},
		{name: "null byte", traceID: "a\x00b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTraceID(tt.traceID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("should return empty for unknown trace", func(t *testing.T) {
		rec := setupTestRecorder(t)
		entries, err := rec.Load("missing")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("should skip corrupt lines", func(t *testing.T) {
		rec := setupTestRecorder(t)
		ctx := rootContext("trace-4")
		require.NoError(t, rec.RecordOutcome(ctx, outcome.Completed(1)))

		f, err := os.OpenFile(rec.Path("trace-4"), os.O_APPEND|os.O_WRONLY, 0600)
		require.NoError(t, err)
		_, err = f.WriteString("{not json\n\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.NoError(t, rec.RecordOutcome(ctx, outcome.Completed(2)))

		entries, err := rec.Load("trace-4")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.EqualValues(t, 1, entries[0].Outcome.Value)
		assert.EqualValues(t, 2, entries[1].Outcome.Value)
	})

	t.Run("should reject unsafe trace id", func(t *testing.T) {
		rec := setupTestRecorder(t)
		_, err := rec.Load("../x")
		assert.Error(t, err)
	})
}

func TestList(t *testing.T) {
	rec := setupTestRecorder(t)

	require.NoError(t, rec.RecordOutcome(rootContext("b-trace"), outcome.Completed(1)))
	require.NoError(t, rec.RecordOutcome(rootContext("a-trace"), outcome.Completed(2)))
	require.NoError(t, os.WriteFile(filepath.Join(rec.Dir(), "notes.txt"), []byte("x"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(rec.Dir(), "sub.jsonl"), 0700))

	traces, err := rec.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-trace", "b-trace"}, traces)
}

func TestConcurrentAppends(t *testing.T) {
	rec := setupTestRecorder(t)
	ctx := rootContext("trace-5")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, rec.RecordOutcome(ctx, outcome.Completed(i)))
		}(i)
	}
	wg.Wait()

	entries, err := rec.Load("trace-5")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}
