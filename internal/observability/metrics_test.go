package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := getMetrics()

	before := testutil.ToFloat64(m.rounds.WithLabelValues("3"))
	RecordRound(3)
	assert.Equal(t, before+1, testutil.ToFloat64(m.rounds.WithLabelValues("3")))

	before = testutil.ToFloat64(m.runs.WithLabelValues("root", "completed"))
	RecordAgentRun(0, time.Second, "completed")
	assert.Equal(t, before+1, testutil.ToFloat64(m.runs.WithLabelValues("root", "completed")))

	before = testutil.ToFloat64(m.runs.WithLabelValues("subagent", "failed"))
	RecordAgentRun(2, time.Second, "failed")
	assert.Equal(t, before+1, testutil.ToFloat64(m.runs.WithLabelValues("subagent", "failed")))

	before = testutil.ToFloat64(m.toolCalls.WithLabelValues("run_python", "error"))
	RecordToolExecution("run_python", time.Millisecond, false)
	assert.Equal(t, before+1, testutil.ToFloat64(m.toolCalls.WithLabelValues("run_python", "error")))

	before = testutil.ToFloat64(m.modelTokens.WithLabelValues("anthropic", "output"))
	RecordTokens("anthropic", 10, 4)
	assert.Equal(t, before+4, testutil.ToFloat64(m.modelTokens.WithLabelValues("anthropic", "output")))

	before = testutil.ToFloat64(m.truncations.WithLabelValues("stdout"))
	RecordTruncation("stdout")
	assert.Equal(t, before+1, testutil.ToFloat64(m.truncations.WithLabelValues("stdout")))

	restarts := testutil.ToFloat64(m.restarts)
	RecordInterpreterRestart()
	assert.Equal(t, restarts+1, testutil.ToFloat64(m.restarts))

	active := testutil.ToFloat64(m.liveSessions)
	SessionStarted()
	assert.Equal(t, active+1, testutil.ToFloat64(m.liveSessions))
	SessionStopped()
	assert.Equal(t, active, testutil.ToFloat64(m.liveSessions))
}

func TestMetricsHandler(t *testing.T) {
	RecordDelegation("completed")
	RecordModelCall("anthropic", 20*time.Millisecond, true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `rlm_delegation_total{status="completed"}`)
	assert.Contains(t, body, `rlm_model_call_total{provider="anthropic",status="success"}`)
	assert.Contains(t, body, "go_goroutines")
}
