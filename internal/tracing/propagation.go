package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToSubAgent derives the run of a delegated sub-agent: same trace,
// the current run as parent, a new run ID and one level deeper.
func PropagateToSubAgent(ctx context.Context) context.Context {
	parent := FromContext(ctx)
	child := Run{
		TraceID:     parent.TraceID,
		RunID:       NewRunID(),
		ParentRunID: parent.RunID,
		Depth:       parent.Depth + 1,
	}
	if child.TraceID == "" {
		child.TraceID = NewTraceID()
	}
	return NewContext(ctx, child)
}

// LoggerFromContext returns base annotated with the run identifiers in ctx
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	r := FromContext(ctx)
	if r == (Run{}) {
		return base
	}

	lc := base.With()
	if r.TraceID != "" {
		lc = lc.Str("trace_id", r.TraceID)
	}
	if r.RunID != "" {
		lc = lc.Str("run_id", r.RunID).Int("depth", r.Depth)
	}
	if r.ParentRunID != "" {
		lc = lc.Str("parent_run_id", r.ParentRunID)
	}
	return lc.Logger()
}
