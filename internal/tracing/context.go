package tracing

import (
	"context"

	"github.com/google/uuid"
)

// Run identifies one agent run inside a delegation tree. All runs spawned
// from the same task share TraceID; Depth is 0 for the root.
type Run struct {
	TraceID     string
	RunID       string
	ParentRunID string
	Depth       int
}

type runKey struct{}

// NewTraceID returns a fresh trace identifier
func NewTraceID() string { return uuid.NewString() }

// NewRunID returns a fresh run identifier
func NewRunID() string { return uuid.NewString() }

// FromContext returns the run carried by ctx, or the zero Run
func FromContext(ctx context.Context) Run {
	if ctx == nil {
		return Run{}
	}
	r, _ := ctx.Value(runKey{}).(Run)
	return r
}

// NewContext attaches r to ctx, replacing any run already present
func NewContext(ctx context.Context, r Run) context.Context {
	return context.WithValue(ctx, runKey{}, r)
}

func update(ctx context.Context, fn func(*Run)) context.Context {
	r := FromContext(ctx)
	fn(&r)
	return NewContext(ctx, r)
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return update(ctx, func(r *Run) { r.TraceID = id })
}

func WithRunID(ctx context.Context, id string) context.Context {
	return update(ctx, func(r *Run) { r.RunID = id })
}

func WithDepth(ctx context.Context, depth int) context.Context {
	return update(ctx, func(r *Run) { r.Depth = depth })
}

func GetTraceID(ctx context.Context) string { return FromContext(ctx).TraceID }
func GetRunID(ctx context.Context) string   { return FromContext(ctx).RunID }

// NewAgentRunContext starts a root run: a new run ID at depth 0, under the
// trace already in ctx or a new one.
func NewAgentRunContext(ctx context.Context) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}
	return NewContext(ctx, Run{TraceID: traceID, RunID: NewRunID()})
}
