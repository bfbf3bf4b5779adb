package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// InitOpenTelemetry installs a process-wide tracer provider sampling every
// run. Calling it again while a provider is installed is a no-op.
func InitOpenTelemetry(serviceName string) error {
	mu.Lock()
	defer mu.Unlock()

	if provider != nil {
		return nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return err
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return nil
}

// ShutdownOpenTelemetry flushes and removes the installed provider
func ShutdownOpenTelemetry(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span tagged with the run carried by ctx. When ctx has no
// trace ID yet, the span's trace ID is adopted so logs and transcripts line up
// with exported spans.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	r := FromContext(ctx)
	if r.RunID != "" {
		attrs = append(attrs,
			attribute.String("rlm.run_id", r.RunID),
			attribute.Int("rlm.depth", r.Depth),
		)
		if r.ParentRunID != "" {
			attrs = append(attrs, attribute.String("rlm.parent_run_id", r.ParentRunID))
		}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if r.TraceID == "" {
		traceID := NewTraceID()
		if sc := span.SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
		}
		ctx = WithTraceID(ctx, traceID)
	}
	return ctx, span
}
