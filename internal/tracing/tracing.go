// Package tracing provides OpenTelemetry span helpers for dispatcher
// actions, sandbox spawns, and scheduler fires (SPEC_FULL §2.2 Domain
// Stack); the host itself starts only the sandbox-spawn span, from the
// completions gateway. stdouttrace stands in for the teacher's OTLP
// exporter — no collector is in scope for this host (see DESIGN.md); the
// helpers follow the teacher's trace-then-nest-spans idiom in
// internal/agent/loop_tracing.go, generalized from its bespoke
// store.SpanData rows to native otel spans.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Config selects whether tracing is active and what service name spans
// are attributed to.
type Config struct {
	Enabled     bool
	ServiceName string
}

// Init installs a global TracerProvider backed by stdouttrace when
// cfg.Enabled, or a no-op provider otherwise. The returned shutdown
// function must be called before process exit to flush any buffered
// spans.
func Init(cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "cagehost"
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the named tracer from the global provider. Callers name
// it after their own package (e.g. "cagehost/dispatcher").
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartAction starts a span for one dispatched action, following the
// dispatcher's own {sessionId, action} framing.
func StartAction(ctx context.Context, sessionID, action string) (context.Context, trace.Span) {
	ctx, span := Tracer("cagehost/dispatcher").Start(ctx, action)
	span.SetAttributes(attrString("cagehost.session_id", sessionID))
	return ctx, span
}

// StartSandboxSpawn starts a span around one sandbox backend spawn.
func StartSandboxSpawn(ctx context.Context, backend, agentID string) (context.Context, trace.Span) {
	ctx, span := Tracer("cagehost/sandbox").Start(ctx, "sandbox.spawn")
	span.SetAttributes(
		attrString("sandbox.backend", backend),
		attrString("sandbox.agent_id", agentID),
	)
	return ctx, span
}

// StartSchedulerFire starts a span around one scheduler-originated
// dispatch (cron, one-shot, or heartbeat).
func StartSchedulerFire(ctx context.Context, kind, jobID string) (context.Context, trace.Span) {
	ctx, span := Tracer("cagehost/scheduler").Start(ctx, "scheduler."+kind)
	span.SetAttributes(
		attrString("scheduler.job_id", jobID),
	)
	return ctx, span
}
