// Package logger wraps zap with run, stage and asset scoping. Every
// record is also handed to the OpenTelemetry log bridge, and operation
// helpers open spans so pipeline phases show up in traces.
package logger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
)

const instrumentation = "surface"

type Logger struct {
	*zap.SugaredLogger
	root   *zap.Logger
	tracer trace.Tracer
}

func New(cfg config.LoggerConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zapConfig(cfg.Format)
	zc.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	local, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	bridge := otelzap.NewCore(instrumentation,
		otelzap.WithAttributes(attribute.String("service.name", instrumentation)),
	)
	root := zap.New(zapcore.NewTee(local.Core(), bridge),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", instrumentation)),
	)

	return &Logger{
		SugaredLogger: root.Sugar(),
		root:          root,
		tracer:        otel.Tracer(instrumentation),
	}, nil
}

func zapConfig(format string) zap.Config {
	if format == "console" {
		zc := zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
		return zc
	}
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	return zc
}

// Wrap adopts an existing zap logger without the OpenTelemetry bridge.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{SugaredLogger: z.Sugar(), root: z, tracer: otel.Tracer(instrumentation)}
}

// NewNop discards everything.
func NewNop() *Logger {
	nop := zap.NewNop()
	return &Logger{SugaredLogger: nop.Sugar(), root: nop, tracer: otel.Tracer(instrumentation)}
}

func (l *Logger) with(kv ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(kv...), root: l.root, tracer: l.tracer}
}

// WithComponent scopes records to a pipeline stage or CLI command.
func (l *Logger) WithComponent(component string) *Logger { return l.with("component", component) }

// WithTarget scopes records to the scanned domain or asset.
func (l *Logger) WithTarget(target string) *Logger { return l.with("target", target) }

func (l *Logger) WithRunID(runID string) *Logger { return l.with("run_id", runID) }

// WithContext attaches the trace and span ids of a recording span.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l
	}
	return l.with("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

func operationFields(operation string, elapsed time.Duration, extra []interface{}) []interface{} {
	fields := make([]interface{}, 0, len(extra)+4)
	fields = append(fields, "operation", operation)
	if elapsed >= 0 {
		fields = append(fields, "duration", elapsed)
	}
	return append(fields, extra...)
}

// LogDuration records a completed step, such as a pipeline phase.
func (l *Logger) LogDuration(ctx context.Context, operation string, start time.Time, fields ...interface{}) {
	elapsed := time.Since(start)
	l.WithContext(ctx).Infow("Step completed", operationFields(operation, elapsed, fields)...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(operation, trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
		))
	}
}

// LogError is a no-op for a nil error.
func (l *Logger) LogError(ctx context.Context, err error, operation string, fields ...interface{}) {
	if err == nil {
		return
	}
	fields = append([]interface{}{"error", err, "error_type", fmt.Sprintf("%T", err)}, fields...)
	l.WithContext(ctx).Errorw("Step failed", operationFields(operation, -1, fields)...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// StartOperation opens a span named after operation. Close it with
// FinishOperation.
func (l *Logger) StartOperation(ctx context.Context, operation string, fields ...interface{}) (context.Context, trace.Span) {
	ctx, span := l.tracer.Start(ctx, operation)
	l.WithContext(ctx).Debugw("Step started", operationFields(operation, -1, fields)...)
	return ctx, span
}

func (l *Logger) FinishOperation(ctx context.Context, span trace.Span, operation string, start time.Time, err error, fields ...interface{}) {
	defer span.End()

	fields = append([]interface{}{"duration", time.Since(start)}, fields...)
	if err != nil {
		l.LogError(ctx, err, operation, fields...)
		return
	}
	l.WithContext(ctx).Debugw("Step finished", operationFields(operation, -1, fields)...)
	span.SetStatus(codes.Ok, "")
}

func (l *Logger) Sync() error {
	return l.root.Sync()
}

type ctxKey struct{}

// WithLogger stores l on ctx for code that only receives a context.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithLogger, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
