package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

type telemetry struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider

	runCounter     metric.Int64Counter
	runDuration    metric.Float64Histogram
	stageDuration  metric.Float64Histogram
	stageAssets    metric.Int64Counter
	stageFailures  metric.Int64Counter
	droppedCounter metric.Int64Counter
}

func New(ctx context.Context, cfg config.TelemetryConfig) (core.Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &telemetry{
		tracer:         tp.Tracer(cfg.ServiceName),
		meter:          otel.Meter(cfg.ServiceName),
		tracerProvider: tp,
	}
	if err := t.initInstruments(); err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	return t, nil
}

func (t *telemetry) initInstruments() error {
	var err error

	if t.runCounter, err = t.meter.Int64Counter("surface.runs.total",
		metric.WithDescription("Pipeline runs by terminal status"),
		metric.WithUnit("1"),
	); err != nil {
		return err
	}
	if t.runDuration, err = t.meter.Float64Histogram("surface.run.duration",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if t.stageDuration, err = t.meter.Float64Histogram("surface.stage.duration",
		metric.WithDescription("Stage duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if t.stageAssets, err = t.meter.Int64Counter("surface.stage.assets",
		metric.WithDescription("Assets processed per stage"),
		metric.WithUnit("1"),
	); err != nil {
		return err
	}
	if t.stageFailures, err = t.meter.Int64Counter("surface.stage.failures",
		metric.WithDescription("Per-asset failures per stage"),
		metric.WithUnit("1"),
	); err != nil {
		return err
	}
	if t.droppedCounter, err = t.meter.Int64Counter("surface.inputs.dropped",
		metric.WithDescription("Inputs rejected during validation"),
		metric.WithUnit("1"),
	); err != nil {
		return err
	}
	return nil
}

func (t *telemetry) RecordRun(ctx context.Context, status types.RunStatus, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("run.status", string(status)))
	t.runCounter.Add(ctx, 1, attrs)
	t.runDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *telemetry) RecordStage(ctx context.Context, stage string, assets, failures int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	t.stageDuration.Record(ctx, duration.Seconds(), attrs)
	t.stageAssets.Add(ctx, int64(assets), attrs)
	t.stageFailures.Add(ctx, int64(failures), attrs)
}

func (t *telemetry) RecordDropped(ctx context.Context, stage string, count int) {
	if count == 0 {
		return
	}
	t.droppedCounter.Add(ctx, int64(count), metric.WithAttributes(attribute.String("stage", stage)))
}

func (t *telemetry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

type noopTelemetry struct{}

func NewNoop() core.Telemetry { return noopTelemetry{} }

func (noopTelemetry) RecordRun(context.Context, types.RunStatus, time.Duration)        {}
func (noopTelemetry) RecordStage(context.Context, string, int, int, time.Duration)     {}
func (noopTelemetry) RecordDropped(context.Context, string, int)                       {}
func (noopTelemetry) Close() error                                                     { return nil }
