package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps the OpenTelemetry tracer with batch-specific span helpers.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer creates a new tracer with the given configuration.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string, extra map[string]string) (*Tracer, error) {
	if !cfg.Enabled {
		provider := sdktrace.NewTracerProvider()
		return &Tracer{
			provider: provider,
			tracer:   provider.Tracer(serviceName),
			config:   cfg,
		}, nil
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
		attribute.String("environment", environment),
	}
	for k, v := range extra {
		attrs = append(attrs, attribute.String(k, v))
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		// Spans are sampled but not exported.
		exporter = nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	sampler := sdktrace.ParentBased(
		sdktrace.TraceIDRatioBased(cfg.SamplingRate),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}

	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(
			exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}, nil
}

// createOTLPExporter creates an OTLP gRPC exporter.
func createOTLPExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}

	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	opts = append(opts, otlptracegrpc.WithDialOption(
		grpc.WithUserAgent("carga"),
	))

	return otlptracegrpc.New(context.Background(), opts...)
}

func (t *Tracer) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// StartBatchSpan starts the root span of a batch.
func (t *Tracer) StartBatchSpan(ctx context.Context, batchID string, units int) (context.Context, trace.Span) {
	return t.startSpan(ctx, "batch.run",
		AttrBatchID.String(batchID),
		AttrBatchUnits.Int(units),
	)
}

// StartUnitSpan starts the span of one work unit.
func (t *Tracer) StartUnitSpan(ctx context.Context, index int, label string) (context.Context, trace.Span) {
	return t.startSpan(ctx, "unit.run",
		AttrUnitIndex.Int(index),
		AttrUnitLabel.String(label),
	)
}

// StartStageSpan starts the span of one stage of an instance.
func (t *Tracer) StartStageSpan(ctx context.Context, instanceID int64, stage, nodeID string) (context.Context, trace.Span) {
	return t.startSpan(ctx, "stage.run",
		AttrInstanceID.Int64(instanceID),
		AttrStageName.String(stage),
		AttrTriggerNode.String(nodeID),
	)
}

// StartEngineSpan starts a client span for a process engine call.
func (t *Tracer) StartEngineSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "engine."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrEngineOp.String(operation)),
	)
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Shutdown gracefully shuts down the tracer, flushing any pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// TraceID returns the trace ID of the span in ctx, or "" outside a sampled span.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// Common attribute keys for batch tracing.
var (
	// Batch attributes
	AttrBatchID     = attribute.Key("batch.id")
	AttrBatchUnits  = attribute.Key("batch.units")
	AttrBatchStatus = attribute.Key("batch.status")

	// Unit attributes
	AttrUnitIndex  = attribute.Key("unit.index")
	AttrUnitLabel  = attribute.Key("unit.label")
	AttrUnitStatus = attribute.Key("unit.status")
	AttrInstanceID = attribute.Key("process.instance_id")

	// Stage attributes
	AttrStageName     = attribute.Key("stage.name")
	AttrStageStatus   = attribute.Key("stage.status")
	AttrTriggerNode   = attribute.Key("stage.trigger_node")
	AttrTaskID        = attribute.Key("task.id")
	AttrAttempts      = attribute.Key("discovery.attempts")
	AttrDiscoveryHits = attribute.Key("discovery.matches")

	// Engine attributes
	AttrEngineOp = attribute.Key("engine.operation")

	// Error attributes
	AttrErrorClass = attribute.Key("error.class")
	AttrErrorCode  = attribute.Key("error.code")
)
