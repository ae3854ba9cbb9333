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
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Span names.
const (
	SpanBatch      = "batch.run"
	SpanQuery      = "query.solve"
	SpanSaturation = "automaton.saturate"
)

// Attribute keys used on pdreach spans.
var (
	AttrRunID      = attribute.Key("run.id")
	AttrModel      = attribute.Key("model.name")
	AttrQueryName  = attribute.Key("query.name")
	AttrDirection  = attribute.Key("query.direction")
	AttrReachable  = attribute.Key("query.reachable")
	AttrStates     = attribute.Key("automaton.states")
	AttrEdges      = attribute.Key("automaton.edges")
	AttrErrorClass = attribute.Key("error.class")
)

// Tracer produces the spans of batch runs, queries and saturations.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer creates a tracer. With tracing disabled spans are still created
// but never exported, and the global provider is left alone.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		return newTracer(sdktrace.NewTracerProvider(), serviceName), nil
	}

	exporter, err := newSpanExporter(cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", serviceVersion),
		attribute.String("deployment.environment", environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	t := newTracer(sdktrace.NewTracerProvider(opts...), serviceName)
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

func newTracer(provider *sdktrace.TracerProvider, name string) *Tracer {
	return &Tracer{provider: provider, tracer: provider.Tracer(name)}
}

// newSpanExporter returns nil for the "none" exporter.
func newSpanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exp, err := otlptracegrpc.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
}

// StartSpan starts a span named operation with the given attributes.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// StartBatchSpan starts the span covering one batch run.
func (t *Tracer) StartBatchSpan(ctx context.Context, runID, model string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, SpanBatch, AttrRunID.String(runID), AttrModel.String(model))
}

// StartQuerySpan starts a span for one reachability query.
func (t *Tracer) StartQuerySpan(ctx context.Context, query, direction string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, SpanQuery, AttrQueryName.String(query), AttrDirection.String(direction))
}

// StartSaturationSpan starts a span around one pre* or post* run, recording
// the size of the seed automaton.
func (t *Tracer) StartSaturationSpan(ctx context.Context, saturation string, states, edges int) (context.Context, trace.Span) {
	return t.StartSpan(ctx, SpanSaturation,
		AttrDirection.String(saturation),
		AttrStates.Int(states),
		AttrEdges.Int(edges),
	)
}

// EndSaturation records the size of the saturated automaton and marks the
// span successful. Saturation cannot fail.
func EndSaturation(span trace.Span, states, edges int) {
	span.SetAttributes(AttrStates.Int(states), AttrEdges.Int(edges))
	span.SetStatus(codes.Ok, "")
}

// Finish sets the span status from err. It does not end the span.
func Finish(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// FinishClassified is Finish for errors that carry a class.
func FinishClassified(span trace.Span, class string, err error) {
	if err != nil && class != "" {
		span.SetAttributes(AttrErrorClass.String(class))
	}
	Finish(span, err)
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
