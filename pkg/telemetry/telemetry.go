package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Telemetry struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

type Config struct {
	Enabled      bool
	JaegerURL    string
	ServiceName  string
	SamplingRate float64
}

func New(cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return NewNop(), nil
	}

	exporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Telemetry{
		tracer:   provider.Tracer(cfg.ServiceName),
		provider: provider,
	}, nil
}

// NewNop creates a telemetry instance whose spans are discarded
func NewNop() *Telemetry {
	return &Telemetry{
		tracer: noop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *Telemetry) Close(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

func WorkflowIDAttribute(workflowID string) attribute.KeyValue {
	return attribute.String("workflow.id", workflowID)
}

func ExecutionIDAttribute(executionID string) attribute.KeyValue {
	return attribute.String("execution.id", executionID)
}

func NodeIDAttribute(nodeID string) attribute.KeyValue {
	return attribute.String("node.id", nodeID)
}

func NodeTypeAttribute(nodeType string) attribute.KeyValue {
	return attribute.String("node.type", nodeType)
}
