package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/vine/pkg/tracing/exporters"
)

// ProviderConfig configures the global tracer provider
type ProviderConfig struct {
	ServiceName string
	Enabled     bool
	OTLP        exporters.OTLPConfig
}

// Provider owns the SDK tracer provider and implements startup.Dependency
type Provider struct {
	config   ProviderConfig
	provider *sdktrace.TracerProvider
}

func NewProvider(config ProviderConfig) *Provider {
	return &Provider{config: config}
}

func (p *Provider) GetName() string {
	return "tracing"
}

func (p *Provider) DependsOn() []string {
	return nil
}

// Start installs the tracer provider. A disabled config installs a provider
// without an exporter so spans still carry IDs for log correlation.
func (p *Provider) Start(ctx context.Context) error {
	var opts []sdktrace.TracerProviderOption

	if p.config.Enabled {
		exporter, err := exporters.NewOTLPExporter(ctx, p.config.OTLP)
		if err != nil {
			return fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else {
		opts = append(opts, sdktrace.WithSyncer(&exporters.DiscardExporter{}))
	}

	p.provider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(p.provider.Tracer(p.config.ServiceName))
	return nil
}

func (p *Provider) Stop(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// Chain attribute helpers
func ChainAttrs(chainID, executionID string, depth int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("vine.chain_id", chainID),
		attribute.String("vine.execution_id", executionID),
		attribute.Int("vine.depth", depth),
	}
}

func StepAttrs(stepID string, stepType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("vine.step_id", stepID),
		attribute.String("vine.step_type", stepType),
	}
}
