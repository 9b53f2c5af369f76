// Package observability wires OpenTelemetry tracing and Prometheus-backed metrics.
package observability

import (
	"context"
	"net/http"
	"os"
	"time"

	"character-chat/backend/internal/llm"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func serviceResource(serviceName string) *resource.Resource {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return resource.Default()
	}
	return res
}

// SetupTracing installs a stdout span exporter. Replace with OTLP when a collector is available.
func SetupTracing(serviceName string) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	if err != nil {
		return nil, err
	}
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(serviceResource(serviceName)),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Metrics records provider calls and token usage and serves them in Prometheus format
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	tokens   metric.Int64Counter
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	streams  metric.Int64UpDownCounter
}

func NewMetrics(serviceName string) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exp, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exp),
		sdkmetric.WithResource(serviceResource(serviceName)),
	)
	meter := provider.Meter("character-chat/llm")

	m := &Metrics{provider: provider, registry: registry}
	if m.tokens, err = meter.Int64Counter("llm_tokens",
		metric.WithDescription("Tokens consumed by provider calls"),
	); err != nil {
		return nil, err
	}
	if m.calls, err = meter.Int64Counter("llm_calls",
		metric.WithDescription("Provider calls by outcome"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("llm_call_duration",
		metric.WithDescription("Provider call duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.streams, err = meter.Int64UpDownCounter("chat_active_streams",
		metric.WithDescription("Chat streams currently open"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordUsage(ctx context.Context, modelID string, usage llm.Usage) {
	estimated := attribute.Bool("estimated", usage.Estimated)
	model := attribute.String("model", modelID)
	m.tokens.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(model, estimated, attribute.String("type", "prompt")))
	m.tokens.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(model, estimated, attribute.String("type", "completion")))
}

func (m *Metrics) RecordCall(ctx context.Context, modelID, kind string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("model", modelID),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
}

// StreamOpened and StreamClosed track in-flight chat streams
func (m *Metrics) StreamOpened(ctx context.Context) { m.streams.Add(ctx, 1) }
func (m *Metrics) StreamClosed(ctx context.Context) { m.streams.Add(ctx, -1) }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
