package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/phishcheck/phishcheck/internal/redact"
)

// Exporter protocols.
const (
	ProtocolGRPC       = "grpc"
	ProtocolHTTP       = "http"
	ProtocolPrometheus = "prometheus"
)

const instrumentationName = "phishcheck"

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http | prometheus
	Service  string
	Version  string
}

// Provider wires tracer/meter providers and exposes helpers.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter
	metrics http.Handler

	predictionsCounter  metric.Int64Counter
	predictionDuration  metric.Float64Histogram
	riskScoreHistogram  metric.Float64Histogram
	httpRequestsCounter metric.Int64Counter
	httpDuration        metric.Float64Histogram

	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// Noop returns a disabled provider.
func Noop() *Provider {
	p := &Provider{
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		meter:  metricnoop.NewMeterProvider().Meter(""),
	}
	p.initInstruments()
	return p
}

// NewProvider configures exporters and providers. When disabled it returns a
// no-op provider.
func NewProvider(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return Noop(), nil
	}

	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	if protocol == "" {
		protocol = ProtocolGRPC
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	if protocol == ProtocolPrometheus {
		logger.Info("telemetry enabled", "exporter", "prometheus", "path", "/metrics")
		return newPrometheusProvider(res)
	}

	logger.Info("telemetry enabled",
		"exporter", "otlp",
		"protocol", protocol,
		"endpoint", redact.String(cfg.Endpoint),
	)

	var (
		traceExporter  sdktrace.SpanExporter
		metricExporter sdkmetric.Exporter
	)
	switch protocol {
	case ProtocolGRPC:
		traceExporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("otlp grpc trace exporter: %w", err)
		}
		metricExporter, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("otlp grpc metric exporter: %w", err)
		}
	case ProtocolHTTP:
		traceExporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("otlp http trace exporter: %w", err)
		}
		metricExporter, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("otlp http metric exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported telemetry protocol %q", cfg.Protocol)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:               true,
		tracer:                tp.Tracer(instrumentationName),
		meter:                 mp.Meter(instrumentationName),
		shutdownTraceProvider: tp.Shutdown,
		shutdownMeterProvider: mp.Shutdown,
	}
	p.initInstruments()
	return p, nil
}

// newPrometheusProvider serves metrics from a private registry so several
// providers can coexist in one process.
func newPrometheusProvider(res *resource.Resource) (*Provider, error) {
	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	p := &Provider{
		Enabled:               true,
		tracer:                tracenoop.NewTracerProvider().Tracer(""),
		meter:                 mp.Meter(instrumentationName),
		metrics:               promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		shutdownMeterProvider: mp.Shutdown,
	}
	p.initInstruments()
	return p, nil
}

func (p *Provider) initInstruments() {
	if p == nil {
		return
	}
	// Instrument errors are ignored; telemetry is best-effort.
	p.predictionsCounter, _ = p.meter.Int64Counter("phishcheck_predictions_total",
		metric.WithDescription("Predictions by outcome"))
	p.predictionDuration, _ = p.meter.Float64Histogram("phishcheck_prediction_duration_ms",
		metric.WithDescription("Time spent validating, classifying and scoring one request"))
	p.riskScoreHistogram, _ = p.meter.Float64Histogram("phishcheck_risk_score",
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1))
	p.httpRequestsCounter, _ = p.meter.Int64Counter("phishcheck_http_requests_total")
	p.httpDuration, _ = p.meter.Float64Histogram("phishcheck_http_request_duration_ms")
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil || p.meter == nil {
		return metricnoop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// MetricsHandler serves the Prometheus scrape endpoint. It is nil unless the
// prometheus protocol is configured.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil {
		return nil
	}
	return p.metrics
}

// StartSpan starts a span carrying only attributes that pass SafeAttributes.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs map[string]interface{}) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithAttributes(SafeAttributes(attrs)...))
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.shutdownTraceProvider != nil {
		errs = append(errs, p.shutdownTraceProvider(ctx))
	}
	if p.shutdownMeterProvider != nil {
		errs = append(errs, p.shutdownMeterProvider(ctx))
	}
	return errors.Join(errs...)
}

// RecordPrediction counts one prediction. outcome is "ok" or an error kind;
// label is empty for failed predictions.
func (p *Provider) RecordPrediction(ctx context.Context, outcome, label string, durMs, riskScore float64) {
	if p == nil || p.predictionsCounter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("phishcheck.outcome", outcome),
		attribute.String("phishcheck.label", label),
	)
	p.predictionsCounter.Add(ctx, 1, attrs)
	p.predictionDuration.Record(ctx, durMs, attrs)
	p.riskScoreHistogram.Record(ctx, riskScore, attrs)
}

// RecordHTTPRequest counts one served HTTP request.
func (p *Provider) RecordHTTPRequest(ctx context.Context, route string, status int, durMs float64) {
	if p == nil || p.httpRequestsCounter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	p.httpRequestsCounter.Add(ctx, 1, attrs)
	p.httpDuration.Record(ctx, durMs, attrs)
}
