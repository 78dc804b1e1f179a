// Package otel wires OpenTelemetry into billcycle: provider setup, an
// instrumented database handle and tracing decorators for the ports the
// core calls out through.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Exporter names accepted in Config.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	// ExporterNone installs providers that record but never export.
	ExporterNone = "none"
)

// Config selects where billing telemetry goes.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Exporter       string
	// Insecure sends OTLP over plain HTTP.
	Insecure bool
}

// Providers owns the global tracer and meter providers installed by Setup.
type Providers struct {
	Tracer *trace.TracerProvider
	Meter  *metric.MeterProvider
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	if err := p.Meter.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// exporters is the span and metric exporter pair for one Config.Exporter
// value. Both are nil for ExporterNone.
type exporters struct {
	spans   trace.SpanExporter
	metrics metric.Exporter
}

func newExporters(ctx context.Context, cfg Config) (exporters, error) {
	switch cfg.Exporter {
	case ExporterNone:
		return exporters{}, nil
	case ExporterStdout:
		spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return exporters{}, err
		}
		metrics, err := stdoutmetric.New()
		if err != nil {
			return exporters{}, err
		}
		return exporters{spans: spans, metrics: metrics}, nil
	case ExporterOTLP:
		var traceOpts []otlptracehttp.Option
		var metricOpts []otlpmetrichttp.Option
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
		spans, err := otlptracehttp.New(ctx, traceOpts...)
		if err != nil {
			return exporters{}, err
		}
		metrics, err := otlpmetrichttp.New(ctx, metricOpts...)
		if err != nil {
			_ = spans.Shutdown(ctx)
			return exporters{}, err
		}
		return exporters{spans: spans, metrics: metrics}, nil
	default:
		return exporters{}, fmt.Errorf("unsupported exporter: %q (use %q, %q or %q)",
			cfg.Exporter, ExporterStdout, ExporterOTLP, ExporterNone)
	}
}

// Setup installs global tracer and meter providers plus the W3C
// propagators. Shutdown must be called on exit to flush pending telemetry.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating otel resource: %w", err)
	}

	exp, err := newExporters(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s exporters: %w", cfg.Exporter, err)
	}

	traceOpts := []trace.TracerProviderOption{trace.WithResource(res)}
	meterOpts := []metric.Option{metric.WithResource(res)}
	if exp.spans != nil {
		traceOpts = append(traceOpts, trace.WithBatcher(exp.spans))
	}
	if exp.metrics != nil {
		meterOpts = append(meterOpts, metric.WithReader(metric.NewPeriodicReader(exp.metrics)))
	}

	p := &Providers{
		Tracer: trace.NewTracerProvider(traceOpts...),
		Meter:  metric.NewMeterProvider(meterOpts...),
	}
	otel.SetTracerProvider(p.Tracer)
	otel.SetMeterProvider(p.Meter)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}
