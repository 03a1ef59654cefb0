package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider owns the OpenTelemetry meter and tracer providers for the
// pipeline. A disabled provider is fully functional: it hands out no-op
// metrics and tracers so callers never branch on whether instrumentation
// is on.
type Provider struct {
	config         Config
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *Metrics
	promExporter   *prometheus.Exporter
	enabled        bool
}

// NewProvider builds meter and tracer providers per the config and installs
// them as the otel globals. With config.Enabled false it returns a no-op
// provider without touching the globals.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if !config.Enabled {
		return &Provider{config: config, metrics: &Metrics{}}, nil
	}

	res, err := newResource(ctx, config)
	if err != nil {
		return nil, err
	}

	p := &Provider{config: config, enabled: true}

	if err := p.setupMetrics(ctx, res); err != nil {
		return nil, err
	}
	if err := p.setupTracing(ctx, res); err != nil {
		// don't leak the half-initialized meter provider
		err = errors.Join(err, p.meterProvider.Shutdown(ctx))
		return nil, err
	}

	otel.SetMeterProvider(p.meterProvider)
	otel.SetTracerProvider(p.tracerProvider)

	p.metrics, err = NewMetrics(p.meterProvider.Meter(config.ServiceName), config.DetailedLabels)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create metrics recorder: %w", err), p.Shutdown(ctx))
	}
	return p, nil
}

func newResource(ctx context.Context, config Config) (*resource.Resource, error) {
	instanceID := config.ServiceInstanceID
	if instanceID == "" {
		// hostname is a good enough instance id for a single-box daemon
		instanceID, _ = os.Hostname()
	}

	attrs := []resource.Option{resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.ServiceInstanceID(instanceID),
	)}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}

func (p *Provider) setupMetrics(ctx context.Context, res *resource.Resource) error {
	var reader metric.Reader

	switch p.config.MetricsExporter {
	case ExporterPrometheus:
		// Registers with the default prometheus registry; the track daemon
		// serves it through promhttp.
		exp, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		p.promExporter = exp
		reader = exp

	case ExporterOTLP:
		if p.config.OTLPEndpoint == "" {
			return fmt.Errorf("metrics exporter %q needs OTEL_EXPORTER_OTLP_ENDPOINT", ExporterOTLP)
		}
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("create otlp metrics exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(exp)

	case ExporterStdout:
		slog.Warn("stdout metrics exporter is for debugging only",
			slog.String("component", "instrumentation"))
		exp, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("create stdout metrics exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(exp)

	default:
		return fmt.Errorf("unknown metrics exporter %q", p.config.MetricsExporter)
	}

	p.meterProvider = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	)
	return nil
}

func (p *Provider) setupTracing(ctx context.Context, res *resource.Resource) error {
	if p.config.TracingExporter == ExporterNone {
		// a provider with NeverSample still propagates context, so span
		// helpers stay unconditional
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.NeverSample()),
		)
		return nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch p.config.TracingExporter {
	case ExporterOTLP:
		if p.config.OTLPEndpoint == "" {
			return fmt.Errorf("tracing exporter %q needs OTEL_EXPORTER_OTLP_ENDPOINT", ExporterOTLP)
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(p.config.OTLPEndpoint)}
		if p.config.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	case ExporterStdout:
		slog.Warn("stdout trace exporter is for debugging only",
			slog.String("component", "instrumentation"))
		exporter, err = stdouttrace.New()
	default:
		return fmt.Errorf("unknown tracing exporter %q", p.config.TracingExporter)
	}
	if err != nil {
		return fmt.Errorf("create %s trace exporter: %w", p.config.TracingExporter, err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(p.config.TraceSamplingRate),
		)),
	)
	return nil
}

// Metrics returns the pipeline metrics recorder. Never nil.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Tracer returns a tracer, no-op when instrumentation is disabled.
func (p *Provider) Tracer(name string) trace.Tracer {
	if !p.enabled || p.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.tracerProvider.Tracer(name)
}

// HasPrometheusExporter reports whether metrics go through the default
// prometheus registry and therefore need an HTTP scrape endpoint.
func (p *Provider) HasPrometheusExporter() bool {
	return p.promExporter != nil
}

// Shutdown flushes pending telemetry and releases the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	var errs []error
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	if p.tracerProvider != nil {
		errs = append(errs, p.tracerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Enabled reports whether real exporters are active.
func (p *Provider) Enabled() bool {
	return p.enabled
}
