package telemetry

import (
	"context"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config controls exporter wiring. An empty Endpoint disables push
// export; metrics remain scrapeable through the Prometheus registry.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Insecure       bool
	SampleRate     float64
}

// Provider wraps the OTEL tracer and meter providers plus the engine's
// metric instruments. Pass it explicitly; there are no package globals.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *promclient.Registry

	executionsTotal   metric.Int64Counter
	executionDuration metric.Float64Histogram
	queriesTotal      metric.Int64Counter
	queryDuration     metric.Float64Histogram
	resourcesScanned  metric.Int64Counter
	findingsTotal     metric.Int64Counter
	batchesTotal      metric.Int64Counter
	batchesFailed     metric.Int64Counter
	wasteMonthly      metric.Float64Gauge
}

// NewProvider creates a telemetry provider. Metrics are dual-exported:
// a Prometheus registry for pull-based scraping, plus OTLP push when an
// endpoint is configured.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "cloudtrim"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, err
	}

	if err := p.initInstruments(); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg Config, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		opts = append(opts,
			sdktrace.WithBatcher(exp),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	p.tracer = p.tracerProvider.Tracer("cloudtrim")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg Config, res *resource.Resource) error {
	p.registry = promclient.NewRegistry()

	promExporter, err := prometheus.New(
		prometheus.WithRegisterer(p.registry),
	)
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}

	if cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second)),
		))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("cloudtrim")

	return nil
}

func createTraceExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initInstruments() error {
	var err error

	p.executionsTotal, err = p.meter.Int64Counter("cloudtrim.executions.total",
		metric.WithDescription("Total module executions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("create executions counter: %w", err)
	}

	p.executionDuration, err = p.meter.Float64Histogram("cloudtrim.execution.duration.seconds",
		metric.WithDescription("Duration of module executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create execution duration histogram: %w", err)
	}

	p.queriesTotal, err = p.meter.Int64Counter("cloudtrim.graph.queries.total",
		metric.WithDescription("Total detector queries issued"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("create queries counter: %w", err)
	}

	p.queryDuration, err = p.meter.Float64Histogram("cloudtrim.graph.query.duration.seconds",
		metric.WithDescription("Duration of detector queries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create query duration histogram: %w", err)
	}

	p.resourcesScanned, err = p.meter.Int64Counter("cloudtrim.resources.scanned.total",
		metric.WithDescription("Total resource rows returned by detector queries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("create resources counter: %w", err)
	}

	p.findingsTotal, err = p.meter.Int64Counter("cloudtrim.findings.total",
		metric.WithDescription("Total findings produced"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("create findings counter: %w", err)
	}

	p.batchesTotal, err = p.meter.Int64Counter("cloudtrim.graph.batches.total",
		metric.WithDescription("Total subscription batches queried"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("create batches counter: %w", err)
	}

	p.batchesFailed, err = p.meter.Int64Counter("cloudtrim.graph.batches.failed.total",
		metric.WithDescription("Subscription batches that failed after retries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("create failed batches counter: %w", err)
	}

	p.wasteMonthly, err = p.meter.Float64Gauge("cloudtrim.waste.monthly.dollars",
		metric.WithDescription("Estimated monthly waste found by the last execution"),
		metric.WithUnit("{USD}"),
	)
	if err != nil {
		return fmt.Errorf("create waste gauge: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Registry returns the Prometheus registry backing pull-based export.
func (p *Provider) Registry() *promclient.Registry {
	return p.registry
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordDetectorScan records one detector's query fan-out: rows returned,
// findings kept, and time spent querying.
func (p *Provider) RecordDetectorScan(ctx context.Context, resourceType string, rows, findings int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("resource_type", resourceType))
	p.queriesTotal.Add(ctx, 1, attrs)
	p.queryDuration.Record(ctx, d.Seconds(), attrs)
	p.resourcesScanned.Add(ctx, int64(rows), attrs)
	p.findingsTotal.Add(ctx, int64(findings), attrs)
}

// RecordBatches records batch counts for one detector's fan-out.
func (p *Provider) RecordBatches(ctx context.Context, resourceType string, total, failed int) {
	attrs := metric.WithAttributes(attribute.String("resource_type", resourceType))
	p.batchesTotal.Add(ctx, int64(total), attrs)
	p.batchesFailed.Add(ctx, int64(failed), attrs)
}

// RecordExecution records one module execution and its duration.
func (p *Provider) RecordExecution(ctx context.Context, moduleID, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("module", moduleID),
		attribute.String("status", status),
	)
	p.executionsTotal.Add(ctx, 1, attrs)
	p.executionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordWaste records the monthly cost total of the latest execution.
func (p *Provider) RecordWaste(ctx context.Context, moduleID string, monthlyCost float64) {
	p.wasteMonthly.Record(ctx, monthlyCost, metric.WithAttributes(
		attribute.String("module", moduleID),
	))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
