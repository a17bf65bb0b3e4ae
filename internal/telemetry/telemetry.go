// Package telemetry wires OpenTelemetry metrics for the scanning pipeline.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const instrumentationName = "github.com/zombor/pricescan"

// Config configures the meter provider
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is a gRPC collector address; empty keeps metrics in-process
	OTLPEndpoint string
	Insecure     bool
	Interval     time.Duration
}

// Provider owns the SDK meter provider
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
}

// New creates a meter provider, registers it globally and attaches any
// extra readers (tests pass a manual reader)
func New(ctx context.Context, cfg Config, readers ...sdkmetric.Reader) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pricescan"
	}
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	if cfg.OTLPEndpoint != "" {
		exportOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			exportOpts = append(exportOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, exportOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	slog.Info("Telemetry initialized", "service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint)
	return &Provider{meterProvider: mp}, nil
}

// Meter returns the pipeline meter
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(instrumentationName)
}

// Shutdown flushes and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}

// Metrics are the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	runs      metric.Int64Counter
	failures  metric.Int64Counter
	duration  metric.Float64Histogram
	active    metric.Int64UpDownCounter
	cacheHits metric.Int64Counter
	retries   metric.Int64Counter
	prices    metric.Int64Histogram
}

// NewMetrics creates the instruments on meter. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	var (
		m   Metrics
		err error
	)
	if m.runs, err = meter.Int64Counter("pricescan.runs",
		metric.WithDescription("Pipeline runs by outcome"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("pricescan.failures",
		metric.WithDescription("Failed runs by failure code"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("pricescan.duration",
		metric.WithDescription("Pipeline run duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60)); err != nil {
		return nil, err
	}
	if m.active, err = meter.Int64UpDownCounter("pricescan.active",
		metric.WithDescription("Runs holding a scheduler slot"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("pricescan.cache.lookups",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}")); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("pricescan.retries",
		metric.WithDescription("Extra attempts made by the retry engine"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, err
	}
	if m.prices, err = meter.Int64Histogram("pricescan.prices",
		metric.WithDescription("Prices returned per run"),
		metric.WithUnit("{price}")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordRun records one finished run
func (m *Metrics) RecordRun(ctx context.Context, tier, code string, d time.Duration, prices int) {
	if m == nil {
		return
	}
	outcome := "success"
	if code != "" {
		outcome = "failure"
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
	}
	attrs := metric.WithAttributes(attribute.String("tier", tier), attribute.String("outcome", outcome))
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
	if code == "" {
		m.prices.Record(ctx, int64(prices), metric.WithAttributes(attribute.String("tier", tier)))
	}
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRetries records attempts beyond the first
func (m *Metrics) RecordRetries(ctx context.Context, attempts int) {
	if m == nil || attempts <= 1 {
		return
	}
	m.retries.Add(ctx, int64(attempts-1))
}

// TrackActive increments the active gauge and returns its decrement
func (m *Metrics) TrackActive(ctx context.Context) func() {
	if m == nil {
		return func() {}
	}
	m.active.Add(ctx, 1)
	return func() { m.active.Add(ctx, -1) }
}
