package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Metrics holds common metric instruments.
type Metrics struct {
	// User function dispatch
	FunctionCalls    metric.Int64Counter
	FunctionDuration metric.Float64Histogram
	FunctionErrors   metric.Int64Counter

	// Statement execution
	QueryCount    metric.Int64Counter
	QueryDuration metric.Float64Histogram
}

// InitMetrics initializes and returns metric instruments.
func InitMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("sqlbridge")

	m := &Metrics{}

	var err error
	m.FunctionCalls, err = meter.Int64Counter(
		"sqlbridge.function.calls",
		metric.WithDescription("Number of user function callbacks dispatched"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create function call counter: %w", err)
	}

	m.FunctionDuration, err = meter.Float64Histogram(
		"sqlbridge.function.duration",
		metric.WithDescription("User function callback latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create function duration histogram: %w", err)
	}

	m.FunctionErrors, err = meter.Int64Counter(
		"sqlbridge.function.errors",
		metric.WithDescription("Number of user function callbacks that reported an error"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create function error counter: %w", err)
	}

	m.QueryCount, err = meter.Int64Counter(
		"sqlbridge.query.count",
		metric.WithDescription("Number of statements executed"),
		metric.WithUnit("{statement}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	m.QueryDuration, err = meter.Float64Histogram(
		"sqlbridge.query.duration",
		metric.WithDescription("Statement execution latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	return m, nil
}

// RecordFunctionCall records one dispatched callback. A nil Metrics records
// nothing.
func (m *Metrics) RecordFunctionCall(ctx context.Context, name, kind string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		AttrFunctionName.String(name),
		AttrCallKind.String(kind),
	)
	m.FunctionCalls.Add(ctx, 1, attrs)
	m.FunctionDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
	if failed {
		m.FunctionErrors.Add(ctx, 1, attrs)
	}
}

// RecordQuery records one executed statement.
func (m *Metrics) RecordQuery(ctx context.Context, operation string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		AttrDBOperation.String(operation),
		attribute.Bool("error", failed),
	)
	m.QueryCount.Add(ctx, 1, attrs)
	m.QueryDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// initMeterProvider initializes the meter provider based on config.
func initMeterProvider(ctx context.Context, cfg *Config) (metric.MeterProvider, any, error) {
	var reader sdkmetric.Reader

	switch cfg.Exporter {
	case ExporterStdout:
		exporter, err := stdoutmetric.New(
			stdoutmetric.WithWriter(os.Stderr),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter)
	case ExporterOTLP:
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		conn, err := dialCollector(ctx, cfg.Endpoint)
		if err != nil {
			return nil, nil, err
		}

		exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter)
	case ExporterNone:
		return sdkmetric.NewMeterProvider(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	return mp, reader, nil
}
