// Package telemetry wires OpenTelemetry into bd.
//
// Nothing is exported unless BD_OTEL_ENABLED=true. The environment decides
// where spans and metrics go:
//
//	BD_OTEL_ENABLED=true                      turn telemetry on
//	BD_OTEL_STDOUT=true                       pretty-print spans and metrics to stdout
//	BD_OTEL_METRIC_INTERVAL=30s               metric push interval
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT=...   OTLP/HTTP metrics endpoint (URL or host:port)
//	OTEL_EXPORTER_OTLP_ENDPOINT=...           fallback when the metrics endpoint is unset
//	OTEL_SERVICE_NAME=...                     overrides the service name passed to Init
//
// Spans have no remote exporter; they are recorded for stdout only.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/beadsync/beadsync"

const defaultMetricInterval = 30 * time.Second

// Settings selects the exporters Init installs.
type Settings struct {
	Enabled        bool
	Stdout         bool
	MetricsURL     string // OTLP/HTTP endpoint; empty disables the push exporter
	MetricInterval time.Duration
	ServiceName    string // overrides the name given to Init when set
}

// SettingsFromEnv reads Settings from the BD_OTEL_* and OTEL_* variables.
func SettingsFromEnv() Settings {
	s := Settings{
		Enabled:        os.Getenv("BD_OTEL_ENABLED") == "true",
		Stdout:         os.Getenv("BD_OTEL_STDOUT") == "true",
		MetricsURL:     firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"), os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		MetricInterval: defaultMetricInterval,
		ServiceName:    os.Getenv("OTEL_SERVICE_NAME"),
	}
	if raw := os.Getenv("BD_OTEL_METRIC_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			s.MetricInterval = d
		}
	}
	return s
}

var shutdownFns []func(context.Context) error

// Enabled reports whether telemetry is turned on in the environment.
func Enabled() bool {
	return SettingsFromEnv().Enabled
}

// Init installs providers according to the environment.
func Init(ctx context.Context, serviceName, version string) error {
	return InitWith(ctx, SettingsFromEnv(), serviceName, version)
}

// InitWith installs providers for s. Disabled settings install no-op
// providers.
func InitWith(ctx context.Context, s Settings, serviceName, version string) error {
	if !s.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	if s.ServiceName != "" {
		serviceName = s.ServiceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := newTracerProvider(res, s)
	if err != nil {
		return fmt.Errorf("telemetry: trace provider: %w", err)
	}
	mp, err := newMeterProvider(ctx, res, s)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("telemetry: metric provider: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, tp.Shutdown, mp.Shutdown)
	return nil
}

func newTracerProvider(res *resource.Resource, s Settings) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if s.Stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, s Settings) (*sdkmetric.MeterProvider, error) {
	interval := s.MetricInterval
	if interval <= 0 {
		interval = defaultMetricInterval
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if s.Stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	}
	if s.MetricsURL != "" {
		exp, err := newOTLPMetricExporter(ctx, s.MetricsURL)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

// Tracer returns a tracer for name, or for the module scope when name is empty.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter for name, or for the module scope when name is empty.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes and stops the providers Init installed.
func Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range shutdownFns {
		errs = append(errs, fn(ctx))
	}
	shutdownFns = nil
	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
