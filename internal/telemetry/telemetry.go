// Package telemetry sets up OpenTelemetry trace and metric providers.
// Exporters write to a stream (stdout by default); with exporters disabled
// the providers are no-ops.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Exporter names.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// InstrumentationName names the tracer and meter used by the service.
const InstrumentationName = "github.com/Sayan19951995/metricon-sub002"

// Config selects exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Traces and Metrics are ExporterNone (or empty) or ExporterStdout.
	Traces  string
	Metrics string
	// MetricsInterval is the export period. Defaults to one minute.
	MetricsInterval time.Duration
	// Writer receives exported data. Defaults to os.Stdout.
	Writer io.Writer
}

// Providers holds the configured providers.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	shutdowns []func(context.Context) error
}

// Setup creates the providers selected by cfg.
func Setup(cfg Config) (*Providers, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	p := &Providers{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	}

	switch cfg.Traces {
	case "", ExporterNone:
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		p.TracerProvider = tp
		p.shutdowns = append(p.shutdowns, tp.Shutdown)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Traces)
	}

	switch cfg.Metrics {
	case "", ExporterNone:
	case ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			_ = p.shutdown(context.Background())
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		interval := cfg.MetricsInterval
		if interval <= 0 {
			interval = time.Minute
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		p.MeterProvider = mp
		p.shutdowns = append(p.shutdowns, mp.Shutdown)
	default:
		_ = p.shutdown(context.Background())
		return nil, fmt.Errorf("unknown metric exporter %q", cfg.Metrics)
	}

	return p, nil
}

// Tracer returns the service tracer.
func (p *Providers) Tracer() trace.Tracer {
	return p.TracerProvider.Tracer(InstrumentationName)
}

// Meter returns the service meter.
func (p *Providers) Meter() metric.Meter {
	return p.MeterProvider.Meter(InstrumentationName)
}

// Exporting reports whether any exporter is active.
func (p *Providers) Exporting() bool {
	return len(p.shutdowns) > 0
}

// Shutdown flushes and stops the exporters.
func (p *Providers) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

func (p *Providers) shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdowns = nil
	return errors.Join(errs...)
}
