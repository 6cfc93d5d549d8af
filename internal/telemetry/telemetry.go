// Package telemetry provides OpenTelemetry integration for sprint-orch.
//
// Telemetry is disabled by default. With [telemetry] enabled = true spans
// and metrics are collected; stdout = true pretty-prints them to stderr.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hochfrequenz/sprint-orch/internal/config"
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

const instrumentationScope = "github.com/hochfrequenz/sprint-orch"

var shutdownFns []func(context.Context) error

// Init configures the global OTel providers. When telemetry is disabled it
// installs no-op providers and returns immediately.
func Init(ctx context.Context, cfg config.TelemetryConfig, serviceName, version string) error {
	return initWithWriter(ctx, cfg, serviceName, version, os.Stderr)
}

func initWithWriter(ctx context.Context, cfg config.TelemetryConfig, serviceName, version string, w io.Writer) error {
	if !cfg.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.Stdout {
		traceExp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("telemetry: trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(traceExp))

		metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return fmt.Errorf("telemetry: metric exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second)),
		))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)

	return nil
}

// Tracer returns a tracer with the given instrumentation name (or the global scope)
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter with the given instrumentation name (or the global scope)
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes all spans and metrics and shuts down the providers
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}
