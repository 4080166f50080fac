package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultServiceName is reported as service.name on every span.
	DefaultServiceName = "lifestation"
	// TracerName names the tracer used across LifeStation packages.
	TracerName = "github.com/BTreeMap/LifeStation"
)

// Exporter types accepted by InitTracing.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	ServiceName  string
	ExporterType string    // "none" or "stdout"
	Writer       io.Writer // stdout exporter destination; defaults to os.Stdout
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// InitTracing installs the global tracer provider. With ExporterNone the global no-op provider is kept.
func InitTracing(cfg TracingConfig) (ShutdownFunc, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	noop := func(context.Context) error { return nil }

	switch cfg.ExporterType {
	case "", ExporterNone:
		slog.Debug("Tracing disabled")
		return noop, nil
	case ExporterStdout:
	default:
		return noop, fmt.Errorf("unknown trace exporter type: %s", cfg.ExporterType)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return noop, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("Tracing initialized", "exporter", cfg.ExporterType, "service", cfg.ServiceName)
	return tp.Shutdown, nil
}

// Tracer returns the LifeStation tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
