package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Tracing exporters accepted in configuration.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// SetupTracing installs a global tracer provider for the named exporter and
// returns a function that flushes and stops it. With ExporterNone the
// global no-op provider stays in place.
func SetupTracing(exporter string, w io.Writer) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch exporter {
	case "", ExporterNone:
		return noop, nil
	case ExporterStdout:
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return noop, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	default:
		return noop, fmt.Errorf("unknown tracing exporter %q", exporter)
	}
}
