// Package observability sets up OpenTelemetry tracing for the controller.
// Spans are created by the service and middleware packages through the
// global otel tracer; this package owns the provider behind it.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mir00r/region-failover/internal/config"
	"github.com/mir00r/region-failover/pkg/logger"
)

// TracingManager owns the tracer provider installed as the otel global
type TracingManager struct {
	provider *sdktrace.TracerProvider
	logger   *logger.Logger
}

// NewTracingManager installs a tracer provider for cfg. When tracing is
// disabled, or the exporter is "none", the global no-op provider is left in
// place and Shutdown does nothing.
func NewTracingManager(cfg config.TracingConfig, version string, log *logger.Logger) (*TracingManager, error) {
	tm := &TracingManager{logger: log.WithField("component", "tracing")}
	if !cfg.Enabled || cfg.Exporter == "none" {
		tm.logger.Debug("Tracing disabled")
		return tm, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout", "":
		exp, err := newStdoutExporter(os.Stderr)
		if err != nil {
			return nil, err
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}

	tm.install(cfg.ServiceName, version, sdktrace.WithBatcher(exporter))
	tm.logger.WithField("exporter", cfg.Exporter).Info("Tracing enabled")
	return tm, nil
}

// NewTracingManagerWithExporter installs a provider that exports each span
// synchronously to exporter as it ends.
func NewTracingManagerWithExporter(serviceName, version string, exporter sdktrace.SpanExporter, log *logger.Logger) *TracingManager {
	tm := &TracingManager{logger: log.WithField("component", "tracing")}
	tm.install(serviceName, version, sdktrace.WithSyncer(exporter))
	return tm
}

func (tm *TracingManager) install(serviceName, version string, export sdktrace.TracerProviderOption) {
	if serviceName == "" {
		serviceName = "region-failover"
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	tm.provider = sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tm.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Enabled reports whether a real provider is installed
func (tm *TracingManager) Enabled() bool {
	return tm.provider != nil
}

// Shutdown flushes pending spans and stops the provider
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.provider == nil {
		return nil
	}
	if err := tm.provider.Shutdown(ctx); err != nil {
		tm.logger.WithError(err).Warn("Tracer provider shutdown failed")
		return err
	}
	return nil
}

func newStdoutExporter(w io.Writer) (*stdouttrace.Exporter, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
	}
	return exp, nil
}
