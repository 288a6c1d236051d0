// Package telemetry sets up OpenTelemetry tracing for the process.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/polarsource/polar-sub002/settings"
)

// Init builds a TracerProvider and installs it globally. Spans are
// exported over OTLP/HTTP when TracingURL is set, and only sampled
// otherwise. Call shutdown to flush before exit.
func Init(ctx context.Context, cfg settings.Observability) (tp *sdktrace.TracerProvider, shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		return nil, nil, errors.New("polar/telemetry: service name cannot be empty")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("polar/telemetry: resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}

	if cfg.TracingURL != "" {
		clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.TracingURL)}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(clientOpts...))
		if err != nil {
			return nil, nil, fmt.Errorf("polar/telemetry: trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}
