// Package telemetry wires the global OpenTelemetry trace provider for the
// RPC surface. Tracing is opt-in through the standard OTLP environment
// variables; without an endpoint configured it stays a no-op.
package telemetry

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// nopShutdown is returned whenever no tracer provider was installed, so
// callers can always defer the shutdown unconditionally.
var nopShutdown = func(context.Context) error { return nil }

// settings holds the trace configuration read from the standard OTEL
// environment variables.
type settings struct {
	endpoint   string
	sampleRate float64
}

func fromEnv() settings {
	s := settings{sampleRate: 0.1}
	ep := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	// The OTLP HTTP client wants host:port without a scheme.
	ep = strings.TrimPrefix(ep, "https://")
	ep = strings.TrimPrefix(ep, "http://")
	s.endpoint = ep

	if raw := strings.TrimSpace(os.Getenv("OTEL_TRACE_SAMPLE_RATE")); raw != "" {
		if rate, err := strconv.ParseFloat(raw, 64); err == nil && rate >= 0 && rate <= 1 {
			s.sampleRate = rate
		}
	}
	return s
}

// Init installs the global trace provider. Without OTEL_EXPORTER_OTLP_ENDPOINT
// set it does nothing and returns a no-op shutdown. OTEL_TRACE_SAMPLE_RATE
// (0.0-1.0) tunes the parent-based sampler.
func Init(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	cfg := fromEnv()
	if cfg.endpoint == "" {
		return nopShutdown, nil
	}

	exporter, err := newExporter(ctx, cfg.endpoint)
	if err != nil {
		// The collector being unreachable must not keep a session from
		// starting.
		return nopShutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.sampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return otlptracehttp.New(initCtx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(3*time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	)
}
