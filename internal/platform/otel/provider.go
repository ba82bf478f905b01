// Package otel wires OpenTelemetry tracing for crossfire binaries.
package otel

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when CROSSFIRE_OTEL_ENDPOINT is empty or
// CROSSFIRE_OTEL_ENABLED is "false", Setup returns a no-op shutdown function
// and no global provider is registered.
//
// CROSSFIRE_OTEL_HEADERS ("k=v,k2=v2") adds headers to every export request,
// CROSSFIRE_OTEL_INSECURE ("true") allows plain-HTTP collectors, and
// CROSSFIRE_OTEL_SERVICE_NAME overrides the reported service name.
//
// The returned shutdown function flushes pending spans and should be
// deferred by the caller.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if strings.EqualFold(os.Getenv("CROSSFIRE_OTEL_ENABLED"), "false") {
		return noop, nil
	}
	endpoint := os.Getenv("CROSSFIRE_OTEL_ENDPOINT")
	if endpoint == "" {
		return noop, nil
	}
	if name := strings.TrimSpace(os.Getenv("CROSSFIRE_OTEL_SERVICE_NAME")); name != "" {
		serviceName = name
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(endpoint),
	}
	if headers := parseHeaders(os.Getenv("CROSSFIRE_OTEL_HEADERS")); len(headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}
	if strings.EqualFold(os.Getenv("CROSSFIRE_OTEL_INSECURE"), "true") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// parseHeaders splits comma-separated key=value pairs. Entries without a key
// are dropped.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
