package observability

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"delorean_back/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const defaultServiceName = "delorean"

// InitTracing installs a global tracer provider when OTEL_ENABLED is set and
// returns its shutdown func. When disabled the returned func is a no-op.
func InitTracing(ctx context.Context, log *logger.Logger, serviceName string) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !Enabled() {
		return noop
	}
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("deployment.environment", strings.TrimSpace(os.Getenv("APP_ENV"))),
	))
	if err != nil {
		log.Warn("otel resource init failed (continuing)", "error", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio()))),
		sdktrace.WithResource(res),
	}
	exporter, err := buildExporter(ctx, log)
	if err != nil {
		log.Warn("otel exporter init failed (continuing)", "error", err)
	} else {
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Info("otel tracing initialized", "service", serviceName, "endpoint", endpoint())
	return tp.Shutdown
}

// Enabled reads OTEL_ENABLED.
func Enabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_ENABLED"))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func sampleRatio() float64 {
	raw := strings.TrimSpace(os.Getenv("OTEL_SAMPLER_RATIO"))
	if raw == "" {
		return 1
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 1
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func endpoint() string {
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func buildExporter(ctx context.Context, log *logger.Logger) (sdktrace.SpanExporter, error) {
	if ep := endpoint(); ep != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(ep)}
		switch strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"))) {
		case "1", "true", "yes", "on":
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	log.Warn("otel using stdout exporter (no OTLP endpoint configured)")
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}
