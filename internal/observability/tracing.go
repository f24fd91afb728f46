package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/netlab-simulator/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracerName is the instrumentation scope used for simulation spans.
const TracerName = "github.com/signalsfoundry/netlab-simulator"

// Environment variables read by TracingConfigFromEnv.
const (
	EnvTracingEnabled  = "NETSIM_TRACING_ENABLED"
	EnvTracingExporter = "NETSIM_TRACING_EXPORTER"
	EnvTracingService  = "NETSIM_TRACING_SERVICE_NAME"
	EnvTracingRatio    = "NETSIM_TRACING_SAMPLE_RATIO"
	EnvOTLPEndpoint    = "NETSIM_OTLP_ENDPOINT"
)

const defaultOTLPEndpoint = "localhost:4317"

// TracingConfig governs how spans from simulation runs and control RPCs are
// exported.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string    // stdout or otlp
	Endpoint    string    // collector address for otlp
	SampleRatio float64   // fraction of root spans kept
	Output      io.Writer // stdout exporter destination, defaults to stderr
}

// TracingConfigFromEnv reads NETSIM_TRACING_* and NETSIM_OTLP_ENDPOINT.
// Tracing is off unless NETSIM_TRACING_ENABLED is "true". A sample ratio
// outside [0, 1] is ignored.
func TracingConfigFromEnv() TracingConfig {
	return TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv(EnvTracingEnabled), "true"),
		ServiceName: envOr(EnvTracingService, "netsim"),
		Exporter:    strings.ToLower(envOr(EnvTracingExporter, "stdout")),
		Endpoint:    os.Getenv(EnvOTLPEndpoint),
		SampleRatio: sampleRatio(os.Getenv(EnvTracingRatio)),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func sampleRatio(raw string) float64 {
	if raw == "" {
		return 1
	}
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil || r < 0 || r > 1 {
		return 1
	}
	return r
}

// InitTracing installs the global tracer provider and propagators. The
// returned function flushes pending spans and must be called on exit.
//
// The stdout exporter writes to stderr unless cfg.Output says otherwise, so
// span dumps never interleave with the event lines `netsim run` prints.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "netlab"),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

// Tracer returns the tracer used for simulation runs and control RPCs. It
// resolves through the global provider so InitTracing may run later.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", "stdout":
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}
