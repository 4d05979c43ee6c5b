// Package telemetry builds the service loggers and the OpenTelemetry tracer
// provider.
package telemetry

import (
	stdcontext "context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is reported in traces and logs.
const ServiceName = "payment-gateway"

// NewLogger builds the JSON production logger at the named level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build(zap.Fields(zap.String("service", ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// NewAuditLogger builds a logger that writes bare JSON objects, one per line,
// to path ("stdout" when empty). Audit entries carry their own timestamp and
// level fields, so the encoder adds none.
func NewAuditLogger(path string) (*zap.Logger, func(), error) {
	if path == "" {
		path = "stdout"
	}
	sink, closeSink, err := zap.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{})
	logger := zap.New(zapcore.NewCore(encoder, sink, zapcore.InfoLevel))
	return logger, func() {
		_ = logger.Sync()
		closeSink()
	}, nil
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string    // OTLP/HTTP collector host:port; empty means stdout
	Writer       io.Writer // stdout exporter destination; defaults to os.Stdout
}

// InitTracing installs a global tracer provider and propagator. When tracing
// is disabled it installs nothing and the returned shutdown is a no-op.
func InitTracing(ctx stdcontext.Context, cfg TracingConfig) (func(stdcontext.Context) error, error) {
	noop := func(stdcontext.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if cfg.OTLPEndpoint != "" {
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	} else {
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
	}
	if err != nil {
		return noop, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
