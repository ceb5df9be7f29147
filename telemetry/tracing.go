package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/Skryldev/parkd/db"
)

const tracerName = "github.com/Skryldev/parkd/db"

// maxStatementAttr bounds the db.statement attribute.
const maxStatementAttr = 512

// Tracer implements db.Tracer with one client span per statement.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer using tp, or the global provider when tp is nil.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartSpan implements db.Tracer.
func (t *Tracer) StartSpan(ctx context.Context, query string, start time.Time) context.Context {
	verb := StatementVerb(query)
	stmt := strings.Join(strings.Fields(query), " ")
	if len(stmt) > maxStatementAttr {
		stmt = stmt[:maxStatementAttr]
	}
	ctx, _ = t.tracer.Start(ctx, "parkd.db."+verb,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("db.operation", verb),
			attribute.String("db.statement", stmt),
		))
	return ctx
}

// EndSpan implements db.Tracer.
func (t *Tracer) EndSpan(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil && !db.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "statement failed")
	}
	span.End()
}

var _ db.Tracer = (*Tracer)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Provider setup
// ─────────────────────────────────────────────────────────────────────────────

// TracingConfig selects where spans are exported. An empty Endpoint leaves
// the global no-op provider in place.
type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// SetupTracing installs a global tracer provider exporting over OTLP/HTTP
// and returns its shutdown func.
func SetupTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return func(context.Context) error { return nil }, nil
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start otlp exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "parkd"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}
