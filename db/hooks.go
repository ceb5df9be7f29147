package db

import (
	"context"
	"log/slog"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Hook interface
// ─────────────────────────────────────────────────────────────────────────────

// QueryEvent describes one finished statement. Query is the rebound SQL the
// driver saw; Err is already mapped, so the Is* helpers work on it.
type QueryEvent struct {
	Query    string
	Args     []any
	Start    time.Time
	Duration time.Duration
	Err      error
	InTx     bool
}

// Hook observes statements after the driver returns. Implementations must
// be safe for concurrent use and should not block; a panicking hook is
// recovered and logged.
type Hook interface {
	AfterQuery(ctx context.Context, ev QueryEvent)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, ev QueryEvent)

func (f HookFunc) AfterQuery(ctx context.Context, ev QueryEvent) { f(ctx, ev) }

type hookChain []Hook

func newHookChain(hooks []Hook) hookChain {
	var c hookChain
	for _, h := range hooks {
		if h != nil {
			c = append(c, h)
		}
	}
	return c
}

func (c hookChain) after(ctx context.Context, ev QueryEvent) {
	for _, h := range c {
		safeAfterQuery(ctx, h, ev)
	}
}

func safeAfterQuery(ctx context.Context, h Hook, ev QueryEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "parkd/db: hook panic", "panic", r)
		}
	}()
	h.AfterQuery(ctx, ev)
}

// ─────────────────────────────────────────────────────────────────────────────
// Built-in hooks
// ─────────────────────────────────────────────────────────────────────────────

// ── Logging hook ─────────────────────────────────────────────────────────────

// LogHookConfig configures the structured logging hook.
type LogHookConfig struct {
	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
	// SlowQueryThreshold logs a warning when duration exceeds this value.
	// Zero disables slow-query logging.
	SlowQueryThreshold time.Duration
	// LogArgs includes bound parameters. Vehicle numbers and emails are
	// among them, so leave it off in production.
	LogArgs bool
}

// NewLogHook returns a Hook that logs failures at error, slow statements at
// warn and everything else at debug.
func NewLogHook(cfg LogHookConfig) Hook {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &logHook{cfg: cfg}
}

type logHook struct{ cfg LogHookConfig }

func (h *logHook) AfterQuery(ctx context.Context, ev QueryEvent) {
	attrs := []any{
		slog.String("query", trimQuery(ev.Query)),
		slog.Duration("duration", ev.Duration),
		slog.Bool("tx", ev.InTx),
	}
	if h.cfg.LogArgs && len(ev.Args) > 0 {
		attrs = append(attrs, slog.Any("args", ev.Args))
	}

	log := h.cfg.Logger
	switch {
	// A missing row is an ordinary answer for lookups; unique violations
	// become domain errors in the callers.
	case ev.Err != nil && !IsNotFound(ev.Err) && !IsDuplicateKey(ev.Err):
		log.ErrorContext(ctx, "parkd/db: query error", append(attrs, slog.Any("error", ev.Err))...)
	case h.cfg.SlowQueryThreshold > 0 && ev.Duration > h.cfg.SlowQueryThreshold:
		log.WarnContext(ctx, "parkd/db: slow query", attrs...)
	default:
		log.DebugContext(ctx, "parkd/db: query", attrs...)
	}
}

func trimQuery(q string) string {
	if len(q) > 500 {
		return q[:500] + "…"
	}
	return q
}

// ── Metrics hook ─────────────────────────────────────────────────────────────

// MetricsCollector is the interface a metrics backend implements.
// telemetry.Metrics is the Prometheus implementation.
type MetricsCollector interface {
	// RecordQuery is called once per statement. success is false when the
	// statement failed; an empty lookup counts as a success.
	RecordQuery(query string, duration time.Duration, success bool)
}

// NewMetricsHook returns a Hook that delegates to a MetricsCollector.
func NewMetricsHook(c MetricsCollector) Hook {
	return HookFunc(func(_ context.Context, ev QueryEvent) {
		c.RecordQuery(ev.Query, ev.Duration, ev.Err == nil || IsNotFound(ev.Err))
	})
}

// ── Tracing hook ─────────────────────────────────────────────────────────────

// Tracer is the interface a tracing backend implements.
// telemetry.Tracer is the OpenTelemetry implementation.
type Tracer interface {
	// StartSpan opens a span for query that began at start. The returned
	// context must carry the span so that EndSpan can finish it.
	StartSpan(ctx context.Context, query string, start time.Time) context.Context
	// EndSpan finishes the span carried by ctx.
	EndSpan(ctx context.Context, err error)
}

// NewTracingHook returns a Hook that records one span per statement as a
// child of the span in ctx. Spans are opened after the fact with the
// statement's real start time, since hooks cannot replace the context the
// statement runs with.
func NewTracingHook(t Tracer) Hook {
	return HookFunc(func(ctx context.Context, ev QueryEvent) {
		t.EndSpan(t.StartSpan(ctx, ev.Query, ev.Start), ev.Err)
	})
}
