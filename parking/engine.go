// Package parking is the reservation engine: spot allocation, the
// reservation lifecycle, lot capacity management and the read-only queries
// built on top of them. Every mutation runs as one db transaction.
package parking

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
)

const tracerName = "github.com/Skryldev/parkd/parking"

// Defaults applied by New for zero-valued Options fields.
const (
	DefaultMinimumBillable  = time.Hour
	DefaultMaxSpotsPerLot   = 1000
	DefaultMaxClaimAttempts = 16
)

// Observer receives engine events. telemetry.Metrics is the Prometheus
// implementation.
type Observer interface {
	ReservationOpened(lotID int64)
	ReservationRejected(kind Kind)
	ReservationClosed(status models.ReservationStatus, cost float64)
	// ClaimLost is called each time a compare-and-swap on a free spot loses
	// to a concurrent allocation.
	ClaimLost(lotID int64)
}

type nopObserver struct{}

func (nopObserver) ReservationOpened(int64) {}
func (nopObserver) ReservationRejected(Kind) {}
func (nopObserver) ReservationClosed(models.ReservationStatus, float64) {}
func (nopObserver) ClaimLost(int64) {}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Logger         *slog.Logger
	Observer       Observer
	TracerProvider trace.TracerProvider
	// Now is the clock used for reservation start and end times.
	Now func() time.Time

	MinimumBillable  time.Duration
	MaxSpotsPerLot   int
	MaxClaimAttempts int
	// Retry bounds how often a transaction is re-run after a deadlock,
	// serialization failure or busy database.
	Retry db.RetryConfig
}

// Engine is safe for concurrent use.
type Engine struct {
	db     *db.DB
	log    *slog.Logger
	obs    Observer
	tracer trace.Tracer
	now    func() time.Time

	minBillable time.Duration
	maxSpots    int
	retry       db.RetryConfig
	alloc       *Allocator
}

// New returns an Engine working on d.
func New(d *db.DB, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinimumBillable <= 0 {
		opts.MinimumBillable = DefaultMinimumBillable
	}
	if opts.MaxSpotsPerLot <= 0 {
		opts.MaxSpotsPerLot = DefaultMaxSpotsPerLot
	}
	if opts.MaxClaimAttempts <= 0 {
		opts.MaxClaimAttempts = DefaultMaxClaimAttempts
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.Retry.Delay <= 0 {
		opts.Retry.Delay = 20 * time.Millisecond
	}

	return &Engine{
		db:          d,
		log:         opts.Logger.With("component", "parking"),
		obs:         opts.Observer,
		tracer:      opts.TracerProvider.Tracer(tracerName),
		now:         func() time.Time { return opts.Now().UTC() },
		minBillable: opts.MinimumBillable,
		maxSpots:    opts.MaxSpotsPerLot,
		retry:       opts.Retry,
		alloc:       NewAllocator(opts.MaxClaimAttempts, opts.Observer),
	}
}

// Allocator returns the spot allocator the engine claims spots with.
func (e *Engine) Allocator() *Allocator { return e.alloc }

// withTx runs fn in a transaction under a span named after op, retrying the
// whole transaction on transient store failures. The error returned is
// always an *Error.
func (e *Engine) withTx(ctx context.Context, op string, fn func(context.Context, *db.Tx) error, attrs ...attribute.KeyValue) error {
	ctx, span := e.tracer.Start(ctx, "parkd.parking."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
	defer span.End()

	err := db.WithRetry(ctx, e.retry, func() error {
		return e.db.ExecTx(ctx, func(tx *db.Tx) error { return fn(ctx, tx) })
	})
	if err != nil {
		err = wrap(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// read runs fn against the database outside a transaction, with the same
// span and error handling as withTx.
func (e *Engine) read(ctx context.Context, op string, fn func(context.Context, db.Querier) error, attrs ...attribute.KeyValue) error {
	ctx, span := e.tracer.Start(ctx, "parkd.parking."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
	defer span.End()

	if err := fn(ctx, e.db); err != nil {
		err = wrap(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func requireAdmin(op string, actor models.Actor) error {
	if !actor.IsAdmin() {
		return wrap(op, ErrForbidden)
	}
	return nil
}

// notFound swaps db.ErrNotFound for the domain sentinel and leaves any
// other error untouched.
func notFound(err, sentinel error) error {
	if db.IsNotFound(err) {
		return sentinel
	}
	return err
}
