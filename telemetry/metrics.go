// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing
// backends. Metrics plugs into db hooks and the parking engine; Tracer plugs
// into db hooks.
package telemetry

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
	"github.com/Skryldev/parkd/parking"
)

const namespace = "parkd"

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	queryDuration   *prometheus.HistogramVec
	requestDuration *prometheus.HistogramVec
	opened          prometheus.Counter
	rejected        *prometheus.CounterVec
	closed          *prometheus.CounterVec
	revenue         prometheus.Counter
	claimsLost      prometheus.Counter
}

// NewMetrics registers the parkd collectors plus the Go runtime and process
// collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Duration of SQL statements by verb and outcome.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"verb", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "opened_total",
			Help:      "Reservations opened.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "rejected_total",
			Help:      "Reservation requests rejected, by error kind.",
		}, []string{"kind"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "closed_total",
			Help:      "Reservations closed, by final status.",
		}, []string{"status"}),
		revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "revenue_total",
			Help:      "Sum of billed reservation costs.",
		}),
		claimsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocator",
			Name:      "claims_lost_total",
			Help:      "Spot claims lost to a concurrent allocation and retried.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queryDuration,
		m.requestDuration,
		m.opened,
		m.rejected,
		m.closed,
		m.revenue,
		m.claimsLost,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WatchPool exports connection pool statistics for pool.
func (m *Metrics) WatchPool(pool *sql.DB) error {
	return m.registry.Register(collectors.NewDBStatsCollector(pool, namespace))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ── db.MetricsCollector ──────────────────────────────────────────────────────

// RecordQuery implements db.MetricsCollector.
func (m *Metrics) RecordQuery(query string, d time.Duration, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.queryDuration.WithLabelValues(StatementVerb(query), outcome).Observe(d.Seconds())
}

// ── parking.Observer ─────────────────────────────────────────────────────────

func (m *Metrics) ReservationOpened(int64) { m.opened.Inc() }

func (m *Metrics) ReservationRejected(kind parking.Kind) {
	m.rejected.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ReservationClosed(status models.ReservationStatus, cost float64) {
	m.closed.WithLabelValues(string(status)).Inc()
	if cost > 0 {
		m.revenue.Add(cost)
	}
}

func (m *Metrics) ClaimLost(int64) { m.claimsLost.Inc() }

// ── HTTP ─────────────────────────────────────────────────────────────────────

// ObserveRequest records one served HTTP request. route is the matched
// pattern, not the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// StatementVerb returns the lower-cased leading keyword of a SQL statement,
// or "other" for anything unexpected.
func StatementVerb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "other"
	}
	switch verb := strings.ToLower(fields[0]); verb {
	case "select", "insert", "update", "delete", "with", "begin", "commit", "rollback", "create", "drop", "alter":
		return verb
	}
	return "other"
}

var (
	_ db.MetricsCollector = (*Metrics)(nil)
	_ parking.Observer    = (*Metrics)(nil)
)
