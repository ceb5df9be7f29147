// Package db is the SQL-first persistence layer under the parking engine.
// It is NOT an ORM: all SQL is explicit and lives next to the repository
// that owns it. The package adds context-aware helpers, hook dispatch,
// unified error mapping, dialect rebinding, and transaction management on
// top of database/sql.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config holds all options for opening and managing the connection pool.
type Config struct {
	// DSN is the driver-specific data-source name.
	DSN string

	// DriverName is "postgres", "mysql", or "sqlite3".
	DriverName string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// DefaultTimeout bounds statements and transactions whose context has
	// no deadline. Zero means no default timeout.
	DefaultTimeout time.Duration

	// Hooks observe every statement (logging, metrics, tracing). nil
	// entries are skipped.
	Hooks []Hook
}

// ─────────────────────────────────────────────────────────────────────────────
// DB
// ─────────────────────────────────────────────────────────────────────────────

// DB wraps *sql.DB. It is safe for concurrent use; every method takes a
// context so callers control timeouts and cancellation.
type DB struct {
	runner
	sqldb *sql.DB
	cfg   Config
}

// Open opens the database described by cfg and verifies connectivity with Ping.
// Callers are responsible for calling Close() when the application shuts down.
func Open(cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("parkd/db: DSN must not be empty")
	}
	if cfg.DriverName == "" {
		return nil, fmt.Errorf("parkd/db: DriverName must not be empty")
	}

	sqldb, err := sql.Open(cfg.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parkd/db: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	d := &DB{
		runner: runner{
			conn:    sqldb,
			dialect: DialectFor(cfg.DriverName),
			errMap:  DefaultErrorMapper(),
			hooks:   newHookChain(cfg.Hooks),
			timeout: cfg.DefaultTimeout,
		},
		sqldb: sqldb,
		cfg:   cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("parkd/db: ping: %w", err)
	}
	return d, nil
}

// Raw returns the underlying pool, e.g. for pool statistics collectors.
func (d *DB) Raw() *sql.DB { return d.sqldb }

// SetErrorMapper replaces the error mapper. Transactions started afterwards
// use the new mapper.
func (d *DB) SetErrorMapper(m ErrorMapper) { d.errMap = m }

// Close closes all pooled connections.
func (d *DB) Close() error { return d.sqldb.Close() }

// Ping verifies that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.mapErr(d.sqldb.PingContext(ctx))
}

// ─────────────────────────────────────────────────────────────────────────────
// Statement execution shared by DB and Tx
// ─────────────────────────────────────────────────────────────────────────────

// sqlConn is the part of *sql.DB and *sql.Tx that runner needs.
type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// runner rebinds placeholders, maps driver errors and reports each
// statement to the hooks.
type runner struct {
	conn    sqlConn
	dialect Dialect
	errMap  ErrorMapper
	hooks   hookChain
	inTx    bool
	// timeout is applied per statement on the pool only; a transaction is
	// bounded as a whole by ExecTx.
	timeout time.Duration
}

// Dialect reports the SQL flavour of the connected database.
func (r *runner) Dialect() Dialect { return r.dialect }

// Exec executes a statement that returns no rows (INSERT, UPDATE, DELETE, DDL).
func (r *runner) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	ev := r.begin(query, args)
	res, err := r.conn.ExecContext(ctx, ev.Query, args...)
	return res, r.finish(ctx, ev, err)
}

// Query executes a query that returns rows. The caller MUST close the
// returned *sql.Rows. No default timeout is applied: cancelling it would
// invalidate the open cursor.
func (r *runner) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ev := r.begin(query, args)
	rows, err := r.conn.QueryContext(ctx, ev.Query, args...)
	return rows, r.finish(ctx, ev, err)
}

// QueryRow executes a query expected to return at most one row. Hooks see
// the statement when Row.Scan returns, with ErrNotFound for an empty result.
func (r *runner) QueryRow(ctx context.Context, query string, args ...any) *Row {
	ev := r.begin(query, args)
	return &Row{raw: r.conn.QueryRowContext(ctx, ev.Query, args...), r: r, ctx: ctx, ev: ev}
}

// Prepare creates a prepared statement. The caller must Close it.
func (r *runner) Prepare(ctx context.Context, query string) (*Stmt, error) {
	query = r.dialect.Rebind(query)
	s, err := r.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, r.mapErr(err)
	}
	return &Stmt{stmt: s, query: query, r: r}, nil
}

func (r *runner) begin(query string, args []any) QueryEvent {
	return QueryEvent{
		Query: r.dialect.Rebind(query),
		Args:  args,
		Start: time.Now(),
		InTx:  r.inTx,
	}
}

func (r *runner) finish(ctx context.Context, ev QueryEvent, err error) error {
	err = r.mapErr(err)
	ev.Duration = time.Since(ev.Start)
	ev.Err = err
	r.hooks.after(ctx, ev)
	return err
}

func (r *runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout == 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *runner) mapErr(err error) error {
	if err == nil {
		return nil
	}
	return r.errMap.Map(err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Batch helpers
// ─────────────────────────────────────────────────────────────────────────────

// BatchExec runs one prepared statement once per item on q. Pass a *Tx to
// make the batch part of a larger unit of work; pass a *DB and the batch is
// wrapped in its own transaction so all rows succeed or none do.
//
//	err := db.BatchExec(ctx, tx, "INSERT INTO parking_spots (lot_id, spot_number, status, created_at) VALUES (?, ?, ?, ?)",
//	    numbers, func(n int) []any { return []any{lotID, n, "free", now} })
func BatchExec[T any](
	ctx context.Context,
	q Querier,
	query string,
	items []T,
	argsFn func(T) []any,
) error {
	if d, ok := q.(*DB); ok {
		return d.ExecTx(ctx, func(tx *Tx) error {
			return BatchExec(ctx, tx, query, items, argsFn)
		})
	}

	stmt, err := q.Prepare(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.Exec(ctx, argsFn(item)...); err != nil {
			return err
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row and Stmt
// ─────────────────────────────────────────────────────────────────────────────

// Row wraps *sql.Row and maps errors through the unified error mapper.
type Row struct {
	raw *sql.Row
	r   *runner
	ctx context.Context
	ev  QueryEvent
}

// Scan copies columns from the matched row into dest values.
// ErrNotFound is returned when no row was found.
func (row *Row) Scan(dest ...any) error {
	return row.r.finish(row.ctx, row.ev, row.raw.Scan(dest...))
}

// Stmt wraps a prepared *sql.Stmt with hook dispatch and error mapping.
type Stmt struct {
	stmt  *sql.Stmt
	query string
	r     *runner
}

// Exec executes the prepared statement.
func (s *Stmt) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	ev := QueryEvent{Query: s.query, Args: args, Start: time.Now(), InTx: s.r.inTx}
	res, err := s.stmt.ExecContext(ctx, args...)
	return res, s.r.finish(ctx, ev, err)
}

// Close releases the prepared statement resources.
func (s *Stmt) Close() error { return s.stmt.Close() }

// ─────────────────────────────────────────────────────────────────────────────
// Retries
// ─────────────────────────────────────────────────────────────────────────────

// RetryConfig controls retry behaviour for transient errors.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	// RetryOn decides whether a given error should trigger a retry.
	// Defaults to IsTransient if nil.
	RetryOn func(error) bool
}

// WithRetry executes fn, retrying on transient errors per cfg.
// Pass a whole ExecTx call as fn: each attempt is then a fresh transaction
// and a failed attempt leaves nothing behind.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	retryOn := cfg.RetryOn
	if retryOn == nil {
		retryOn = IsTransient
	}
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			t := time.NewTimer(cfg.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		lastErr = fn()
		if lastErr == nil || !retryOn(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("parkd/db: all %d attempts failed, last error: %w", attempts, lastErr)
}
