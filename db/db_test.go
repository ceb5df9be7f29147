// Uses a SQLite database file in a temp dir; no external services required.
//
// Run:  go test ./db/... -v -race
package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Skryldev/parkd/db"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test helpers
// ─────────────────────────────────────────────────────────────────────────────

func sqliteDSN(t *testing.T) string {
	t.Helper()
	dsn, err := db.SQLiteDriver{}.DSN(db.DriverOptions{
		Database: filepath.Join(t.TempDir(), "db_test.db"),
	})
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	return dsn
}

func newTestDB(t *testing.T, hooks ...db.Hook) *db.DB {
	t.Helper()
	if len(hooks) == 0 {
		hooks = []db.Hook{db.NewLogHook(db.LogHookConfig{LogArgs: true})}
	}
	d, err := db.Open(db.Config{
		DSN:        sqliteDSN(t),
		DriverName: "sqlite3",
		Hooks:      hooks,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	_, err = d.Exec(context.Background(), `
		CREATE TABLE lots (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);
		CREATE TABLE spots (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			lot_id      INTEGER NOT NULL REFERENCES lots(id),
			spot_number INTEGER NOT NULL,
			status      TEXT NOT NULL DEFAULT 'free' CHECK (status IN ('free', 'occupied')),
			UNIQUE (lot_id, spot_number)
		)`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return d
}

func insertLot(t *testing.T, d *db.DB, name string) int64 {
	t.Helper()
	id, err := db.InsertID(context.Background(), d, `INSERT INTO lots (name) VALUES (?)`, name)
	if err != nil {
		t.Fatalf("insert lot: %v", err)
	}
	return id
}

func countSpots(t *testing.T, d *db.DB, lotID int64) int {
	t.Helper()
	var n int
	if err := d.QueryRow(context.Background(), `SELECT COUNT(*) FROM spots WHERE lot_id = ?`, lotID).Scan(&n); err != nil {
		t.Fatalf("count spots: %v", err)
	}
	return n
}

// ─────────────────────────────────────────────────────────────────────────────
// Open / Ping
// ─────────────────────────────────────────────────────────────────────────────

func TestOpen(t *testing.T) {
	d := newTestDB(t)
	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if d.Dialect() != db.DialectSQLite {
		t.Fatalf("expected sqlite dialect, got %s", d.Dialect())
	}
}

func TestOpen_InvalidDSN(t *testing.T) {
	_, err := db.Open(db.Config{DSN: "", DriverName: "sqlite3"})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Exec / QueryRow / Query
// ─────────────────────────────────────────────────────────────────────────────

func TestInsertID(t *testing.T) {
	d := newTestDB(t)
	first := insertLot(t, d, "North")
	second := insertLot(t, d, "South")
	if first <= 0 || second != first+1 {
		t.Fatalf("unexpected ids: %d, %d", first, second)
	}
}

func TestQueryRow_NotFound(t *testing.T) {
	d := newTestDB(t)
	var name string
	err := d.QueryRow(context.Background(), `SELECT name FROM lots WHERE id = ?`, 99999).Scan(&name)
	if !db.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQuery_MultipleRows(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	lotID := insertLot(t, d, "North")

	for n := 3; n >= 1; n-- {
		if _, err := d.Exec(ctx, `INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`, lotID, n); err != nil {
			t.Fatalf("insert spot %d: %v", n, err)
		}
	}

	rows, err := d.Query(ctx, `SELECT spot_number FROM spots WHERE lot_id = ? ORDER BY spot_number`, lotID)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			t.Fatalf("scan: %v", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err: %v", err)
	}
	if len(numbers) != 3 || numbers[0] != 1 || numbers[2] != 3 {
		t.Fatalf("unexpected order: %v", numbers)
	}
}

func TestRowsAffected_CompareAndSwap(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	lotID := insertLot(t, d, "North")
	spotID, err := db.InsertID(ctx, d, `INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`, lotID, 1)
	if err != nil {
		t.Fatalf("insert spot: %v", err)
	}

	claim := `UPDATE spots SET status = 'occupied' WHERE id = ? AND status = 'free'`
	n, err := db.RowsAffected(ctx, d, claim, spotID)
	if err != nil || n != 1 {
		t.Fatalf("first claim: n=%d err=%v", n, err)
	}
	n, err = db.RowsAffected(ctx, d, claim, spotID)
	if err != nil || n != 0 {
		t.Fatalf("second claim must lose: n=%d err=%v", n, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// ExecTx
// ─────────────────────────────────────────────────────────────────────────────

func TestExecTx_Commit(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	lotID := insertLot(t, d, "North")

	err := d.ExecTx(ctx, func(tx *db.Tx) error {
		if tx.Dialect() != db.DialectSQLite {
			t.Errorf("tx dialect = %s", tx.Dialect())
		}
		_, err := tx.Exec(ctx, `INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`, lotID, 1)
		return err
	})
	if err != nil {
		t.Fatalf("tx commit: %v", err)
	}
	if n := countSpots(t, d, lotID); n != 1 {
		t.Fatalf("expected 1 committed row, got %d", n)
	}
}

func TestExecTx_RollbackOnError(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	lotID := insertLot(t, d, "North")

	sentinelErr := errors.New("intentional failure")

	err := d.ExecTx(ctx, func(tx *db.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`, lotID, 1); err != nil {
			return err
		}
		return sentinelErr // force rollback
	})
	if !errors.Is(err, sentinelErr) {
		t.Fatalf("expected sentinelErr, got %v", err)
	}
	if n := countSpots(t, d, lotID); n != 0 {
		t.Fatalf("expected 0 rows after rollback, got %d", n)
	}
}

func TestExecTx_RollbackOnPanic(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	lotID := insertLot(t, d, "North")

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = d.ExecTx(ctx, func(tx *db.Tx) error {
			if _, err := tx.Exec(ctx, `INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`, lotID, 1); err != nil {
				return err
			}
			panic("test panic")
		})
	}()

	if n := countSpots(t, d, lotID); n != 0 {
		t.Fatalf("expected 0 rows after panic, got %d", n)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Prepared statements and BatchExec
// ─────────────────────────────────────────────────────────────────────────────

func TestPrepare(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	lotID := insertLot(t, d, "North")

	stmt, err := d.Prepare(ctx, `INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer stmt.Close()

	for n := 1; n <= 3; n++ {
		if _, err := stmt.Exec(ctx, lotID, n); err != nil {
			t.Fatalf("exec prepared: %v", err)
		}
	}
	if n := countSpots(t, d, lotID); n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
}

func TestBatchExec_OnDB(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	lotID := insertLot(t, d, "North")

	err := db.BatchExec(ctx, d,
		`INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`,
		[]int{1, 2, 3, 4},
		func(n int) []any { return []any{lotID, n} },
	)
	if err != nil {
		t.Fatalf("batch exec: %v", err)
	}
	if n := countSpots(t, d, lotID); n != 4 {
		t.Fatalf("expected 4 batch rows, got %d", n)
	}
}

func TestBatchExec_AllOrNothing(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	lotID := insertLot(t, d, "North")

	// The duplicate number fails the UNIQUE (lot_id, spot_number) constraint.
	err := db.BatchExec(ctx, d,
		`INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`,
		[]int{1, 2, 2},
		func(n int) []any { return []any{lotID, n} },
	)
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if n := countSpots(t, d, lotID); n != 0 {
		t.Fatalf("expected batch to roll back, got %d rows", n)
	}
}

func TestBatchExec_InsideTx(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	lotID := insertLot(t, d, "North")

	boom := errors.New("boom")
	err := d.ExecTx(ctx, func(tx *db.Tx) error {
		err := db.BatchExec(ctx, tx,
			`INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`,
			[]int{1, 2},
			func(n int) []any { return []any{lotID, n} },
		)
		if err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := countSpots(t, d, lotID); n != 0 {
		t.Fatalf("batch inside tx must roll back with it, got %d rows", n)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Error mapping (SQLite)
// ─────────────────────────────────────────────────────────────────────────────

func TestErrorMapper_DuplicateKey(t *testing.T) {
	d := newTestDB(t)
	insertLot(t, d, "North")
	_, err := d.Exec(context.Background(), `INSERT INTO lots (name) VALUES (?)`, "North")
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	var dbe *db.Error
	if !errors.As(err, &dbe) || dbe.Cause == nil {
		t.Fatalf("expected *db.Error with driver cause, got %T", err)
	}
}

func TestErrorMapper_CheckViolation(t *testing.T) {
	d := newTestDB(t)
	lotID := insertLot(t, d, "North")
	_, err := d.Exec(context.Background(),
		`INSERT INTO spots (lot_id, spot_number, status) VALUES (?, ?, ?)`, lotID, 1, "reserved")
	if !db.IsCheckViolation(err) {
		t.Fatalf("expected ErrCheckViolation, got %v", err)
	}
}

func TestErrorMapper_ForeignKey(t *testing.T) {
	d := newTestDB(t)
	_, err := d.Exec(context.Background(),
		`INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`, 4242, 1)
	if !db.IsForeignKeyViolation(err) {
		t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
	}
}

func TestErrorMapper_PostgresCodes(t *testing.T) {
	cases := map[string]error{
		"pq: could not serialize access (SQLSTATE 40001)": db.ErrSerialization,
		"pq: deadlock detected (SQLSTATE 40P01)":          db.ErrDeadlock,
		"pq: duplicate key value (SQLSTATE 23505)":        db.ErrDuplicateKey,
		"pq: connection failure (SQLSTATE 08006)":         db.ErrConnection,
	}
	m := db.DefaultErrorMapper()
	for msg, want := range cases {
		if got := m.Map(errors.New(msg)); !errors.Is(got, want) {
			t.Errorf("%q: expected %v, got %v", msg, want, got)
		}
	}
}

func TestIsTransient(t *testing.T) {
	m := db.DefaultErrorMapper()
	if !db.IsTransient(m.Map(errors.New("database is locked"))) {
		t.Fatal("sqlite busy must be transient")
	}
	if db.IsTransient(m.Map(errors.New("UNIQUE constraint failed: lots.name"))) {
		t.Fatal("duplicate key must not be transient")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// WithRetry
// ─────────────────────────────────────────────────────────────────────────────

func TestWithRetry_SucceedsOnSecondAttempt(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	transient := errors.New("transient")

	err := db.WithRetry(ctx, db.RetryConfig{
		MaxAttempts: 3,
		Delay:       1 * time.Millisecond,
		RetryOn:     func(err error) bool { return errors.Is(err, transient) },
	}, func() error {
		attempts++
		if attempts < 2 {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestWithRetry_DefaultRetriesDeadlock(t *testing.T) {
	attempts := 0
	err := db.WithRetry(context.Background(), db.RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, func() error {
		attempts++
		return &db.Error{Sentinel: db.ErrDeadlock, Cause: errors.New("locked")}
	})
	if !db.IsDeadlock(err) {
		t.Fatalf("expected wrapped deadlock, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := errors.New("permanent")
	err := db.WithRetry(context.Background(), db.RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) || attempts != 1 {
		t.Fatalf("expected one attempt with permanent error, got %d attempts, err=%v", attempts, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Hooks
// ─────────────────────────────────────────────────────────────────────────────

type countingHook struct {
	calls  atomic.Int64
	failed atomic.Int64
	inTx   atomic.Int64
}

func (h *countingHook) AfterQuery(_ context.Context, ev db.QueryEvent) {
	h.calls.Add(1)
	if ev.Err != nil {
		h.failed.Add(1)
	}
	if ev.InTx {
		h.inTx.Add(1)
	}
}

func TestHooks_CalledOnExec(t *testing.T) {
	hook := &countingHook{}
	d := newTestDB(t, hook)
	base := hook.calls.Load() // schema creation

	ctx := context.Background()
	_, _ = d.Exec(ctx, `SELECT 1`)
	_, _ = d.Exec(ctx, `INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`, 4242, 1)

	if got := hook.calls.Load() - base; got != 2 {
		t.Fatalf("expected 2 hook calls, got %d", got)
	}
	if hook.failed.Load() != 1 {
		t.Fatalf("expected 1 failed statement, got %d", hook.failed.Load())
	}
}

func TestHooks_QueryRowReportsScanOutcome(t *testing.T) {
	var last db.QueryEvent
	d := newTestDB(t, db.HookFunc(func(_ context.Context, ev db.QueryEvent) { last = ev }))

	var id int64
	err := d.QueryRow(context.Background(), `SELECT id FROM lots WHERE id = ?`, -1).Scan(&id)
	if !db.IsNotFound(err) || !db.IsNotFound(last.Err) {
		t.Fatalf("expected ErrNotFound from Scan and hook, got %v / %v", err, last.Err)
	}
	if last.Start.IsZero() || last.Duration < 0 {
		t.Fatalf("unexpected timing in event: %+v", last)
	}
}

func TestHooks_MarkTransactionStatements(t *testing.T) {
	hook := &countingHook{}
	d := newTestDB(t, hook)
	lotID := insertLot(t, d, "hooks")

	err := d.ExecTx(context.Background(), func(tx *db.Tx) error {
		_, err := tx.Exec(context.Background(), `INSERT INTO spots (lot_id, spot_number) VALUES (?, ?)`, lotID, 1)
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if hook.inTx.Load() != 1 {
		t.Fatalf("expected 1 statement flagged in-tx, got %d", hook.inTx.Load())
	}
}

func TestHooks_PanicIsRecovered(t *testing.T) {
	d := newTestDB(t, db.HookFunc(func(context.Context, db.QueryEvent) { panic("boom") }))
	if _, err := d.Exec(context.Background(), `SELECT 1`); err != nil {
		t.Fatalf("exec with panicking hook: %v", err)
	}
}

type recordingTracer struct {
	started atomic.Int64
	ended   atomic.Int64
}

func (r *recordingTracer) StartSpan(ctx context.Context, _ string, start time.Time) context.Context {
	if start.After(time.Now()) {
		panic("span start in the future")
	}
	r.started.Add(1)
	return ctx
}

func (r *recordingTracer) EndSpan(context.Context, error) { r.ended.Add(1) }

func TestTracingHook(t *testing.T) {
	tr := &recordingTracer{}
	d := newTestDB(t, db.NewTracingHook(tr))
	_ = d.QueryRow(context.Background(), `SELECT COUNT(*) FROM lots`).Scan(new(int))
	if tr.started.Load() == 0 || tr.started.Load() != tr.ended.Load() {
		t.Fatalf("spans started=%d ended=%d", tr.started.Load(), tr.ended.Load())
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Dialects and drivers
// ─────────────────────────────────────────────────────────────────────────────

func TestDialect_Rebind(t *testing.T) {
	q := `UPDATE parking_spots SET status = 'occupied?' WHERE id = ? AND lot_id = ?`

	if got := db.DialectSQLite.Rebind(q); got != q {
		t.Fatalf("sqlite must not rewrite: %s", got)
	}
	if got := db.DialectMySQL.Rebind(q); got != q {
		t.Fatalf("mysql must not rewrite: %s", got)
	}
	want := `UPDATE parking_spots SET status = 'occupied?' WHERE id = $1 AND lot_id = $2`
	if got := db.DialectPostgres.Rebind(q); got != want {
		t.Fatalf("postgres rebind:\n got %s\nwant %s", got, want)
	}
}

func TestDialectFor(t *testing.T) {
	cases := map[string]db.Dialect{
		"postgres": db.DialectPostgres,
		"pgx":      db.DialectPostgres,
		"mysql":    db.DialectMySQL,
		"sqlite3":  db.DialectSQLite,
	}
	for name, want := range cases {
		if got := db.DialectFor(name); got != want {
			t.Errorf("DialectFor(%q) = %s, want %s", name, got, want)
		}
	}
	if db.DialectMySQL.LockingRead() != " FOR UPDATE" || db.DialectPostgres.LockingRead() != "" {
		t.Fatal("unexpected locking read suffixes")
	}
}

func TestDriverDSN(t *testing.T) {
	pg, err := db.PostgresDriver{}.DSN(db.DriverOptions{Host: "db", User: "parkd", Password: "pw", Database: "parkd"})
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}
	if pg != "host=db port=5432 user=parkd password=pw dbname=parkd sslmode=disable" {
		t.Fatalf("postgres dsn = %s", pg)
	}

	my, err := db.MySQLDriver{}.DSN(db.DriverOptions{Host: "db", User: "parkd", Password: "pw", Database: "parkd"})
	if err != nil {
		t.Fatalf("mysql dsn: %v", err)
	}
	for _, want := range []string{"parkd:pw@tcp(db:3306)/parkd?", "parseTime=true", "loc=UTC", "multiStatements=true"} {
		if !strings.Contains(my, want) {
			t.Fatalf("mysql dsn %q missing %q", my, want)
		}
	}

	lite, err := db.SQLiteDriver{}.DSN(db.DriverOptions{Database: "/tmp/p.db", Extra: map[string]string{"_journal_mode": "WAL"}})
	if err != nil {
		t.Fatalf("sqlite dsn: %v", err)
	}
	if lite != "file:/tmp/p.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_txlock=immediate" {
		t.Fatalf("sqlite dsn = %s", lite)
	}

	if _, err := db.LookupDriver("oracle"); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Context timeout
// ─────────────────────────────────────────────────────────────────────────────

func TestContextCancellation(t *testing.T) {
	d := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	err := d.ExecTx(ctx, func(tx *db.Tx) error { return nil })
	if err != nil && !db.IsTimeout(err) {
		t.Fatalf("expected ErrTimeout for cancelled context, got %v", err)
	}
}
