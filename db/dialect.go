package db

import (
	"context"
	"strconv"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// Dialects
// ─────────────────────────────────────────────────────────────────────────────

// Dialect identifies the SQL flavour spoken by the connected database.
// Repository SQL is written once with "?" placeholders; the DB and Tx
// wrappers rebind it before it reaches the driver.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
	DialectMySQL
)

// DialectFor maps a database/sql driver name to its Dialect.
// Unknown names fall back to SQLite, the embedded default.
func DialectFor(driverName string) Dialect {
	switch strings.ToLower(driverName) {
	case "postgres", "pgx":
		return DialectPostgres
	case "mysql":
		return DialectMySQL
	default:
		return DialectSQLite
	}
}

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite3"
	}
}

// Rebind rewrites "?" placeholders into the dialect's bind syntax.
// Only postgres needs rewriting ($1, $2, ...). Question marks inside
// single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// LockingRead returns the suffix that turns a SELECT into a row-locking
// read. Postgres and SQLite return "": SQLite transactions already hold the
// database write lock (_txlock=immediate) and postgres callers rely on
// compare-and-swap updates under READ COMMITTED instead, because
// "FOR UPDATE ... LIMIT 1" can return no row when the locked candidate is
// concurrently changed.
func (d Dialect) LockingRead() string {
	if d == DialectMySQL {
		return " FOR UPDATE"
	}
	return ""
}

// InsertID executes an INSERT and returns the generated primary key.
// Postgres has no LastInsertId support in lib/pq, so the statement is
// suffixed with RETURNING id and scanned instead.
func InsertID(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	if q.Dialect() == DialectPostgres {
		var id int64
		if err := q.QueryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RowsAffected executes a statement and returns how many rows it touched.
// It is the building block for compare-and-swap updates.
func RowsAffected(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	res, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
