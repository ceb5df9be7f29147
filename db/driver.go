package db

import (
	"cmp"
	"fmt"
	"maps"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver turns structured connection settings into the DSN of one
// database/sql driver. The sql drivers themselves register through the
// blank imports above.
type Driver interface {
	// Name is the database/sql driver name passed to sql.Open.
	Name() string
	// Dialect is the SQL flavour the driver speaks.
	Dialect() Dialect
	// DSN renders opts in the driver's native format.
	DSN(opts DriverOptions) (string, error)
}

// DriverOptions are the connection settings config exposes as flags.
type DriverOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Extra holds driver-specific parameters and overrides the defaults.
	Extra map[string]string
}

var (
	driversMu sync.RWMutex
	drivers   = map[string]Driver{}
)

func init() {
	for _, d := range []Driver{SQLiteDriver{}, PostgresDriver{}, MySQLDriver{}} {
		RegisterDriver(d)
	}
}

// RegisterDriver adds d to the registry, replacing any driver of the same
// name.
func RegisterDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[d.Name()] = d
}

// LookupDriver returns the registered Driver called name.
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	if d, ok := drivers[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("parkd/db: unknown driver %q (have %s)",
		name, strings.Join(slices.Sorted(maps.Keys(drivers)), ", "))
}

// DSNFromEnv returns $DATABASE_URL, the variable most hosting platforms
// inject.
func DSNFromEnv() (string, error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn, nil
	}
	return "", fmt.Errorf("parkd/db: DATABASE_URL is not set")
}

// ── sqlite3 ──────────────────────────────────────────────────────────────────

// SQLiteDriver targets mattn/go-sqlite3. Foreign keys are switched on and
// transactions take the write lock at BEGIN so concurrent writers queue on
// the busy timeout instead of failing mid-transaction.
type SQLiteDriver struct{}

func (SQLiteDriver) Name() string     { return "sqlite3" }
func (SQLiteDriver) Dialect() Dialect { return DialectSQLite }

func (SQLiteDriver) DSN(o DriverOptions) (string, error) {
	if o.Database == "" {
		return "", fmt.Errorf("sqlite3: database file is required")
	}
	params := map[string]string{
		"_foreign_keys": "on",
		"_busy_timeout": "5000",
		"_txlock":       "immediate",
	}
	maps.Copy(params, o.Extra)
	pairs := make([]string, 0, len(params))
	for _, k := range slices.Sorted(maps.Keys(params)) {
		pairs = append(pairs, k+"="+params[k])
	}
	return "file:" + o.Database + "?" + strings.Join(pairs, "&"), nil
}

// ── postgres ─────────────────────────────────────────────────────────────────

// PostgresDriver targets lib/pq using the key=value DSN form.
type PostgresDriver struct{}

func (PostgresDriver) Name() string     { return "postgres" }
func (PostgresDriver) Dialect() Dialect { return DialectPostgres }

func (PostgresDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("postgres: host and database are required")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, cmp.Or(o.Port, 5432), o.User, o.Password, o.Database, cmp.Or(o.SSLMode, "disable"))
	for _, k := range slices.Sorted(maps.Keys(o.Extra)) {
		fmt.Fprintf(&b, " %s=%s", k, o.Extra[k])
	}
	return b.String(), nil
}

// ── mysql ────────────────────────────────────────────────────────────────────

// MySQLDriver targets go-sql-driver/mysql. Timestamps are read back as UTC
// time.Time and migrations need multiStatements to run a file in one Exec.
type MySQLDriver struct{}

func (MySQLDriver) Name() string     { return "mysql" }
func (MySQLDriver) Dialect() Dialect { return DialectMySQL }

func (MySQLDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("mysql: host and database are required")
	}
	q := url.Values{
		"parseTime":       {"true"},
		"loc":             {"UTC"},
		"multiStatements": {"true"},
	}
	for k, v := range o.Extra {
		q.Set(k, v)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		o.User, o.Password, o.Host, cmp.Or(o.Port, 3306), o.Database, q.Encode()), nil
}
