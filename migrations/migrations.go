// Package migrations embeds the schema for every supported backend and
// applies it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/Skryldev/parkd/db"
)

//go:embed sqlite3/*.sql postgres/*.sql mysql/*.sql
var files embed.FS

// Migrator applies the embedded migrations for one dialect. It owns its own
// connection pool, separate from the application's *db.DB.
type Migrator struct {
	m       *migrate.Migrate
	sqldb   *sql.DB
	dialect db.Dialect
}

// New opens driverName/dsn and prepares the migrations for its dialect.
// Callers must Close the Migrator.
func New(driverName, dsn string, logger *slog.Logger) (*Migrator, error) {
	dialect := db.DialectFor(driverName)

	src, err := iofs.New(files, dialect.String())
	if err != nil {
		return nil, fmt.Errorf("parkd/migrations: source: %w", err)
	}

	sqldb, err := sql.Open(driverName, dsn)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("parkd/migrations: open: %w", err)
	}

	drv, err := databaseDriver(dialect, sqldb)
	if err != nil {
		_ = src.Close()
		_ = sqldb.Close()
		return nil, fmt.Errorf("parkd/migrations: %s driver: %w", dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect.String(), drv)
	if err != nil {
		_ = src.Close()
		_ = drv.Close()
		return nil, fmt.Errorf("parkd/migrations: init: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	m.Log = &slogLogger{logger: logger}
	return &Migrator{m: m, sqldb: sqldb, dialect: dialect}, nil
}

func databaseDriver(dialect db.Dialect, sqldb *sql.DB) (database.Driver, error) {
	switch dialect {
	case db.DialectPostgres:
		return migratepg.WithInstance(sqldb, &migratepg.Config{})
	case db.DialectMySQL:
		return migratemysql.WithInstance(sqldb, &migratemysql.Config{})
	default:
		return migratesqlite.WithInstance(sqldb, &migratesqlite.Config{})
	}
}

// Up applies all pending migrations. An up-to-date schema is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("parkd/migrations: up: %w", err)
	}
	return nil
}

// Down rolls back the last steps migrations.
func (m *Migrator) Down(steps int) error {
	if steps < 1 {
		return fmt.Errorf("parkd/migrations: down: steps must be positive, got %d", steps)
	}
	if err := m.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("parkd/migrations: down: %w", err)
	}
	return nil
}

// Version reports the applied version. A database with no migrations
// reports version 0.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force sets the recorded version without running migrations, clearing a
// dirty state.
func (m *Migrator) Force(version int) error { return m.m.Force(version) }

// Drop removes every table in the database. SQLite keeps AUTOINCREMENT
// counters in sqlite_sequence, which cannot be dropped, so there the schema
// is rolled back through the down migrations and the version table removed.
func (m *Migrator) Drop() error {
	if m.dialect != db.DialectSQLite {
		return m.m.Drop()
	}
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("parkd/migrations: drop: %w", err)
	}
	if _, err := m.sqldb.Exec(`DROP TABLE IF EXISTS ` + migratesqlite.DefaultMigrationsTable); err != nil {
		return fmt.Errorf("parkd/migrations: drop version table: %w", err)
	}
	return nil
}

// Close releases the source and the migrator's connection pool.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Up is the one-shot form used at startup and in tests.
func Up(driverName, dsn string, logger *slog.Logger) error {
	m, err := New(driverName, dsn, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}

// slogLogger adapts slog to migrate.Logger.
type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *slogLogger) Verbose() bool { return false }
