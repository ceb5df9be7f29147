// Package testdb opens throwaway SQLite databases with the real schema for
// package tests.
package testdb

import (
	"path/filepath"
	"testing"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/migrations"
)

// Open returns a migrated database in t.TempDir(). It is closed when the
// test ends.
func Open(t testing.TB, hooks ...db.Hook) *db.DB {
	t.Helper()
	dsn, err := db.SQLiteDriver{}.DSN(db.DriverOptions{
		Database: filepath.Join(t.TempDir(), "parkd.db"),
		Extra:    map[string]string{"_journal_mode": "WAL"},
	})
	if err != nil {
		t.Fatalf("testdb: dsn: %v", err)
	}
	if err := migrations.Up("sqlite3", dsn, nil); err != nil {
		t.Fatalf("testdb: migrate: %v", err)
	}
	d, err := db.Open(db.Config{
		DSN:          dsn,
		DriverName:   "sqlite3",
		MaxOpenConns: 8,
		Hooks:        hooks,
	})
	if err != nil {
		t.Fatalf("testdb: open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}
