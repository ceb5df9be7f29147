package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
	"github.com/Skryldev/parkd/repo"
)

func runRoot(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetArgs(append(args, "--env-file="))
	return cmd.ExecuteContext(context.Background())
}

func TestBootstrapAdmin(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), "parkd.db")
	args := []string{
		"bootstrap-admin",
		"--db-name=" + path,
		"--jwt-secret=0123456789abcdef",
		"--admin-username=root",
		"--admin-email=root@parkd.test",
		"--log-level=error",
	}

	if err := runRoot(t, args...); err == nil {
		t.Fatal("expected error without an admin password")
	}
	if err := runRoot(t, append(args, "--admin-password=first-password")...); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := runRoot(t, append(args, "--admin-password=second-password")...); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}

	dsn, err := db.SQLiteDriver{}.DSN(db.DriverOptions{Database: path})
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	d, err := db.Open(db.Config{DSN: dsn, DriverName: "sqlite3"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	users, err := repo.NewUserRepo(d).List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].Username != "root" || users[0].Role != models.RoleAdmin {
		t.Fatalf("expected a single admin, got %+v", users)
	}
}

func TestServe_RejectsBadConfig(t *testing.T) {
	if err := runRoot(t, "serve", "--jwt-secret=short"); err == nil {
		t.Fatal("expected config validation error")
	}
}
