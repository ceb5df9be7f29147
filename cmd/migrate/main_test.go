package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func runMigrate(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newMigrateCommand(strings.NewReader(stdin), &out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file=", "--log-level=error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrate_Lifecycle(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dbFlag := "--db-name=" + filepath.Join(t.TempDir(), "parkd.db")

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"version"}, "version 0 dirty=false"},
		{[]string{"up"}, "schema up to date"},
		{[]string{"version"}, "version 1 dirty=false"},
		{[]string{"down"}, "rolled back 1 migration(s)"},
		{[]string{"version"}, "version 0 dirty=false"},
	}
	for _, s := range steps {
		out, err := runMigrate(t, "", append(s.args, dbFlag)...)
		if err != nil {
			t.Fatalf("%v: %v", s.args, err)
		}
		if !strings.Contains(out, s.want) {
			t.Fatalf("%v: expected %q in output, got %q", s.args, s.want, out)
		}
	}
}

func TestMigrate_DropNeedsConfirmation(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dbFlag := "--db-name=" + filepath.Join(t.TempDir(), "parkd.db")
	if _, err := runMigrate(t, "", "up", dbFlag); err != nil {
		t.Fatalf("up: %v", err)
	}

	out, err := runMigrate(t, "no\n", "drop", dbFlag)
	if err != nil || !strings.Contains(out, "aborted") {
		t.Fatalf("expected abort, got %q, %v", out, err)
	}
	if out, _ := runMigrate(t, "", "version", dbFlag); !strings.Contains(out, "version 1") {
		t.Fatalf("schema should survive an aborted drop: %q", out)
	}

	if _, err := runMigrate(t, "", "drop", "--yes", dbFlag); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if out, _ := runMigrate(t, "", "version", dbFlag); !strings.Contains(out, "version 0") {
		t.Fatalf("drop should clear the version: %q", out)
	}
}

func TestMigrate_RejectsBadArguments(t *testing.T) {
	for _, args := range [][]string{
		{"down", "zero"},
		{"down", "0"},
		{"force"},
		{"force", "x"},
		{"sideways"},
	} {
		if _, err := runMigrate(t, "", args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}
