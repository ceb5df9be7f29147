package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/Skryldev/parkd/config"
)

func load(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	// Keep tests independent of a .env in the package directory.
	args = append([]string{"--env-file="}, args...)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return config.Load(fs)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, "--jwt-secret=0123456789abcdef")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.DB.Driver != "sqlite3" || cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Engine.MinimumBillable != time.Hour || cfg.Engine.MaxSpotsPerLot != 1000 || cfg.Engine.MaxClaimAttempts != 16 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if !cfg.DB.AutoMigrate {
		t.Fatal("auto-migrate should default to on")
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("PARKD_JWT_SECRET", "from-the-environment")
	t.Setenv("PARKD_DB_MAX_OPEN_CONNS", "3")
	t.Setenv("PARKD_MIN_BILLABLE", "30m")
	t.Setenv("PARKD_LOG_LEVEL", "debug")

	cfg, err := load(t)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWT.Secret != "from-the-environment" || cfg.DB.MaxOpenConns != 3 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Engine.MinimumBillable != 30*time.Minute || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("PARKD_LISTEN", ":9000")
	cfg, err := load(t, "--jwt-secret=0123456789abcdef", "--listen=:7000")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Fatalf("expected flag to win, got %q", cfg.Listen)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parkd.env")
	if err := os.WriteFile(path, []byte("PARKD_JWT_SECRET=dotenv-secret-0123\nPARKD_GIN_MODE=debug\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("PARKD_JWT_SECRET")
		os.Unsetenv("PARKD_GIN_MODE")
	})

	cfg, err := load(t, "--env-file="+path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWT.Secret != "dotenv-secret-0123" || cfg.GinMode != "debug" {
		t.Fatalf("dotenv not applied: %+v", cfg)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string][]string{
		"missing secret": {},
		"short secret":   {"--jwt-secret=short"},
		"bad driver":     {"--jwt-secret=0123456789abcdef", "--db-driver=oracle"},
		"bad log format": {"--jwt-secret=0123456789abcdef", "--log-format=xml"},
		"bad log level":  {"--jwt-secret=0123456789abcdef", "--log-level=loud"},
		"bad capacity":   {"--jwt-secret=0123456789abcdef", "--max-spots-per-lot=0"},
	}
	for name, args := range cases {
		if _, err := load(t, args...); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestConfig_DSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := load(t, "--jwt-secret=0123456789abcdef", "--db-name=/tmp/parkd-test.db")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dsn, err := cfg.DSN()
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:/tmp/parkd-test.db?") || !strings.Contains(dsn, "_journal_mode=WAL") {
		t.Fatalf("unexpected sqlite dsn: %q", dsn)
	}

	t.Setenv("DATABASE_URL", "postgres://from-env")
	if dsn, _ := cfg.DSN(); dsn != "postgres://from-env" {
		t.Fatalf("DATABASE_URL should win over structured fields, got %q", dsn)
	}

	cfg.DB.DSN = "postgres://explicit"
	if dsn, _ := cfg.DSN(); dsn != "postgres://explicit" {
		t.Fatalf("explicit dsn should win, got %q", dsn)
	}

	dc := cfg.DBOpenConfig("x")
	if dc.DriverName != "sqlite3" || dc.DefaultTimeout != 5*time.Second {
		t.Fatalf("unexpected db config: %+v", dc)
	}
}

func TestConfig_NewLogger(t *testing.T) {
	cfg, err := load(t, "--jwt-secret=0123456789abcdef", "--log-format=text", "--log-level=warn")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var buf bytes.Buffer
	log := cfg.NewLogger(&buf)
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "msg=shown") {
		t.Fatalf("unexpected log output: %q", buf.String())
	}
}

func TestLoadDatabase_SkipsServerSettings(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse([]string{"--env-file=", "--db-driver=postgres", "--db-name=parkd"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := config.LoadDatabase(fs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dsn, err := cfg.DSN()
	if err != nil || !strings.HasPrefix(dsn, "host=localhost port=5432 ") || !strings.Contains(dsn, "dbname=parkd") {
		t.Fatalf("unexpected postgres dsn %q (%v)", dsn, err)
	}
}
