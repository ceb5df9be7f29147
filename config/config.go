// Package config loads parkd settings from flags, PARKD_* environment
// variables and an optional .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Skryldev/parkd/db"
)

// EnvPrefix prefixes every environment variable, e.g. PARKD_DB_DRIVER.
const EnvPrefix = "PARKD"

// Config is the fully resolved server configuration.
type Config struct {
	Listen          string
	GinMode         string
	LogLevel        slog.Level
	LogFormat       string
	ShutdownTimeout time.Duration

	DB      DBConfig
	JWT     JWTConfig
	Admin   AdminConfig
	Engine  EngineConfig
	Tracing TracingConfig
}

// DBConfig selects the backend. DSN wins over the structured fields.
type DBConfig struct {
	Driver          string
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	SlowQuery       time.Duration
	AutoMigrate     bool
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

// AdminConfig is the account bootstrap-admin creates or refreshes.
type AdminConfig struct {
	Username string
	Email    string
	Password string
}

type EngineConfig struct {
	MinimumBillable  time.Duration
	MaxSpotsPerLot   int
	MaxClaimAttempts int
}

type TracingConfig struct {
	OTLPEndpoint string
	OTLPInsecure bool
}

// RegisterFlags declares every setting on fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("env-file", ".env", "dotenv file to load before reading the environment (missing file is ignored)")
	fs.String("listen", ":8080", "HTTP listen address")
	fs.String("gin-mode", "release", "gin mode: debug, release or test")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("log-format", "json", "log format: json or text")
	fs.Duration("shutdown-timeout", 10*time.Second, "grace period for in-flight requests on shutdown")

	fs.String("db-driver", "sqlite3", "database driver: sqlite3, postgres or mysql")
	fs.String("db-dsn", "", "full data source name; overrides the structured db flags")
	fs.String("db-host", "localhost", "database host")
	fs.Int("db-port", 0, "database port (0 selects the driver default)")
	fs.String("db-user", "", "database user")
	fs.String("db-password", "", "database password")
	fs.String("db-name", "parkd.db", "database name, or file path for sqlite3")
	fs.String("db-sslmode", "disable", "postgres sslmode")
	fs.Int("db-max-open-conns", 10, "connection pool size")
	fs.Int("db-max-idle-conns", 5, "idle connections kept in the pool")
	fs.Duration("db-conn-max-lifetime", 30*time.Minute, "maximum connection lifetime")
	fs.Duration("db-query-timeout", 5*time.Second, "default statement timeout")
	fs.Duration("db-slow-query", 200*time.Millisecond, "statements slower than this are logged at warn")
	fs.Bool("db-auto-migrate", true, "apply pending migrations on start")

	fs.String("jwt-secret", "", "HMAC secret for bearer tokens (required, at least 16 bytes)")
	fs.Duration("jwt-ttl", 24*time.Hour, "bearer token lifetime")

	fs.String("admin-username", "admin", "bootstrap admin username")
	fs.String("admin-email", "admin@parkd.local", "bootstrap admin email")
	fs.String("admin-password", "", "bootstrap admin password")

	fs.Duration("min-billable", time.Hour, "minimum billed parking duration")
	fs.Int("max-spots-per-lot", 1000, "largest allowed lot capacity")
	fs.Int("claim-attempts", 16, "spot claims retried before an allocation gives up")

	fs.String("otlp-endpoint", "", "OTLP/HTTP collector host:port; empty disables tracing export")
	fs.Bool("otlp-insecure", false, "send OTLP over plain HTTP")
}

// Load resolves the configuration for flags, which must have been
// declared with RegisterFlags and parsed.
func Load(flags *pflag.FlagSet) (*Config, error) {
	cfg, err := resolve(flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase is Load for tools that only talk to the database. Only the
// db settings are validated.
func LoadDatabase(flags *pflag.FlagSet) (*Config, error) {
	cfg, err := resolve(flags)
	if err != nil {
		return nil, err
	}
	if _, err := db.LookupDriver(cfg.DB.Driver); err != nil {
		return nil, fmt.Errorf("config: db-driver: %w", err)
	}
	return cfg, nil
}

func resolve(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("env-file"); path != "" {
		// godotenv never overrides variables already set.
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	level, err := parseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Listen:          v.GetString("listen"),
		GinMode:         v.GetString("gin-mode"),
		LogLevel:        level,
		LogFormat:       strings.ToLower(v.GetString("log-format")),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		DB: DBConfig{
			Driver:          v.GetString("db-driver"),
			DSN:             v.GetString("db-dsn"),
			Host:            v.GetString("db-host"),
			Port:            v.GetInt("db-port"),
			User:            v.GetString("db-user"),
			Password:        v.GetString("db-password"),
			Name:            v.GetString("db-name"),
			SSLMode:         v.GetString("db-sslmode"),
			MaxOpenConns:    v.GetInt("db-max-open-conns"),
			MaxIdleConns:    v.GetInt("db-max-idle-conns"),
			ConnMaxLifetime: v.GetDuration("db-conn-max-lifetime"),
			QueryTimeout:    v.GetDuration("db-query-timeout"),
			SlowQuery:       v.GetDuration("db-slow-query"),
			AutoMigrate:     v.GetBool("db-auto-migrate"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt-secret"),
			TTL:    v.GetDuration("jwt-ttl"),
		},
		Admin: AdminConfig{
			Username: v.GetString("admin-username"),
			Email:    v.GetString("admin-email"),
			Password: v.GetString("admin-password"),
		},
		Engine: EngineConfig{
			MinimumBillable:  v.GetDuration("min-billable"),
			MaxSpotsPerLot:   v.GetInt("max-spots-per-lot"),
			MaxClaimAttempts: v.GetInt("claim-attempts"),
		},
		Tracing: TracingConfig{
			OTLPEndpoint: v.GetString("otlp-endpoint"),
			OTLPInsecure: v.GetBool("otlp-insecure"),
		},
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := db.LookupDriver(c.DB.Driver); err != nil {
		return fmt.Errorf("config: db-driver: %w", err)
	}
	switch {
	case len(c.JWT.Secret) < 16:
		return errors.New("config: jwt-secret must be set and at least 16 bytes")
	case c.JWT.TTL <= 0:
		return errors.New("config: jwt-ttl must be positive")
	case c.LogFormat != "json" && c.LogFormat != "text":
		return fmt.Errorf("config: log-format %q is not json or text", c.LogFormat)
	case c.GinMode != "debug" && c.GinMode != "release" && c.GinMode != "test":
		return fmt.Errorf("config: gin-mode %q is not debug, release or test", c.GinMode)
	case c.Engine.MinimumBillable < 0:
		return errors.New("config: min-billable must not be negative")
	case c.Engine.MaxSpotsPerLot < 1:
		return errors.New("config: max-spots-per-lot must be at least 1")
	case c.Engine.MaxClaimAttempts < 1:
		return errors.New("config: claim-attempts must be at least 1")
	case c.DB.MaxOpenConns < 1:
		return errors.New("config: db-max-open-conns must be at least 1")
	}
	return nil
}

// DSN returns the configured DSN. Without one, DATABASE_URL is used, and
// failing that the DSN is built from the structured fields.
func (c *Config) DSN() (string, error) {
	if c.DB.DSN != "" {
		return c.DB.DSN, nil
	}
	if dsn, err := db.DSNFromEnv(); err == nil {
		return dsn, nil
	}
	driver, err := db.LookupDriver(c.DB.Driver)
	if err != nil {
		return "", err
	}
	opts := db.DriverOptions{
		Host:     c.DB.Host,
		Port:     c.DB.Port,
		User:     c.DB.User,
		Password: c.DB.Password,
		Database: c.DB.Name,
		SSLMode:  c.DB.SSLMode,
	}
	if driver.Dialect() == db.DialectSQLite {
		opts.Extra = map[string]string{"_journal_mode": "WAL"}
	}
	return driver.DSN(opts)
}

// DBOpenConfig converts the settings into a db.Config for dsn.
func (c *Config) DBOpenConfig(dsn string, hooks ...db.Hook) db.Config {
	return db.Config{
		DSN:             dsn,
		DriverName:      c.DB.Driver,
		MaxOpenConns:    c.DB.MaxOpenConns,
		MaxIdleConns:    c.DB.MaxIdleConns,
		ConnMaxLifetime: c.DB.ConnMaxLifetime,
		DefaultTimeout:  c.DB.QueryTimeout,
		Hooks:           hooks,
	}
}

// NewLogger builds the process logger.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("config: log-level %q: %w", s, err)
	}
	return l, nil
}
