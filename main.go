// Command parkd runs the parking reservation service.
//
//	parkd serve             start the HTTP API
//	parkd bootstrap-admin   create or refresh the admin account
//
// Every flag can also be set through a PARKD_* environment variable or the
// dotenv file named by --env-file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Skryldev/parkd/auth"
	"github.com/Skryldev/parkd/config"
	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/migrations"
)

func main() {
	os.Exit(submain(context.Background()))
}

func submain(ctx context.Context) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "parkd",
		Short:         "Parking lot reservation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newServeCommand(), newBootstrapAdminCommand())
	return root
}

func newBootstrapAdminCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the admin account, or promote it and reset its password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Admin.Password == "" {
				return errors.New("bootstrap-admin: --admin-password (PARKD_ADMIN_PASSWORD) is required")
			}
			logger := cfg.NewLogger(os.Stderr).With("app", "parkd")

			database, err := openDB(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			svc, err := auth.NewService(database, auth.Config{
				Secret: cfg.JWT.Secret,
				TTL:    cfg.JWT.TTL,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			u, created, err := svc.EnsureAdmin(cmd.Context(), cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password)
			if err != nil {
				return err
			}
			logger.Info("admin account ready", "user_id", u.ID, "username", u.Username, "created", created)
			return nil
		},
	}
}

// openDB applies pending migrations when enabled and opens the pool with the
// given statement hooks plus structured query logging.
func openDB(cfg *config.Config, logger *slog.Logger, hooks ...db.Hook) (*db.DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if cfg.DB.AutoMigrate {
		if err := migrations.Up(cfg.DB.Driver, dsn, logger.With("component", "migrations")); err != nil {
			return nil, err
		}
	}
	hooks = append([]db.Hook{db.NewLogHook(db.LogHookConfig{
		Logger:             logger.With("component", "db"),
		SlowQueryThreshold: cfg.DB.SlowQuery,
	})}, hooks...)
	return db.Open(cfg.DBOpenConfig(dsn, hooks...))
}
