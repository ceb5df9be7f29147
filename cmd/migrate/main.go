// Command migrate manages the parkd schema outside the server process.
//
//	migrate up
//	migrate down 2
//	migrate force 3
//	migrate drop --yes
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Skryldev/parkd/config"
	"github.com/Skryldev/parkd/migrations"
)

func main() {
	if err := newMigrateCommand(os.Stdin, os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

// withMigrator opens the schema migrator for the configured database, runs
// fn and closes it again.
func withMigrator(cmd *cobra.Command, fn func(*migrations.Migrator) error) error {
	cfg, err := config.LoadDatabase(cmd.Flags())
	if err != nil {
		return err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return err
	}
	m, err := migrations.New(cfg.DB.Driver, dsn, cfg.NewLogger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func newMigrateCommand(in io.Reader, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the parkd database schema",
		Long: `Manage the parkd database schema.

Database settings come from the --db-* flags, PARKD_DB_* variables, the
--env-file dotenv file or DATABASE_URL.`,
		SilenceUsage: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *migrations.Migrator) error {
					if err := m.Up(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back the last migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("down: steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				return withMigrator(cmd, func(m *migrations.Migrator) error {
					if err := m.Down(steps); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *migrations.Migrator) error {
					v, dirty, err := m.Version()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", v, dirty)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations, clearing a dirty state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("force: invalid version %q", args[0])
				}
				return withMigrator(cmd, func(m *migrations.Migrator) error {
					return m.Force(v)
				})
			},
		},
		newDropCommand(),
	)
	return root
}

func newDropCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every parkd table (development only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				fmt.Fprint(cmd.OutOrStdout(), "drop destroys all parkd data; type 'yes' to continue: ")
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.TrimSpace(line) != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}
			return withMigrator(cmd, func(m *migrations.Migrator) error {
				return m.Drop()
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}
