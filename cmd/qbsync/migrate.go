package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/qbsync/backend/internal/infrastructure/config"
	"github.com/qbsync/backend/internal/infrastructure/logger"
	"github.com/qbsync/backend/internal/infrastructure/migration"
	"github.com/qbsync/backend/internal/infrastructure/persistence"
)

var errSQLiteMigrations = errors.New("versioned migrations apply to PostgreSQL only; SQLite is migrated when the service starts")

func newMigrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: `Migrate applies the versioned schema migrations to the PostgreSQL
database named by the configuration. The migrations compiled into the
binary are used unless --path points at a directory.`,
	}
	cmd.PersistentFlags().StringVar(&dir, "path", "", "read migrations from this directory instead of the bundled set")

	// withMigrator opens the configured database and runs fn against it
	withMigrator := func(cmd *cobra.Command, fn func(*migration.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if cfg.Database.Driver != persistence.DriverPostgres {
			return errSQLiteMigrations
		}
		log, err := logger.New(&logger.Config{Level: cfg.Log.Level, Output: "stderr", TimeFormat: "15:04:05"})
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync(log) }()

		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(cmd.Context()); err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		path, err := absDir(dir)
		if err != nil {
			return err
		}
		m, err := migration.New(db, path, log.Named("migrate"))
		if err != nil {
			return err
		}
		defer m.Close()
		return fn(m)
	}

	simple := func(use, short string, fn func(*migration.Migrator) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, fn)
			},
		}
	}

	var confirm bool
	drop := simple("drop", "Drop every database object", func(m *migration.Migrator) error {
		return m.Drop()
	})
	drop.Flags().BoolVar(&confirm, "confirm", false, "confirm that all data may be lost")
	drop.PreRunE = func(*cobra.Command, []string) error {
		if !confirm {
			return errors.New("drop needs --confirm")
		}
		return nil
	}

	cmd.AddCommand(
		simple("up", "Apply all pending migrations", (*migration.Migrator).Up),
		simple("down", "Roll back all migrations", (*migration.Migrator).Down),
		&cobra.Command{
			Use:   "step <n>",
			Short: "Apply n migrations; a negative n rolls back",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				return withMigrator(cmd, func(m *migration.Migrator) error { return m.Steps(n) })
			},
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate up or down to a version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return withMigrator(cmd, func(m *migration.Migrator) error { return m.GoTo(uint(v)) })
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Record a version as applied after a failed run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return withMigrator(cmd, func(m *migration.Migrator) error { return m.Force(v) })
			},
		},
		simple("version", "Show the applied version", func(m *migration.Migrator) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if v == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d", v)
			if dirty {
				fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		}),
		drop,
		&cobra.Command{
			Use:   "create <name> [description]",
			Short: "Write an empty up/down pair into --path",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if dir == "" {
					return errors.New("create needs --path pointing at the migrations source directory")
				}
				desc := ""
				if len(args) == 2 {
					desc = args[1]
				}
				mf, err := migration.CreateMigration(dir, args[0], desc)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), mf.UpPath)
				fmt.Fprintln(cmd.OutOrStdout(), mf.DownPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List available migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				source := migration.Bundled()
				if dir != "" {
					source = os.DirFS(dir)
				}
				entries, err := migration.ListMigrations(source)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "%06d  %s\n", e.Version, e.Name)
				}
				return nil
			},
		},
	)
	return cmd
}

func absDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	return abs, nil
}
