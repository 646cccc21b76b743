// Package migration manages the PostgreSQL schema with golang-migrate.
// SQLite deployments are migrated by GORM at startup instead.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// VersionTable keeps qbsync's migration state apart from other tools
// sharing the database
const VersionTable = "qbsync_schema_migrations"

//go:embed sql/*.sql
var bundled embed.FS

// Bundled returns the migrations compiled into the binary
func Bundled() fs.FS {
	sub, err := fs.Sub(bundled, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrator applies versioned migrations to a PostgreSQL database
type Migrator struct {
	m   *migrate.Migrate
	log *zap.Logger
}

// New creates a Migrator for db. An empty dir selects the bundled
// migrations; otherwise files are read from dir.
func New(db *sql.DB, dir string, log *zap.Logger) (*Migrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: VersionTable})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	var m *migrate.Migrate
	if dir == "" {
		src, err := iofs.New(Bundled(), ".")
		if err != nil {
			return nil, fmt.Errorf("bundled migrations: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
		if err != nil {
			return nil, fmt.Errorf("migrator: %w", err)
		}
	} else {
		m, err = migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
		if err != nil {
			return nil, fmt.Errorf("migrator for %s: %w", dir, err)
		}
	}
	return &Migrator{m: m, log: log}, nil
}

// run executes one migrate operation, treating "nothing to do" as success,
// and logs the resulting version
func (mg *Migrator) run(op string, fn func() error) error {
	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		mg.log.Info("Schema already up to date", zap.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", op, err)
	}

	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	mg.log.Info("Migration finished",
		zap.String("op", op),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Up applies every pending migration
func (mg *Migrator) Up() error { return mg.run("up", mg.m.Up) }

// Down rolls back every migration
func (mg *Migrator) Down() error { return mg.run("down", mg.m.Down) }

// Steps applies n migrations, rolling back when n is negative
func (mg *Migrator) Steps(n int) error {
	return mg.run(fmt.Sprintf("steps %d", n), func() error { return mg.m.Steps(n) })
}

// GoTo migrates up or down to version
func (mg *Migrator) GoTo(version uint) error {
	return mg.run(fmt.Sprintf("goto %d", version), func() error { return mg.m.Migrate(version) })
}

// Version returns the applied version; zero means none
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything. It is the
// way out of a dirty state left by a failed migration.
func (mg *Migrator) Force(version int) error {
	mg.log.Warn("Forcing migration version", zap.Int("version", version))
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Drop removes every object in the database, data included
func (mg *Migrator) Drop() error {
	mg.log.Warn("Dropping all database objects")
	if err := mg.m.Drop(); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	return nil
}

// Close releases the source and the database handle
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}
