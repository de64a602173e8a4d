package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// DefaultMigrationsDir is where kbaskd looks for schema migrations.
const DefaultMigrationsDir = "migrations"

// Migrator applies the SQL files in a directory to one database.
type Migrator struct {
	databaseURL string
	dir         string
	logger      *zap.Logger
}

func NewMigrator(databaseURL, dir string, logger *zap.Logger) *Migrator {
	if dir == "" {
		dir = DefaultMigrationsDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{databaseURL: databaseURL, dir: dir, logger: logger}
}

// Up applies every pending migration. A dirty schema is an error.
func (m *Migrator) Up() error {
	return m.with(func(mg *migrate.Migrate) error {
		err := mg.Up()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		upToDate := errors.Is(err, migrate.ErrNoChange)

		version, dirty, err := mg.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("failed to get migration version: %w", err)
		}
		if dirty {
			return fmt.Errorf("schema version %d is dirty, fix it by hand and force the version", version)
		}

		if upToDate {
			m.logger.Info("schema is up to date", zap.Uint("version", version))
		} else {
			m.logger.Info("schema migrated", zap.Uint("version", version))
		}
		return nil
	})
}

// Down rolls back the most recent migration.
func (m *Migrator) Down() error {
	return m.with(func(mg *migrate.Migrate) error {
		if err := mg.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to roll back: %w", err)
		}
		m.logger.Info("schema rolled back one step")
		return nil
	})
}

// Version reports the applied schema version. ok is false on an empty schema.
func (m *Migrator) Version() (version uint, dirty, ok bool, err error) {
	err = m.with(func(mg *migrate.Migrate) error {
		var vErr error
		version, dirty, vErr = mg.Version()
		if errors.Is(vErr, migrate.ErrNilVersion) {
			return nil
		}
		if vErr != nil {
			return vErr
		}
		ok = true
		return nil
	})
	return version, dirty, ok, err
}

func (m *Migrator) with(fn func(mg *migrate.Migrate) error) error {
	dir, err := filepath.Abs(m.dir)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations dir: %w", err)
	}

	db, err := sql.Open("pgx", m.databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	mg, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(dir), "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return fn(mg)
}
