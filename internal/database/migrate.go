package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/sqlite/*.sql migrations/history/*.sql
var migrationsFS embed.FS

const (
	sqliteMigrationsDir  = "migrations/sqlite"
	historyMigrationsDir = "migrations/history"
)

// MigrationDirection selects which way Migrate moves the schema
type MigrationDirection string

const (
	MigrateUp   MigrationDirection = "up"
	MigrateDown MigrationDirection = "down"
)

// MigrationStatus describes the schema version after a migration run
type MigrationStatus struct {
	Version uint
	Dirty   bool
	Applied bool
}

// RunMigrations applies all pending metrics-store migrations
func RunMigrations(db *sql.DB) error {
	_, err := Migrate(db, MigrateUp)
	return err
}

// Migrate moves the SQLite metrics schema in the given direction
func Migrate(db *sql.DB, direction MigrationDirection) (*MigrationStatus, error) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	return run(driver, "sqlite3", sqliteMigrationsDir, direction)
}

// MigrationVersion reports the current SQLite schema version
func MigrationVersion(db *sql.DB) (*MigrationStatus, error) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := newMigrate(driver, "sqlite3", sqliteMigrationsDir)
	if err != nil {
		return nil, err
	}

	return status(m, false)
}

// RunHistoryMigrations applies the question-history schema to Postgres
func RunHistoryMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	_, err = run(driver, "postgres", historyMigrationsDir, MigrateUp)
	return err
}

func newMigrate(driver database.Driver, name, dir string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, name, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// run does not close m: closing would also close the caller's *sql.DB
func run(driver database.Driver, name, dir string, direction MigrationDirection) (*MigrationStatus, error) {
	m, err := newMigrate(driver, name, dir)
	if err != nil {
		return nil, err
	}

	switch direction {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Down()
	default:
		return nil, fmt.Errorf("unknown migration direction %q", direction)
	}

	applied := true
	if errors.Is(err, migrate.ErrNoChange) {
		applied = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return status(m, applied)
}

func status(m *migrate.Migrate, applied bool) (*MigrationStatus, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return &MigrationStatus{Applied: applied}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migration version: %w", err)
	}
	return &MigrationStatus{Version: version, Dirty: dirty, Applied: applied}, nil
}
