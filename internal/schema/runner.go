package schema

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Runner applies one embedded migration set to one database.
type Runner struct {
	set    Set
	logger *slog.Logger
}

// NewRunner creates a migration runner for the given set. Embedded
// migrations are validated once at construction.
func NewRunner(set Set, logger *slog.Logger) (*Runner, error) {
	if err := Validate(set); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	return &Runner{set: set, logger: logger}, nil
}

// Check classifies the database against the embedded revision.
// It never mutates the database.
func (r *Runner) Check(db *sql.DB) DBStatus {
	if err := db.Ping(); err != nil {
		r.logger.Warn("Database unreachable during schema check",
			slog.String("set", string(r.set)),
			slog.String("error", err.Error()),
		)

		return StatusFailedToConnect
	}

	version, dirty, err := r.currentVersion(db)
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return StatusSchemaMissing
		}

		r.logger.Warn("Failed to read schema version",
			slog.String("set", string(r.set)),
			slog.String("error", err.Error()),
		)

		return StatusMissing
	}

	if dirty {
		return StatusUpgradeFailed
	}

	latest, err := Latest(r.set)
	if err != nil {
		return StatusInitError
	}

	switch {
	case version == latest:
		return StatusOK
	case version < latest:
		return StatusMismatchOK
	default:
		return StatusMismatchNo
	}
}

// Upgrade migrates the database forward to the embedded revision.
// Initializing an empty database is the same operation.
func (r *Runner) Upgrade(db *sql.DB) error {
	m, err := r.instance(db)
	if err != nil {
		return err
	}

	r.logger.Info("Applying schema migrations", slog.String("set", string(r.set)))

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("schema upgrade failed for set %q: %w", r.set, err)
	}

	return nil
}

// Downgrade rolls the database back by exactly one revision.
func (r *Runner) Downgrade(db *sql.DB) error {
	m, err := r.instance(db)
	if err != nil {
		return err
	}

	r.logger.Info("Rolling back one schema revision", slog.String("set", string(r.set)))

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("schema rollback failed for set %q: %w", r.set, err)
	}

	return nil
}

// Version reports the persisted revision and whether it is dirty.
func (r *Runner) Version(db *sql.DB) (uint, bool, error) {
	return r.currentVersion(db)
}

// currentVersion reads the persisted revision via golang-migrate.
func (r *Runner) currentVersion(db *sql.DB) (uint, bool, error) {
	m, err := r.instance(db)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, err
	}

	return version, dirty, nil
}

// instance builds a migrate.Migrate over the embedded set and the database.
func (r *Runner) instance(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := FS(r.set)
	if err != nil {
		return nil, err
	}

	sourceDriver, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return m, nil
}
