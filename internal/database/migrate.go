// migrate.go runs the SQL migrations in db/migrations on startup, before any
// plugin touches the users or security_events tables.

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"

	// File source driver for reading migration files from disk.
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies all pending migrations from migrationsPath. Already
// applied versions are tracked by golang-migrate and skipped, so this runs on
// every startup.
func RunMigrations(db *sql.DB, migrationsPath string) error {
	// Reuse the application's pool instead of opening a second connection
	// from a URL. golang-migrate keeps its version in schema_migrations and
	// takes a MariaDB advisory lock, so replicas starting together apply
	// each migration once.
	driver, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "mysql", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	// ErrNoChange only means the schema is already current.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	// A dirty version means a previous run died mid-migration and needs a
	// manual `migrate force`; log it so the operator sees it at startup.
	version, dirty, _ := m.Version()
	slog.Info("migrations applied",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}
