package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DevMode switches migration loading to the on-disk directory so schema
// files can be edited without rebuilding. Production uses the embedded
// copies.
var DevMode = false

// devMigrationsDir is where the migration files live in the source tree.
const devMigrationsDir = "internal/store/migrations"

// getMigrationsFS returns the filesystem holding the migration files.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		if _, err := os.Stat(devMigrationsDir); err != nil {
			return nil, fmt.Errorf("dev migrations dir unavailable: %w", err)
		}
		return os.DirFS(devMigrationsDir), nil
	}
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("embedded migrations unavailable: %w", err)
	}
	return sub, nil
}

// MigrationsFS exposes the active migrations filesystem for callers outside
// the package, e.g. the migrate CLI.
func MigrationsFS() (fs.FS, error) {
	return getMigrationsFS()
}

// MigrateUp runs all pending migrations up to the latest version.
// Returns nil if no migrations were needed (already at latest version).
func (db *DB) MigrateUp(migrations fs.FS) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB
	// connection. The migrate instance is garbage collected when unused.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(migrations fs.FS) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current migration version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (db *DB) MigrateVersion(migrations fs.FS) (version uint, dirty bool, err error) {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// MigrateForce forces the migration version to a specific value.
// This should only be used to recover from a dirty migration state.
func (db *DB) MigrateForce(migrations fs.FS, version int) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}

	if err := m.Force(version); err != nil {
		return fmt.Errorf("force migration to version %d failed: %w", version, err)
	}
	return nil
}

// MigrateTo migrates up or down to a specific version.
func (db *DB) MigrateTo(migrations fs.FS, version uint) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}

	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	return nil
}

// newMigrate creates a migrate instance over the given source filesystem.
func (db *DB) newMigrate(migrations fs.FS) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations source: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// GetLatestMigrationVersion scans the migrations filesystem and returns the
// highest version number available.
func GetLatestMigrationVersion(migrations fs.FS) (uint, error) {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}

	var versions []uint
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		idx := strings.Index(name, "_")
		if idx <= 0 {
			continue
		}
		v, err := strconv.ParseUint(name[:idx], 10, 32)
		if err != nil {
			continue
		}
		versions = append(versions, uint(v))
	}
	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found")
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions[len(versions)-1], nil
}

// ensureSchemaMigrationsTable ensures the schema_migrations table exists.
// golang-migrate creates it on first use; baselining needs it up front.
func (db *DB) ensureSchemaMigrationsTable() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER NOT NULL,
			dirty INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS version_unique ON schema_migrations (version);
	`)
	return err
}

// BaselineAtVersion creates a schema_migrations entry at the specified version
// without running any migrations. This is useful for existing databases that
// already have the schema from that version applied.
func (db *DB) BaselineAtVersion(version uint) error {
	if err := db.ensureSchemaMigrationsTable(); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("failed to check existing migrations: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("database already has migrations applied, cannot baseline")
	}

	if _, err := db.Exec("INSERT INTO schema_migrations (version, dirty) VALUES (?, 0)", version); err != nil {
		return fmt.Errorf("failed to insert baseline version: %w", err)
	}

	log.Printf("Database baselined at version %d", version)
	return nil
}

// GetMigrationStatus returns a summary of the migration status including
// current version, dirty state, and whether the migrations table exists.
func (db *DB) GetMigrationStatus(migrations fs.FS) (map[string]interface{}, error) {
	version, dirty, err := db.MigrateVersion(migrations)
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("failed to get migration version: %w", err)
	}

	status := map[string]interface{}{
		"current_version": version,
		"dirty":           dirty,
	}

	var tableExists bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&tableExists)
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}
	status["schema_migrations_exists"] = tableExists

	if latest, err := GetLatestMigrationVersion(migrations); err == nil {
		status["latest_version"] = latest
		status["pending"] = latest > version
	}

	return status, nil
}
