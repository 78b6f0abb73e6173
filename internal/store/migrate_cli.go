package store

import (
	"fmt"
	"io/fs"
	"log"
	"os"
)

// RunMigrateCommand handles the 'migrate' subcommand dispatching
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	action := args[0]

	// Get migrations filesystem (embedded in production, local files in dev)
	migrations, err := getMigrationsFS()
	if err != nil {
		log.Fatalf("Failed to get migrations filesystem: %v", err)
	}

	// Open database connection without running schema initialization
	// (migrations manage the schema)
	database, err := OpenDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	switch action {
	case "up":
		handleMigrateUp(database, migrations)

	case "down":
		handleMigrateDown(database, migrations)

	case "status":
		handleMigrateStatus(database, migrations)

	case "version":
		if len(args) < 2 {
			log.Fatal("Usage: gaze-report migrate version <version_number>")
		}
		handleMigrateVersion(database, migrations, args[1])

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: gaze-report migrate force <version_number>")
		}
		handleMigrateForce(database, migrations, args[1])

	case "baseline":
		if len(args) < 2 {
			log.Fatal("Usage: gaze-report migrate baseline <version_number>")
		}
		handleMigrateBaseline(database, args[1])

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

// handleMigrateUp applies all pending migrations
func handleMigrateUp(database *DB, migrations fs.FS) {
	log.Printf("Running migrations...")
	if err := database.MigrateUp(migrations); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("✓ All migrations applied successfully")

	version, dirty, _ := database.MigrateVersion(migrations)
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateDown rolls back one migration
func handleMigrateDown(database *DB, migrations fs.FS) {
	log.Printf("Rolling back one migration...")
	if err := database.MigrateDown(migrations); err != nil {
		log.Fatalf("Migration down failed: %v", err)
	}
	log.Println("✓ Migration rolled back successfully")

	version, dirty, _ := database.MigrateVersion(migrations)
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateStatus displays the current migration status
func handleMigrateStatus(database *DB, migrations fs.FS) {
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}

	status, err := database.GetMigrationStatus(migrations)
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}

	fmt.Println("=== Migration Status ===")
	fmt.Printf("Current version: %d\n", version)
	fmt.Printf("Dirty: %v\n", dirty)
	fmt.Printf("Schema migrations table exists: %v\n", status["schema_migrations_exists"])
	if latest, ok := status["latest_version"]; ok {
		fmt.Printf("Latest available: %v\n", latest)
	}

	if dirty {
		fmt.Println("\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Println("A migration failed mid-execution. You may need to:")
		fmt.Println("  1. Inspect the database manually")
		fmt.Println("  2. Fix any issues")
		fmt.Println("  3. Run: gaze-report migrate force <version>")
	}
}

// handleMigrateVersion migrates to a specific version
func handleMigrateVersion(database *DB, migrations fs.FS, versionStr string) {
	var targetVersion uint
	if _, err := fmt.Sscanf(versionStr, "%d", &targetVersion); err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}

	log.Printf("Migrating to version %d...", targetVersion)
	if err := database.MigrateTo(migrations, targetVersion); err != nil {
		log.Fatalf("Migration to version %d failed: %v", targetVersion, err)
	}
	log.Printf("✓ Migrated to version %d successfully", targetVersion)
}

// handleMigrateForce forces the migration version (recovery only)
func handleMigrateForce(database *DB, migrations fs.FS, versionStr string) {
	var forceVersion int
	if _, err := fmt.Sscanf(versionStr, "%d", &forceVersion); err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}

	fmt.Printf("⚠️  WARNING: Forcing migration version to %d\n", forceVersion)
	fmt.Println("This should only be used to recover from a dirty migration state.")
	fmt.Print("Continue? [y/N]: ")
	var response string
	fmt.Scanln(&response)
	if response != "y" && response != "Y" {
		log.Println("Aborted")
		os.Exit(0)
	}

	if err := database.MigrateForce(migrations, forceVersion); err != nil {
		log.Fatalf("Force migration failed: %v", err)
	}
	log.Printf("✓ Migration version forced to %d", forceVersion)
}

// handleMigrateBaseline sets the baseline version without running migrations
func handleMigrateBaseline(database *DB, versionStr string) {
	var baselineVersion uint
	if _, err := fmt.Sscanf(versionStr, "%d", &baselineVersion); err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}

	log.Printf("Baselining database at version %d...", baselineVersion)
	if err := database.BaselineAtVersion(baselineVersion); err != nil {
		log.Fatalf("Baseline failed: %v", err)
	}
	log.Printf("✓ Database baselined at version %d", baselineVersion)
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp() {
	fmt.Println(`Usage: gaze-report migrate <action> [arguments]

Actions:
  up                  Apply all pending migrations
  down                Roll back the most recent migration
  status              Show current migration status
  version <n>         Migrate up or down to version n
  force <n>           Force version to n (dirty-state recovery only)
  baseline <n>        Mark an existing database as already at version n
  help                Show this help

The database path comes from the --db flag of the parent command.`)
}
