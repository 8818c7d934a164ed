// Package main is the schema migration CLI for Triage databases.
//
// The server upgrades its own configuration database at startup and
// product databases on demand through the API; this tool covers the
// operational cases outside that path: inspecting a database before an
// upgrade, rolling a revision back, and preparing a product database
// before its product is registered.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/triage-io/triage/internal/config"
	"github.com/triage-io/triage/internal/schema"
	"github.com/triage-io/triage/internal/storage"
)

const (
	version = "1.0.0"
	name    = "migrator"
)

func main() {
	showHelp := flag.Bool("help", false, "show help information")
	showVersion := flag.Bool("version", false, "show version information")
	setName := flag.String("set", string(schema.ConfigDB),
		"migration set to operate on: configdb or productdb")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelWarn),
	}))

	databaseURL := config.GetEnvStr("DATABASE_URL", "")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	runner, err := schema.NewRunner(schema.Set(*setName), logger)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	defer func() {
		_ = db.Close()
	}()

	if err := execute(flag.Arg(0), runner, db, schema.Set(*setName), databaseURL); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func execute(command string, runner *schema.Runner, db *sql.DB, set schema.Set, databaseURL string) error {
	switch command {
	case "up":
		return runner.Upgrade(db)
	case "down":
		return runner.Downgrade(db)
	case "status":
		return printStatus(runner, db, set, databaseURL)
	case "version":
		return printVersion(runner, db)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printStatus(runner *schema.Runner, db *sql.DB, set schema.Set, databaseURL string) error {
	latest, err := schema.Latest(set)
	if err != nil {
		return err
	}

	status := runner.Check(db)

	fmt.Printf("Database:  %s\n", storage.MaskURL(databaseURL))
	fmt.Printf("Set:       %s\n", set)
	fmt.Printf("Embedded:  %d\n", latest)
	fmt.Printf("Status:    %s\n", status)

	if status.Upgradeable() {
		fmt.Println("\nRun with the 'up' command to apply pending migrations.")
	}

	return nil
}

func printVersion(runner *schema.Runner, db *sql.DB) error {
	current, dirty, err := runner.Version(db)
	if err != nil {
		return err
	}

	if dirty {
		fmt.Printf("%d (dirty)\n", current)

		return nil
	}

	fmt.Printf("%d\n", current)

	return nil
}

func printUsage() {
	fmt.Printf(`%s v%s - schema migration tool for Triage databases

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Roll back the last migration
    status  Show schema status against the embedded revision
    version Show the persisted schema revision

OPTIONS:
    --set      Migration set: configdb (default) or productdb
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL    PostgreSQL connection string (REQUIRED)

EXAMPLES:
    DATABASE_URL=postgres://... %s status
    DATABASE_URL=postgres://... %s --set productdb up
`, name, version, name, name, name)
}
