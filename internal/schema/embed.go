// Package schema owns the relational schemas of the Triage server: the
// server-wide configuration database and the per-product report database.
// Migrations are embedded at build time and applied with golang-migrate;
// the registry compares the persisted revision against the embedded one to
// decide whether a database may serve queries.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Set selects one of the two embedded migration sets.
type Set string

// The two schemas the server manages.
const (
	// ConfigDB is the server-wide configuration database schema.
	ConfigDB Set = "configdb"

	// ProductDB is the per-product report database schema.
	ProductDB Set = "productdb"
)

//go:embed configdb/*.sql productdb/*.sql
var embeddedMigrations embed.FS

// Sentinel errors for embedded migration validation.
var (
	// ErrUnknownSet is returned for a set name outside {configdb, productdb}.
	ErrUnknownSet = errors.New("unknown migration set")

	// ErrInvalidMigrationName is returned when an embedded file does not
	// follow the NNNNNN_name.(up|down).sql convention.
	ErrInvalidMigrationName = errors.New("invalid migration filename")

	// ErrMissingPair is returned when an up migration lacks its down pair.
	ErrMissingPair = errors.New("migration up/down pair incomplete")
)

// migrationNamePattern is the strict naming standard for embedded migrations.
var migrationNamePattern = regexp.MustCompile(`^(\d{6})_[a-z0-9_]+\.(up|down)\.sql$`)

// FS returns the embedded filesystem of one migration set, rooted at the
// set directory so golang-migrate's iofs driver can consume it directly.
func FS(set Set) (fs.FS, error) {
	switch set {
	case ConfigDB, ProductDB:
		return fs.Sub(embeddedMigrations, string(set))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSet, set)
	}
}

// Latest returns the highest migration revision embedded for the set.
func Latest(set Set) (uint, error) {
	names, err := listMigrations(set)
	if err != nil {
		return 0, err
	}

	var latest uint

	for _, name := range names {
		m := migrationNamePattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}

		rev, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}

		if uint(rev) > latest {
			latest = uint(rev)
		}
	}

	return latest, nil
}

// Validate checks every embedded migration of the set against the naming
// standard and verifies that each revision has both directions.
func Validate(set Set) error {
	names, err := listMigrations(set)
	if err != nil {
		return err
	}

	directions := make(map[string]map[string]bool)

	for _, name := range names {
		m := migrationNamePattern.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("%w: %q in set %q", ErrInvalidMigrationName, name, set)
		}

		if directions[m[1]] == nil {
			directions[m[1]] = make(map[string]bool)
		}

		directions[m[1]][m[2]] = true
	}

	for rev, dirs := range directions {
		if !dirs["up"] || !dirs["down"] {
			return fmt.Errorf("%w: revision %s in set %q", ErrMissingPair, rev, set)
		}
	}

	return nil
}

// listMigrations lists the SQL files of one embedded set, sorted by name.
func listMigrations(set Set) ([]string, error) {
	sub, err := FS(set)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations for %q: %w", set, err)
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}
