package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/triage-io/triage/internal/apperr"
)

// ErrUnknownComponent is returned when a filter names a component that
// does not exist.
var ErrUnknownComponent = errors.New("unknown source component")

// Component is a named path-glob filter. Its value is one pattern per
// line, each prefixed with "+" (include) or "-" (exclude).
type Component struct {
	Name        string
	Value       string
	Description string
}

// Patterns splits the component value into include and exclude globs.
// Lines without a prefix are ignored.
func (c Component) Patterns() (includes, excludes []string) {
	for _, line := range strings.Split(c.Value, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "+"):
			includes = append(includes, line[1:])
		case strings.HasPrefix(line, "-"):
			excludes = append(excludes, line[1:])
		}
	}

	return includes, excludes
}

// SaveComponent creates or replaces a source component.
func (s *Store) SaveComponent(ctx context.Context, c Component) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO source_components (name, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
			SET value = EXCLUDED.value, description = EXCLUDED.description
	`, c.Name, c.Value, c.Description)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "saving component %q", c.Name)
	}

	return nil
}

// RemoveComponent deletes a source component.
func (s *Store) RemoveComponent(ctx context.Context, name string) error {
	result, err := s.conn.ExecContext(ctx,
		`DELETE FROM source_components WHERE name = $1`, name)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "removing component %q", name)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}

	return nil
}

// ListComponents returns every source component ordered by name.
func (s *Store) ListComponents(ctx context.Context) ([]Component, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT name, value, description FROM source_components ORDER BY name`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "listing components")
	}

	defer func() {
		_ = rows.Close()
	}()

	var components []Component

	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.Name, &c.Value, &c.Description); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning component")
		}

		components = append(components, c)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating components")
	}

	return components, nil
}

// GetComponent loads one source component.
func (s *Store) GetComponent(ctx context.Context, name string) (Component, error) {
	var c Component

	err := s.conn.QueryRowContext(ctx,
		`SELECT name, value, description FROM source_components WHERE name = $1`,
		name).Scan(&c.Name, &c.Value, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return Component{}, fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}

	if err != nil {
		return Component{}, apperr.Wrap(apperr.KindDatabase, err, "loading component %q", name)
	}

	return c, nil
}
