// Package product manages the tenant catalogue in the configuration
// database and the per-tenant connection pools that serve report traffic.
package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/triage-io/triage/internal/apperr"
	"github.com/triage-io/triage/internal/storage"
)

// Sentinel errors for the product catalogue.
var (
	// ErrInvalidEndpoint is returned when an endpoint is not a URL-safe slug.
	ErrInvalidEndpoint = errors.New("endpoint must be a non-empty URL-safe slug")

	// ErrNotFound is returned when no product matches the lookup.
	ErrNotFound = errors.New("product not found")

	// ErrEndpointTaken is returned when the endpoint slug is already in use.
	ErrEndpointTaken = errors.New("endpoint already in use")

	// ErrRetired is returned when the product has been retired.
	ErrRetired = errors.New("product is retired")
)

const pgUniqueViolation = "23505"

var endpointPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Product is one tenant. Each product owns exactly one report database.
type Product struct {
	ID                         int64
	Endpoint                   string
	DisplayedName              string
	Description                string
	DatabaseURL                string
	RunLimit                   int // 0 means unlimited
	PoolSize                   int
	ReviewStatusChangeDisabled bool
	CreatedAt                  time.Time
	RetiredAt                  *time.Time
}

// Retired reports whether the product has been taken out of service.
func (p *Product) Retired() bool {
	return p.RetiredAt != nil
}

// ValidateEndpoint checks that an endpoint is a usable slug.
func ValidateEndpoint(endpoint string) error {
	if !endpointPattern.MatchString(endpoint) {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	return nil
}

// Store persists the product catalogue in the configuration database.
type Store struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// NewStore creates a product store over the configuration database.
func NewStore(conn *storage.Connection, logger *slog.Logger) (*Store, error) {
	if conn == nil {
		return nil, storage.ErrNoDatabaseConnection
	}

	return &Store{conn: conn, logger: logger}, nil
}

const productColumns = `
	id, endpoint, displayed_name, description, database_url,
	run_limit, pool_size, review_status_change_disabled, created_at, retired_at
`

// Create registers a new product. The endpoint must be unique.
func (s *Store) Create(ctx context.Context, p *Product) (*Product, error) {
	if err := ValidateEndpoint(p.Endpoint); err != nil {
		return nil, err
	}

	poolSize := p.PoolSize
	if poolSize <= 0 {
		poolSize = 8
	}

	row := s.conn.QueryRowContext(ctx, `
		INSERT INTO products (endpoint, displayed_name, description, database_url,
			run_limit, pool_size, review_status_change_disabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+productColumns,
		p.Endpoint, p.DisplayedName, p.Description, p.DatabaseURL,
		p.RunLimit, poolSize, p.ReviewStatusChangeDisabled,
	)

	created, err := scanProduct(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("%w: %q", ErrEndpointTaken, p.Endpoint)
		}

		return nil, apperr.Wrap(apperr.KindDatabase, err, "creating product %q", p.Endpoint)
	}

	s.logger.Info("Product created",
		slog.String("endpoint", created.Endpoint),
		slog.Int64("product_id", created.ID),
	)

	return created, nil
}

// GetByEndpoint looks up one product by its slug, retired ones included.
func (s *Store) GetByEndpoint(ctx context.Context, endpoint string) (*Product, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE endpoint = $1`, endpoint)

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, endpoint)
	}

	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading product %q", endpoint)
	}

	return p, nil
}

// GetByID looks up one product by id.
func (s *Store) GetByID(ctx context.Context, id int64) (*Product, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "loading product %d", id)
	}

	return p, nil
}

// List returns active products ordered by endpoint. Retired products are
// included only when includeRetired is set.
func (s *Store) List(ctx context.Context, includeRetired bool) ([]*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if !includeRetired {
		query += ` WHERE retired_at IS NULL`
	}

	query += ` ORDER BY endpoint`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "listing products")
	}

	defer func() {
		_ = rows.Close()
	}()

	var products []*Product

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning product")
		}

		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating products")
	}

	return products, nil
}

// Update rewrites the mutable attributes of a product. The endpoint and
// database URL are fixed at creation.
func (s *Store) Update(ctx context.Context, p *Product) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE products
		SET displayed_name = $2, description = $3, run_limit = $4,
			pool_size = $5, review_status_change_disabled = $6
		WHERE id = $1 AND retired_at IS NULL
	`, p.ID, p.DisplayedName, p.Description, p.RunLimit, p.PoolSize,
		p.ReviewStatusChangeDisabled)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "updating product %d", p.ID)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, p.ID)
	}

	return nil
}

// Retire takes a product out of service. Its database is left untouched.
func (s *Store) Retire(ctx context.Context, id int64) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE products SET retired_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND retired_at IS NULL
	`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "retiring product %d", id)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	s.logger.Info("Product retired", slog.Int64("product_id", id))

	return nil
}

// scanner matches *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*Product, error) {
	var (
		p         Product
		retiredAt sql.NullTime
	)

	err := row.Scan(
		&p.ID, &p.Endpoint, &p.DisplayedName, &p.Description, &p.DatabaseURL,
		&p.RunLimit, &p.PoolSize, &p.ReviewStatusChangeDisabled,
		&p.CreatedAt, &retiredAt,
	)
	if err != nil {
		return nil, err
	}

	if retiredAt.Valid {
		p.RetiredAt = &retiredAt.Time
	}

	return &p, nil
}
