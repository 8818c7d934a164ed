package product

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/triage-io/triage/internal/config"
	"github.com/triage-io/triage/internal/schema"
	"github.com/triage-io/triage/internal/storage"
)

// Sentinel errors for the registry.
var (
	// ErrNotAccessible is returned when a product database cannot serve
	// traffic in its current schema state.
	ErrNotAccessible = errors.New("product database is not accessible")

	// ErrNotUpgradeable is returned when an upgrade is requested for a
	// database that is not in an upgradeable state.
	ErrNotUpgradeable = errors.New("product database schema cannot be upgraded")
)

// statusTTL bounds how stale a cached OK status may be before the next
// access re-verifies the schema.
const statusTTL = 30 * time.Second

// Handle is one authorized access to a product database.
type Handle struct {
	Product *Product
	Conn    *storage.Connection
	Status  schema.DBStatus
}

type pool struct {
	conn *storage.Connection

	mu        sync.Mutex
	status    schema.DBStatus
	checkedAt time.Time
}

func (p *pool) snapshot() (schema.DBStatus, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status, p.checkedAt
}

// Registry maintains the live product_id -> connection pool map. Pools open
// lazily on first access and carry the product's configured size.
type Registry struct {
	store  *Store
	runner *schema.Runner
	logger *slog.Logger

	mu    sync.Mutex
	pools map[int64]*pool
}

// NewRegistry creates a registry over the product catalogue.
func NewRegistry(store *Store, logger *slog.Logger) (*Registry, error) {
	runner, err := schema.NewRunner(schema.ProductDB, logger)
	if err != nil {
		return nil, err
	}

	return &Registry{
		store:  store,
		runner: runner,
		logger: logger,
		pools:  make(map[int64]*pool),
	}, nil
}

// Store exposes the underlying catalogue for administrative operations.
func (r *Registry) Store() *Store {
	return r.store
}

// Open resolves an endpoint to a serveable database handle. Only an OK
// schema status serves traffic; every other status fails with
// ErrNotAccessible and the observed status.
func (r *Registry) Open(ctx context.Context, endpoint string) (*Handle, error) {
	p, err := r.store.GetByEndpoint(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	if p.Retired() {
		return nil, fmt.Errorf("%w: %q", ErrRetired, endpoint)
	}

	entry, status, err := r.access(ctx, p, false)
	if err != nil {
		return nil, err
	}

	if !status.Serveable() {
		return &Handle{Product: p, Status: status},
			fmt.Errorf("%w: %q is %s", ErrNotAccessible, endpoint, status)
	}

	return &Handle{Product: p, Conn: entry.conn, Status: status}, nil
}

// Status returns the current schema status of a product database. Unlike
// Open it never consults the cached value.
func (r *Registry) Status(ctx context.Context, endpoint string) (schema.DBStatus, error) {
	p, err := r.store.GetByEndpoint(ctx, endpoint)
	if err != nil {
		return schema.StatusMissing, err
	}

	_, status, err := r.access(ctx, p, true)
	if err != nil {
		return schema.StatusFailedToConnect, nil
	}

	return status, nil
}

// Upgrade migrates a product database forward. Only SCHEMA_MISMATCH_OK and
// SCHEMA_MISSING states are upgradeable; the fresh status is returned.
func (r *Registry) Upgrade(ctx context.Context, endpoint string) (schema.DBStatus, error) {
	p, err := r.store.GetByEndpoint(ctx, endpoint)
	if err != nil {
		return schema.StatusMissing, err
	}

	entry, status, err := r.access(ctx, p, true)
	if err != nil {
		return schema.StatusFailedToConnect, err
	}

	if !status.Upgradeable() {
		return status, fmt.Errorf("%w: %q is %s", ErrNotUpgradeable, endpoint, status)
	}

	if err := r.runner.Upgrade(entry.conn.DB); err != nil {
		return r.refresh(p.ID, entry), err
	}

	status = r.refresh(p.ID, entry)

	r.logger.Info("Product database upgraded",
		slog.String("endpoint", endpoint),
		slog.String("status", status.String()),
	)

	return status, nil
}

// Retire removes a product from service and closes its pool.
func (r *Registry) Retire(ctx context.Context, id int64) error {
	if err := r.store.Retire(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	entry, ok := r.pools[id]
	if ok {
		delete(r.pools, id)
	}
	r.mu.Unlock()

	if ok {
		return entry.conn.Close()
	}

	return nil
}

// Seed creates catalogue entries for configured products that do not exist
// yet. Existing endpoints are left untouched.
func (r *Registry) Seed(ctx context.Context, seeds []config.ProductSeed) error {
	for _, seed := range seeds {
		_, err := r.store.GetByEndpoint(ctx, seed.Endpoint)
		if err == nil {
			continue
		}

		if !errors.Is(err, ErrNotFound) {
			return err
		}

		_, err = r.store.Create(ctx, &Product{
			Endpoint:      seed.Endpoint,
			DisplayedName: seed.DisplayedName,
			Description:   seed.Description,
			DatabaseURL:   seed.DatabaseURL,
			RunLimit:      seed.RunLimit,
		})
		if err != nil {
			return fmt.Errorf("failed to seed product %q: %w", seed.Endpoint, err)
		}
	}

	return nil
}

// Close closes every open pool. The registry is unusable afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error

	for id, entry := range r.pools {
		if err := entry.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}

		delete(r.pools, id)
	}

	return firstErr
}

// access returns the pool for a product, opening it lazily. A cached OK
// status is trusted for statusTTL; anything else is re-checked every time.
func (r *Registry) access(ctx context.Context, p *Product, force bool) (*pool, schema.DBStatus, error) {
	r.mu.Lock()
	entry, ok := r.pools[p.ID]
	r.mu.Unlock()

	if !ok {
		conn, err := storage.Connect(ctx, storage.NewConfig(p.DatabaseURL).WithPoolSize(p.PoolSize))
		if err != nil {
			r.logger.Warn("Failed to open product database",
				slog.String("endpoint", p.Endpoint),
				slog.String("error", err.Error()),
			)

			return nil, schema.StatusFailedToConnect,
				fmt.Errorf("%w: %q is %s", ErrNotAccessible, p.Endpoint, schema.StatusFailedToConnect)
		}

		entry = &pool{conn: conn}
		status := r.refresh(p.ID, entry)

		r.mu.Lock()
		if existing, raced := r.pools[p.ID]; raced {
			r.mu.Unlock()
			_ = conn.Close()

			existingStatus, _ := existing.snapshot()

			return existing, existingStatus, nil
		}

		r.pools[p.ID] = entry
		r.mu.Unlock()

		return entry, status, nil
	}

	status, checkedAt := entry.snapshot()

	stale := time.Since(checkedAt) > statusTTL
	if force || stale || status != schema.StatusOK {
		status = r.refresh(p.ID, entry)
	}

	return entry, status, nil
}

// refresh re-classifies the schema status of one pool.
func (r *Registry) refresh(productID int64, entry *pool) schema.DBStatus {
	status := r.runner.Check(entry.conn.DB)

	entry.mu.Lock()
	previous := entry.status
	entry.status = status
	entry.checkedAt = time.Now()
	entry.mu.Unlock()

	if previous == schema.StatusOK && status != schema.StatusOK {
		r.logger.Warn("Product database left serveable state",
			slog.Int64("product_id", productID),
			slog.String("status", status.String()),
		)
	}

	return status
}
