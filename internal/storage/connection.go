package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq" // also registers the PostgreSQL driver
)

// Sentinel errors for the connection layer.
var (
	// ErrNoDatabaseConnection is returned when a store is built without a connection.
	ErrNoDatabaseConnection = errors.New("database connection is nil")
)

// PostgreSQL error codes the retry logic inspects.
const (
	pgDeadlockDetected    = "40P01"
	pgSerializationFailed = "40001"

	maxTxRetries       = 3
	initialTxBackoff   = 50 * time.Millisecond
	healthCheckTimeout = 2 * time.Second
)

// Connection wraps a pooled *sql.DB for one database.
type Connection struct {
	DB     *sql.DB
	config *Config
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.MaskDatabaseURL(), err)
	}

	return &Connection{DB: db, config: cfg}, nil
}

// Wrap adopts an already-open *sql.DB (used by tests and the migrator).
func Wrap(db *sql.DB) *Connection {
	return &Connection{DB: db, config: &Config{}}
}

// Close closes the pool. Safe to call on a nil connection.
func (c *Connection) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}

	return c.DB.Close()
}

// HealthCheck pings the database with a short timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoDatabaseConnection
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// QueryContext proxies to the underlying pool.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.DB.QueryContext(ctx, query, args...)
}

// QueryRowContext proxies to the underlying pool.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.DB.QueryRowContext(ctx, query, args...)
}

// ExecContext proxies to the underlying pool.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.DB.ExecContext(ctx, query, args...)
}

// RetryableTxError reports whether the error is a transient deadlock or
// serialization failure worth retrying.
func RetryableTxError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgDeadlockDetected || pqErr.Code == pgSerializationFailed
	}

	return false
}

// RunSerializable executes fn inside a serializable transaction, retrying
// transient deadlocks with exponential backoff (up to 3 attempts). Any
// other error rolls back and is surfaced unchanged.
func (c *Connection) RunSerializable(
	ctx context.Context,
	logger *slog.Logger,
	fn func(tx *sql.Tx) error,
) error {
	attempt := 0

	operation := func() error {
		attempt++

		tx, err := c.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to begin transaction: %w", err))
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()

			if RetryableTxError(err) {
				logger.Warn("Transient transaction failure, retrying",
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)

				return err
			}

			return backoff.Permanent(err)
		}

		if err := tx.Commit(); err != nil {
			if RetryableTxError(err) {
				logger.Warn("Transient commit failure, retrying",
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)

				return err
			}

			return backoff.Permanent(fmt.Errorf("failed to commit transaction: %w", err))
		}

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(initialTxBackoff),
		), maxTxRetries-1),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}

		return err
	}

	return nil
}
