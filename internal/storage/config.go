// Package storage provides the PostgreSQL connection layer shared by the
// configuration database and the per-product report databases, plus the
// content-addressed file store.
package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/triage-io/triage/internal/config"
)

const (
	defaultPoolSize        = 8
	defaultMaxIdleConns    = 4
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

var (
	// ErrDatabaseURLEmpty is returned when the database URL is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")
)

// Config holds PostgreSQL connection configuration for one database.
// Pool tuning defaults come from the environment; the URL is always
// explicit because every product carries its own.
type Config struct {
	databaseURL     string
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections
}

// NewConfig builds a connection config for the given database URL with
// pool tuning from the environment.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     databaseURL,
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultPoolSize),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// WithPoolSize overrides the open connection limit (per-product setting).
func (c *Config) WithPoolSize(size int) *Config {
	if size > 0 {
		c.MaxOpenConns = size
	}

	return c
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns a masked database URL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	return MaskURL(c.databaseURL)
}

// MaskURL masks the password component of a database URL for logging.
func MaskURL(databaseURL string) string {
	if databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(databaseURL, "://")
	if schemeEnd == -1 {
		return databaseURL
	}

	afterScheme := databaseURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		// No userinfo present.
		return databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		// No password present.
		return databaseURL
	}

	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		return databaseURL
	}

	scheme := databaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}
