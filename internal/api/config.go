package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/triage-io/triage/internal/config"
)

// Configuration validation errors.
var (
	ErrInvalidPort            = errors.New("port must be between 1 and 65535")
	ErrInvalidTimeout         = errors.New("timeouts must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// ServerConfig holds the HTTP server settings. Values come from TRIAGE_*
// environment variables with sensible defaults for local development.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// AuthEnabled gates the permission checks. When disabled every
	// request acts with full rights; meant for local development only.
	AuthEnabled bool

	RateLimit RateLimitSettings
	CORS      CORSSettings
}

// RateLimitSettings tunes the in-memory limiter.
type RateLimitSettings struct {
	Enabled      bool
	GlobalRPS    int
	PrincipalRPS int
	AnonymousRPS int
}

// CORSSettings is the cross-origin policy.
type CORSSettings struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// NewServerConfigFromEnv builds the server configuration from the
// environment.
func NewServerConfigFromEnv() *ServerConfig {
	return &ServerConfig{
		Host:            config.GetEnvStr("TRIAGE_HOST", "0.0.0.0"),
		Port:            config.GetEnvInt("TRIAGE_PORT", 8001),
		ReadTimeout:     config.GetEnvDuration("TRIAGE_READ_TIMEOUT", 60*time.Second),
		WriteTimeout:    config.GetEnvDuration("TRIAGE_WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:     config.GetEnvDuration("TRIAGE_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: config.GetEnvDuration("TRIAGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		AuthEnabled:     config.GetEnvBool("TRIAGE_AUTH_ENABLED", true),
		RateLimit: RateLimitSettings{
			Enabled:      config.GetEnvBool("TRIAGE_RATELIMIT_ENABLED", true),
			GlobalRPS:    config.GetEnvInt("TRIAGE_RATELIMIT_GLOBAL_RPS", 500),
			PrincipalRPS: config.GetEnvInt("TRIAGE_RATELIMIT_PRINCIPAL_RPS", 50),
			AnonymousRPS: config.GetEnvInt("TRIAGE_RATELIMIT_ANONYMOUS_RPS", 10),
		},
		CORS: CORSSettings{
			AllowedOrigins: config.ParseCommaSeparatedList(
				config.GetEnvStr("TRIAGE_CORS_ALLOWED_ORIGINS", "*")),
			AllowedMethods: config.ParseCommaSeparatedList(
				config.GetEnvStr("TRIAGE_CORS_ALLOWED_METHODS", "GET, POST, PUT, DELETE, OPTIONS")),
			AllowedHeaders: config.ParseCommaSeparatedList(
				config.GetEnvStr("TRIAGE_CORS_ALLOWED_HEADERS",
					"Content-Type, X-Api-Key, X-Correlation-ID, Authorization")),
			MaxAge: config.GetEnvInt("TRIAGE_CORS_MAX_AGE", 3600),
		},
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Port)
	}

	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	return nil
}

// Address returns the listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAllowedOrigins implements middleware.CORSConfig.
func (c *CORSSettings) GetAllowedOrigins() []string { return c.AllowedOrigins }

// GetAllowedMethods implements middleware.CORSConfig.
func (c *CORSSettings) GetAllowedMethods() []string { return c.AllowedMethods }

// GetAllowedHeaders implements middleware.CORSConfig.
func (c *CORSSettings) GetAllowedHeaders() []string { return c.AllowedHeaders }

// GetMaxAge implements middleware.CORSConfig.
func (c *CORSSettings) GetMaxAge() int { return c.MaxAge }
