package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// publicEndpoints lists paths that bypass authentication: health probes
// and the version handshake. Business endpoints never belong here.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint marks a path as reachable without an API key.
// Called during route setup only.
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

// Authentication errors.
var (
	// ErrMissingAPIKey is returned when no API key is presented.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned for an unknown or malformed key. The
	// message is deliberately generic.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrAPIKeyExpired is returned for a key past its expiry.
	ErrAPIKeyExpired = errors.New("API key expired")

	// ErrAPIKeyInactive is returned for a revoked key.
	ErrAPIKeyInactive = errors.New("API key inactive")
)

// Authenticator resolves a presented API key into an identity.
type Authenticator interface {
	// Authenticate validates the raw key material. It returns one of the
	// sentinel authentication errors on failure.
	Authenticate(ctx context.Context, rawKey string) (Identity, error)
}

// extractAPIKey reads the key from X-Api-Key or an Authorization Bearer
// header. Keys with embedded newlines are rejected outright.
func extractAPIKey(r *http.Request) (string, bool) {
	key := r.Header.Get("X-Api-Key")

	if key == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
	}

	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// dummyHash is a valid bcrypt hash so the comparison below runs at full
// cost rather than failing fast on a malformed hash.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy") //nolint: gochecknoglobals

// dummyCompare keeps the no-key path indistinguishable from a failed
// key lookup.
func dummyCompare() {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte("dummy"))
}

// Authenticate creates middleware that resolves API keys into identities.
// Requests without a key continue as the anonymous identity; handlers
// demand permissions per operation. Requests with a bad key are rejected.
func Authenticate(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			rawKey, found := extractAPIKey(r)
			if !found {
				dummyCompare()
				next.ServeHTTP(w, r)

				return
			}

			authStart := time.Now()

			identity, err := auth.Authenticate(r.Context(), rawKey)
			if err != nil {
				writeAuthError(w, r, logger, err)

				return
			}

			identity.AuthTime = time.Now()

			logger.Info("API key authenticated",
				slog.String("principal", identity.Principal),
				slog.String("key_id", identity.KeyID),
				slog.Int64("auth_latency_ms", time.Since(authStart).Milliseconds()),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), identity)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	status := http.StatusUnauthorized
	if errors.Is(err, ErrAPIKeyInactive) {
		status = http.StatusForbidden
	}

	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	title := "Unauthorized"
	if status == http.StatusForbidden {
		title = "Forbidden"
	}

	if writeErr := writeProblem(w, r, status, title, err.Error(), correlationID); writeErr != nil {
		logger.Error("Failed to write auth error response",
			slog.String("correlation_id", correlationID),
			slog.String("error", writeErr.Error()),
		)
		http.Error(w, err.Error(), status)
	}
}
