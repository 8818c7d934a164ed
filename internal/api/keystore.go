package api

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/triage-io/triage/internal/api/middleware"
	"github.com/triage-io/triage/internal/apperr"
	"github.com/triage-io/triage/internal/storage"
)

// Key management errors.
var (
	// ErrKeyExists is returned when an API key id is already taken.
	ErrKeyExists = errors.New("api key id already in use")

	// ErrKeyNotFound is returned when no active key matches the id.
	ErrKeyNotFound = errors.New("api key not found")
)

// dummyKeyHash is a valid bcrypt hash used to keep the unknown-key path
// as slow as the known-key path.
var dummyKeyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy") //nolint: gochecknoglobals

const (
	bcryptCost        = 12
	secretBytes       = 24
	pgUniqueViolation = "23505"
)

// APIKey is the stored metadata of a key. The secret is only available
// at creation time.
type APIKey struct {
	ID          string
	Principal   string
	Name        string
	Permissions []string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Active      bool
}

// KeyStore authenticates and manages API keys in the configuration
// database. Raw key material is "id:secret"; only a bcrypt hash of the
// secret is stored.
type KeyStore struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// NewKeyStore creates a key store over the configuration database.
func NewKeyStore(conn *storage.Connection, logger *slog.Logger) (*KeyStore, error) {
	if conn == nil {
		return nil, storage.ErrNoDatabaseConnection
	}

	return &KeyStore{conn: conn, logger: logger}, nil
}

// Authenticate implements middleware.Authenticator.
func (k *KeyStore) Authenticate(ctx context.Context, rawKey string) (middleware.Identity, error) {
	keyID, secret, found := strings.Cut(rawKey, ":")
	if !found || keyID == "" || secret == "" {
		return middleware.Identity{}, middleware.ErrInvalidAPIKey
	}

	var (
		keyHash     string
		principal   string
		permissions []byte
		expiresAt   sql.NullTime
		active      bool
	)

	err := k.conn.QueryRowContext(ctx, `
		SELECT key_hash, principal, permissions, expires_at, active
		FROM api_keys WHERE id = $1
	`, keyID).Scan(&keyHash, &principal, &permissions, &expiresAt, &active)

	if errors.Is(err, sql.ErrNoRows) {
		// Burn the same time as a real comparison.
		_ = bcrypt.CompareHashAndPassword(dummyKeyHash, []byte(secret))

		return middleware.Identity{}, middleware.ErrInvalidAPIKey
	}

	if err != nil {
		return middleware.Identity{}, apperr.Wrap(apperr.KindDatabase, err, "loading api key %q", keyID)
	}

	if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(secret)) != nil {
		return middleware.Identity{}, middleware.ErrInvalidAPIKey
	}

	if !active {
		return middleware.Identity{}, middleware.ErrAPIKeyInactive
	}

	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return middleware.Identity{}, middleware.ErrAPIKeyExpired
	}

	var grants []string
	if err := json.Unmarshal(permissions, &grants); err != nil {
		return middleware.Identity{}, apperr.Wrap(apperr.KindDatabase, err,
			"decoding permissions of api key %q", keyID)
	}

	return middleware.Identity{
		Principal:   principal,
		KeyID:       keyID,
		Permissions: grants,
	}, nil
}

// Create mints a new key and returns its raw material. The secret is
// random and shown exactly once.
func (k *KeyStore) Create(ctx context.Context, key APIKey) (string, error) {
	secretRaw := make([]byte, secretBytes)
	if _, err := rand.Read(secretRaw); err != nil {
		return "", apperr.Wrap(apperr.KindGeneral, err, "generating api key secret")
	}

	secret := hex.EncodeToString(secretRaw)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindGeneral, err, "hashing api key secret")
	}

	permissions, err := json.Marshal(key.Permissions)
	if err != nil {
		return "", apperr.Wrap(apperr.KindGeneral, err, "encoding permissions")
	}

	var expiresAt any
	if key.ExpiresAt != nil {
		expiresAt = *key.ExpiresAt
	}

	_, err = k.conn.ExecContext(ctx, `
		INSERT INTO api_keys (id, key_hash, principal, name, permissions, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, key.ID, string(hash), key.Principal, key.Name, permissions, expiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return "", fmt.Errorf("%w: %q", ErrKeyExists, key.ID)
		}

		return "", apperr.Wrap(apperr.KindDatabase, err, "creating api key %q", key.ID)
	}

	k.logger.Info("API key created",
		slog.String("key_id", key.ID),
		slog.String("principal", key.Principal),
	)

	return key.ID + ":" + secret, nil
}

// List returns all keys without their hashes.
func (k *KeyStore) List(ctx context.Context) ([]APIKey, error) {
	rows, err := k.conn.QueryContext(ctx, `
		SELECT id, principal, name, permissions, created_at, expires_at, active
		FROM api_keys ORDER BY id
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "listing api keys")
	}

	defer func() {
		_ = rows.Close()
	}()

	var keys []APIKey

	for rows.Next() {
		var (
			key         APIKey
			permissions []byte
			expiresAt   sql.NullTime
		)

		err := rows.Scan(&key.ID, &key.Principal, &key.Name, &permissions,
			&key.CreatedAt, &expiresAt, &key.Active)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning api key")
		}

		if err := json.Unmarshal(permissions, &key.Permissions); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "decoding permissions of %q", key.ID)
		}

		if expiresAt.Valid {
			key.ExpiresAt = &expiresAt.Time
		}

		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating api keys")
	}

	return keys, nil
}

// Revoke deactivates a key. Revocation is not reversible through the API.
func (k *KeyStore) Revoke(ctx context.Context, keyID string) error {
	result, err := k.conn.ExecContext(ctx, `
		UPDATE api_keys SET active = FALSE, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND active = TRUE
	`, keyID)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "revoking api key %q", keyID)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
	}

	k.logger.Info("API key revoked", slog.String("key_id", keyID))

	return nil
}
