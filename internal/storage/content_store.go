package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/lib/pq"

	"github.com/triage-io/triage/internal/apperr"
)

// Sentinel errors for the content store.
var (
	// ErrInvalidContent is returned when the uploaded bytes do not hash to
	// the claimed content hash.
	ErrInvalidContent = errors.New("content does not match its hash")

	// ErrUnknownEncoding is returned for an unsupported transfer encoding.
	ErrUnknownEncoding = errors.New("unknown content encoding")

	// ErrContentNotFound is returned when a blob is absent.
	ErrContentNotFound = errors.New("file content not found")
)

// Encoding names accepted by PutContent.
const (
	EncodingPlain = "plain"
	EncodingZlib  = "zlib"
)

// ContentStore deduplicates source file contents and blame data by SHA-256
// inside one product database. Blobs are immutable once written.
type ContentStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewContentStore creates a content store over the product connection.
func NewContentStore(conn *Connection, logger *slog.Logger) (*ContentStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ContentStore{conn: conn, logger: logger}, nil
}

// HashContent computes the content hash used as the blob key.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)

	return hex.EncodeToString(sum[:])
}

// MissingContentHashes returns the subset of hashes with no stored blob.
// Clients call this before uploading to skip already-known files.
func (s *ContentStore) MissingContentHashes(ctx context.Context, hashes []string) ([]string, error) {
	return s.missing(ctx, hashes, `
		SELECT h.hash
		FROM unnest($1::text[]) AS h(hash)
		LEFT JOIN file_contents fc ON fc.content_hash = h.hash
		WHERE fc.content_hash IS NULL
	`)
}

// MissingBlameHashes returns the subset of hashes with no stored blame info.
func (s *ContentStore) MissingBlameHashes(ctx context.Context, hashes []string) ([]string, error) {
	return s.missing(ctx, hashes, `
		SELECT h.hash
		FROM unnest($1::text[]) AS h(hash)
		LEFT JOIN file_contents fc
			ON fc.content_hash = h.hash AND fc.blame_info IS NOT NULL
		WHERE fc.content_hash IS NULL
	`)
}

func (s *ContentStore) missing(ctx context.Context, hashes []string, query string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	rows, err := s.conn.QueryContext(ctx, query, pq.Array(hashes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "querying missing hashes")
	}

	defer func() {
		_ = rows.Close()
	}()

	var missing []string

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, apperr.Wrap(apperr.KindDatabase, err, "scanning missing hash")
		}

		missing = append(missing, h)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "iterating missing hashes")
	}

	return missing, nil
}

// PutContent stores one blob after verifying its hash. Idempotent: storing
// an already-present hash is a no-op. The write is durable before return.
func (s *ContentStore) PutContent(ctx context.Context, hash string, content []byte, encoding string) error {
	startTime := time.Now()

	decoded, err := decodeContent(content, encoding)
	if err != nil {
		return err
	}

	if HashContent(decoded) != hash {
		return fmt.Errorf("%w: %s", ErrInvalidContent, hash)
	}

	query := `
		INSERT INTO file_contents (content_hash, content)
		VALUES ($1, $2)
		ON CONFLICT (content_hash) DO NOTHING
	`

	if _, err := s.conn.ExecContext(ctx, query, hash, decoded); err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "storing content %s", hash)
	}

	s.logger.Debug("Content stored",
		"content_hash", hash,
		"size_bytes", len(decoded),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return nil
}

// PutBlameInfo attaches blame data to an already-stored blob.
func (s *ContentStore) PutBlameInfo(ctx context.Context, hash string, blame map[string]any) error {
	blameJSON, err := json.Marshal(blame)
	if err != nil {
		return fmt.Errorf("failed to marshal blame info: %w", err)
	}

	result, err := s.conn.ExecContext(ctx, `
		UPDATE file_contents SET blame_info = $2 WHERE content_hash = $1
	`, hash, blameJSON)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, err, "storing blame info for %s", hash)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrContentNotFound, hash)
	}

	return nil
}

// GetContent reads one blob by hash.
func (s *ContentStore) GetContent(ctx context.Context, hash string) ([]byte, error) {
	var content []byte

	err := s.conn.QueryRowContext(ctx, `
		SELECT content FROM file_contents WHERE content_hash = $1
	`, hash).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, hash)
	}

	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "reading content %s", hash)
	}

	return content, nil
}

// decodeContent reverses the transfer encoding of an uploaded blob.
func decodeContent(content []byte, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingPlain, "":
		return content, nil
	case EncodingZlib:
		zr, err := zlib.NewReader(bytes.NewReader(content))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIO, err, "opening zlib content")
		}

		defer func() {
			_ = zr.Close()
		}()

		decoded, err := io.ReadAll(zr)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIO, err, "decoding zlib content")
		}

		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
}
