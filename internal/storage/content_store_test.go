package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHashContent(t *testing.T) {
	// Well-known SHA-256 of the empty string.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashContent(nil),
	)

	assert.NotEqual(t, HashContent([]byte("a")), HashContent([]byte("b")))
}

func TestDecodeContent(t *testing.T) {
	plain := []byte("int main() { return 0; }\n")

	var compressed bytes.Buffer

	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tests := []struct {
		name     string
		content  []byte
		encoding string
		want     []byte
		wantErr  error
	}{
		{name: "plain", content: plain, encoding: EncodingPlain, want: plain},
		{name: "empty encoding defaults to plain", content: plain, encoding: "", want: plain},
		{name: "zlib", content: compressed.Bytes(), encoding: EncodingZlib, want: plain},
		{name: "unknown encoding", content: plain, encoding: "gzip", wantErr: ErrUnknownEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeContent(tt.content, tt.encoding)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeContentCorruptZlib(t *testing.T) {
	_, err := decodeContent([]byte("definitely not zlib"), EncodingZlib)
	assert.Error(t, err)
}

func TestPutContentHashMismatch(t *testing.T) {
	store, err := NewContentStore(Wrap(nil), discardLogger())
	require.NoError(t, err)

	// Fails before touching the database.
	err = store.PutContent(context.Background(), "deadbeef", []byte("content"), EncodingPlain)
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestNewContentStoreNilConnection(t *testing.T) {
	_, err := NewContentStore(nil, discardLogger())
	assert.ErrorIs(t, err, ErrNoDatabaseConnection)
}
