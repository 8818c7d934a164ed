package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}

	f.messages = append(f.messages, msgs...)

	return nil
}

func (f *fakeWriter) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewNotifierDisabled(t *testing.T) {
	assert.Nil(t, NewNotifier(nil, "stores", discardLogger()))
	assert.Nil(t, NewNotifier([]string{"localhost:9092"}, "", discardLogger()))
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier

	n.PublishStored(context.Background(), StoreEvent{})
	assert.NoError(t, n.Close())
}

func TestPublishStored(t *testing.T) {
	fw := &fakeWriter{}
	n := &Notifier{writer: fw, logger: discardLogger()}

	event := StoreEvent{
		Product:     "toolchain",
		RunName:     "nightly",
		RunID:       7,
		VersionTag:  "v1.2",
		ReportCount: 42,
		StoredAt:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	n.PublishStored(context.Background(), event)

	require.Len(t, fw.messages, 1)
	assert.Equal(t, "toolchain/nightly", string(fw.messages[0].Key))

	var decoded StoreEvent
	require.NoError(t, json.Unmarshal(fw.messages[0].Value, &decoded))
	assert.Equal(t, event, decoded)
}

func TestPublishStoredWriterFailureIsSwallowed(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	n := &Notifier{writer: fw, logger: discardLogger()}

	// Must not panic or surface the error.
	n.PublishStored(context.Background(), StoreEvent{Product: "p", RunName: "r"})
	assert.Empty(t, fw.messages)
}
