// Package events publishes storage notifications to Kafka so downstream
// consumers (dashboards, gating bots) can react to finished ingestions
// without polling. Publishing is optional: a nil notifier drops everything.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// StoreEvent describes one committed ingestion.
type StoreEvent struct {
	Product     string    `json:"product"`
	RunName     string    `json:"run_name"`
	RunID       int64     `json:"run_id"`
	VersionTag  string    `json:"version_tag,omitempty"`
	ReportCount int       `json:"report_count"`
	StoredAt    time.Time `json:"stored_at"`
}

// writer is the subset of kafka.Writer the notifier uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Notifier publishes store events. The zero value and nil are both valid
// and silently discard events.
type Notifier struct {
	writer writer
	logger *slog.Logger
}

// NewNotifier creates a notifier writing to the given brokers and topic.
// Empty brokers disable publishing.
func NewNotifier(brokers []string, topic string, logger *slog.Logger) *Notifier {
	if len(brokers) == 0 || topic == "" {
		return nil
	}

	return &Notifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		logger: logger,
	}
}

// PublishStored emits one store event. Failures are logged, never fatal:
// ingestion must not depend on the event bus being up.
func (n *Notifier) PublishStored(ctx context.Context, event StoreEvent) {
	if n == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("Failed to encode store event", slog.String("error", err.Error()))

		return
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s/%s", event.Product, event.RunName)),
		Value: payload,
	}

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.Warn("Failed to publish store event",
			slog.String("product", event.Product),
			slog.String("run_name", event.RunName),
			slog.String("error", err.Error()),
		)

		return
	}

	n.logger.Debug("Store event published",
		slog.String("product", event.Product),
		slog.String("run_name", event.RunName),
	)
}

// Close flushes and closes the underlying writer.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}

	return n.writer.Close()
}
