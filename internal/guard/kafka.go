package guard

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaMirror publishes audit events to a Kafka topic for fleet-level
// observability. It is a secondary sink: writes are best-effort with a short
// timeout and never propagate failure to the caller.
type KafkaMirror struct {
	writer *kafka.Writer
}

// NewKafkaMirror creates a mirror writing to topic on the given brokers
// (comma-separated). Returns nil when either brokers or topic is empty.
func NewKafkaMirror(brokers, topic string) *KafkaMirror {
	brokers = strings.TrimSpace(brokers)
	topic = strings.TrimSpace(topic)
	if brokers == "" || topic == "" {
		return nil
	}
	return &KafkaMirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
			Async:        true,
		},
	}
}

// Append implements AuditSink.
func (m *KafkaMirror) Append(kind, details string) error {
	if m == nil || m.writer == nil {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"kind":      kind,
		"details":   details,
	})
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(kind),
		Value: payload,
	}); err != nil {
		slog.Warn("Audit kafka mirror write failed", "kind", kind, "error", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (m *KafkaMirror) Close() error {
	if m == nil || m.writer == nil {
		return nil
	}
	return m.writer.Close()
}
