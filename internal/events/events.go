// Package events publishes attendance changes to downstream consumers.
//
// A Change is emitted for every member whose status was written, keyed by
// member code so a compacted topic keeps the latest status per member.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/eventroll/rollcall/internal/member"
)

// Change describes one status write.
type Change struct {
	Code          string        `json:"code"`
	Branch        string        `json:"branch,omitempty"`
	Status        member.Status `json:"status"`
	UpdatedBy     string        `json:"updated_by"`
	UpdatedByTeam string        `json:"updated_by_team"`
	At            time.Time     `json:"at"`
}

// Publisher delivers changes.
type Publisher interface {
	Publish(ctx context.Context, changes ...Change) error
	Close() error
}

// Discard drops every change.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, ...Change) error { return nil }

// Close implements Publisher.
func (Discard) Close() error { return nil }

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// messageWriter is the subset of kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes changes as JSON messages keyed by member code.
type KafkaPublisher struct {
	w     messageWriter
	topic string
}

// NewKafka creates a publisher for cfg. No connection is made until the
// first Publish.
func NewKafka(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	return &KafkaPublisher{w: w, topic: cfg.Topic}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, changes ...Change) error {
	if len(changes) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(changes))
	for _, c := range changes {
		value, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal change for %s: %w", c.Code, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(c.Code),
			Value: value,
			Time:  c.At,
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d changes to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
