// Package messaging publishes delivery events to Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	skafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/storefront/backend/internal/domain/delivery"
)

// ErrNoBrokers is returned when Kafka is enabled without brokers
var ErrNoBrokers = errors.New("messaging: at least one kafka broker is required")

// Writer is the subset of kafka.Writer the publisher needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// AttemptPublisher is an AttemptEventPublisher that owns resources
type AttemptPublisher interface {
	delivery.AttemptEventPublisher
	Close() error
}

// KafkaConfig holds the producer settings
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaAttemptPublisher writes AttemptRecordedEvents keyed by dispatch key,
// so all attempts of one (order, carrier) pair land on the same partition.
type KafkaAttemptPublisher struct {
	writer Writer
	topic  string
	logger *zap.Logger
}

// NewKafkaAttemptPublisher creates a publisher writing to the configured brokers
func NewKafkaAttemptPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaAttemptPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &skafka.Writer{
		Addr:                   skafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &skafka.Hash{},
		RequiredAcks:           skafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaAttemptPublisherWithWriter(w, cfg.Topic, logger), nil
}

// NewKafkaAttemptPublisherWithWriter allows injecting a writer
func NewKafkaAttemptPublisherWithWriter(w Writer, topic string, logger *zap.Logger) *KafkaAttemptPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaAttemptPublisher{writer: w, topic: topic, logger: logger}
}

// PublishAttemptRecorded marshals the event and writes one message
func (p *KafkaAttemptPublisher) PublishAttemptRecorded(ctx context.Context, event *delivery.AttemptRecordedEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("messaging: marshal event: %w", err)
	}

	msg := skafka.Message{
		Key:   []byte(delivery.DispatchKey(event.OrderID, event.CompanyID)),
		Value: value,
		Time:  event.Timestamp,
		Headers: []skafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("Kafka write failed",
			zap.String("topic", p.topic),
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("messaging: write event: %w", err)
	}
	return nil
}

// Close closes the underlying writer
func (p *KafkaAttemptPublisher) Close() error {
	return p.writer.Close()
}

// NoopAttemptPublisher drops events; used when Kafka is disabled
type NoopAttemptPublisher struct{}

// PublishAttemptRecorded does nothing
func (NoopAttemptPublisher) PublishAttemptRecorded(context.Context, *delivery.AttemptRecordedEvent) error {
	return nil
}

// Close does nothing
func (NoopAttemptPublisher) Close() error { return nil }

// ParseBrokers splits a comma separated broker list
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Ensure publishers implement AttemptEventPublisher
var (
	_ delivery.AttemptEventPublisher = (*KafkaAttemptPublisher)(nil)
	_ delivery.AttemptEventPublisher = NoopAttemptPublisher{}
)
