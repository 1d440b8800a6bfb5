package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// LoggingPublisher writes events to the log. Used when no broker is configured.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, topic string, payload []byte, partitionKey string) error {
	p.logger.InfoContext(ctx, "event published",
		"module", "outbox.publisher",
		"operation", "publish",
		"outcome", "success",
		"topic", topic,
		"partition_key", partitionKey,
		"payload_bytes", len(payload),
	)
	return nil
}

// KafkaPublisher writes events to Kafka keyed by deal id, so every deal's
// events stay ordered on one partition.
type KafkaPublisher struct {
	writer      *kafka.Writer
	topicPrefix string
	topicByKind map[string]string
}

func NewKafkaPublisher(brokers []string, topicPrefix string, topicByKind map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("outbox: kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topicPrefix: topicPrefix,
		topicByKind: topicByKind,
	}, nil
}

// TopicFor resolves the broker topic of an outbox topic.
func (p *KafkaPublisher) TopicFor(topic string) string {
	if mapped, ok := p.topicByKind[topic]; ok && mapped != "" {
		return mapped
	}
	return p.topicPrefix + topic
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload []byte, partitionKey string) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.TopicFor(topic),
		Key:   []byte(partitionKey),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
