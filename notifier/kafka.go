package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/liamcoop/checkers/internal/logger"
)

// KafkaConfig configures a KafkaTransport
type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	Partitions        int           `mapstructure:"partitions"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// KafkaTransport publishes events to Kafka topics, one topic per destination
type KafkaTransport struct {
	cfg    KafkaConfig
	writer *kafka.Writer
}

// NewKafkaTransport creates a transport for cfg.Brokers. No connection is made
// until the first Declare.
func NewKafkaTransport(cfg KafkaConfig) (*KafkaTransport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return &KafkaTransport{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{}, // partition by checker id
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  1,
		},
	}, nil
}

// Declare creates the topic on the cluster controller. An existing topic is
// not an error.
func (t *KafkaTransport) Declare(ctx context.Context, destination string) error {
	conn, err := kafka.DialContext(ctx, "tcp", t.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find controller: %w", err)
	}

	ctrl, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             destination,
		NumPartitions:     t.cfg.Partitions,
		ReplicationFactor: t.cfg.ReplicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", destination, err)
	}

	logger.Debug("kafka topic declared", "topic", destination)
	return nil
}

// Publish writes one message keyed by checker id. The writer makes a single
// attempt.
func (t *KafkaTransport) Publish(ctx context.Context, destination, key string, payload []byte) error {
	msg := kafka.Message{
		Topic: destination,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "checker_id", Value: []byte(key)},
		},
		Time: time.Now(),
	}
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}
