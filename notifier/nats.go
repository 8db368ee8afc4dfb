package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/liamcoop/checkers/internal/logger"
)

// DefaultSubjectPrefix prefixes every NATS subject
const DefaultSubjectPrefix = "checkers"

// NATSConfig configures a NATSTransport
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxAge        time.Duration `mapstructure:"max_age"`
}

// NATSTransport publishes events to JetStream. Each destination is a stream
// bound to the subject <prefix>.<destination>.
type NATSTransport struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
	maxAge time.Duration
}

// NewNATSTransport connects to cfg.URL
func NewNATSTransport(cfg NATSConfig, opts ...nats.Option) (*NATSTransport, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}

	opts = append([]nats.Option{nats.Name("checkers")}, opts...)
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	return &NATSTransport{
		conn:   conn,
		js:     js,
		prefix: cfg.SubjectPrefix,
		maxAge: cfg.MaxAge,
	}, nil
}

// Subject returns the subject events for destination are published on
func (t *NATSTransport) Subject(destination string) string {
	return subjectFor(t.prefix, destination)
}

// Declare creates or updates the stream for destination
func (t *NATSTransport) Declare(ctx context.Context, destination string) error {
	cfg := jetstream.StreamConfig{
		Name:     streamName(t.prefix, destination),
		Subjects: []string{t.Subject(destination)},
		MaxAge:   t.maxAge,
	}
	if _, err := t.js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to declare stream %s: %w", cfg.Name, err)
	}
	logger.Debug("nats stream declared", "stream", cfg.Name, "subject", cfg.Subjects[0])
	return nil
}

// Publish sends payload and waits for the stream acknowledgement
func (t *NATSTransport) Publish(ctx context.Context, destination, key string, payload []byte) error {
	if t.conn.IsClosed() {
		return errors.New("nats connection is closed")
	}
	msg := &nats.Msg{
		Subject: t.Subject(destination),
		Data:    payload,
		Header:  nats.Header{},
	}
	msg.Header.Set("Checker-Id", key)

	if _, err := t.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains the connection
func (t *NATSTransport) Close() error {
	return t.conn.Drain()
}

func subjectFor(prefix, destination string) string {
	if prefix == "" {
		return destination
	}
	return prefix + "." + destination
}

// streamName derives a valid stream name. Stream names may not contain
// '.', '*', '>' or whitespace.
func streamName(prefix, destination string) string {
	name := strings.ToUpper(subjectFor(prefix, destination))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
