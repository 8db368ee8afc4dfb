package notifier

import (
	"fmt"
	"strings"

	"github.com/liamcoop/checkers/checker"
)

// Transport kinds
const (
	KindMemory = "memory"
	KindLog    = "log"
	KindKafka  = "kafka"
	KindNATS   = "nats"
)

// Config selects and configures a transport
type Config struct {
	Kind      string      `mapstructure:"kind"`
	Succeeded string      `mapstructure:"succeeded"`
	Failed    string      `mapstructure:"failed"`
	Kafka     KafkaConfig `mapstructure:"kafka"`
	NATS      NATSConfig  `mapstructure:"nats"`
}

// Destinations returns the configured destination names
func (c Config) Destinations() checker.Destinations {
	return checker.Destinations{Succeeded: c.Succeeded, Failed: c.Failed}
}

// New builds the transport named by cfg.Kind. The returned close function
// releases its connections.
func New(cfg Config) (checker.Transport, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.Kind) {
	case "", KindLog:
		return LogTransport{}, noop, nil
	case KindMemory:
		return NewMemoryTransport(), noop, nil
	case KindKafka:
		t, err := NewKafkaTransport(cfg.Kafka)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	case KindNATS:
		t, err := NewNATSTransport(cfg.NATS)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier kind: %s", cfg.Kind)
	}
}

// NewNotifier builds the transport for cfg and wraps it in an EventNotifier
func NewNotifier(cfg Config) (*checker.EventNotifier, func() error, error) {
	t, closeFn, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return checker.NewEventNotifier(t, cfg.Destinations()), closeFn, nil
}
