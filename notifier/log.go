package notifier

import (
	"context"
	"encoding/json"

	"github.com/liamcoop/checkers/internal/logger"
)

// LogTransport writes every event to the structured log. Destinations need
// no declaration.
type LogTransport struct{}

func (LogTransport) Declare(ctx context.Context, destination string) error {
	logger.Debug("log transport destination", "destination", destination)
	return nil
}

func (LogTransport) Publish(ctx context.Context, destination, key string, payload []byte) error {
	logger.Info("checker event",
		"destination", destination,
		"checker_id", key,
		"event", json.RawMessage(payload))
	return nil
}
