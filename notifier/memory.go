package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/liamcoop/checkers/checker"
)

var (
	_ checker.Transport = (*MemoryTransport)(nil)
	_ checker.Transport = (*LogTransport)(nil)
	_ checker.Transport = (*KafkaTransport)(nil)
	_ checker.Transport = (*NATSTransport)(nil)
)

// Message is one payload recorded by a MemoryTransport
type Message struct {
	Destination string
	Key         string
	Payload     []byte
}

// Event decodes the payload
func (m Message) Event() (checker.Event, error) {
	var ev checker.Event
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}

// MemoryTransport keeps destinations and messages in memory
type MemoryTransport struct {
	mu       sync.Mutex
	declared map[string]int
	messages []Message

	// PublishErr, when set, is returned by every Publish
	PublishErr error
}

// NewMemoryTransport creates an empty in-memory transport
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{declared: make(map[string]int)}
}

func (t *MemoryTransport) Declare(ctx context.Context, destination string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.declared[destination]++
	return nil
}

func (t *MemoryTransport) Publish(ctx context.Context, destination, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.PublishErr != nil {
		return t.PublishErr
	}
	if _, ok := t.declared[destination]; !ok {
		return fmt.Errorf("destination %q is not declared", destination)
	}
	t.messages = append(t.messages, Message{
		Destination: destination,
		Key:         key,
		Payload:     append([]byte(nil), payload...),
	})
	return nil
}

// Declarations returns how many times destination was declared
func (t *MemoryTransport) Declarations(destination string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.declared[destination]
}

// Messages returns the messages published to destination, or all messages
// when destination is empty
func (t *MemoryTransport) Messages(destination string) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Message
	for _, m := range t.messages {
		if destination == "" || m.Destination == destination {
			out = append(out, m)
		}
	}
	return out
}

// Reset drops recorded messages. Declarations are kept.
func (t *MemoryTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
