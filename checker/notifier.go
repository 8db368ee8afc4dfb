package checker

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/liamcoop/checkers/internal/logger"
	"github.com/liamcoop/checkers/rules"
)

// Notifier receives the result of every cycle. Exactly one of its methods is
// called per cycle.
type Notifier interface {
	Succeeded(ctx context.Context, rule rules.Rule, datasets rules.DatasetMap) error
	Alarm(ctx context.Context, rule rules.Rule, cause error, datasets rules.DatasetMap) error
}

// Transport is the message system behind an EventNotifier
type Transport interface {
	// Declare creates the destination if it does not exist. Declaring an
	// existing destination is not an error.
	Declare(ctx context.Context, destination string) error

	// Publish delivers one payload. key identifies the checker.
	Publish(ctx context.Context, destination, key string, payload []byte) error
}

// Result values carried by events
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
)

// Destinations names where succeeded and failed events are published
type Destinations struct {
	Succeeded string `mapstructure:"succeeded" yaml:"succeeded"`
	Failed    string `mapstructure:"failed" yaml:"failed"`
}

// DefaultDestinations returns the "succeeded" and "failed" destinations
func DefaultDestinations() Destinations {
	return Destinations{Succeeded: ResultSucceeded, Failed: ResultFailed}
}

// Event is the wire payload published for a cycle. Field order is part of
// the format.
type Event struct {
	ID      string           `json:"id"`
	Result  string           `json:"result"`
	Error   *string          `json:"error"`
	Rule    string           `json:"rule"`
	Dataset rules.DatasetMap `json:"dataset"`
}

// NewEvent builds the event for a cycle. A nil cause is a success.
// Non-finite float cells are carried as the strings "NaN", "+Inf" and "-Inf".
func NewEvent(rule rules.Rule, cause error, datasets rules.DatasetMap) Event {
	ev := Event{
		ID:      rule.ID,
		Result:  ResultSucceeded,
		Rule:    rule.Source,
		Dataset: encodableDatasets(datasets),
	}
	if cause != nil {
		msg := cause.Error()
		ev.Result = ResultFailed
		ev.Error = &msg
	}
	return ev
}

// encodableDatasets returns datasets unchanged unless a cell is a float JSON
// cannot carry, in which case it returns a copy with those cells as strings.
func encodableDatasets(datasets rules.DatasetMap) rules.DatasetMap {
	if !hasNonFinite(datasets) {
		return datasets
	}
	out := make(rules.DatasetMap, len(datasets))
	for name, rows := range datasets {
		if rows == nil {
			out[name] = nil
			continue
		}
		copied := make(rules.Dataset, len(rows))
		for i, row := range rows {
			cells := make(rules.Row, len(row))
			for j, cell := range row {
				if f, ok := nonFinite(cell); ok {
					cells[j] = strconv.FormatFloat(f, 'g', -1, 64)
					continue
				}
				cells[j] = cell
			}
			copied[i] = cells
		}
		out[name] = copied
	}
	return out
}

func hasNonFinite(datasets rules.DatasetMap) bool {
	for _, rows := range datasets {
		for _, row := range rows {
			for _, cell := range row {
				if _, ok := nonFinite(cell); ok {
					return true
				}
			}
		}
	}
	return false
}

func nonFinite(cell any) (float64, bool) {
	var f float64
	switch x := cell.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	default:
		return 0, false
	}
	return f, math.IsNaN(f) || math.IsInf(f, 0)
}

// EventNotifier publishes cycle events through a Transport. Both
// destinations are declared once, before the first publish.
type EventNotifier struct {
	transport    Transport
	destinations Destinations

	mu       sync.Mutex
	declared bool
}

// NewEventNotifier creates a notifier over transport. Empty destination
// names fall back to the defaults.
func NewEventNotifier(transport Transport, destinations Destinations) *EventNotifier {
	defaults := DefaultDestinations()
	if destinations.Succeeded == "" {
		destinations.Succeeded = defaults.Succeeded
	}
	if destinations.Failed == "" {
		destinations.Failed = defaults.Failed
	}
	return &EventNotifier{
		transport:    transport,
		destinations: destinations,
	}
}

// Destinations returns the configured destination names
func (n *EventNotifier) Destinations() Destinations {
	return n.destinations
}

// Succeeded publishes a success event
func (n *EventNotifier) Succeeded(ctx context.Context, rule rules.Rule, datasets rules.DatasetMap) error {
	return n.publish(ctx, n.destinations.Succeeded, NewEvent(rule, nil, datasets))
}

// Alarm publishes a failure event carrying cause
func (n *EventNotifier) Alarm(ctx context.Context, rule rules.Rule, cause error, datasets rules.DatasetMap) error {
	if cause == nil {
		cause = errors.New("alarm raised without a cause")
	}
	return n.publish(ctx, n.destinations.Failed, NewEvent(rule, cause, datasets))
}

// declare creates both destinations the first time it succeeds. A failed
// declare is attempted again on the next call.
func (n *EventNotifier) declare(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.declared {
		return nil
	}
	for _, dest := range []string{n.destinations.Succeeded, n.destinations.Failed} {
		if err := n.transport.Declare(ctx, dest); err != nil {
			return errors.Mark(errors.Wrapf(err, "failed to declare destination %q", dest), ErrNotifierFailure)
		}
	}
	n.declared = true
	logger.Debug("notifier destinations declared",
		"succeeded", n.destinations.Succeeded,
		"failed", n.destinations.Failed)
	return nil
}

func (n *EventNotifier) publish(ctx context.Context, dest string, ev Event) error {
	if err := n.declare(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to encode event"), ErrNotifierFailure)
	}

	if err := n.transport.Publish(ctx, dest, ev.ID, payload); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to publish to %q", dest), ErrNotifierFailure)
	}
	return nil
}
