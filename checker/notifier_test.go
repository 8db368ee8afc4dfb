package checker

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/liamcoop/checkers/rules"
)

// TestEventNotifierDeclaresOnce verifies both destinations are declared once
// before the first publish
func TestEventNotifierDeclaresOnce(t *testing.T) {
	transport := &recordingTransport{}
	n := NewEventNotifier(transport, Destinations{Succeeded: "ok-topic", Failed: "alarm-topic"})
	rule := rules.Rule{ID: "c1", Source: "pass"}

	for i := 0; i < 3; i++ {
		if err := n.Succeeded(context.Background(), rule, nil); err != nil {
			t.Fatalf("Succeeded() failed: %v", err)
		}
	}
	if err := n.Alarm(context.Background(), rule, fmt.Errorf("boom"), nil); err != nil {
		t.Fatalf("Alarm() failed: %v", err)
	}

	want := []string{"ok-topic", "alarm-topic"}
	if len(transport.declared) != len(want) {
		t.Fatalf("declared = %v, want %v", transport.declared, want)
	}
	for i := range want {
		if transport.declared[i] != want[i] {
			t.Errorf("declared[%d] = %q, want %q", i, transport.declared[i], want[i])
		}
	}
	if len(transport.published) != 4 {
		t.Errorf("published %d events, want 4", len(transport.published))
	}
}

// TestEventNotifierRetriesFailedDeclare verifies a failed declare is attempted
// again on the next call
func TestEventNotifierRetriesFailedDeclare(t *testing.T) {
	transport := &recordingTransport{declareErr: fmt.Errorf("no controller")}
	n := NewEventNotifier(transport, DefaultDestinations())
	rule := rules.Rule{ID: "c1", Source: "pass"}

	err := n.Succeeded(context.Background(), rule, nil)
	if !errors.Is(err, ErrNotifierFailure) {
		t.Fatalf("Succeeded() error = %v, want ErrNotifierFailure", err)
	}
	if len(transport.published) != 0 {
		t.Errorf("published %d events before declaring", len(transport.published))
	}

	transport.declareErr = nil
	if err := n.Succeeded(context.Background(), rule, nil); err != nil {
		t.Fatalf("Succeeded() failed after recovery: %v", err)
	}
	if transport.declareCall != 3 {
		t.Errorf("declare calls = %d, want 3", transport.declareCall)
	}
	if len(transport.published) != 1 {
		t.Errorf("published %d events, want 1", len(transport.published))
	}
}

// TestNewEvent verifies event fields and their wire order
func TestNewEvent(t *testing.T) {
	rule := rules.Rule{ID: "c9", Source: "x = 1"}

	testCases := []struct {
		name     string
		cause    error
		datasets rules.DatasetMap
		want     string
	}{
		{
			name: "success without datasets",
			want: `{"id":"c9","result":"succeeded","error":null,"rule":"x = 1","dataset":null}`,
		},
		{
			name:     "failure keeps message text",
			cause:    errors.Mark(&rules.AssertionFailed{Message: "too many rows"}, ErrAssertionFailed),
			datasets: rules.DatasetMap{"t": rules.Dataset{{"a", 1.5, nil}}},
			want:     `{"id":"c9","result":"failed","error":"too many rows","rule":"x = 1","dataset":{"t":[["a",1.5,null]]}}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			transport := &recordingTransport{}
			n := NewEventNotifier(transport, DefaultDestinations())

			var err error
			if tc.cause == nil {
				err = n.Succeeded(context.Background(), rule, tc.datasets)
			} else {
				err = n.Alarm(context.Background(), rule, tc.cause, tc.datasets)
			}
			if err != nil {
				t.Fatalf("notify failed: %v", err)
			}
			if got := string(transport.published[0].payload); got != tc.want {
				t.Errorf("payload = %s, want %s", got, tc.want)
			}
		})
	}
}

// TestNewEventNonFiniteFloats verifies NaN and infinite cells are published
// as strings and the cycle's datasets are left alone
func TestNewEventNonFiniteFloats(t *testing.T) {
	rule := rules.Rule{ID: "c9", Source: "x = 1"}
	datasets := rules.DatasetMap{
		"m":     rules.Dataset{{math.NaN(), math.Inf(1), math.Inf(-1), 2.5, "x"}},
		"empty": nil,
	}

	transport := &recordingTransport{}
	n := NewEventNotifier(transport, DefaultDestinations())
	if err := n.Succeeded(context.Background(), rule, datasets); err != nil {
		t.Fatalf("Succeeded() failed: %v", err)
	}

	want := `{"id":"c9","result":"succeeded","error":null,"rule":"x = 1","dataset":{"empty":null,"m":[["NaN","+Inf","-Inf",2.5,"x"]]}}`
	if got := string(transport.published[0].payload); got != want {
		t.Errorf("payload = %s, want %s", got, want)
	}
	if f, ok := datasets["m"][0][0].(float64); !ok || !math.IsNaN(f) {
		t.Errorf("datasets cell = %v, want NaN left in place", datasets["m"][0][0])
	}
}

// TestBuildDatasetMap verifies providers are fetched in order and failures
// are classified
func TestBuildDatasetMap(t *testing.T) {
	var order []string
	provider := func(name string, err error) Provider {
		return ProviderFunc{Name: name, Fn: func(ctx context.Context) (rules.Dataset, error) {
			order = append(order, name)
			if err != nil {
				return nil, err
			}
			return nil, nil
		}}
	}

	got, err := BuildDatasetMap(context.Background(), []Provider{provider("a", nil), provider("b", nil)})
	if err != nil {
		t.Fatalf("BuildDatasetMap() failed: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("fetch order = %v, want [a b]", order)
	}
	if rows, ok := got["a"]; !ok || rows == nil || len(rows) != 0 {
		t.Errorf("datasets[a] = %v, want empty dataset", rows)
	}

	_, err = BuildDatasetMap(context.Background(), []Provider{provider("x", fmt.Errorf("timeout"))})
	if !errors.Is(err, ErrProviderFailure) {
		t.Errorf("error = %v, want ErrProviderFailure", err)
	}
	if Classify(err) != ErrProviderFailure {
		t.Errorf("Classify() = %v, want ErrProviderFailure", Classify(err))
	}
}
