package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/liamcoop/checkers/rules"
)

type published struct {
	destination string
	key         string
	payload     []byte
}

// recordingTransport keeps every declare and publish in memory
type recordingTransport struct {
	mu          sync.Mutex
	declared    []string
	published   []published
	declareErr  error
	publishErr  error
	declareCall int
}

func (t *recordingTransport) Declare(ctx context.Context, destination string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.declareCall++
	if t.declareErr != nil {
		return t.declareErr
	}
	t.declared = append(t.declared, destination)
	return nil
}

func (t *recordingTransport) Publish(ctx context.Context, destination, key string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.publishErr != nil {
		return t.publishErr
	}
	t.published = append(t.published, published{destination: destination, key: key, payload: payload})
	return nil
}

// countingNotifier counts calls without a transport
type countingNotifier struct {
	succeeded int
	alarms    int
	cause     error
	datasets  rules.DatasetMap
}

func (n *countingNotifier) Succeeded(ctx context.Context, rule rules.Rule, datasets rules.DatasetMap) error {
	n.succeeded++
	n.datasets = datasets
	return nil
}

func (n *countingNotifier) Alarm(ctx context.Context, rule rules.Rule, cause error, datasets rules.DatasetMap) error {
	n.alarms++
	n.cause = cause
	n.datasets = datasets
	return nil
}

func staticProvider(name string, rows rules.Dataset) Provider {
	return ProviderFunc{Name: name, Fn: func(ctx context.Context) (rules.Dataset, error) {
		return rows, nil
	}}
}

func decodeEvent(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var ev map[string]any
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	return ev
}

// TestScenarioAssertionFails verifies a failing assertion publishes one event
// to the failure destination
func TestScenarioAssertionFails(t *testing.T) {
	transport := &recordingTransport{}
	rule := rules.Rule{ID: "c-a", Source: `CheckerCase().assertTrue(False, "bad")`}
	exec := NewExecutor(rule, nil, NewEventNotifier(transport, Destinations{}))

	green, err := exec.Exec(context.Background())
	if err != nil {
		t.Fatalf("Exec() failed: %v", err)
	}
	if green {
		t.Error("Exec() green = true, want false")
	}

	if len(transport.published) != 1 {
		t.Fatalf("published %d events, want 1", len(transport.published))
	}
	got := transport.published[0]
	if got.destination != "failed" {
		t.Errorf("destination = %q, want %q", got.destination, "failed")
	}
	if got.key != "c-a" {
		t.Errorf("key = %q, want %q", got.key, "c-a")
	}

	ev := decodeEvent(t, got.payload)
	if ev["result"] != "failed" {
		t.Errorf("result = %v, want failed", ev["result"])
	}
	if ev["error"] != "bad" {
		t.Errorf("error = %v, want %q", ev["error"], "bad")
	}
	if ev["rule"] != rule.Source {
		t.Errorf("rule = %v, want %q", ev["rule"], rule.Source)
	}
}

// TestScenarioAssertionPasses verifies a passing rule publishes one success
// event with a null error and the dataset attached
func TestScenarioAssertionPasses(t *testing.T) {
	transport := &recordingTransport{}
	rule := rules.Rule{ID: "c-b", Source: `CheckerCase().assertGreaterThan(datasets["my_data"], 2, "bad")`}
	providers := []Provider{staticProvider("my_data", rules.Dataset{{int64(1)}, {int64(2)}, {int64(3)}})}
	exec := NewExecutor(rule, providers, NewEventNotifier(transport, Destinations{}))

	report, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !report.Green() {
		t.Fatalf("outcome = %s, want passed", report.Outcome)
	}
	if report.State != Notified {
		t.Errorf("State = %s, want %s", report.State, Notified)
	}

	if len(transport.published) != 1 {
		t.Fatalf("published %d events, want 1", len(transport.published))
	}
	got := transport.published[0]
	if got.destination != "succeeded" {
		t.Errorf("destination = %q, want %q", got.destination, "succeeded")
	}

	want := `{"id":"c-b","result":"succeeded","error":null,"rule":"CheckerCase().assertGreaterThan(datasets[\"my_data\"], 2, \"bad\")","dataset":{"my_data":[[1],[2],[3]]}}`
	if string(got.payload) != want {
		t.Errorf("payload = %s, want %s", got.payload, want)
	}
}

// TestScenarioMissingDataset verifies a missing dataset errors instead of failing
func TestScenarioMissingDataset(t *testing.T) {
	n := &countingNotifier{}
	rule := rules.Rule{ID: "c-c", Source: `x = datasets["missing"]`}

	report, err := NewExecutor(rule, nil, n).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.Outcome.Kind != rules.Errored {
		t.Fatalf("Kind = %s, want errored", report.Outcome.Kind)
	}
	if !errors.Is(n.cause, ErrUnsafeOrBrokenRule) {
		t.Errorf("cause = %v, want ErrUnsafeOrBrokenRule", n.cause)
	}
	if errors.Is(n.cause, ErrAssertionFailed) {
		t.Error("cause is marked as an assertion failure")
	}
}

// TestScenarioDuplicateIdentity verifies duplicate identities abort the cycle
// before evaluation
func TestScenarioDuplicateIdentity(t *testing.T) {
	fetched := 0
	counting := func(name string) Provider {
		return ProviderFunc{Name: name, Fn: func(ctx context.Context) (rules.Dataset, error) {
			fetched++
			return rules.Dataset{{int64(1)}}, nil
		}}
	}

	n := &countingNotifier{}
	rule := rules.Rule{ID: "c-d", Source: `CheckerCase().assertTrue(True, "ok")`}
	exec := NewExecutor(rule, []Provider{counting("a"), counting("a")}, n)

	report, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.State != Notified {
		t.Errorf("State = %s, want %s", report.State, Notified)
	}
	if report.Dropped != nil {
		t.Errorf("Dropped = %v, rule should not have been filtered", report.Dropped)
	}
	if !errors.Is(n.cause, ErrDuplicateDataset) {
		t.Errorf("cause = %v, want ErrDuplicateDataset", n.cause)
	}
	if fetched != 0 {
		t.Errorf("fetched %d datasets, want 0", fetched)
	}
	if n.datasets != nil {
		t.Errorf("datasets = %v, want nil", n.datasets)
	}
}

// TestExactlyOneNotification verifies every outcome class fires exactly one
// notifier method
func TestExactlyOneNotification(t *testing.T) {
	failing := ProviderFunc{Name: "broken", Fn: func(ctx context.Context) (rules.Dataset, error) {
		return nil, fmt.Errorf("connection refused")
	}}

	testCases := []struct {
		name          string
		source        string
		providers     []Provider
		wantSucceeded int
		wantAlarms    int
		wantCause     error
	}{
		{
			name:          "passed",
			source:        `CheckerCase().assertTrue(True, "ok")`,
			wantSucceeded: 1,
		},
		{
			name:       "failed",
			source:     `CheckerCase().assertTrue(False, "bad")`,
			wantAlarms: 1,
			wantCause:  ErrAssertionFailed,
		},
		{
			name:       "errored",
			source:     `1 / 0`,
			wantAlarms: 1,
			wantCause:  ErrUnsafeOrBrokenRule,
		},
		{
			name:       "malformed",
			source:     `if (`,
			wantAlarms: 1,
			wantCause:  ErrMalformedRule,
		},
		{
			name:       "provider failure",
			source:     `CheckerCase().assertTrue(True, "ok")`,
			providers:  []Provider{failing},
			wantAlarms: 1,
			wantCause:  ErrProviderFailure,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n := &countingNotifier{}
			rule := rules.Rule{ID: "c1", Source: tc.source}

			if _, err := NewExecutor(rule, tc.providers, n).Exec(context.Background()); err != nil {
				t.Fatalf("Exec() failed: %v", err)
			}
			if n.succeeded != tc.wantSucceeded || n.alarms != tc.wantAlarms {
				t.Errorf("succeeded=%d alarms=%d, want succeeded=%d alarms=%d",
					n.succeeded, n.alarms, tc.wantSucceeded, tc.wantAlarms)
			}
			if tc.wantCause != nil && !errors.Is(n.cause, tc.wantCause) {
				t.Errorf("cause = %v, want %v", n.cause, tc.wantCause)
			}
		})
	}
}

// TestNotifierFailurePropagates verifies publish failures surface from Exec
func TestNotifierFailurePropagates(t *testing.T) {
	transport := &recordingTransport{publishErr: fmt.Errorf("broker unavailable")}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	rule := rules.Rule{ID: "c1", Source: `CheckerCase().assertTrue(True, "ok")`}
	exec := NewExecutor(rule, nil, NewEventNotifier(transport, Destinations{}), WithMetrics(metrics))

	green, err := exec.Exec(context.Background())
	if err == nil {
		t.Fatal("Exec() error = nil, want notifier failure")
	}
	if !errors.Is(err, ErrNotifierFailure) {
		t.Errorf("error = %v, want ErrNotifierFailure", err)
	}
	if !green {
		t.Error("green = false, the rule itself passed")
	}
	if got := testutil.ToFloat64(metrics.NotifierFailures); got != 1 {
		t.Errorf("notifier failures = %v, want 1", got)
	}
}

// TestCycleMetrics verifies cycles are counted by outcome
func TestCycleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	n := &countingNotifier{}

	sources := []string{
		`CheckerCase().assertTrue(True, "ok")`,
		`CheckerCase().assertTrue(False, "bad")`,
		`CheckerCase().assertTrue(False, "bad")`,
	}
	for _, src := range sources {
		exec := NewExecutor(rules.Rule{ID: "c1", Source: src}, nil, n, WithMetrics(metrics))
		if _, err := exec.Exec(context.Background()); err != nil {
			t.Fatalf("Exec() failed: %v", err)
		}
	}

	if got := testutil.ToFloat64(metrics.CyclesTotal.WithLabelValues("passed")); got != 1 {
		t.Errorf("passed cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CyclesTotal.WithLabelValues("failed")); got != 2 {
		t.Errorf("failed cycles = %v, want 2", got)
	}
}

// TestCycleTimeout verifies a timed out evaluation errors and still notifies
func TestCycleTimeout(t *testing.T) {
	n := &countingNotifier{}
	slow := ProviderFunc{Name: "slow", Fn: func(ctx context.Context) (rules.Dataset, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rule := rules.Rule{ID: "c1", Source: `CheckerCase().assertTrue(True, "ok")`}
	exec := NewExecutor(rule, []Provider{slow}, n, WithCycleTimeout(10*time.Millisecond))

	report, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.Outcome.Kind != rules.Errored {
		t.Errorf("Kind = %s, want errored", report.Outcome.Kind)
	}
	if !errors.Is(n.cause, ErrProviderFailure) {
		t.Errorf("cause = %v, want ErrProviderFailure", n.cause)
	}
	if n.alarms != 1 {
		t.Errorf("alarms = %d, want 1", n.alarms)
	}
}

// TestReportDropped verifies filtered constructs are reported
func TestReportDropped(t *testing.T) {
	source := "import os\ndef helper():\n    pass\nCheckerCase().assertTrue(True, \"ok\")\n"
	exec := NewExecutor(rules.Rule{ID: "c1", Source: source}, nil, &countingNotifier{})

	report, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !report.Green() {
		t.Fatalf("outcome = %s, want passed", report.Outcome)
	}
	if len(report.Dropped) != 2 {
		t.Fatalf("Dropped = %v, want 2 entries", report.Dropped)
	}
	if report.Dropped[0].Kind != rules.DropImport || report.Dropped[1].Kind != rules.DropFunction {
		t.Errorf("Dropped kinds = %s, %s", report.Dropped[0].Kind, report.Dropped[1].Kind)
	}
}
