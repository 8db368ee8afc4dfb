package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/checkers/checker"
	"github.com/liamcoop/checkers/datasource"
	"github.com/liamcoop/checkers/notifier"
	"github.com/liamcoop/checkers/rules"
	"github.com/liamcoop/checkers/store"
)

func staticChecker(id, rule string, rows [][]any) *store.Checker {
	return &store.Checker{
		ID:   id,
		Rule: rule,
		Datasources: []datasource.Spec{
			{Name: "my_data", Kind: datasource.KindStatic, Rows: rows},
		},
		Active: true,
	}
}

func setup(t *testing.T, checkers ...*store.Checker) (*Runner, store.CheckerStore, *notifier.MemoryTransport) {
	t.Helper()
	s := store.NewInMemoryCheckerStore()
	require.NoError(t, store.Seed(context.Background(), s, checkers))

	transport := notifier.NewMemoryTransport()
	n := checker.NewEventNotifier(transport, checker.DefaultDestinations())
	return New(s, nil, n, Config{Concurrency: 2}), s, transport
}

func TestRunOnce_PersistsStatusAndHistory(t *testing.T) {
	ctx := context.Background()
	r, s, transport := setup(t,
		staticChecker("big", `CheckerCase().assertGreaterThan(datasets["my_data"], 2, "bad")`, [][]any{{1}, {2}, {3}}),
		staticChecker("small", `CheckerCase().assertGreaterThan(datasets["my_data"], 2, "bad")`, [][]any{{1}}),
	)

	report, err := r.RunOnce(ctx, "big")
	require.NoError(t, err)
	assert.True(t, report.Green())

	report, err = r.RunOnce(ctx, "small")
	require.NoError(t, err)
	assert.False(t, report.Green())

	big, err := s.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, store.StatusGreen, big.Status)

	small, err := s.Get(ctx, "small")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRed, small.Status)

	history, err := s.ListExecutions(ctx, "small", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "failed", history[0].Outcome)
	assert.Equal(t, "bad", history[0].Cause)
	assert.Equal(t, store.StatusRed, history[0].Status)
	assert.False(t, history[0].FinishedAt.Before(history[0].StartedAt))

	assert.Len(t, transport.Messages("succeeded"), 1)
	assert.Len(t, transport.Messages("failed"), 1)

	_, err = r.RunOnce(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunChecker_NotifierFailure(t *testing.T) {
	ctx := context.Background()
	r, s, transport := setup(t,
		staticChecker("c1", `CheckerCase().assertTrue(False, "bad")`, nil),
	)
	transport.PublishErr = errors.New("broker down")

	_, err := r.RunOnce(ctx, "c1")
	require.Error(t, err)
	assert.Equal(t, checker.ErrNotifierFailure, checker.Classify(err))

	c, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusGreen, c.Status, "status must not change when the event was not delivered")

	history, err := s.ListExecutions(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.OutcomeNotifierError, history[0].Outcome)
	assert.Contains(t, history[0].Cause, "broker down")
}

func TestRunChecker_UnknownConnectionAlarms(t *testing.T) {
	ctx := context.Background()
	c := &store.Checker{
		ID:   "c1",
		Rule: `CheckerCase().assertTrue(True, "ok")`,
		Datasources: []datasource.Spec{
			{Name: "orders", Kind: datasource.KindSQL, Connection: "nope", Query: "SELECT 1"},
		},
		Active: true,
	}
	r, s, transport := setup(t, c)

	report, err := r.RunOnce(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, report.Green())
	assert.Equal(t, checker.ErrProviderFailure, checker.Classify(report.Cause))
	assert.Len(t, transport.Messages("failed"), 1)

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRed, got.Status)
}

func TestRunAll(t *testing.T) {
	ctx := context.Background()
	var checkers []*store.Checker
	for i := 0; i < 6; i++ {
		rule := `CheckerCase().assertTrue(True, "ok")`
		if i%2 == 1 {
			rule = `CheckerCase().assertTrue(False, "odd")`
		}
		checkers = append(checkers, staticChecker(fmt.Sprintf("c%d", i), rule, nil))
	}
	inactive := staticChecker("paused", `CheckerCase().assertTrue(False, "never")`, nil)
	inactive.Active = false
	checkers = append(checkers, inactive)

	r, s, transport := setup(t, checkers...)

	results, err := r.RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 6)

	green := 0
	for _, res := range results {
		require.NoError(t, res.Err)
		if res.Report.Green() {
			green++
		}
	}
	assert.Equal(t, 3, green)
	assert.Len(t, transport.Messages(""), 6)

	paused, err := s.Get(ctx, "paused")
	require.NoError(t, err)
	assert.Equal(t, store.StatusGreen, paused.Status)
}

func TestRunAll_UsesCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	r, s, _ := setup(t, staticChecker("c1", `CheckerCase().assertTrue(True, "ok")`, nil))

	results, err := r.RunAll(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	require.NoError(t, s.Add(ctx, staticChecker("c2", `CheckerCase().assertTrue(True, "ok")`, nil)))

	results, err = r.RunAll(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 1, "cached list should be used")

	r.Invalidate()
	results, err = r.RunAll(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRunAll_ReadsRuleEveryCycle(t *testing.T) {
	ctx := context.Background()
	r, s, _ := setup(t, staticChecker("c1", `CheckerCase().assertTrue(True, "ok")`, nil))

	results, err := r.RunAll(ctx)
	require.NoError(t, err)
	assert.True(t, results[0].Report.Green())

	c, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	c.Rule = `CheckerCase().assertTrue(False, "changed")`
	require.NoError(t, s.Update(ctx, c))

	results, err = r.RunAll(ctx)
	require.NoError(t, err)
	assert.False(t, results[0].Report.Green())
	assert.Equal(t, "changed", results[0].Report.Outcome.Message)
}

// countingNotifier counts notifications without publishing them
type countingNotifier struct {
	calls atomic.Int64
}

func (n *countingNotifier) Succeeded(ctx context.Context, _ rules.Rule, _ rules.DatasetMap) error {
	n.calls.Add(1)
	return nil
}

func (n *countingNotifier) Alarm(ctx context.Context, _ rules.Rule, _ error, _ rules.DatasetMap) error {
	n.calls.Add(1)
	return nil
}

func TestStartStop(t *testing.T) {
	s := store.NewInMemoryCheckerStore()
	require.NoError(t, s.Add(context.Background(), staticChecker("c1", `CheckerCase().assertTrue(True, "ok")`, nil)))

	n := &countingNotifier{}
	r := New(s, nil, n, Config{Interval: 10 * time.Millisecond})

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()))

	assert.Eventually(t, func() bool { return n.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	r.Stop()
	after := n.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, n.calls.Load(), "no cycles after Stop")

	r.Stop()
}
