package checker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/liamcoop/checkers/internal/logger"
	"github.com/liamcoop/checkers/rules"
)

// State is how far a cycle progressed
type State int

const (
	Idle State = iota
	DatasetsFetched
	Filtered
	Evaluated
	Notified
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DatasetsFetched:
		return "datasets_fetched"
	case Filtered:
		return "filtered"
	case Evaluated:
		return "evaluated"
	case Notified:
		return "notified"
	default:
		return "unknown"
	}
}

// Report describes one finished cycle
type Report struct {
	CheckerID string
	Outcome   rules.Outcome
	// Cause is the classified error handed to Alarm, nil when the rule passed
	Cause    error
	State    State
	Dropped  []rules.Dropped
	Datasets rules.DatasetMap
	Started  time.Time
	Duration time.Duration
}

// Green reports whether the rule passed
func (r *Report) Green() bool {
	return r != nil && r.Outcome.Green()
}

// Executor runs check cycles for one rule: fetch datasets, filter, evaluate,
// notify. A cycle only moves forward and nothing is retried.
type Executor struct {
	rule      rules.Rule
	providers []Provider
	notifier  Notifier
	engine    *rules.Engine
	metrics   *Metrics
	timeout   time.Duration
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithEngine sets the rules engine. The default engine has the default step
// limit.
func WithEngine(en *rules.Engine) ExecutorOption {
	return func(e *Executor) {
		e.engine = en
	}
}

// WithMetrics records cycles in m
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithCycleTimeout bounds dataset fetching and evaluation. Notification is
// not bounded by it.
func WithCycleTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// NewExecutor creates an executor for rule
func NewExecutor(rule rules.Rule, providers []Provider, notifier Notifier, opts ...ExecutorOption) *Executor {
	e := &Executor{
		rule:      rule,
		providers: providers,
		notifier:  notifier,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.engine == nil {
		e.engine = rules.NewEngine()
	}
	return e
}

// Rule returns the rule this executor checks
func (e *Executor) Rule() rules.Rule {
	return e.rule
}

// Exec runs one cycle. green is true only when the rule passed. The error is
// non-nil only when the notifier failed.
func (e *Executor) Exec(ctx context.Context) (bool, error) {
	report, err := e.Run(ctx)
	return report.Green(), err
}

// Run runs one cycle and returns its report. The error is non-nil only when
// the notifier failed; the report is always returned.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		CheckerID: e.rule.ID,
		State:     Idle,
		Started:   time.Now(),
	}

	cycleCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	report.Outcome = e.evaluate(cycleCtx, report)
	report.Cause = outcomeCause(report.Outcome)

	var err error
	if report.Cause == nil {
		err = e.notifier.Succeeded(ctx, e.rule, report.Datasets)
	} else {
		err = e.notifier.Alarm(ctx, e.rule, report.Cause, report.Datasets)
	}
	report.Duration = time.Since(report.Started)

	if err != nil {
		if !errors.Is(err, ErrNotifierFailure) {
			err = errors.Mark(err, ErrNotifierFailure)
		}
		e.metrics.notifierFailed()
		e.metrics.observeCycle(report.Outcome.Kind.String(), report.Duration)
		logger.Error("notifier failed",
			"checker_id", e.rule.ID,
			"outcome", report.Outcome.Kind.String(),
			"state", report.State.String(),
			"error", err)
		return report, err
	}

	report.State = Notified
	e.metrics.observeCycle(report.Outcome.Kind.String(), report.Duration)
	logger.Info("check cycle finished",
		"checker_id", e.rule.ID,
		"outcome", report.Outcome.Kind.String(),
		"green", report.Outcome.Green(),
		"state", report.State.String(),
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}

// evaluate advances report through fetching, filtering and evaluation and
// returns the cycle outcome
func (e *Executor) evaluate(ctx context.Context, report *Report) rules.Outcome {
	datasets, err := BuildDatasetMap(ctx, e.providers)
	if err != nil {
		logger.Warn("failed to build datasets", "checker_id", e.rule.ID, "error", err)
		return rules.ErroredOutcome(err)
	}
	report.Datasets = datasets
	report.State = DatasetsFetched

	s, err := e.engine.Filter(ctx, e.rule)
	if err != nil {
		logger.Debug("rule is malformed", "checker_id", e.rule.ID, "error", err)
		return rules.ErroredOutcome(errors.Mark(err, ErrMalformedRule))
	}
	report.Dropped = s.Dropped
	report.State = Filtered
	for _, d := range s.Dropped {
		logger.Debug("dropped rule construct",
			"checker_id", e.rule.ID,
			"kind", string(d.Kind),
			"line", d.Line,
			"reason", d.Reason)
	}

	outcome := e.engine.Evaluate(ctx, s, datasets)
	report.State = Evaluated
	return outcome
}
