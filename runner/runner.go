package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/checkers/checker"
	"github.com/liamcoop/checkers/datasource"
	"github.com/liamcoop/checkers/internal/logger"
	"github.com/liamcoop/checkers/rules"
	"github.com/liamcoop/checkers/store"
)

// Config controls scheduling
type Config struct {
	Interval     time.Duration `mapstructure:"interval"`
	Concurrency  int           `mapstructure:"concurrency"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
}

// DefaultConfig runs every minute, one checker at a time
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Concurrency: 1,
	}
}

// Result is the outcome of one checker in a RunAll pass
type Result struct {
	CheckerID string
	Report    *checker.Report
	Err       error
}

// Runner builds executors for stored checkers, runs their cycles and
// persists status and history
type Runner struct {
	store    store.CheckerStore
	registry *datasource.Registry
	notifier checker.Notifier
	engine   *rules.Engine
	metrics  *checker.Metrics
	cache    CheckersCache
	cfg      Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Option configures a Runner
type Option func(*Runner)

// WithEngine sets the rules engine shared by every executor
func WithEngine(en *rules.Engine) Option {
	return func(r *Runner) { r.engine = en }
}

// WithMetrics records cycle metrics
func WithMetrics(m *checker.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithCache replaces the active checker cache
func WithCache(c CheckersCache) Option {
	return func(r *Runner) { r.cache = c }
}

// New creates a runner
func New(s store.CheckerStore, registry *datasource.Registry, n checker.Notifier, cfg Config, opts ...Option) *Runner {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if registry == nil {
		registry = datasource.NewRegistry()
	}

	r := &Runner{
		store:    s,
		registry: registry,
		notifier: n,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.engine == nil {
		r.engine = rules.NewEngine()
	}
	if r.cache == nil {
		r.cache = NewInMemoryCheckersCache(DefaultCacheConfig())
	}
	return r
}

// Invalidate drops the cached active checker list
func (r *Runner) Invalidate() {
	r.cache.Invalidate()
}

// Engine returns the rules engine executors use
func (r *Runner) Engine() *rules.Engine {
	return r.engine
}

// Executor builds the executor for one cycle of c. A dataset that cannot be
// built fails its fetch, so the cycle still raises exactly one alarm.
func (r *Runner) Executor(c *store.Checker) *checker.Executor {
	providers := make([]checker.Provider, 0, len(c.Datasources))
	for _, spec := range c.Datasources {
		p, err := r.registry.Provider(spec)
		if err != nil {
			buildErr := err
			p = checker.ProviderFunc{
				Name: spec.Name,
				Fn: func(ctx context.Context) (rules.Dataset, error) {
					return nil, buildErr
				},
			}
		}
		providers = append(providers, p)
	}

	opts := []checker.ExecutorOption{
		checker.WithEngine(r.engine),
		checker.WithMetrics(r.metrics),
	}
	if r.cfg.CycleTimeout > 0 {
		opts = append(opts, checker.WithCycleTimeout(r.cfg.CycleTimeout))
	}
	return checker.NewExecutor(c.RuleSpec(), providers, r.notifier, opts...)
}

// RunOnce loads a checker and runs one cycle
func (r *Runner) RunOnce(ctx context.Context, id string) (*checker.Report, error) {
	c, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.RunChecker(ctx, c)
}

// RunChecker runs one cycle of c and records it. When the notifier fails the
// status is left unchanged, a notifier_error execution is recorded and the
// notifier error is returned.
func (r *Runner) RunChecker(ctx context.Context, c *store.Checker) (*checker.Report, error) {
	report, runErr := r.Executor(c).Run(ctx)

	exec := &store.Execution{
		CheckerID:  c.ID,
		Outcome:    report.Outcome.Kind.String(),
		StartedAt:  report.Started.UTC(),
		FinishedAt: report.Started.Add(report.Duration).UTC(),
	}
	if report.Cause != nil {
		exec.Cause = report.Cause.Error()
	}

	if runErr != nil {
		exec.Status = c.Status
		exec.Outcome = store.OutcomeNotifierError
		exec.Cause = runErr.Error()
		if err := r.store.RecordExecution(ctx, exec); err != nil {
			logger.Error("failed to record execution", "checker_id", c.ID, "error", err)
		}
		return report, runErr
	}

	exec.Status = store.StatusFor(report.Green())
	if err := r.store.SetStatus(ctx, c.ID, exec.Status); err != nil {
		return report, fmt.Errorf("failed to set status: %w", err)
	}
	if err := r.store.RecordExecution(ctx, exec); err != nil {
		return report, fmt.Errorf("failed to record execution: %w", err)
	}
	return report, nil
}

// activeCheckers returns the cached active list, reloading it on a miss
func (r *Runner) activeCheckers(ctx context.Context) ([]*store.Checker, error) {
	if checkers := r.cache.Get(); checkers != nil {
		return checkers, nil
	}
	checkers, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active checkers: %w", err)
	}
	r.cache.Set(checkers)
	return checkers, nil
}

// RunAll runs one cycle of every active checker with bounded parallelism.
// A failing checker does not stop the others; its error is in its Result.
func (r *Runner) RunAll(ctx context.Context) ([]Result, error) {
	checkers, err := r.activeCheckers(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(checkers))
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	for i, listed := range checkers {
		g.Go(func() error {
			results[i].CheckerID = listed.ID

			// the definition is read once per cycle
			c, err := r.store.Get(ctx, listed.ID)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Report, results[i].Err = r.RunChecker(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil && !errors.Is(res.Err, store.ErrNotFound) {
			errs = append(errs, fmt.Errorf("checker %s: %w", res.CheckerID, res.Err))
		}
	}
	return results, errors.Join(errs...)
}

// Start runs every active checker now and then on every interval until ctx
// is cancelled or Stop is called
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return errors.New("runner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.stopped = make(chan struct{})

	go r.loop(ctx, r.stopped)

	logger.Info("runner started",
		"interval", r.cfg.Interval.String(),
		"concurrency", r.cfg.Concurrency)
	return nil
}

func (r *Runner) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	results, err := r.RunAll(ctx)
	if err != nil {
		logger.Warn("check pass finished with errors", "error", err)
	}

	green := 0
	for _, res := range results {
		if res.Report.Green() && res.Err == nil {
			green++
		}
	}
	logger.Debug("check pass finished",
		"checkers", len(results),
		"green", green,
		"duration_ms", time.Since(start).Milliseconds())
}

// Stop cancels the loop and waits for the running pass to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, stopped := r.cancel, r.stopped
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	logger.Info("runner stopped")
}
