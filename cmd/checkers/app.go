package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liamcoop/checkers/checker"
	"github.com/liamcoop/checkers/config"
	"github.com/liamcoop/checkers/datasource"
	"github.com/liamcoop/checkers/internal/logger"
	"github.com/liamcoop/checkers/notifier"
	"github.com/liamcoop/checkers/rules"
	"github.com/liamcoop/checkers/runner"
	"github.com/liamcoop/checkers/store"
)

// app wires the store, datasources, notifier and runner for one process
type app struct {
	cfg      *config.Config
	store    store.CheckerStore
	sqlStore *store.SQLCheckerStore
	registry *datasource.Registry
	notifier *checker.EventNotifier
	engine   *rules.Engine
	runner   *runner.Runner

	closers []func() error
}

// newApp builds every component named by cfg. Metrics are registered with
// reg when it is not nil.
func newApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	registry, err := datasource.Open(ctx, cfg.Connections, cfg.Influx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open datasources: %w", err)
	}
	a.registry = registry
	a.closers = append(a.closers, registry.Close)

	n, closeNotifier, err := notifier.NewNotifier(cfg.Notifier)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}
	a.notifier = n
	a.closers = append(a.closers, closeNotifier)

	var engineOpts []rules.Option
	if cfg.Runner.StepLimit != 0 {
		engineOpts = append(engineOpts, rules.WithStepLimit(cfg.Runner.StepLimit))
	}
	a.engine = rules.NewEngine(engineOpts...)

	runnerOpts := []runner.Option{
		runner.WithEngine(a.engine),
		runner.WithCache(runner.NewInMemoryCheckersCache(runner.CacheConfig{TTL: cfg.Runner.CacheTTL})),
	}
	if reg != nil {
		runnerOpts = append(runnerOpts, runner.WithMetrics(checker.NewMetrics(reg)))
	}
	a.runner = runner.New(a.store, a.registry, a.notifier, cfg.Runner.Config, runnerOpts...)

	logger.Info("components ready",
		"store", cfg.Database.Driver,
		"notifier", cfg.Notifier.Kind,
		"connections", len(registry.Names()))
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "", config.DriverMemory:
		a.store = store.NewInMemoryCheckerStore()
		return nil
	case config.DriverPostgres, config.DriverSQLite:
		s, err := store.OpenSQL(ctx, a.cfg.Database.Driver, a.cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to open checker store: %w", err)
		}
		a.store = s
		a.sqlStore = s
		a.closers = append(a.closers, s.Close)
		return nil
	default:
		return fmt.Errorf("unsupported database driver: %s", a.cfg.Database.Driver)
	}
}

// migrate brings a SQL store up to date. The in-memory store needs nothing.
func (a *app) migrate() error {
	if a.sqlStore == nil {
		return nil
	}
	return store.Migrate(a.cfg.Database.Driver, a.cfg.Database.URL, a.cfg.Database.Migrations, store.MigrateUp, 0)
}

// seed adds the checkers defined in path. Checkers that already exist are
// left as they are.
func (a *app) seed(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	checkers, err := store.LoadFile(path)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, c := range checkers {
		if _, err := a.engine.Filter(ctx, c.RuleSpec()); err != nil {
			return added, fmt.Errorf("checker %s: %w", c.ID, err)
		}
		err := a.store.Add(ctx, c)
		if errors.Is(err, store.ErrAlreadyExists) {
			logger.Debug("checker already exists, skipping", "checker_id", c.ID)
			continue
		}
		if err != nil {
			return added, fmt.Errorf("failed to add checker %s: %w", c.ID, err)
		}
		added++
	}
	a.runner.Invalidate()
	logger.Info("checkers loaded", "file", path, "added", added, "defined", len(checkers))
	return added, nil
}

// healthCheck pings the SQL store when there is one
func (a *app) healthCheck(ctx context.Context) error {
	if a.sqlStore == nil {
		return nil
	}
	return a.sqlStore.DB().PingContext(ctx)
}

// Close releases everything in reverse order of creation
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
