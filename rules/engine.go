package rules

import (
	"context"
	"fmt"
)

// Engine filters and evaluates rules. It holds no per-rule state: every
// cycle re-filters the source and evaluates in a fresh environment, so one
// Engine is safe to share between goroutines.
type Engine struct {
	stepLimit int64
}

// Option configures an Engine
type Option func(*Engine)

// WithStepLimit bounds the evaluation steps of python-dialect rules. Zero or
// negative disables the bound.
func WithStepLimit(limit int64) Option {
	return func(en *Engine) {
		en.stepLimit = limit
	}
}

// NewEngine creates a rules engine with the default step limit
func NewEngine(opts ...Option) *Engine {
	en := &Engine{stepLimit: DefaultStepLimit}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

// StepLimit returns the configured evaluation step limit
func (en *Engine) StepLimit() int64 {
	return en.stepLimit
}

// Filter sanitizes a rule. Malformed source returns a *MalformedRuleError.
func (en *Engine) Filter(ctx context.Context, rule Rule) (*Sanitized, error) {
	return Filter(ctx, rule)
}

// Evaluate runs a sanitized rule against datasets. AssertionFailed maps to
// Failed, any other error to Errored, and completion to Passed. A panic while
// evaluating is recovered as an Errored outcome.
func (en *Engine) Evaluate(ctx context.Context, s *Sanitized, datasets DatasetMap) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = ErroredOutcome(runtimeErrorf(KindRuntimeError, "evaluator panic: %v", r))
		}
	}()
	if s == nil {
		return ErroredOutcome(fmt.Errorf("rule was not filtered"))
	}
	if s.celAST != nil {
		return evaluateCEL(ctx, s.celAST, datasets)
	}
	if s.Module == nil {
		return ErroredOutcome(fmt.Errorf("rule %s has no program", s.Rule.ID))
	}

	in := newInterp(ctx, datasets, en.stepLimit)
	err := in.run(s.Module)
	if err == nil {
		return PassedOutcome()
	}
	if af, ok := err.(*AssertionFailed); ok {
		return FailedOutcome(af.Message)
	}
	return ErroredOutcome(err)
}

// Check filters then evaluates a rule in one call. A malformed rule is an
// Errored outcome. The sanitized rule is returned when filtering succeeded.
func (en *Engine) Check(ctx context.Context, rule Rule, datasets DatasetMap) (Outcome, *Sanitized) {
	s, err := en.Filter(ctx, rule)
	if err != nil {
		return ErroredOutcome(err), nil
	}
	return en.Evaluate(ctx, s, datasets), s
}

// Evaluate is Engine.Evaluate with the default step limit
func Evaluate(ctx context.Context, s *Sanitized, datasets DatasetMap) Outcome {
	return NewEngine().Evaluate(ctx, s, datasets)
}
