package store

import (
	"time"

	"github.com/liamcoop/checkers/datasource"
	"github.com/liamcoop/checkers/rules"
)

// Status is the health shown for a checker
type Status string

const (
	StatusGreen Status = "GREEN"
	StatusRed   Status = "RED"
)

// StatusFor maps a cycle result to a status
func StatusFor(green bool) Status {
	if green {
		return StatusGreen
	}
	return StatusRed
}

// Checker ties one rule to its datasources
type Checker struct {
	ID          string            `json:"id" yaml:"id"`
	Description string            `json:"description" yaml:"description" validate:"max=1024"`
	Rule        string            `json:"rule" yaml:"rule" validate:"required"`
	Dialect     rules.Dialect     `json:"dialect" yaml:"dialect" validate:"omitempty,oneof=python cel"`
	Datasources []datasource.Spec `json:"datasources" yaml:"datasources" validate:"max=100,dive"`
	Status      Status            `json:"status" yaml:"-"`
	Active      bool              `json:"active" yaml:"-"`
	CreatedAt   time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"-"`
}

// RuleSpec returns the rule evaluated for this checker
func (c *Checker) RuleSpec() rules.Rule {
	dialect := c.Dialect
	if dialect == "" {
		dialect = rules.DialectPython
	}
	return rules.Rule{
		ID:      c.ID,
		Name:    c.Description,
		Source:  c.Rule,
		Dialect: dialect,
	}
}

func (c *Checker) clone() *Checker {
	cp := *c
	if c.Datasources != nil {
		cp.Datasources = append([]datasource.Spec(nil), c.Datasources...)
	}
	return &cp
}

// Execution outcomes beyond the rules outcome kinds
const (
	OutcomeNotifierError = "notifier_error"
)

// Execution records one cycle of a checker
type Execution struct {
	ID         string    `json:"id"`
	CheckerID  string    `json:"checker_id"`
	Status     Status    `json:"status"`
	Outcome    string    `json:"outcome"`
	Cause      string    `json:"cause,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
