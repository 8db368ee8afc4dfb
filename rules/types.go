package rules

import (
	"fmt"
	"strings"
)

// Dialect names the language a rule's source is written in
type Dialect string

const (
	// DialectPython is the filtered statement language rules are authored in by default
	DialectPython Dialect = "python"
	// DialectCEL is a single CEL expression
	DialectCEL Dialect = "cel"
)

// ParseDialect maps a stored dialect name to a Dialect. Empty means python.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(DialectPython):
		return DialectPython, nil
	case string(DialectCEL):
		return DialectCEL, nil
	default:
		return "", fmt.Errorf("unknown rule dialect %q (must be one of: python, cel)", name)
	}
}

// Rule is the source text of one checker's condition, fetched once per cycle
type Rule struct {
	ID      string // checker id
	Name    string
	Source  string
	Dialect Dialect
}

// Row is one record of a dataset. Values are scalars: string, int64,
// float64, bool or nil.
type Row []any

// Dataset is an ordered sequence of rows
type Dataset []Row

// DatasetMap maps dataset identity to its rows for one cycle
type DatasetMap map[string]Dataset

// Names returns the dataset identities in the map
func (m DatasetMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

// OutcomeKind tags an evaluation outcome
type OutcomeKind int

const (
	// Passed means the rule ran to completion without a violated assertion
	Passed OutcomeKind = iota
	// Failed means the rule ran and an assertion was violated
	Failed
	// Errored means the rule could not run safely or raised a non-assertion error
	Errored
)

// String returns the string representation of OutcomeKind
func (k OutcomeKind) String() string {
	switch k {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Outcome is the result of evaluating one rule in one cycle
type Outcome struct {
	Kind    OutcomeKind
	Message string // assertion message, set when Kind == Failed
	Cause   error  // set when Kind == Errored
}

// PassedOutcome returns a Passed outcome
func PassedOutcome() Outcome {
	return Outcome{Kind: Passed}
}

// FailedOutcome returns a Failed outcome carrying message verbatim
func FailedOutcome(message string) Outcome {
	return Outcome{Kind: Failed, Message: message}
}

// ErroredOutcome returns an Errored outcome for cause
func ErroredOutcome(cause error) Outcome {
	return Outcome{Kind: Errored, Cause: cause}
}

// Green reports whether the outcome should be displayed as healthy
func (o Outcome) Green() bool {
	return o.Kind == Passed
}

// Err returns the outcome as an error, or nil for Passed. Failed outcomes
// return an *AssertionFailed.
func (o Outcome) Err() error {
	switch o.Kind {
	case Passed:
		return nil
	case Failed:
		return &AssertionFailed{Message: o.Message}
	default:
		if o.Cause == nil {
			return fmt.Errorf("rule errored")
		}
		return o.Cause
	}
}

// String renders the outcome for logs
func (o Outcome) String() string {
	switch o.Kind {
	case Failed:
		return fmt.Sprintf("failed: %s", o.Message)
	case Errored:
		if o.Cause == nil {
			return "errored"
		}
		return fmt.Sprintf("errored: %v", o.Cause)
	default:
		return o.Kind.String()
	}
}
