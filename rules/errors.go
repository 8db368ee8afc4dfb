package rules

import (
	"errors"
	"fmt"
)

// AssertionFailed is raised by the assertion API when a condition does not hold.
// Message is the rule author's text, unmodified.
type AssertionFailed struct {
	Message string
	Line    int
}

func (e *AssertionFailed) Error() string {
	return e.Message
}

// MalformedRuleError reports rule source that cannot be parsed
type MalformedRuleError struct {
	Line    int
	Column  int
	Snippet string
	Reason  string
}

func (e *MalformedRuleError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("malformed rule: %s", e.Reason)
	}
	if e.Snippet == "" {
		return fmt.Sprintf("malformed rule at line %d, column %d: %s", e.Line, e.Column, e.Reason)
	}
	return fmt.Sprintf("malformed rule at line %d, column %d: %s near %q", e.Line, e.Column, e.Reason, e.Snippet)
}

// Runtime error kinds raised by the evaluator
const (
	KindNameError         = "NameError"
	KindKeyError          = "KeyError"
	KindIndexError        = "IndexError"
	KindTypeError         = "TypeError"
	KindValueError        = "ValueError"
	KindZeroDivisionError = "ZeroDivisionError"
	KindOverflowError     = "OverflowError"
	KindAttributeError    = "AttributeError"
	KindUnsupportedError  = "UnsupportedError"
	KindRuntimeError      = "RuntimeError"
	KindBudgetExceeded    = "BudgetExceeded"
	KindCancelled         = "Cancelled"
)

// RuntimeError is any error other than an assertion failure raised while a
// rule runs. It maps to an Errored outcome.
type RuntimeError struct {
	Kind    string
	Message string
	Line    int
	Err     error
}

func (e *RuntimeError) Error() string {
	msg := e.Kind
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, e.Line)
	}
	return msg
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func runtimeErrorf(kind string, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsAssertionFailure reports whether err is, or wraps, an assertion failure
func IsAssertionFailure(err error) bool {
	var af *AssertionFailed
	return errors.As(err, &af)
}

// IsMalformed reports whether err is, or wraps, a malformed rule error
func IsMalformed(err error) bool {
	var me *MalformedRuleError
	return errors.As(err, &me)
}
