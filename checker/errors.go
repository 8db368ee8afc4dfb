package checker

import (
	"github.com/cockroachdb/errors"

	"github.com/liamcoop/checkers/rules"
)

// Cycle error taxonomy. Causes passed to Notifier.Alarm are marked with one
// of these so callers can classify them with errors.Is.
var (
	// ErrMalformedRule marks rule source that could not be parsed or compiled
	ErrMalformedRule = errors.New("malformed rule")

	// ErrAssertionFailed marks an expected, data-driven assertion failure
	ErrAssertionFailed = errors.New("assertion failed")

	// ErrUnsafeOrBrokenRule marks any other error raised while a rule ran
	ErrUnsafeOrBrokenRule = errors.New("unsafe or broken rule")

	// ErrProviderFailure marks a dataset fetch that failed
	ErrProviderFailure = errors.New("dataset provider failure")

	// ErrDuplicateDataset marks two providers reporting the same identity.
	// It is a configuration error; datasets are never merged.
	ErrDuplicateDataset = errors.New("duplicate dataset identity")

	// ErrNotifierFailure marks a declare or publish that failed. It is the
	// only error that propagates out of a cycle.
	ErrNotifierFailure = errors.New("notifier failure")
)

// Classify returns the taxonomy sentinel err is marked with, or nil
func Classify(err error) error {
	for _, sentinel := range []error{
		ErrNotifierFailure,
		ErrDuplicateDataset,
		ErrProviderFailure,
		ErrMalformedRule,
		ErrAssertionFailed,
		ErrUnsafeOrBrokenRule,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

// outcomeCause converts a non-passing outcome into the cause handed to the
// notifier. The message text is preserved exactly.
func outcomeCause(o rules.Outcome) error {
	switch o.Kind {
	case rules.Passed:
		return nil
	case rules.Failed:
		return errors.Mark(o.Err(), ErrAssertionFailed)
	}
	cause := o.Err()
	if Classify(cause) != nil {
		return cause
	}
	if rules.IsMalformed(cause) {
		return errors.Mark(cause, ErrMalformedRule)
	}
	return errors.Mark(cause, ErrUnsafeOrBrokenRule)
}
