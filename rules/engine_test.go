package rules

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func check(t *testing.T, en *Engine, source string, datasets DatasetMap) Outcome {
	t.Helper()
	s, err := en.Filter(context.Background(), Rule{ID: "checker-1", Source: source})
	if err != nil {
		t.Fatalf("Filter() failed: %v", err)
	}
	return en.Evaluate(context.Background(), s, datasets)
}

func runtimeKind(o Outcome) string {
	var re *RuntimeError
	if errors.As(o.Cause, &re) {
		return re.Kind
	}
	return ""
}

// TestEvaluateScenarios covers the reference checker scenarios
func TestEvaluateScenarios(t *testing.T) {
	testCases := []struct {
		name        string
		source      string
		datasets    DatasetMap
		wantKind    OutcomeKind
		wantMessage string
	}{
		{
			name:        "assertion fails with no datasets",
			source:      `CheckerCase().assertTrue(False, "bad")`,
			datasets:    DatasetMap{},
			wantKind:    Failed,
			wantMessage: "bad",
		},
		{
			name:     "size assertion passes",
			source:   `CheckerCase().assertGreaterThan(datasets["my_data"], 2, "bad")`,
			datasets: DatasetMap{"my_data": Dataset{{int64(1)}, {int64(2)}, {int64(3)}}},
			wantKind: Passed,
		},
		{
			name:     "missing dataset is an error not a failure",
			source:   `CheckerCase().assertEmpty(datasets["missing"], "bad")`,
			datasets: DatasetMap{},
			wantKind: Errored,
		},
		{
			name:     "empty rule passes",
			source:   "",
			datasets: DatasetMap{},
			wantKind: Passed,
		},
	}

	en := NewEngine()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := check(t, en, tc.source, tc.datasets)
			if got.Kind != tc.wantKind {
				t.Fatalf("Kind = %s, want %s (outcome %s)", got.Kind, tc.wantKind, got)
			}
			if got.Message != tc.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tc.wantMessage)
			}
			if got.Green() != (tc.wantKind == Passed) {
				t.Errorf("Green() = %v for %s", got.Green(), got.Kind)
			}
		})
	}
}

// TestMissingDatasetIsKeyError verifies the cause of a missing dataset lookup
func TestMissingDatasetIsKeyError(t *testing.T) {
	got := check(t, NewEngine(), `x = datasets["missing"]`, DatasetMap{})
	if kind := runtimeKind(got); kind != KindKeyError {
		t.Errorf("cause kind = %q, want %q (cause %v)", kind, KindKeyError, got.Cause)
	}
}

// TestAssertionAPI verifies each assertion's pass and fail behaviour
func TestAssertionAPI(t *testing.T) {
	testCases := []struct {
		name        string
		call        string
		wantKind    OutcomeKind
		wantMessage string
	}{
		{name: "assertTrue false", call: `assertTrue(False, "m")`, wantKind: Failed, wantMessage: "m"},
		{name: "assertTrue true", call: `assertTrue(True, "m")`, wantKind: Passed},
		{name: "assertTrue truthy list", call: `assertTrue([0], "m")`, wantKind: Passed},
		{name: "assertTrue falsy string", call: `assertTrue("", "m")`, wantKind: Failed, wantMessage: "m"},
		{name: "assertFalse true", call: `assertFalse(True, "f")`, wantKind: Failed, wantMessage: "f"},
		{name: "assertFalse none", call: `assertFalse(None, "f")`, wantKind: Passed},
		{name: "assertEqual lists", call: `assertEqual([1, [2, "x"]], [1, [2, "x"]], "eq")`, wantKind: Passed},
		{name: "assertEqual int and float", call: `assertEqual(1, 1.0, "eq")`, wantKind: Passed},
		{name: "assertEqual list and tuple", call: `assertEqual([1], (1,), "eq")`, wantKind: Failed, wantMessage: "eq"},
		{name: "assertEqual dict order", call: `assertEqual({"a": 1, "b": 2}, {"b": 2, "a": 1}, "eq")`, wantKind: Passed},
		{name: "assertEqual differs", call: `assertEqual("a", "b", "eq")`, wantKind: Failed, wantMessage: "eq"},
		{name: "assertLessThan holds", call: `assertLessThan([1, 2], 3, "lt")`, wantKind: Passed},
		{name: "assertLessThan equal size", call: `assertLessThan([1, 2], 2, "lt")`, wantKind: Failed, wantMessage: "lt"},
		{name: "assertGreaterThan holds", call: `assertGreaterThan("abc", 2, "gt")`, wantKind: Passed},
		{name: "assertGreaterThan equal size", call: `assertGreaterThan([1], 1, "gt")`, wantKind: Failed, wantMessage: "gt"},
		{name: "assertEmpty empty", call: `assertEmpty([], "e")`, wantKind: Passed},
		{name: "assertEmpty non-empty", call: `assertEmpty({"k": 1}, "e")`, wantKind: Failed, wantMessage: "e"},
		{name: "keyword arguments", call: `assertTrue(expression=False, message="kw")`, wantKind: Failed, wantMessage: "kw"},
		{name: "legacy assertEqual keywords", call: `assertEqual(first_item=1, second_item=2, message="old")`, wantKind: Failed, wantMessage: "old"},
		{name: "message rendered with str", call: `assertTrue(False, 42)`, wantKind: Failed, wantMessage: "42"},
		{name: "message kept verbatim", call: `assertTrue(False, "  spaced\tand long message  ")`, wantKind: Failed, wantMessage: "  spaced\tand long message  "},
		{name: "missing message", call: `assertTrue(False)`, wantKind: Errored},
		{name: "len of non-collection", call: `assertEmpty(5, "e")`, wantKind: Errored},
		{name: "unknown assertion", call: `assertAlmostEqual(1, 1, "x")`, wantKind: Errored},
	}

	en := NewEngine()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := check(t, en, "CheckerCase()."+tc.call, DatasetMap{})
			if got.Kind != tc.wantKind {
				t.Fatalf("Kind = %s, want %s (outcome %s)", got.Kind, tc.wantKind, got)
			}
			if got.Message != tc.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tc.wantMessage)
			}
		})
	}
}

// TestAssertEmptyMatchesAssertLessThanOne verifies assertEmpty(c, m) behaves
// exactly like assertLessThan(c, 1, m)
func TestAssertEmptyMatchesAssertLessThanOne(t *testing.T) {
	collections := []string{`[]`, `[1]`, `[1, 2]`, `""`, `"ab"`, `{}`, `{"a": 1}`, `()`, `range(0)`, `range(4)`, `7`}

	en := NewEngine()
	for _, c := range collections {
		empty := check(t, en, "CheckerCase().assertEmpty("+c+", 'm')", DatasetMap{})
		lessThan := check(t, en, "CheckerCase().assertLessThan("+c+", 1, 'm')", DatasetMap{})
		if empty.Kind != lessThan.Kind || empty.Message != lessThan.Message {
			t.Errorf("collection %s: assertEmpty = %s, assertLessThan(c, 1) = %s", c, empty, lessThan)
		}
	}
}

// TestRaiseFailedAssertion verifies raising FailedAssertion fails the rule
func TestRaiseFailedAssertion(t *testing.T) {
	testCases := []struct {
		name        string
		source      string
		wantKind    OutcomeKind
		wantMessage string
	}{
		{name: "with message", source: `raise FailedAssertion("boom")`, wantKind: Failed, wantMessage: "boom"},
		{name: "class only", source: `raise FailedAssertion`, wantKind: Failed},
		{name: "inside loop", source: "for r in [1, 2]:\n    if r == 2:\n        raise FailedAssertion('row ' + str(r))\n", wantKind: Failed, wantMessage: "row 2"},
		{name: "non-exception", source: `raise "text"`, wantKind: Errored},
		{name: "bare raise", source: `raise`, wantKind: Errored},
	}

	en := NewEngine()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := check(t, en, tc.source, DatasetMap{})
			if got.Kind != tc.wantKind {
				t.Fatalf("Kind = %s, want %s (outcome %s)", got.Kind, tc.wantKind, got)
			}
			if got.Message != tc.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tc.wantMessage)
			}
		})
	}
}

// TestRuntimeErrorsAreErrored verifies non-assertion errors map to Errored
// with a typed cause
func TestRuntimeErrorsAreErrored(t *testing.T) {
	testCases := []struct {
		name     string
		source   string
		wantKind string
	}{
		{name: "division by zero", source: "x = 1 / 0", wantKind: KindZeroDivisionError},
		{name: "undefined name", source: "x = undefined_thing", wantKind: KindNameError},
		{name: "index out of range", source: "x = [1][5]", wantKind: KindIndexError},
		{name: "bad operand", source: "x = 1 + 'a'", wantKind: KindTypeError},
		{name: "bad int literal", source: "x = int('abc')", wantKind: KindValueError},
		{name: "unknown attribute", source: "x = CheckerCase().run", wantKind: KindAttributeError},
		{name: "lambda", source: "f = lambda: 1", wantKind: KindUnsupportedError},
		{name: "try statement", source: "try:\n    x = 1\nexcept Exception:\n    pass\n", wantKind: KindUnsupportedError},
		{name: "with statement", source: "with thing:\n    pass\n", wantKind: KindUnsupportedError},
		{name: "walrus", source: "if (n := 3) > 1:\n    pass\n", wantKind: KindUnsupportedError},
		{name: "dropped function is undefined", source: "def helper():\n    return 1\nx = helper()\n", wantKind: KindNameError},
		{name: "imported module is undefined", source: "import os\nos.system('true')\n", wantKind: KindNameError},
		{name: "datasets is read-only", source: "datasets['x'] = []", wantKind: KindTypeError},
		{name: "loop cannot rebind reserved names", source: "for datasets in [1]:\n    pass\n", wantKind: KindTypeError},
		{name: "unhashable key", source: "x = {[1]: 2}", wantKind: KindTypeError},
		{name: "unpack mismatch", source: "a, b = [1, 2, 3]", wantKind: KindValueError},
	}

	en := NewEngine()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := check(t, en, tc.source, DatasetMap{})
			if got.Kind != Errored {
				t.Fatalf("Kind = %s, want errored (outcome %s)", got.Kind, got)
			}
			if kind := runtimeKind(got); kind != tc.wantKind {
				t.Errorf("cause kind = %q, want %q (cause %v)", kind, tc.wantKind, got.Cause)
			}
		})
	}
}

// TestRuntimeErrorCarriesLine verifies errors report the failing line
func TestRuntimeErrorCarriesLine(t *testing.T) {
	got := check(t, NewEngine(), "x = 1\ny = 2\nz = x / 0\n", DatasetMap{})

	var re *RuntimeError
	if !errors.As(got.Cause, &re) {
		t.Fatalf("cause = %v, want a RuntimeError", got.Cause)
	}
	if re.Line != 3 {
		t.Errorf("Line = %d, want 3", re.Line)
	}
}

// TestFailFast verifies the first failed assertion ends the run
func TestFailFast(t *testing.T) {
	source := "c = CheckerCase()\nc.assertTrue(False, 'first')\nc.assertTrue(False, 'second')\n"
	got := check(t, NewEngine(), source, DatasetMap{})
	if got.Kind != Failed || got.Message != "first" {
		t.Errorf("outcome = %s, want failed: first", got)
	}
}

// TestStepLimit verifies runaway rules are stopped
func TestStepLimit(t *testing.T) {
	en := NewEngine(WithStepLimit(1000))

	got := check(t, en, "while True:\n    pass\n", DatasetMap{})
	if got.Kind != Errored {
		t.Fatalf("Kind = %s, want errored", got.Kind)
	}
	if kind := runtimeKind(got); kind != KindBudgetExceeded {
		t.Errorf("cause kind = %q, want %q", kind, KindBudgetExceeded)
	}

	got = check(t, en, "x = [0] * 100000000", DatasetMap{})
	if kind := runtimeKind(got); kind != KindBudgetExceeded {
		t.Errorf("repetition cause kind = %q, want %q", kind, KindBudgetExceeded)
	}
}

// TestCancelledContext verifies evaluation honours context cancellation
func TestCancelledContext(t *testing.T) {
	en := NewEngine()
	s, err := en.Filter(context.Background(), Rule{ID: "c1", Source: "CheckerCase().assertTrue(True, 'm')"})
	if err != nil {
		t.Fatalf("Filter() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := en.Evaluate(ctx, s, DatasetMap{})
	if got.Kind != Errored {
		t.Fatalf("Kind = %s, want errored", got.Kind)
	}
	if !errors.Is(got.Cause, context.Canceled) {
		t.Errorf("cause = %v, want context.Canceled", got.Cause)
	}
}

// TestEvaluateDoesNotMutateDatasets verifies dataset rows are read-only inside
// a rule and that the caller's DatasetMap is untouched
func TestEvaluateDoesNotMutateDatasets(t *testing.T) {
	testCases := []struct {
		name     string
		source   string
		wantKind OutcomeKind
	}{
		{name: "append to dataset", source: "datasets['a'].append([9])", wantKind: Errored},
		{name: "extend dataset", source: "datasets['a'].extend([[9]])", wantKind: Errored},
		{name: "augmented append through alias", source: "rows = datasets['a']\nrows += [[9]]", wantKind: Errored},
		{name: "replace a row", source: "datasets['a'][0] = 'x'", wantKind: Errored},
		{name: "write a cell", source: "datasets['a'][0][0] = 99", wantKind: Errored},
		{
			name:     "mutation cannot make an assertion pass",
			source:   "datasets['a'].append([9])\nCheckerCase().assertGreaterThan(datasets['a'], 1, 'too few rows')",
			wantKind: Errored,
		},
		{
			name:     "copies are mutable",
			source:   "rows = list(datasets['a'])\nrows.append([2, 'y'])\nrow = list(rows[0])\nrow[0] = 99\nCheckerCase().assertEqual(len(rows), 2, 'copy')\nCheckerCase().assertEqual(len(datasets['a']), 1, 'original')",
			wantKind: Passed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			datasets := DatasetMap{"a": Dataset{{int64(1), "x"}}}
			want := DatasetMap{"a": Dataset{{int64(1), "x"}}}

			got := check(t, NewEngine(), tc.source, datasets)
			if got.Kind != tc.wantKind {
				t.Fatalf("outcome = %s, want %s", got, tc.wantKind)
			}
			if tc.wantKind == Errored {
				if kind := runtimeKind(got); kind != KindTypeError {
					t.Errorf("cause kind = %q, want %q (cause %v)", kind, KindTypeError, got.Cause)
				}
			}
			if !reflect.DeepEqual(datasets, want) {
				t.Errorf("datasets = %v, want %v", datasets, want)
			}
		})
	}
}

// TestEvaluatorBounds verifies extreme integers and sizes end in an outcome
// instead of wrapping, hanging or panicking
func TestEvaluatorBounds(t *testing.T) {
	testCases := []struct {
		name      string
		source    string
		stepLimit int64
		wantKind  OutcomeKind
		wantCause string
	}{
		{
			name:     "huge positive slice step",
			source:   "x = [1, 2, 3][1::9223372036854775807]\nCheckerCase().assertEqual(x, [2], 'slice')",
			wantKind: Passed,
		},
		{
			name:     "huge negative slice step",
			source:   "x = [1, 2, 3][1::-9223372036854775807]\nCheckerCase().assertEqual(x, [2], 'slice')",
			wantKind: Passed,
		},
		{
			name:      "range spanning int64 exceeds the budget",
			source:    "x = list(range(-9223372036854775807, 9223372036854775807))",
			wantKind:  Errored,
			wantCause: KindBudgetExceeded,
		},
		{
			name:      "len of range spanning int64",
			source:    "x = len(range(-9223372036854775807, 9223372036854775807))",
			wantKind:  Errored,
			wantCause: KindOverflowError,
		},
		{
			name:     "wide range with huge step",
			source:   "r = range(-9223372036854775807, 9223372036854775807, 4611686018427387904)\nCheckerCase().assertEqual(len(r), 4, 'len')\nCheckerCase().assertTrue(4611686018427387905 in r, 'last')\nCheckerCase().assertEqual(list(r)[3], 4611686018427387905, 'at')",
			wantKind: Passed,
		},
		{
			name:      "empty list repeated without a step limit",
			source:    "x = [] * 9223372036854775807\nCheckerCase().assertEqual(x, [], 'empty')",
			stepLimit: -1,
			wantKind:  Passed,
		},
		{
			name:      "large repetition exceeds the budget",
			source:    "x = [1] * 9223372036854775807",
			wantKind:  Errored,
			wantCause: KindBudgetExceeded,
		},
		{
			name:      "count is charged",
			source:    "x = [0] * 600000\nn = x.count(0) + x.index(1)",
			wantKind:  Errored,
			wantCause: KindBudgetExceeded,
		},
		{name: "addition overflow", source: "x = 9223372036854775807 + 1", wantKind: Errored, wantCause: KindOverflowError},
		{name: "subtraction overflow", source: "x = -9223372036854775807 - 2", wantKind: Errored, wantCause: KindOverflowError},
		{name: "multiplication overflow", source: "x = 4294967296 * 4294967296", wantKind: Errored, wantCause: KindOverflowError},
		{name: "power overflow", source: "x = 2 ** 64", wantKind: Errored, wantCause: KindOverflowError},
		{name: "shift overflow", source: "x = 1 << 63", wantKind: Errored, wantCause: KindOverflowError},
		{name: "int of huge float", source: "x = int(1e300)", wantKind: Errored, wantCause: KindOverflowError},
		{name: "round of huge float", source: "x = round(-1e19)", wantKind: Errored, wantCause: KindOverflowError},
		{name: "negate minimum", source: "x = -(-9223372036854775807 - 1)", wantKind: Errored, wantCause: KindOverflowError},
		{name: "floor division overflow", source: "x = (-9223372036854775807 - 1) // -1", wantKind: Errored, wantCause: KindOverflowError},
		{
			name:     "large values in range",
			source:   "CheckerCase().assertEqual(2 ** 62, 4611686018427387904, 'power')\nCheckerCase().assertEqual(-9223372036854775807 - 1 + 1, -9223372036854775807, 'min')",
			wantKind: Passed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var opts []Option
			if tc.stepLimit != 0 {
				opts = append(opts, WithStepLimit(tc.stepLimit))
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			en := NewEngine(opts...)
			s, err := en.Filter(ctx, Rule{ID: "checker-1", Source: tc.source})
			if err != nil {
				t.Fatalf("Filter() failed: %v", err)
			}
			got := en.Evaluate(ctx, s, DatasetMap{})
			if got.Kind != tc.wantKind {
				t.Fatalf("outcome = %s, want %s", got, tc.wantKind)
			}
			if kind := runtimeKind(got); kind != tc.wantCause {
				t.Errorf("cause kind = %q, want %q (cause %v)", kind, tc.wantCause, got.Cause)
			}
		})
	}
}

// TestEvaluateRecoversPanics verifies a panic inside the evaluator becomes an
// Errored outcome
func TestEvaluateRecoversPanics(t *testing.T) {
	s := &Sanitized{Rule: Rule{ID: "checker-1"}, Module: &Module{Body: []Stmt{nil}}}

	got := NewEngine().Evaluate(context.Background(), s, DatasetMap{})
	if got.Kind != Errored {
		t.Fatalf("Kind = %s, want errored", got.Kind)
	}
	if kind := runtimeKind(got); kind != KindRuntimeError {
		t.Errorf("cause kind = %q, want %q", kind, KindRuntimeError)
	}
}

// TestEvaluatorLanguage exercises the allowed statement and expression forms
func TestEvaluatorLanguage(t *testing.T) {
	source := `rows = datasets["orders"]
total = 0
for row in rows:
    total += row[1]
big = [r[0] for r in rows if r[1] > 10]
a, b = 1, 2
check = CheckerCase()
check.assertEqual(total, 60, "total")
check.assertEqual(big, ["b", "c"], "comprehension")
check.assertTrue(0 < a < b <= 2, "chained comparison")
check.assertFalse(1 < 2 > 3, "chained comparison short")
check.assertEqual(rows[-1][0], "c", "negative index")
check.assertEqual(rows[:2], [["a", 5], ["b", 25]], "slice")
check.assertEqual("abcdef"[::-2], "fdb", "string slice")
check.assertEqual(sum(r[1] for r in rows), 60, "generator")
check.assertEqual(sorted([3, 1, 2], reverse=True), [3, 2, 1], "sorted")
check.assertEqual(round(2.5), 2, "round half even")
check.assertEqual(7 // -2, -4, "floor division")
check.assertEqual(-7 % 3, 2, "modulo")
check.assertEqual(2 ** 10, 1024, "power")
check.assertEqual(str(1.0), "1.0", "float str")
check.assertEqual(str([1, "a", None]), "[1, 'a', None]", "list str")
check.assertEqual("x" if a else "y", "x", "conditional")
check.assertTrue("b" in [r[0] for r in rows], "membership")
check.assertTrue(3 not in range(0, 3), "range membership")
check.assertTrue("orders" in datasets, "dataset membership")
check.assertEqual(max(r[1] for r in rows), 30, "max")
check.assertEqual(min(4, 2, 8), 2, "min")
check.assertTrue(all([True, 1, "x"]) and not any([0, "", None]), "any all")
check.assertEqual(len({1, 2, 2}), 2, "set")
check.assertEqual({"k": 1}.get("z", 5), 5, "dict get")
check.assertEqual(",".join(["a", "b"]), "a,b", "join")
check.assertEqual("A b ".strip().lower(), "a b", "string methods")
n = 0
while n < 10:
    n += 1
    if n % 2 == 0:
        continue
    if n > 6:
        break
else:
    n = -1
check.assertEqual(n, 7, "while break")
found = None
for i in range(5):
    if i == 9:
        found = i
        break
else:
    found = "none"
check.assertEqual(found, "none", "for else")
x = y = [1]
x += [2]
check.assertEqual(y, [1, 2], "shared list")
counts = {}
for r in rows:
    counts[r[0]] = counts.get(r[0], 0) + 1
check.assertEqual(counts, {"a": 1, "b": 1, "c": 1}, "dict assignment")
`
	datasets := DatasetMap{"orders": Dataset{
		{"a", int64(5)},
		{"b", int64(25)},
		{"c", int64(30)},
	}}

	got := check(t, NewEngine(), source, datasets)
	if got.Kind != Passed {
		t.Fatalf("outcome = %s, want passed", got)
	}
}

// TestEngineCheck verifies the filter-then-evaluate helper
func TestEngineCheck(t *testing.T) {
	en := NewEngine()

	outcome, s := en.Check(context.Background(), Rule{ID: "c1", Source: "x = ("}, DatasetMap{})
	if outcome.Kind != Errored || s != nil {
		t.Fatalf("malformed rule: outcome = %s, sanitized = %v", outcome, s)
	}
	if !IsMalformed(outcome.Cause) {
		t.Errorf("cause = %v, want MalformedRuleError", outcome.Cause)
	}

	outcome, s = en.Check(context.Background(), Rule{ID: "c1", Source: "import os\nCheckerCase().assertTrue(True, 'm')"}, DatasetMap{})
	if outcome.Kind != Passed {
		t.Fatalf("outcome = %s, want passed", outcome)
	}
	if len(s.Dropped) != 1 {
		t.Errorf("Dropped = %+v, want the import", s.Dropped)
	}
}

// TestOutcomeErr verifies outcome to error conversion
func TestOutcomeErr(t *testing.T) {
	if err := PassedOutcome().Err(); err != nil {
		t.Errorf("Passed.Err() = %v, want nil", err)
	}
	if err := FailedOutcome("m").Err(); !IsAssertionFailure(err) || err.Error() != "m" {
		t.Errorf("Failed.Err() = %v, want assertion failure 'm'", err)
	}
	cause := errors.New("boom")
	if err := ErroredOutcome(cause).Err(); !errors.Is(err, cause) {
		t.Errorf("Errored.Err() = %v, want %v", err, cause)
	}
}
