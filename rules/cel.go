package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// celCostLimit caps CEL evaluation cost so runaway expressions are stopped
const celCostLimit = 1000000

// celRecorder captures the first assertion failure of one evaluation
type celRecorder struct {
	failure *AssertionFailed
}

func (r *celRecorder) fail(msg string) ref.Val {
	if r.failure == nil {
		r.failure = &AssertionFailed{Message: msg}
	}
	return types.NewErr("assertion failed: %s", msg)
}

// newCELEnv declares `datasets` and the assertion functions. Bindings report
// failures to rec, so each evaluation gets its own environment.
func newCELEnv(rec *celRecorder) (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable(DatasetsName, cel.MapType(cel.StringType, cel.ListType(cel.ListType(cel.DynType)))),
		cel.Function("assertTrue",
			cel.Overload("assertTrue_bool_string",
				[]*cel.Type{cel.BoolType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(expr, msg ref.Val) ref.Val {
					if expr == types.True {
						return types.True
					}
					return rec.fail(celString(msg))
				}))),
		cel.Function("assertFalse",
			cel.Overload("assertFalse_bool_string",
				[]*cel.Type{cel.BoolType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(expr, msg ref.Val) ref.Val {
					if expr == types.False {
						return types.True
					}
					return rec.fail(celString(msg))
				}))),
		cel.Function("assertEqual",
			cel.Overload("assertEqual_dyn_dyn_string",
				[]*cel.Type{cel.DynType, cel.DynType, cel.StringType}, cel.BoolType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					if args[0].Equal(args[1]) == types.True {
						return types.True
					}
					return rec.fail(celString(args[2]))
				}))),
		cel.Function("assertLessThan",
			cel.Overload("assertLessThan_list_int_string",
				[]*cel.Type{cel.ListType(cel.DynType), cel.IntType, cel.StringType}, cel.BoolType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					return celSizeAssert(rec, args[0], args[1], args[2], -1)
				}))),
		cel.Function("assertGreaterThan",
			cel.Overload("assertGreaterThan_list_int_string",
				[]*cel.Type{cel.ListType(cel.DynType), cel.IntType, cel.StringType}, cel.BoolType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					return celSizeAssert(rec, args[0], args[1], args[2], 1)
				}))),
		cel.Function("assertEmpty",
			cel.Overload("assertEmpty_list_string",
				[]*cel.Type{cel.ListType(cel.DynType), cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(coll, msg ref.Val) ref.Val {
					return celSizeAssert(rec, coll, types.Int(1), msg, -1)
				}))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func celString(v ref.Val) string {
	if s, ok := v.(types.String); ok {
		return string(s)
	}
	return fmt.Sprintf("%v", v.Value())
}

func celSizeAssert(rec *celRecorder, coll, bound, msg ref.Val, sign int) ref.Val {
	sizer, ok := coll.(traits.Sizer)
	if !ok {
		return types.NewErr("no such overload: size(%s)", coll.Type())
	}
	size, ok := sizer.Size().(types.Int)
	if !ok {
		return types.NewErr("size() did not return an int")
	}
	limit, ok := bound.(types.Int)
	if !ok {
		return types.NewErr("size bound must be an int")
	}
	if (sign < 0 && size < limit) || (sign > 0 && size > limit) {
		return types.True
	}
	return rec.fail(celString(msg))
}

// compileCEL parses and type-checks a CEL rule
func compileCEL(source string) (*cel.Ast, error) {
	env, err := newCELEnv(&celRecorder{})
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, celMalformed(issues)
	}
	return ast, nil
}

func celMalformed(issues *cel.Issues) *MalformedRuleError {
	return &MalformedRuleError{Reason: strings.TrimSpace(issues.Err().Error())}
}

// evaluateCEL runs a compiled CEL rule in a fresh environment
func evaluateCEL(ctx context.Context, ast *cel.Ast, datasets DatasetMap) Outcome {
	rec := &celRecorder{}
	env, err := newCELEnv(rec)
	if err != nil {
		return ErroredOutcome(err)
	}
	prog, err := env.Program(ast,
		cel.CostLimit(celCostLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return ErroredOutcome(fmt.Errorf("program creation error: %w", err))
	}

	out, _, err := prog.ContextEval(ctx, map[string]any{DatasetsName: celDatasets(datasets)})
	if rec.failure != nil {
		return FailedOutcome(rec.failure.Message)
	}
	if err != nil {
		return ErroredOutcome(celRuntimeError(ctx, err))
	}
	result, ok := out.Value().(bool)
	if !ok {
		return ErroredOutcome(runtimeErrorf(KindTypeError, "rule returned %s, expected bool", out.Type()))
	}
	if !result {
		return FailedOutcome("rule evaluated to false")
	}
	return PassedOutcome()
}

func celRuntimeError(ctx context.Context, err error) *RuntimeError {
	switch {
	case ctx.Err() != nil:
		return &RuntimeError{Kind: KindCancelled, Message: ctx.Err().Error(), Err: ctx.Err()}
	case strings.Contains(err.Error(), "cost limit"):
		return &RuntimeError{Kind: KindBudgetExceeded, Message: err.Error(), Err: err}
	default:
		return &RuntimeError{Kind: KindRuntimeError, Message: err.Error(), Err: err}
	}
}

// celDatasets copies the dataset map into plain values for the CEL adapter
func celDatasets(m DatasetMap) map[string]any {
	names := m.Names()
	sort.Strings(names)
	out := make(map[string]any, len(names))
	for _, name := range names {
		rows := make([]any, 0, len(m[name]))
		for _, row := range m[name] {
			cells := make([]any, 0, len(row))
			for _, cell := range row {
				cells = append(cells, importScalar(cell))
			}
			rows = append(rows, cells)
		}
		out[name] = rows
	}
	return out
}
