package rules

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultStepLimit bounds the evaluation steps one rule may take
const DefaultStepLimit = 1000000

// ctxCheckInterval is how many steps run between context checks
const ctxCheckInterval = 1024

// maxPrealloc caps slice preallocation when the step limit is disabled
const maxPrealloc = 1 << 16

type control int

const (
	ctrlNone control = iota
	ctrlBreak
	ctrlContinue
)

type scope struct {
	vars   map[string]any
	parent *scope
}

func (s *scope) lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// interp runs one sanitized module. It is single-use.
type interp struct {
	ctx       context.Context
	limit     int64
	steps     int64
	sinceTick int64
	ids       uintptr
	line      int

	globals  *scope
	builtins map[string]any
}

func newInterp(ctx context.Context, datasets DatasetMap, limit int64) *interp {
	in := &interp{ctx: ctx, limit: limit}
	in.builtins = in.newBuiltins()
	in.globals = &scope{vars: map[string]any{
		DatasetsName:        datasetsView(datasets),
		CheckerCaseName:     &checkerCaseClass{},
		FailedAssertionName: &failedAssertionClass{},
	}}
	return in
}

func (in *interp) nextID() uintptr {
	in.ids++
	return in.ids
}

// step charges n units against the budget and polls the context
func (in *interp) step(n int64) error {
	if in.limit > 0 && n > in.limit-in.steps {
		in.steps = in.limit + 1
		return &RuntimeError{Kind: KindBudgetExceeded, Message: fmt.Sprintf("rule exceeded %d evaluation steps", in.limit)}
	}
	in.steps += n
	if n < ctxCheckInterval-in.sinceTick {
		in.sinceTick += n
	} else {
		in.sinceTick = 0
		if err := in.ctx.Err(); err != nil {
			return &RuntimeError{Kind: KindCancelled, Message: err.Error(), Err: err}
		}
	}
	return nil
}

// run executes the module and stamps the failing line onto the error
func (in *interp) run(mod *Module) error {
	if err := in.ctx.Err(); err != nil {
		return &RuntimeError{Kind: KindCancelled, Message: err.Error(), Err: err}
	}
	ctrl, err := in.execBlock(mod.Body)
	if err != nil {
		return in.located(err)
	}
	if ctrl != ctrlNone {
		return in.located(runtimeErrorf(KindUnsupportedError, "'break' or 'continue' outside loop"))
	}
	return nil
}

func (in *interp) located(err error) error {
	var af *AssertionFailed
	if errors.As(err, &af) && af.Line == 0 {
		af.Line = in.line
	}
	var re *RuntimeError
	if errors.As(err, &re) && re.Line == 0 {
		re.Line = in.line
	}
	return err
}

func (in *interp) execBlock(body []Stmt) (control, error) {
	for _, st := range body {
		ctrl, err := in.exec(st)
		if err != nil || ctrl != ctrlNone {
			return ctrl, err
		}
	}
	return ctrlNone, nil
}

func (in *interp) exec(st Stmt) (control, error) {
	in.line = st.Position().Line
	if err := in.step(1); err != nil {
		return ctrlNone, err
	}
	switch n := st.(type) {
	case *ExprStmt:
		_, err := in.eval(n.X)
		return ctrlNone, err
	case *Assign:
		if n.Value == nil {
			// bare annotation declares nothing at runtime
			return ctrlNone, nil
		}
		v, err := in.eval(n.Value)
		if err != nil {
			return ctrlNone, err
		}
		for _, t := range n.Targets {
			if err := in.assign(in.globals, t, v); err != nil {
				return ctrlNone, err
			}
		}
		return ctrlNone, nil
	case *AugAssign:
		return ctrlNone, in.augAssign(n)
	case *If:
		cond, err := in.eval(n.Cond)
		if err != nil {
			return ctrlNone, err
		}
		if truthy(cond) {
			return in.execBlock(n.Body)
		}
		return in.execBlock(n.Else)
	case *For:
		return in.execFor(n)
	case *While:
		return in.execWhile(n)
	case *Pass:
		return ctrlNone, nil
	case *Break:
		return ctrlBreak, nil
	case *Continue:
		return ctrlContinue, nil
	case *Raise:
		return ctrlNone, in.raise(n)
	case *UnsupportedStmt:
		return ctrlNone, runtimeErrorf(KindUnsupportedError, "%s is not allowed in rules", describeNode(n.Type))
	default:
		return ctrlNone, runtimeErrorf(KindUnsupportedError, "statement %T is not allowed in rules", st)
	}
}

func describeNode(typ string) string {
	return strings.TrimSuffix(strings.TrimSuffix(typ, "_statement"), "_expression")
}

func (in *interp) execFor(n *For) (control, error) {
	iter, err := in.eval(n.Iter)
	if err != nil {
		return ctrlNone, err
	}
	broke := false
	var bodyErr error
	err = in.iterate(iter, func(item any) (bool, error) {
		if err := in.assign(in.globals, n.Target, item); err != nil {
			return false, err
		}
		ctrl, err := in.execBlock(n.Body)
		if err != nil {
			bodyErr = err
			return false, nil
		}
		if ctrl == ctrlBreak {
			broke = true
			return false, nil
		}
		in.line = n.Line
		return true, nil
	})
	if bodyErr != nil {
		return ctrlNone, bodyErr
	}
	if err != nil {
		return ctrlNone, err
	}
	if !broke {
		return in.execBlock(n.Else)
	}
	return ctrlNone, nil
}

func (in *interp) execWhile(n *While) (control, error) {
	for {
		in.line = n.Line
		if err := in.step(1); err != nil {
			return ctrlNone, err
		}
		cond, err := in.eval(n.Cond)
		if err != nil {
			return ctrlNone, err
		}
		if !truthy(cond) {
			return in.execBlock(n.Else)
		}
		ctrl, err := in.execBlock(n.Body)
		if err != nil {
			return ctrlNone, err
		}
		if ctrl == ctrlBreak {
			return ctrlNone, nil
		}
	}
}

func (in *interp) raise(n *Raise) error {
	if n.X == nil {
		return runtimeErrorf(KindRuntimeError, "no active exception to reraise")
	}
	v, err := in.eval(n.X)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case *assertionValue:
		return &AssertionFailed{Message: x.Message, Line: n.Line}
	case *failedAssertionClass:
		return &AssertionFailed{Line: n.Line}
	default:
		return runtimeErrorf(KindTypeError, "exceptions must derive from BaseException, not '%s'", typeName(v))
	}
}

// assign binds v to target in sc
func (in *interp) assign(sc *scope, target Expr, v any) error {
	switch t := target.(type) {
	case *Name:
		if IsReserved(t.ID) {
			return runtimeErrorf(KindTypeError, "cannot rebind reserved name '%s'", t.ID)
		}
		sc.vars[t.ID] = v
		return nil
	case *TupleExpr:
		return in.unpack(sc, t.Elts, v)
	case *ListExpr:
		return in.unpack(sc, t.Elts, v)
	case *Subscript:
		obj, err := in.eval(t.X)
		if err != nil {
			return err
		}
		if _, ok := t.Index.(*Slice); ok {
			return runtimeErrorf(KindUnsupportedError, "slice assignment is not allowed in rules")
		}
		idx, err := in.eval(t.Index)
		if err != nil {
			return err
		}
		return setItem(obj, idx, v)
	case *Attribute:
		return runtimeErrorf(KindAttributeError, "cannot set attribute '%s' on '%s'", t.Attr, typeNameOfExpr(t.X))
	default:
		return runtimeErrorf(KindUnsupportedError, "cannot assign to %T", target)
	}
}

func typeNameOfExpr(e Expr) string {
	if n, ok := e.(*Name); ok {
		return n.ID
	}
	return "object"
}

func (in *interp) unpack(sc *scope, targets []Expr, v any) error {
	items, err := in.collect(v)
	if err != nil {
		return err
	}
	if len(items) != len(targets) {
		if len(items) > len(targets) {
			return runtimeErrorf(KindValueError, "too many values to unpack (expected %d)", len(targets))
		}
		return runtimeErrorf(KindValueError, "not enough values to unpack (expected %d, got %d)", len(targets), len(items))
	}
	for i, t := range targets {
		if err := in.assign(sc, t, items[i]); err != nil {
			return err
		}
	}
	return nil
}

func setItem(obj, idx, v any) error {
	switch x := obj.(type) {
	case *List:
		if err := x.checkWritable(); err != nil {
			return err
		}
		i, err := normIndex(idx, len(x.Items), "list assignment")
		if err != nil {
			return err
		}
		x.Items[i] = v
		return nil
	case *Dict:
		return x.Set(idx, v)
	default:
		return runtimeErrorf(KindTypeError, "'%s' object does not support item assignment", typeName(obj))
	}
}

func (in *interp) augAssign(n *AugAssign) error {
	switch t := n.Target.(type) {
	case *Name:
		cur, err := in.eval(t)
		if err != nil {
			return err
		}
		rhs, err := in.eval(n.Value)
		if err != nil {
			return err
		}
		if l, ok := cur.(*List); ok && n.Op == "+" {
			if err := l.checkWritable(); err != nil {
				return err
			}
			items, err := in.collect(rhs)
			if err != nil {
				return err
			}
			l.Items = append(l.Items, items...)
			return nil
		}
		v, err := in.binary(n.Op, cur, rhs)
		if err != nil {
			return err
		}
		return in.assign(in.globals, t, v)
	case *Subscript:
		obj, err := in.eval(t.X)
		if err != nil {
			return err
		}
		idx, err := in.eval(t.Index)
		if err != nil {
			return err
		}
		cur, err := in.index(obj, idx)
		if err != nil {
			return err
		}
		rhs, err := in.eval(n.Value)
		if err != nil {
			return err
		}
		v, err := in.binary(n.Op, cur, rhs)
		if err != nil {
			return err
		}
		return setItem(obj, idx, v)
	default:
		return runtimeErrorf(KindUnsupportedError, "illegal target for augmented assignment")
	}
}

// iterate calls fn for each element of v until fn returns false
func (in *interp) iterate(v any, fn func(any) (bool, error)) error {
	visit := func(item any) (bool, error) {
		if err := in.step(1); err != nil {
			return false, err
		}
		return fn(item)
	}
	switch x := v.(type) {
	case *List:
		for i := 0; i < len(x.Items); i++ {
			if ok, err := visit(x.Items[i]); err != nil || !ok {
				return err
			}
		}
	case Tuple:
		for _, item := range x {
			if ok, err := visit(item); err != nil || !ok {
				return err
			}
		}
	case string:
		for _, r := range x {
			if ok, err := visit(string(r)); err != nil || !ok {
				return err
			}
		}
	case *Dict:
		keys := append([]any(nil), x.keys...)
		for _, k := range keys {
			if ok, err := visit(k); err != nil || !ok {
				return err
			}
		}
	case *Set:
		items := append([]any(nil), x.items...)
		for _, item := range items {
			if ok, err := visit(item); err != nil || !ok {
				return err
			}
		}
	case *Range:
		n := x.Len()
		for i := int64(0); i < n; i++ {
			if ok, err := visit(x.At(i)); err != nil || !ok {
				return err
			}
		}
	default:
		return runtimeErrorf(KindTypeError, "'%s' object is not iterable", typeName(v))
	}
	return nil
}

func (in *interp) collect(v any) ([]any, error) {
	var items []any
	if n, err := length(v); err == nil {
		if err := in.step(n); err != nil {
			return nil, err
		}
		items = make([]any, 0, min(n, maxPrealloc))
	}
	err := in.iterate(v, func(item any) (bool, error) {
		items = append(items, item)
		return true, nil
	})
	return items, err
}

func (in *interp) eval(e Expr) (any, error) {
	if err := in.step(1); err != nil {
		return nil, err
	}
	switch n := e.(type) {
	case *Constant:
		return n.Value, nil
	case *Name:
		if v, ok := in.globals.lookup(n.ID); ok {
			return v, nil
		}
		if v, ok := in.builtins[n.ID]; ok {
			return v, nil
		}
		return nil, runtimeErrorf(KindNameError, "name '%s' is not defined", n.ID)
	case *ListExpr:
		items, err := in.evalAll(n.Elts)
		if err != nil {
			return nil, err
		}
		return &List{Items: items}, nil
	case *TupleExpr:
		items, err := in.evalAll(n.Elts)
		if err != nil {
			return nil, err
		}
		return Tuple(items), nil
	case *SetExpr:
		items, err := in.evalAll(n.Elts)
		if err != nil {
			return nil, err
		}
		s := NewSet()
		for _, it := range items {
			if err := s.Add(it); err != nil {
				return nil, err
			}
		}
		return s, nil
	case *DictExpr:
		d := NewDict()
		for i := range n.Keys {
			k, err := in.eval(n.Keys[i])
			if err != nil {
				return nil, err
			}
			v, err := in.eval(n.Values[i])
			if err != nil {
				return nil, err
			}
			if err := d.Set(k, v); err != nil {
				return nil, err
			}
		}
		return d, nil
	case *Attribute:
		obj, err := in.eval(n.X)
		if err != nil {
			return nil, err
		}
		return in.attribute(obj, n.Attr)
	case *Subscript:
		obj, err := in.eval(n.X)
		if err != nil {
			return nil, err
		}
		if sl, ok := n.Index.(*Slice); ok {
			return in.slice(obj, sl)
		}
		idx, err := in.eval(n.Index)
		if err != nil {
			return nil, err
		}
		return in.index(obj, idx)
	case *Call:
		return in.evalCall(n)
	case *BinOp:
		l, err := in.eval(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := in.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return in.binary(n.Op, l, r)
	case *BoolOp:
		l, err := in.eval(n.Left)
		if err != nil {
			return nil, err
		}
		if (n.Op == "and") != truthy(l) {
			return l, nil
		}
		return in.eval(n.Right)
	case *UnaryOp:
		x, err := in.eval(n.X)
		if err != nil {
			return nil, err
		}
		return unary(n.Op, x)
	case *Compare:
		return in.evalCompare(n)
	case *IfExp:
		cond, err := in.eval(n.Cond)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return in.eval(n.Then)
		}
		return in.eval(n.Else)
	case *ListComp:
		return in.evalListComp(n)
	case *UnsupportedExpr:
		return nil, runtimeErrorf(KindUnsupportedError, "%s is not allowed in rules", describeNode(n.Type))
	default:
		return nil, runtimeErrorf(KindUnsupportedError, "expression %T is not allowed in rules", e)
	}
}

func (in *interp) evalAll(exprs []Expr) ([]any, error) {
	out := make([]any, 0, len(exprs))
	for _, e := range exprs {
		v, err := in.eval(e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (in *interp) evalCall(n *Call) (any, error) {
	fn, err := in.eval(n.Func)
	if err != nil {
		return nil, err
	}
	c, ok := fn.(callable)
	if !ok {
		return nil, runtimeErrorf(KindTypeError, "'%s' object is not callable", typeName(fn))
	}
	args, err := in.evalAll(n.Args)
	if err != nil {
		return nil, err
	}
	var kw map[string]any
	if len(n.Keywords) > 0 {
		kw = make(map[string]any, len(n.Keywords))
		for _, k := range n.Keywords {
			if _, dup := kw[k.Name]; dup {
				return nil, runtimeErrorf(KindTypeError, "keyword argument repeated: %s", k.Name)
			}
			v, err := in.eval(k.Value)
			if err != nil {
				return nil, err
			}
			kw[k.Name] = v
		}
	}
	return c.call(in, args, kw)
}

func (in *interp) evalCompare(n *Compare) (any, error) {
	left, err := in.eval(n.Left)
	if err != nil {
		return nil, err
	}
	for i, op := range n.Ops {
		right, err := in.eval(n.Comparators[i])
		if err != nil {
			return nil, err
		}
		ok, err := in.compareOp(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func (in *interp) compareOp(op string, a, b any) (bool, error) {
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=", "<>":
		return !equal(a, b), nil
	case "is":
		return identical(a, b), nil
	case "is not":
		return !identical(a, b), nil
	case "in":
		return in.contains(b, a)
	case "not in":
		found, err := in.contains(b, a)
		return !found, err
	}
	c, err := compare(a, b)
	if err == errUnordered {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, runtimeErrorf(KindUnsupportedError, "comparison operator %q is not allowed in rules", op)
}

// identical approximates `is`: singletons compare by value, containers by pointer
func identical(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case *List, *Dict, *Set, *Range, *builtinFunc, *boundMethod, *checkerCase, *checkerCaseClass, *failedAssertionClass, *assertionValue:
		return a == b
	case int64, float64, string:
		return a == b
	default:
		return false
	}
}

func (in *interp) contains(container, item any) (bool, error) {
	switch x := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, runtimeErrorf(KindTypeError, "'in <string>' requires string as left operand, not %s", typeName(item))
		}
		if err := in.step(int64(len(x))); err != nil {
			return false, err
		}
		return strings.Contains(x, s), nil
	case *Dict:
		_, ok, err := x.Get(item)
		return ok, err
	case *Set:
		return x.Has(item)
	case *Range:
		if i, ok := asInt(item); ok {
			return x.Contains(i), nil
		}
		if f, isFloat := item.(float64); isFloat && f == math.Trunc(f) {
			if i, err := floatToInt(f); err == nil {
				return x.Contains(i), nil
			}
		}
		return false, nil
	}
	found := false
	err := in.iterate(container, func(v any) (bool, error) {
		if equal(v, item) {
			found = true
			return false, nil
		}
		return true, nil
	})
	return found, err
}

func (in *interp) evalListComp(n *ListComp) (any, error) {
	sc := &scope{vars: map[string]any{}, parent: in.globals}
	saved := in.globals
	in.globals = sc
	defer func() { in.globals = saved }()

	var out []any
	var clause func(i int) error
	clause = func(i int) error {
		if i == len(n.Clauses) {
			v, err := in.eval(n.Elt)
			if err != nil {
				return err
			}
			out = append(out, v)
			return nil
		}
		c := n.Clauses[i]
		iter, err := in.eval(c.Iter)
		if err != nil {
			return err
		}
		return in.iterate(iter, func(item any) (bool, error) {
			if err := in.assign(sc, c.Target, item); err != nil {
				return false, err
			}
			for _, cond := range c.Ifs {
				v, err := in.eval(cond)
				if err != nil {
					return false, err
				}
				if !truthy(v) {
					return true, nil
				}
			}
			return true, clause(i + 1)
		})
	}
	if err := clause(0); err != nil {
		return nil, err
	}
	if out == nil {
		out = []any{}
	}
	return &List{Items: out}, nil
}

func (in *interp) index(obj, idx any) (any, error) {
	switch x := obj.(type) {
	case *List:
		i, err := normIndex(idx, len(x.Items), "list")
		if err != nil {
			return nil, err
		}
		return x.Items[i], nil
	case Tuple:
		i, err := normIndex(idx, len(x), "tuple")
		if err != nil {
			return nil, err
		}
		return x[i], nil
	case string:
		runes := []rune(x)
		i, err := normIndex(idx, len(runes), "string")
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case *Range:
		i, err := normIndex(idx, int(x.Len()), "range object")
		if err != nil {
			return nil, err
		}
		return x.At(int64(i)), nil
	case *Dict:
		v, ok, err := x.Get(idx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, runtimeErrorf(KindKeyError, "%s", repr(idx))
		}
		return v, nil
	default:
		return nil, runtimeErrorf(KindTypeError, "'%s' object is not subscriptable", typeName(obj))
	}
}

func normIndex(idx any, n int, what string) (int, error) {
	i, ok := asInt(idx)
	if !ok {
		return 0, runtimeErrorf(KindTypeError, "%s indices must be integers, not %s", what, typeName(idx))
	}
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, runtimeErrorf(KindIndexError, "%s index out of range", what)
	}
	return int(i), nil
}

func (in *interp) slice(obj any, sl *Slice) (any, error) {
	bound := func(e Expr) (*int64, error) {
		if e == nil {
			return nil, nil
		}
		v, err := in.eval(e)
		if err != nil || v == nil {
			return nil, err
		}
		i, ok := asInt(v)
		if !ok {
			return nil, runtimeErrorf(KindTypeError, "slice indices must be integers or None")
		}
		return &i, nil
	}
	lo, err := bound(sl.Lower)
	if err != nil {
		return nil, err
	}
	hi, err := bound(sl.Upper)
	if err != nil {
		return nil, err
	}
	st, err := bound(sl.Step)
	if err != nil {
		return nil, err
	}

	var items []any
	switch x := obj.(type) {
	case *List:
		items = x.Items
	case Tuple:
		items = x
	case string:
		for _, r := range x {
			items = append(items, string(r))
		}
	default:
		return nil, runtimeErrorf(KindTypeError, "'%s' object is not subscriptable", typeName(obj))
	}

	picked, err := sliceIndexes(len(items), lo, hi, st)
	if err != nil {
		return nil, err
	}
	if err := in.step(int64(len(picked))); err != nil {
		return nil, err
	}
	out := make([]any, 0, len(picked))
	for _, i := range picked {
		out = append(out, items[i])
	}
	switch obj.(type) {
	case *List:
		return &List{Items: out}, nil
	case Tuple:
		return Tuple(out), nil
	default:
		var b strings.Builder
		for _, s := range out {
			b.WriteString(s.(string))
		}
		return b.String(), nil
	}
}

// sliceIndexes resolves python slice bounds against a sequence of length n
func sliceIndexes(n int, lo, hi, st *int64) ([]int, error) {
	step := int64(1)
	if st != nil {
		step = *st
	}
	if step == 0 {
		return nil, runtimeErrorf(KindValueError, "slice step cannot be zero")
	}
	clamp := func(p *int64, def, min, max int64) int64 {
		if p == nil {
			return def
		}
		v := *p
		if v < 0 {
			v += int64(n)
		}
		if v < min {
			return min
		}
		if v > max {
			return max
		}
		return v
	}
	var out []int
	if step > 0 {
		start := clamp(lo, 0, 0, int64(n))
		stop := clamp(hi, int64(n), 0, int64(n))
		for i := start; i < stop; i += step {
			out = append(out, int(i))
			if step >= stop-i {
				break
			}
		}
	} else {
		start := clamp(lo, int64(n)-1, -1, int64(n)-1)
		stop := clamp(hi, -1, -1, int64(n)-1)
		for i := start; i > stop; i += step {
			out = append(out, int(i))
			if step <= stop-i {
				break
			}
		}
	}
	return out, nil
}

func unary(op string, x any) (any, error) {
	switch op {
	case "not":
		return !truthy(x), nil
	case "-":
		if i, ok := asInt(x); ok {
			if i == math.MinInt64 {
				return nil, errIntOverflow("-")
			}
			return -i, nil
		}
		if f, ok := x.(float64); ok {
			return -f, nil
		}
	case "+":
		if i, ok := asInt(x); ok {
			return i, nil
		}
		if f, ok := x.(float64); ok {
			return f, nil
		}
	case "~":
		if i, ok := asInt(x); ok {
			return ^i, nil
		}
	}
	return nil, runtimeErrorf(KindTypeError, "bad operand type for unary %s: '%s'", op, typeName(x))
}

// binary applies an arithmetic or bitwise operator
func (in *interp) binary(op string, a, b any) (any, error) {
	ai, aInt := asInt(a)
	bi, bInt := asInt(b)
	if aInt && bInt {
		return intOp(op, ai, bi)
	}
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return floatOp(op, af, bf)
	}

	switch op {
	case "+":
		switch x := a.(type) {
		case string:
			if y, ok := b.(string); ok {
				if err := in.step(int64(len(x) + len(y))); err != nil {
					return nil, err
				}
				return x + y, nil
			}
		case *List:
			if y, ok := b.(*List); ok {
				if err := in.step(int64(len(x.Items) + len(y.Items))); err != nil {
					return nil, err
				}
				return &List{Items: append(append([]any(nil), x.Items...), y.Items...)}, nil
			}
		case Tuple:
			if y, ok := b.(Tuple); ok {
				if err := in.step(int64(len(x) + len(y))); err != nil {
					return nil, err
				}
				return append(append(Tuple(nil), x...), y...), nil
			}
		}
	case "*":
		if aInt {
			return in.repeat(b, ai)
		}
		if bInt {
			return in.repeat(a, bi)
		}
	}
	return nil, runtimeErrorf(KindTypeError, "unsupported operand type(s) for %s: '%s' and '%s'", op, typeName(a), typeName(b))
}

// repeat implements sequence * int, charging the result size to the budget
func (in *interp) repeat(seq any, times int64) (any, error) {
	if times < 0 {
		times = 0
	}
	var n int64
	switch x := seq.(type) {
	case string:
		n = int64(len(x))
	case *List:
		n = int64(len(x.Items))
	case Tuple:
		n = int64(len(x))
	default:
		return nil, runtimeErrorf(KindTypeError, "can't multiply sequence by non-int of type '%s'", typeName(seq))
	}
	if n == 0 || times == 0 {
		switch seq.(type) {
		case string:
			return "", nil
		case *List:
			return &List{}, nil
		default:
			return Tuple{}, nil
		}
	}
	if times > math.MaxInt64/n {
		return nil, &RuntimeError{Kind: KindBudgetExceeded, Message: "sequence repetition too large"}
	}
	if err := in.step(n * times); err != nil {
		return nil, err
	}
	switch x := seq.(type) {
	case string:
		return strings.Repeat(x, int(times)), nil
	case *List:
		out := make([]any, 0, min(n*times, maxPrealloc))
		for i := int64(0); i < times; i++ {
			if err := in.step(1); err != nil {
				return nil, err
			}
			out = append(out, x.Items...)
		}
		return &List{Items: out}, nil
	default:
		t := seq.(Tuple)
		out := make(Tuple, 0, min(n*times, maxPrealloc))
		for i := int64(0); i < times; i++ {
			if err := in.step(1); err != nil {
				return nil, err
			}
			out = append(out, t...)
		}
		return out, nil
	}
}

func intOp(op string, a, b int64) (any, error) {
	switch op {
	case "+":
		if r, ok := addInt(a, b); ok {
			return r, nil
		}
		return nil, errIntOverflow(op)
	case "-":
		if r, ok := subInt(a, b); ok {
			return r, nil
		}
		return nil, errIntOverflow(op)
	case "*":
		if r, ok := mulInt(a, b); ok {
			return r, nil
		}
		return nil, errIntOverflow(op)
	case "/":
		if b == 0 {
			return nil, runtimeErrorf(KindZeroDivisionError, "division by zero")
		}
		return float64(a) / float64(b), nil
	case "//":
		if b == 0 {
			return nil, runtimeErrorf(KindZeroDivisionError, "integer division or modulo by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return nil, errIntOverflow(op)
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return q, nil
	case "%":
		if b == 0 {
			return nil, runtimeErrorf(KindZeroDivisionError, "integer division or modulo by zero")
		}
		m := a % b
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return m, nil
	case "**":
		if b < 0 {
			if a == 0 {
				return nil, runtimeErrorf(KindZeroDivisionError, "0.0 cannot be raised to a negative power")
			}
			return math.Pow(float64(a), float64(b)), nil
		}
		result := int64(1)
		base := a
		for e := b; e > 0; e >>= 1 {
			var ok bool
			if e&1 == 1 {
				if result, ok = mulInt(result, base); !ok {
					return nil, errIntOverflow(op)
				}
			}
			if e > 1 {
				if base, ok = mulInt(base, base); !ok {
					return nil, errIntOverflow(op)
				}
			}
		}
		return result, nil
	case "&":
		return a & b, nil
	case "|":
		return a | b, nil
	case "^":
		return a ^ b, nil
	case "<<":
		if b < 0 {
			return nil, runtimeErrorf(KindValueError, "negative shift count")
		}
		if a == 0 {
			return int64(0), nil
		}
		if b >= 63 || (a<<uint(b))>>uint(b) != a {
			return nil, errIntOverflow(op)
		}
		return a << uint(b), nil
	case ">>":
		if b < 0 {
			return nil, runtimeErrorf(KindValueError, "negative shift count")
		}
		return a >> uint(b), nil
	}
	return nil, runtimeErrorf(KindTypeError, "unsupported operand type(s) for %s: 'int' and 'int'", op)
}

// floatToInt converts an integral float, raising OverflowError outside int64
func floatToInt(f float64) (int64, error) {
	if f < -(1<<63) || f >= 1<<63 {
		return 0, runtimeErrorf(KindOverflowError, "float %s does not fit in an int", formatFloat(f))
	}
	return int64(f), nil
}

// errIntOverflow is raised when an int64 result would wrap
func errIntOverflow(op string) error {
	return runtimeErrorf(KindOverflowError, "integer result of %s does not fit in 64 bits", op)
}

func addInt(a, b int64) (int64, bool) {
	r := a + b
	if (b > 0 && r < a) || (b < 0 && r > a) {
		return 0, false
	}
	return r, true
}

func subInt(a, b int64) (int64, bool) {
	r := a - b
	if (b > 0 && r > a) || (b < 0 && r < a) {
		return 0, false
	}
	return r, true
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	r := a * b
	if r/b != a {
		return 0, false
	}
	return r, true
}

func floatOp(op string, a, b float64) (any, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, runtimeErrorf(KindZeroDivisionError, "float division by zero")
		}
		return a / b, nil
	case "//":
		if b == 0 {
			return nil, runtimeErrorf(KindZeroDivisionError, "float floor division by zero")
		}
		return math.Floor(a / b), nil
	case "%":
		if b == 0 {
			return nil, runtimeErrorf(KindZeroDivisionError, "float modulo")
		}
		m := math.Mod(a, b)
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return m, nil
	case "**":
		if a == 0 && b < 0 {
			return nil, runtimeErrorf(KindZeroDivisionError, "0.0 cannot be raised to a negative power")
		}
		return math.Pow(a, b), nil
	}
	return nil, runtimeErrorf(KindTypeError, "unsupported operand type(s) for %s: 'float' and 'float'", op)
}
