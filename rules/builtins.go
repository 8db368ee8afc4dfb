package rules

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

type callFunc func(in *interp, args []any, kw map[string]any) (any, error)

// callable is any value a rule may call
type callable interface {
	call(in *interp, args []any, kw map[string]any) (any, error)
}

type builtinFunc struct {
	id   uintptr
	name string
	fn   callFunc
}

func (b *builtinFunc) call(in *interp, args []any, kw map[string]any) (any, error) {
	return b.fn(in, args, kw)
}

type boundMethod struct {
	id   uintptr
	name string
	fn   callFunc
}

func (m *boundMethod) call(in *interp, args []any, kw map[string]any) (any, error) {
	return m.fn(in, args, kw)
}

// BuiltinNames lists the builtin functions available to python-dialect rules
var BuiltinNames = []string{
	"abs", "all", "any", "bool", "float", "int", "len", "list",
	"max", "min", "range", "round", "sorted", "str", "sum", "tuple",
}

func (in *interp) newBuiltins() map[string]any {
	fns := map[string]callFunc{
		"abs":    builtinAbs,
		"all":    builtinAll,
		"any":    builtinAny,
		"bool":   builtinBool,
		"float":  builtinFloat,
		"int":    builtinInt,
		"len":    builtinLen,
		"list":   builtinList,
		"max":    func(in *interp, args []any, kw map[string]any) (any, error) { return minMax(in, "max", 1, args, kw) },
		"min":    func(in *interp, args []any, kw map[string]any) (any, error) { return minMax(in, "min", -1, args, kw) },
		"range":  builtinRange,
		"round":  builtinRound,
		"sorted": builtinSorted,
		"str":    builtinStr,
		"sum":    builtinSum,
		"tuple":  builtinTuple,
	}
	out := make(map[string]any, len(fns))
	for name, fn := range fns {
		out[name] = &builtinFunc{id: in.nextID(), name: name, fn: fn}
	}
	return out
}

// bindArgs matches positional and keyword arguments to params. The first
// required params must be supplied.
func bindArgs(fname string, params []string, required int, args []any, kw map[string]any) ([]any, []bool, error) {
	if len(args) > len(params) {
		return nil, nil, runtimeErrorf(KindTypeError, "%s() takes %d positional arguments but %d were given", fname, len(params), len(args))
	}
	out := make([]any, len(params))
	given := make([]bool, len(params))
	for i, a := range args {
		out[i] = a
		given[i] = true
	}
	for k, v := range kw {
		idx := -1
		for i, p := range params {
			if p == k {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, runtimeErrorf(KindTypeError, "%s() got an unexpected keyword argument '%s'", fname, k)
		}
		if given[idx] {
			return nil, nil, runtimeErrorf(KindTypeError, "%s() got multiple values for argument '%s'", fname, k)
		}
		out[idx] = v
		given[idx] = true
	}
	for i := 0; i < required; i++ {
		if !given[i] {
			return nil, nil, runtimeErrorf(KindTypeError, "%s() missing required argument: '%s'", fname, params[i])
		}
	}
	return out, given, nil
}

func builtinLen(_ *interp, args []any, kw map[string]any) (any, error) {
	a, _, err := bindArgs("len", []string{"obj"}, 1, args, kw)
	if err != nil {
		return nil, err
	}
	return length(a[0])
}

func builtinAbs(_ *interp, args []any, kw map[string]any) (any, error) {
	a, _, err := bindArgs("abs", []string{"x"}, 1, args, kw)
	if err != nil {
		return nil, err
	}
	if i, ok := asInt(a[0]); ok {
		if i == math.MinInt64 {
			return nil, errIntOverflow("abs")
		}
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	if f, ok := a[0].(float64); ok {
		return math.Abs(f), nil
	}
	return nil, runtimeErrorf(KindTypeError, "bad operand type for abs(): '%s'", typeName(a[0]))
}

func builtinAny(in *interp, args []any, kw map[string]any) (any, error) {
	a, _, err := bindArgs("any", []string{"iterable"}, 1, args, kw)
	if err != nil {
		return nil, err
	}
	found := false
	err = in.iterate(a[0], func(v any) (bool, error) {
		if truthy(v) {
			found = true
			return false, nil
		}
		return true, nil
	})
	return found, err
}

func builtinAll(in *interp, args []any, kw map[string]any) (any, error) {
	a, _, err := bindArgs("all", []string{"iterable"}, 1, args, kw)
	if err != nil {
		return nil, err
	}
	result := true
	err = in.iterate(a[0], func(v any) (bool, error) {
		if !truthy(v) {
			result = false
			return false, nil
		}
		return true, nil
	})
	return result, err
}

func builtinBool(_ *interp, args []any, kw map[string]any) (any, error) {
	a, given, err := bindArgs("bool", []string{"x"}, 0, args, kw)
	if err != nil {
		return nil, err
	}
	if !given[0] {
		return false, nil
	}
	return truthy(a[0]), nil
}

func builtinInt(_ *interp, args []any, kw map[string]any) (any, error) {
	a, given, err := bindArgs("int", []string{"x"}, 0, args, kw)
	if err != nil {
		return nil, err
	}
	if !given[0] {
		return int64(0), nil
	}
	switch x := a[0].(type) {
	case bool, int64:
		i, _ := asInt(x)
		return i, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, runtimeErrorf(KindValueError, "cannot convert float %s to integer", formatFloat(x))
		}
		return floatToInt(math.Trunc(x))
	case string:
		text := strings.ReplaceAll(strings.TrimSpace(x), "_", "")
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, runtimeErrorf(KindValueError, "invalid literal for int() with base 10: %s", quote(x))
		}
		return i, nil
	default:
		return nil, runtimeErrorf(KindTypeError, "int() argument must be a string or a number, not '%s'", typeName(x))
	}
}

func builtinFloat(_ *interp, args []any, kw map[string]any) (any, error) {
	a, given, err := bindArgs("float", []string{"x"}, 0, args, kw)
	if err != nil {
		return nil, err
	}
	if !given[0] {
		return 0.0, nil
	}
	if f, ok := asFloat(a[0]); ok {
		return f, nil
	}
	if s, ok := a[0].(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, runtimeErrorf(KindValueError, "could not convert string to float: %s", quote(s))
		}
		return f, nil
	}
	return nil, runtimeErrorf(KindTypeError, "float() argument must be a string or a number, not '%s'", typeName(a[0]))
}

func builtinStr(_ *interp, args []any, kw map[string]any) (any, error) {
	a, given, err := bindArgs("str", []string{"object"}, 0, args, kw)
	if err != nil {
		return nil, err
	}
	if !given[0] {
		return "", nil
	}
	return str(a[0]), nil
}

func builtinList(in *interp, args []any, kw map[string]any) (any, error) {
	a, given, err := bindArgs("list", []string{"iterable"}, 0, args, kw)
	if err != nil {
		return nil, err
	}
	if !given[0] {
		return &List{}, nil
	}
	items, err := in.collect(a[0])
	if err != nil {
		return nil, err
	}
	return &List{Items: items}, nil
}

func builtinTuple(in *interp, args []any, kw map[string]any) (any, error) {
	a, given, err := bindArgs("tuple", []string{"iterable"}, 0, args, kw)
	if err != nil {
		return nil, err
	}
	if !given[0] {
		return Tuple{}, nil
	}
	items, err := in.collect(a[0])
	if err != nil {
		return nil, err
	}
	return Tuple(items), nil
}

func builtinRange(_ *interp, args []any, kw map[string]any) (any, error) {
	if len(kw) > 0 {
		return nil, runtimeErrorf(KindTypeError, "range() takes no keyword arguments")
	}
	if len(args) < 1 || len(args) > 3 {
		return nil, runtimeErrorf(KindTypeError, "range expected 1 to 3 arguments, got %d", len(args))
	}
	ints := make([]int64, len(args))
	for i, a := range args {
		v, ok := asInt(a)
		if !ok {
			return nil, runtimeErrorf(KindTypeError, "'%s' object cannot be interpreted as an integer", typeName(a))
		}
		ints[i] = v
	}
	r := &Range{Step: 1}
	switch len(ints) {
	case 1:
		r.Stop = ints[0]
	case 2:
		r.Start, r.Stop = ints[0], ints[1]
	default:
		r.Start, r.Stop, r.Step = ints[0], ints[1], ints[2]
	}
	if r.Step == 0 {
		return nil, runtimeErrorf(KindValueError, "range() arg 3 must not be zero")
	}
	return r, nil
}

func builtinSum(in *interp, args []any, kw map[string]any) (any, error) {
	a, given, err := bindArgs("sum", []string{"iterable", "start"}, 1, args, kw)
	if err != nil {
		return nil, err
	}
	var total any = int64(0)
	if given[1] {
		total = a[1]
	}
	if _, ok := total.(string); ok {
		return nil, runtimeErrorf(KindTypeError, "sum() can't sum strings")
	}
	err = in.iterate(a[0], func(v any) (bool, error) {
		next, err := in.binary("+", total, v)
		if err != nil {
			return false, err
		}
		total = next
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}

func minMax(in *interp, name string, sign int, args []any, kw map[string]any) (any, error) {
	if len(kw) > 0 {
		return nil, runtimeErrorf(KindTypeError, "%s() keyword arguments are not supported", name)
	}
	var items []any
	switch len(args) {
	case 0:
		return nil, runtimeErrorf(KindTypeError, "%s expected at least 1 argument, got 0", name)
	case 1:
		var err error
		if items, err = in.collect(args[0]); err != nil {
			return nil, err
		}
	default:
		items = args
	}
	if len(items) == 0 {
		return nil, runtimeErrorf(KindValueError, "%s() arg is an empty sequence", name)
	}
	best := items[0]
	for _, it := range items[1:] {
		c, err := compare(it, best)
		if err != nil && err != errUnordered {
			return nil, err
		}
		if err == nil && c*sign > 0 {
			best = it
		}
	}
	return best, nil
}

func builtinSorted(in *interp, args []any, kw map[string]any) (any, error) {
	a, given, err := bindArgs("sorted", []string{"iterable", "reverse"}, 1, args, kw)
	if err != nil {
		return nil, err
	}
	items, err := in.collect(a[0])
	if err != nil {
		return nil, err
	}
	reverse := given[1] && truthy(a[1])
	var sortErr error
	sort.SliceStable(items, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		c, err := compare(items[i], items[j])
		if err != nil && err != errUnordered {
			sortErr = err
			return false
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return &List{Items: items}, nil
}

func builtinRound(_ *interp, args []any, kw map[string]any) (any, error) {
	a, given, err := bindArgs("round", []string{"number", "ndigits"}, 1, args, kw)
	if err != nil {
		return nil, err
	}
	if given[1] && a[1] != nil {
		nd, ok := asInt(a[1])
		if !ok {
			return nil, runtimeErrorf(KindTypeError, "'%s' object cannot be interpreted as an integer", typeName(a[1]))
		}
		if i, ok := asInt(a[0]); ok {
			if nd >= 0 {
				return i, nil
			}
			p := math.Pow(10, float64(-nd))
			return floatToInt(math.RoundToEven(float64(i)/p) * p)
		}
		f, ok := a[0].(float64)
		if !ok {
			return nil, runtimeErrorf(KindTypeError, "type %s doesn't define __round__ method", typeName(a[0]))
		}
		p := math.Pow(10, float64(nd))
		return math.RoundToEven(f*p) / p, nil
	}
	if i, ok := asInt(a[0]); ok {
		return i, nil
	}
	f, ok := a[0].(float64)
	if !ok {
		return nil, runtimeErrorf(KindTypeError, "type %s doesn't define __round__ method", typeName(a[0]))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, runtimeErrorf(KindValueError, "cannot convert float %s to integer", formatFloat(f))
	}
	return floatToInt(math.RoundToEven(f))
}

// attribute resolves obj.name for the values that expose methods
func (in *interp) attribute(obj any, name string) (any, error) {
	var fn callFunc
	switch x := obj.(type) {
	case *checkerCase:
		fn = x.method(name)
	case *List:
		fn = listMethod(x, name)
	case *Dict:
		fn = dictMethod(x, name)
	case string:
		fn = stringMethod(x, name)
	}
	if fn == nil {
		return nil, runtimeErrorf(KindAttributeError, "'%s' object has no attribute '%s'", typeName(obj), name)
	}
	return &boundMethod{id: in.nextID(), name: typeName(obj) + "." + name, fn: fn}, nil
}

func listMethod(l *List, name string) callFunc {
	switch name {
	case "append":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			a, _, err := bindArgs("append", []string{"object"}, 1, args, kw)
			if err != nil {
				return nil, err
			}
			if err := l.checkWritable(); err != nil {
				return nil, err
			}
			l.Items = append(l.Items, a[0])
			return nil, nil
		}
	case "extend":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			a, _, err := bindArgs("extend", []string{"iterable"}, 1, args, kw)
			if err != nil {
				return nil, err
			}
			if err := l.checkWritable(); err != nil {
				return nil, err
			}
			items, err := in.collect(a[0])
			if err != nil {
				return nil, err
			}
			l.Items = append(l.Items, items...)
			return nil, nil
		}
	case "count":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			a, _, err := bindArgs("count", []string{"value"}, 1, args, kw)
			if err != nil {
				return nil, err
			}
			if err := in.step(int64(len(l.Items))); err != nil {
				return nil, err
			}
			var n int64
			for _, it := range l.Items {
				if equal(it, a[0]) {
					n++
				}
			}
			return n, nil
		}
	case "index":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			a, _, err := bindArgs("index", []string{"value"}, 1, args, kw)
			if err != nil {
				return nil, err
			}
			if err := in.step(int64(len(l.Items))); err != nil {
				return nil, err
			}
			for i, it := range l.Items {
				if equal(it, a[0]) {
					return int64(i), nil
				}
			}
			return nil, runtimeErrorf(KindValueError, "%s is not in list", repr(a[0]))
		}
	}
	return nil
}

func dictMethod(d *Dict, name string) callFunc {
	switch name {
	case "get":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			a, _, err := bindArgs("get", []string{"key", "default"}, 1, args, kw)
			if err != nil {
				return nil, err
			}
			v, ok, err := d.Get(a[0])
			if err != nil {
				return nil, err
			}
			if !ok {
				return a[1], nil
			}
			return v, nil
		}
	case "keys":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			if _, _, err := bindArgs("keys", nil, 0, args, kw); err != nil {
				return nil, err
			}
			return &List{Items: append([]any(nil), d.keys...)}, nil
		}
	case "values":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			if _, _, err := bindArgs("values", nil, 0, args, kw); err != nil {
				return nil, err
			}
			return &List{Items: append([]any(nil), d.vals...)}, nil
		}
	case "items":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			if _, _, err := bindArgs("items", nil, 0, args, kw); err != nil {
				return nil, err
			}
			items := make([]any, 0, d.Len())
			for i, k := range d.keys {
				items = append(items, Tuple{k, d.vals[i]})
			}
			return &List{Items: items}, nil
		}
	}
	return nil
}

func stringMethod(s string, name string) callFunc {
	switch name {
	case "lower":
		return noArgString("lower", func() any { return strings.ToLower(s) })
	case "upper":
		return noArgString("upper", func() any { return strings.ToUpper(s) })
	case "strip", "lstrip", "rstrip":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			a, given, err := bindArgs(name, []string{"chars"}, 0, args, kw)
			if err != nil {
				return nil, err
			}
			cutset := " \t\n\r\v\f"
			if given[0] && a[0] != nil {
				c, ok := a[0].(string)
				if !ok {
					return nil, runtimeErrorf(KindTypeError, "%s arg must be None or str", name)
				}
				cutset = c
			}
			switch name {
			case "lstrip":
				return strings.TrimLeft(s, cutset), nil
			case "rstrip":
				return strings.TrimRight(s, cutset), nil
			default:
				return strings.Trim(s, cutset), nil
			}
		}
	case "startswith", "endswith":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			a, _, err := bindArgs(name, []string{"prefix"}, 1, args, kw)
			if err != nil {
				return nil, err
			}
			candidates := []any{a[0]}
			if t, ok := a[0].(Tuple); ok {
				candidates = t
			}
			for _, c := range candidates {
				p, ok := c.(string)
				if !ok {
					return nil, runtimeErrorf(KindTypeError, "%s first arg must be str or a tuple of str, not %s", name, typeName(c))
				}
				if (name == "startswith" && strings.HasPrefix(s, p)) || (name == "endswith" && strings.HasSuffix(s, p)) {
					return true, nil
				}
			}
			return false, nil
		}
	case "split":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			a, given, err := bindArgs("split", []string{"sep", "maxsplit"}, 0, args, kw)
			if err != nil {
				return nil, err
			}
			var parts []string
			if !given[0] || a[0] == nil {
				parts = strings.Fields(s)
			} else {
				sep, ok := a[0].(string)
				if !ok || sep == "" {
					return nil, runtimeErrorf(KindValueError, "empty or non-string separator")
				}
				n := -1
				if given[1] {
					if m, ok := asInt(a[1]); ok && m >= 0 {
						n = int(m) + 1
					}
				}
				parts = strings.SplitN(s, sep, n)
			}
			items := make([]any, 0, len(parts))
			for _, p := range parts {
				items = append(items, p)
			}
			return &List{Items: items}, nil
		}
	case "join":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			a, _, err := bindArgs("join", []string{"iterable"}, 1, args, kw)
			if err != nil {
				return nil, err
			}
			items, err := in.collect(a[0])
			if err != nil {
				return nil, err
			}
			parts := make([]string, 0, len(items))
			for i, it := range items {
				p, ok := it.(string)
				if !ok {
					return nil, runtimeErrorf(KindTypeError, "sequence item %d: expected str instance, %s found", i, typeName(it))
				}
				parts = append(parts, p)
			}
			return strings.Join(parts, s), nil
		}
	case "replace":
		return func(in *interp, args []any, kw map[string]any) (any, error) {
			a, _, err := bindArgs("replace", []string{"old", "new"}, 2, args, kw)
			if err != nil {
				return nil, err
			}
			oldS, ok1 := a[0].(string)
			newS, ok2 := a[1].(string)
			if !ok1 || !ok2 {
				return nil, runtimeErrorf(KindTypeError, "replace() arguments must be str")
			}
			return strings.ReplaceAll(s, oldS, newS), nil
		}
	}
	return nil
}

func noArgString(name string, f func() any) callFunc {
	return func(in *interp, args []any, kw map[string]any) (any, error) {
		if _, _, err := bindArgs(name, nil, 0, args, kw); err != nil {
			return nil, err
		}
		return f(), nil
	}
}
