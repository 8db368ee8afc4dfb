package rules

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Interpreter values are nil (None), bool, int64, float64, string, *List,
// Tuple, *Dict, *Set, *Range and the callables in builtins.go.

// List is a mutable sequence. A frozen list rejects writes.
type List struct {
	Items  []any
	frozen bool
}

func (l *List) checkWritable() error {
	if l.frozen {
		return runtimeErrorf(KindTypeError, "dataset rows are read-only")
	}
	return nil
}

// Tuple is an immutable sequence
type Tuple []any

// Range is a lazy arithmetic progression
type Range struct {
	Start, Stop, Step int64
}

// count is the exact number of elements. Differences are taken as uint64 so
// ranges spanning the whole int64 domain do not wrap.
func (r *Range) count() uint64 {
	if r.Step > 0 && r.Start < r.Stop {
		span := uint64(r.Stop) - uint64(r.Start)
		return (span-1)/uint64(r.Step) + 1
	}
	if r.Step < 0 && r.Start > r.Stop {
		span := uint64(r.Start) - uint64(r.Stop)
		return (span-1)/absStep(r.Step) + 1
	}
	return 0
}

// Len is count clamped to math.MaxInt64
func (r *Range) Len() int64 {
	n := r.count()
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

// Contains reports whether i is one of the range's elements
func (r *Range) Contains(i int64) bool {
	switch {
	case r.Step > 0 && r.Start <= i && i < r.Stop:
		return (uint64(i)-uint64(r.Start))%uint64(r.Step) == 0
	case r.Step < 0 && r.Stop < i && i <= r.Start:
		return (uint64(r.Start)-uint64(i))%absStep(r.Step) == 0
	}
	return false
}

func absStep(step int64) uint64 {
	return uint64(-(step + 1)) + 1
}

func (r *Range) At(i int64) int64 {
	return r.Start + i*r.Step
}

// Dict is an insertion-ordered mapping. A frozen dict rejects writes.
type Dict struct {
	keys   []any
	vals   []any
	index  map[string]int
	frozen bool
}

func NewDict() *Dict {
	return &Dict{index: make(map[string]int)}
}

func (d *Dict) Len() int { return len(d.keys) }

func (d *Dict) Get(k any) (any, bool, error) {
	h, err := hashKey(k)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[h]
	if !ok {
		return nil, false, nil
	}
	return d.vals[i], true, nil
}

func (d *Dict) Set(k, v any) error {
	if d.frozen {
		return runtimeErrorf(KindTypeError, "'%s' object does not support item assignment", typeName(d))
	}
	h, err := hashKey(k)
	if err != nil {
		return err
	}
	if i, ok := d.index[h]; ok {
		d.vals[i] = v
		return nil
	}
	d.index[h] = len(d.keys)
	d.keys = append(d.keys, k)
	d.vals = append(d.vals, v)
	return nil
}

// Set is an insertion-ordered set of hashable values
type Set struct {
	items []any
	index map[string]struct{}
}

func NewSet() *Set {
	return &Set{index: make(map[string]struct{})}
}

func (s *Set) Add(v any) error {
	h, err := hashKey(v)
	if err != nil {
		return err
	}
	if _, ok := s.index[h]; ok {
		return nil
	}
	s.index[h] = struct{}{}
	s.items = append(s.items, v)
	return nil
}

func (s *Set) Has(v any) (bool, error) {
	h, err := hashKey(v)
	if err != nil {
		return false, err
	}
	_, ok := s.index[h]
	return ok, nil
}

// datasetsView builds the frozen mapping bound as `datasets`. Rows are copied
// so a rule can never reach the caller's DatasetMap.
func datasetsView(m DatasetMap) *Dict {
	d := NewDict()
	names := m.Names()
	sort.Strings(names)
	for _, name := range names {
		rows := m[name]
		items := make([]any, 0, len(rows))
		for _, row := range rows {
			cells := make([]any, 0, len(row))
			for _, cell := range row {
				cells = append(cells, importScalar(cell))
			}
			items = append(items, &List{Items: cells, frozen: true})
		}
		_ = d.Set(name, &List{Items: items, frozen: true})
	}
	d.frozen = true
	return d
}

// importScalar normalizes a dataset cell into an interpreter value
func importScalar(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	default:
		return str(x)
	}
}

func typeName(v any) string {
	switch x := v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *List:
		return "list"
	case Tuple:
		return "tuple"
	case *Dict:
		if x.frozen {
			return "mappingproxy"
		}
		return "dict"
	case *Set:
		return "set"
	case *Range:
		return "range"
	case *builtinFunc:
		return "builtin_function_or_method"
	case *boundMethod:
		return "method"
	case *checkerCaseClass, *failedAssertionClass:
		return "type"
	case *checkerCase:
		return CheckerCaseName
	case *assertionValue:
		return FailedAssertionName
	default:
		return "object"
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case *List:
		return len(x.Items) > 0
	case Tuple:
		return len(x) > 0
	case *Dict:
		return x.Len() > 0
	case *Set:
		return len(x.items) > 0
	case *Range:
		return x.Len() > 0
	default:
		return true
	}
}

// length implements len()
func length(v any) (int64, error) {
	switch x := v.(type) {
	case string:
		return int64(len([]rune(x))), nil
	case *List:
		return int64(len(x.Items)), nil
	case Tuple:
		return int64(len(x)), nil
	case *Dict:
		return int64(x.Len()), nil
	case *Set:
		return int64(len(x.items)), nil
	case *Range:
		if x.count() > math.MaxInt64 {
			return 0, runtimeErrorf(KindOverflowError, "range length does not fit in an int")
		}
		return x.Len(), nil
	default:
		return 0, runtimeErrorf(KindTypeError, "object of type '%s' has no len()", typeName(v))
	}
}

// asInt treats bool as 0/1 the way python arithmetic does
func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int64:
		return x, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	if f, ok := v.(float64); ok {
		return f, true
	}
	return 0, false
}

func isNumber(v any) bool {
	_, ok := asFloat(v)
	return ok
}

// equal is value equality: 1 == 1.0 == True, list != tuple, dicts compare
// without regard to order.
func equal(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		ai, aInt := asInt(a)
		bi, bInt := asInt(b)
		if aInt && bInt {
			return ai == bi
		}
		af, _ := asFloat(a)
		bf, _ := asFloat(b)
		return af == bf
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *List:
		y, ok := b.(*List)
		return ok && equalSeq(x.Items, y.Items)
	case Tuple:
		y, ok := b.(Tuple)
		return ok && equalSeq(x, y)
	case *Range:
		y, ok := b.(*Range)
		if !ok {
			return false
		}
		n := x.Len()
		if n != y.Len() {
			return false
		}
		return n == 0 || (x.Start == y.Start && (n == 1 || x.Step == y.Step))
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			v, found, err := y.Get(k)
			if err != nil || !found || !equal(x.vals[i], v) {
				return false
			}
		}
		return true
	case *Set:
		y, ok := b.(*Set)
		if !ok || len(x.items) != len(y.items) {
			return false
		}
		for _, item := range x.items {
			if has, _ := y.Has(item); !has {
				return false
			}
		}
		return true
	case *builtinFunc, *boundMethod, *checkerCase, *checkerCaseClass, *failedAssertionClass, *assertionValue:
		return a == b
	default:
		return false
	}
}

func equalSeq(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// compare orders two values, returning -1, 0 or 1
func compare(a, b any) (int, error) {
	if isNumber(a) && isNumber(b) {
		ai, aInt := asInt(a)
		bi, bInt := asInt(b)
		if aInt && bInt {
			return cmpOrdered(ai, bi), nil
		}
		af, _ := asFloat(a)
		bf, _ := asFloat(b)
		if math.IsNaN(af) || math.IsNaN(bf) {
			return 0, errUnordered
		}
		return cmpOrdered(af, bf), nil
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case *List:
		if y, ok := b.(*List); ok {
			return compareSeq(x.Items, y.Items)
		}
	case Tuple:
		if y, ok := b.(Tuple); ok {
			return compareSeq(x, y)
		}
	}
	return 0, runtimeErrorf(KindTypeError, "'<' not supported between instances of '%s' and '%s'", typeName(a), typeName(b))
}

// errUnordered marks comparisons involving NaN, which are always false
var errUnordered = &RuntimeError{Kind: KindValueError, Message: "unordered comparison"}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareSeq(a, b []any) (int, error) {
	for i := 0; i < len(a) && i < len(b); i++ {
		if equal(a[i], b[i]) {
			continue
		}
		return compare(a[i], b[i])
	}
	return cmpOrdered(int64(len(a)), int64(len(b))), nil
}

// hashKey canonicalizes a hashable value so equal values share a key
func hashKey(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "N", nil
	case bool, int64:
		i, _ := asInt(x)
		return "n" + strconv.FormatInt(i, 10), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
			return "n" + strconv.FormatInt(int64(x), 10), nil
		}
		return "f" + strconv.FormatFloat(x, 'g', -1, 64), nil
	case string:
		return "s" + x, nil
	case Tuple:
		var b strings.Builder
		b.WriteString("t")
		for _, el := range x {
			k, err := hashKey(el)
			if err != nil {
				return "", err
			}
			b.WriteString(strconv.Itoa(len(k)))
			b.WriteByte(':')
			b.WriteString(k)
		}
		return b.String(), nil
	case *List, *Dict, *Set:
		return "", runtimeErrorf(KindTypeError, "unhashable type: '%s'", typeName(v))
	default:
		return "p" + typeName(v) + strconv.FormatUint(uint64(identity(v)), 16), nil
	}
}

// identity numbers the distinct callable objects of an evaluation
func identity(v any) uintptr {
	switch x := v.(type) {
	case *builtinFunc:
		return x.id
	case *boundMethod:
		return x.id
	case *checkerCase:
		return x.id
	case *assertionValue:
		return x.id
	default:
		return 0
	}
}

// str renders a value the way python's str() does
func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return repr(v)
}

func repr(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case string:
		return quote(x)
	case *List:
		return "[" + joinRepr(x.Items) + "]"
	case Tuple:
		if len(x) == 1 {
			return "(" + repr(x[0]) + ",)"
		}
		return "(" + joinRepr(x) + ")"
	case *Dict:
		parts := make([]string, 0, x.Len())
		for i, k := range x.keys {
			parts = append(parts, repr(k)+": "+repr(x.vals[i]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Set:
		if len(x.items) == 0 {
			return "set()"
		}
		return "{" + joinRepr(x.items) + "}"
	case *Range:
		if x.Step == 1 {
			return "range(" + strconv.FormatInt(x.Start, 10) + ", " + strconv.FormatInt(x.Stop, 10) + ")"
		}
		return "range(" + strconv.FormatInt(x.Start, 10) + ", " + strconv.FormatInt(x.Stop, 10) + ", " + strconv.FormatInt(x.Step, 10) + ")"
	case *assertionValue:
		return x.Message
	case *builtinFunc:
		return "<built-in function " + x.name + ">"
	case *boundMethod:
		return "<bound method " + x.name + ">"
	case *checkerCase:
		return "<" + CheckerCaseName + " object>"
	case *checkerCaseClass:
		return "<class '" + CheckerCaseName + "'>"
	case *failedAssertionClass:
		return "<class '" + FailedAssertionName + "'>"
	default:
		return "<object>"
	}
}

func joinRepr(items []any) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, repr(it))
	}
	return strings.Join(parts, ", ")
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e16 || abs < 1e-4) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	q := "'"
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		q = `"`
	}
	var b strings.Builder
	b.WriteString(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		case string(r) == q:
			b.WriteString(`\` + q)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(q)
	return b.String()
}
