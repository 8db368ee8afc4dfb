package rules

// checkerCaseClass is bound as CheckerCase; calling it yields an instance
// carrying the assertion methods.
type checkerCaseClass struct{}

func (*checkerCaseClass) call(in *interp, args []any, kw map[string]any) (any, error) {
	if _, _, err := bindArgs(CheckerCaseName, nil, 0, args, kw); err != nil {
		return nil, err
	}
	return &checkerCase{id: in.nextID()}, nil
}

type checkerCase struct {
	id uintptr
}

// assertion signatures, in positional order
var assertionParams = map[string][]string{
	"assertTrue":        {"expression", "message"},
	"assertFalse":       {"expression", "message"},
	"assertEqual":       {"first", "second", "message"},
	"assertLessThan":    {"collection", "max_size", "message"},
	"assertGreaterThan": {"collection", "size", "message"},
	"assertEmpty":       {"collection", "message"},
}

func (c *checkerCase) method(name string) callFunc {
	params, ok := assertionParams[name]
	if !ok {
		return nil
	}
	return func(in *interp, args []any, kw map[string]any) (any, error) {
		if name == "assertEqual" {
			kw = renameKeyword(kw, "first_item", "first")
			kw = renameKeyword(kw, "second_item", "second")
		}
		a, _, err := bindArgs(name, params, len(params), args, kw)
		if err != nil {
			return nil, err
		}
		return nil, c.assert(name, a)
	}
}

func renameKeyword(kw map[string]any, from, to string) map[string]any {
	v, ok := kw[from]
	if !ok {
		return kw
	}
	out := make(map[string]any, len(kw))
	for k, val := range kw {
		out[k] = val
	}
	delete(out, from)
	if _, dup := out[to]; dup {
		// let bindArgs report the unexpected keyword
		out[from] = v
		return out
	}
	out[to] = v
	return out
}

// assert runs one assertion. Every form reduces to assertTrue.
func (c *checkerCase) assert(name string, a []any) error {
	switch name {
	case "assertTrue":
		return c.assertTrue(a[0], a[1])
	case "assertFalse":
		return c.assertTrue(!truthy(a[0]), a[1])
	case "assertEqual":
		return c.assertTrue(equal(a[0], a[1]), a[2])
	case "assertLessThan":
		return c.assertLength(a[0], a[1], a[2], -1)
	case "assertGreaterThan":
		return c.assertLength(a[0], a[1], a[2], 1)
	case "assertEmpty":
		return c.assertLength(a[0], int64(1), a[1], -1)
	}
	return runtimeErrorf(KindAttributeError, "'%s' object has no attribute '%s'", CheckerCaseName, name)
}

func (c *checkerCase) assertTrue(expression any, message any) error {
	if truthy(expression) {
		return nil
	}
	return &AssertionFailed{Message: str(message)}
}

// assertLength checks len(collection) < bound (sign -1) or > bound (sign 1)
func (c *checkerCase) assertLength(collection, bound, message any, sign int) error {
	n, err := length(collection)
	if err != nil {
		return err
	}
	cmp, err := compare(n, bound)
	if err == errUnordered {
		return c.assertTrue(false, message)
	}
	if err != nil {
		return err
	}
	return c.assertTrue(cmp == sign, message)
}

// failedAssertionClass is bound as FailedAssertion. Raising it, or a value
// built by calling it, fails the rule.
type failedAssertionClass struct{}

func (*failedAssertionClass) call(in *interp, args []any, kw map[string]any) (any, error) {
	if len(kw) > 0 {
		return nil, runtimeErrorf(KindTypeError, "%s() takes no keyword arguments", FailedAssertionName)
	}
	v := &assertionValue{id: in.nextID()}
	switch len(args) {
	case 0:
	case 1:
		v.Message = str(args[0])
	default:
		v.Message = repr(Tuple(args))
	}
	return v, nil
}

// assertionValue is an instance of FailedAssertion
type assertionValue struct {
	id      uintptr
	Message string
}
