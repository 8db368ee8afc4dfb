package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Reserved bindings. Rules may read them but never rebind them.
const (
	DatasetsName        = "datasets"
	CheckerCaseName     = "CheckerCase"
	FailedAssertionName = "FailedAssertion"
)

var reservedNames = map[string]bool{
	DatasetsName:        true,
	CheckerCaseName:     true,
	FailedAssertionName: true,
}

// IsReserved reports whether name is bound by the evaluator and cannot be assigned
func IsReserved(name string) bool {
	return reservedNames[name]
}

// DropKind classifies a construct removed by the filter
type DropKind string

const (
	DropFunction       DropKind = "function"
	DropClass          DropKind = "class"
	DropImport         DropKind = "import"
	DropReservedAssign DropKind = "reserved_assignment"
)

// Dropped records one construct removed from a rule
type Dropped struct {
	Kind   DropKind `json:"kind"`
	Line   int      `json:"line"`
	Reason string   `json:"reason"`
}

// Sanitized is a rule after filtering, ready for evaluation
type Sanitized struct {
	Rule    Rule
	Module  *Module   // python dialect
	Dropped []Dropped // constructs removed, in source order

	celAST *cel.Ast // cel dialect
}

// Filter parses rule source and drops the constructs that could escape the
// assertion sandbox. Filtering is deterministic and never consults datasets.
func Filter(ctx context.Context, rule Rule) (*Sanitized, error) {
	dialect, err := ParseDialect(string(rule.Dialect))
	if err != nil {
		return nil, &MalformedRuleError{Reason: err.Error()}
	}
	rule.Dialect = dialect

	if dialect == DialectCEL {
		ast, err := compileCEL(rule.Source)
		if err != nil {
			return nil, err
		}
		return &Sanitized{Rule: rule, celAST: ast}, nil
	}

	mod, err := Parse(ctx, rule.Source)
	if err != nil {
		return nil, err
	}
	clean, dropped := Sanitize(mod)
	return &Sanitized{Rule: rule, Module: clean, Dropped: dropped}, nil
}

// Sanitize applies the drop policy to a parsed module. The input is not
// modified. A module without dropped constructs comes back structurally equal.
func Sanitize(mod *Module) (*Module, []Dropped) {
	s := &sanitizer{}
	return &Module{Body: s.block(mod.Body)}, s.dropped
}

type sanitizer struct {
	dropped []Dropped
}

func (s *sanitizer) drop(kind DropKind, line int, format string, args ...any) {
	s.dropped = append(s.dropped, Dropped{Kind: kind, Line: line, Reason: fmt.Sprintf(format, args...)})
}

func (s *sanitizer) block(body []Stmt) []Stmt {
	if body == nil {
		return nil
	}
	out := make([]Stmt, 0, len(body))
	for _, st := range body {
		if kept := s.stmt(st); kept != nil {
			out = append(out, kept)
		}
	}
	return out
}

// stmt returns the filtered statement, or nil when it is dropped
func (s *sanitizer) stmt(st Stmt) Stmt {
	switch n := st.(type) {
	case *FuncDef:
		s.drop(DropFunction, n.Line, "function definition %q", n.Name)
		return nil
	case *ClassDef:
		s.drop(DropClass, n.Line, "class definition %q", n.Name)
		return nil
	case *Import:
		s.drop(DropImport, n.Line, "import directive %q", n.Text)
		return nil
	case *Assign:
		for _, t := range n.Targets {
			if name, ok := reservedTarget(t); ok {
				s.drop(DropReservedAssign, n.Line, "assignment to reserved name %q", name)
				return nil
			}
		}
		return n
	case *AugAssign:
		if name, ok := reservedTarget(n.Target); ok {
			s.drop(DropReservedAssign, n.Line, "assignment to reserved name %q", name)
			return nil
		}
		return n
	case *If:
		c := *n
		c.Body = s.block(n.Body)
		c.Else = s.block(n.Else)
		return &c
	case *For:
		c := *n
		c.Body = s.block(n.Body)
		c.Else = s.block(n.Else)
		return &c
	case *While:
		c := *n
		c.Body = s.block(n.Body)
		c.Else = s.block(n.Else)
		return &c
	case *UnsupportedStmt:
		c := *n
		if n.Blocks != nil {
			c.Blocks = make([][]Stmt, len(n.Blocks))
			for i, b := range n.Blocks {
				c.Blocks[i] = s.block(b)
			}
		}
		return &c
	default:
		return st
	}
}

// reservedTarget finds a reserved name bound by an assignment target,
// looking through tuple and list unpacking
func reservedTarget(e Expr) (string, bool) {
	switch t := e.(type) {
	case *Name:
		if IsReserved(t.ID) {
			return t.ID, true
		}
	case *TupleExpr:
		for _, el := range t.Elts {
			if name, ok := reservedTarget(el); ok {
				return name, true
			}
		}
	case *ListExpr:
		for _, el := range t.Elts {
			if name, ok := reservedTarget(el); ok {
				return name, true
			}
		}
	}
	return "", false
}
