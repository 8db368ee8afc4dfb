package rules

// Module is the parsed form of a rule: a sequence of top-level statements
type Module struct {
	Body []Stmt
}

// Pos is a 1-indexed source line
type Pos struct {
	Line int
}

// Stmt is a statement node
type Stmt interface {
	stmtNode()
	Position() Pos
}

// Expr is an expression node
type Expr interface {
	exprNode()
	Position() Pos
}

func (p Pos) Position() Pos { return p }

// Statements

type ExprStmt struct {
	Pos
	X Expr
}

// Assign covers plain, chained and annotated assignment. Value is nil for a
// bare annotation such as `x: int`.
type Assign struct {
	Pos
	Targets    []Expr
	Value      Expr
	Annotation Expr
}

type AugAssign struct {
	Pos
	Target Expr
	Op     string // "+", "-", "*", ...
	Value  Expr
}

type If struct {
	Pos
	Cond Expr
	Body []Stmt
	Else []Stmt
}

type For struct {
	Pos
	Target Expr
	Iter   Expr
	Body   []Stmt
	Else   []Stmt
}

type While struct {
	Pos
	Cond Expr
	Body []Stmt
	Else []Stmt
}

type Raise struct {
	Pos
	X Expr // nil for a bare raise
}

type Pass struct{ Pos }

type Break struct{ Pos }

type Continue struct{ Pos }

// FuncDef is a function definition, kept only long enough to be filtered out
type FuncDef struct {
	Pos
	Name string
	Body []Stmt
}

// ClassDef is a class definition, kept only long enough to be filtered out
type ClassDef struct {
	Pos
	Name string
	Body []Stmt
}

// Import is any import directive
type Import struct {
	Pos
	Text string
}

// UnsupportedStmt preserves a statement the evaluator does not run. Nested
// blocks are parsed so the filter still reaches them.
type UnsupportedStmt struct {
	Pos
	Type   string
	Text   string
	Blocks [][]Stmt
}

func (*ExprStmt) stmtNode()        {}
func (*Assign) stmtNode()          {}
func (*AugAssign) stmtNode()       {}
func (*If) stmtNode()              {}
func (*For) stmtNode()             {}
func (*While) stmtNode()           {}
func (*Raise) stmtNode()           {}
func (*Pass) stmtNode()            {}
func (*Break) stmtNode()           {}
func (*Continue) stmtNode()        {}
func (*FuncDef) stmtNode()         {}
func (*ClassDef) stmtNode()        {}
func (*Import) stmtNode()          {}
func (*UnsupportedStmt) stmtNode() {}

// Expressions

type Name struct {
	Pos
	ID string
}

// Constant holds None, bool, int64, float64 or string
type Constant struct {
	Pos
	Value any
}

type ListExpr struct {
	Pos
	Elts []Expr
}

type TupleExpr struct {
	Pos
	Elts []Expr
}

type DictExpr struct {
	Pos
	Keys   []Expr
	Values []Expr
}

type SetExpr struct {
	Pos
	Elts []Expr
}

type Attribute struct {
	Pos
	X    Expr
	Attr string
}

type Subscript struct {
	Pos
	X     Expr
	Index Expr
}

// Slice appears only as a Subscript index. Nil bounds are omitted.
type Slice struct {
	Pos
	Lower, Upper, Step Expr
}

type Keyword struct {
	Name  string
	Value Expr
}

type Call struct {
	Pos
	Func     Expr
	Args     []Expr
	Keywords []Keyword
}

type BinOp struct {
	Pos
	Op          string
	Left, Right Expr
}

// BoolOp is `and` / `or`
type BoolOp struct {
	Pos
	Op          string
	Left, Right Expr
}

type UnaryOp struct {
	Pos
	Op string // "-", "+", "~", "not"
	X  Expr
}

// Compare is a possibly chained comparison: Left Ops[0] Comparators[0] ...
type Compare struct {
	Pos
	Left        Expr
	Ops         []string
	Comparators []Expr
}

type IfExp struct {
	Pos
	Cond, Then, Else Expr
}

// CompClause is one `for ... in ...` clause with its trailing `if` filters
type CompClause struct {
	Target Expr
	Iter   Expr
	Ifs    []Expr
}

type ListComp struct {
	Pos
	Elt     Expr
	Clauses []CompClause
}

// UnsupportedExpr preserves an expression the evaluator does not run
type UnsupportedExpr struct {
	Pos
	Type string
	Text string
}

func (*Name) exprNode()            {}
func (*Constant) exprNode()        {}
func (*ListExpr) exprNode()        {}
func (*TupleExpr) exprNode()       {}
func (*DictExpr) exprNode()        {}
func (*SetExpr) exprNode()         {}
func (*Attribute) exprNode()       {}
func (*Subscript) exprNode()       {}
func (*Slice) exprNode()           {}
func (*Call) exprNode()            {}
func (*BinOp) exprNode()           {}
func (*BoolOp) exprNode()          {}
func (*UnaryOp) exprNode()         {}
func (*Compare) exprNode()         {}
func (*IfExp) exprNode()           {}
func (*ListComp) exprNode()        {}
func (*UnsupportedExpr) exprNode() {}
