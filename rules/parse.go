package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Parse parses rule source into a Module. Source that tree-sitter cannot
// analyse structurally is reported as a *MalformedRuleError.
//
// A parser is created per call, so Parse is safe for concurrent use.
func Parse(ctx context.Context, source string) (*Module, error) {
	if !utf8.ValidString(source) {
		return nil, &MalformedRuleError{Reason: "source is not valid UTF-8"}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, &MalformedRuleError{Reason: fmt.Sprintf("parse failed: %v", err)}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, &MalformedRuleError{Reason: "parser returned no tree"}
	}
	if root.HasError() {
		return nil, syntaxError(root, content)
	}

	l := &lowerer{src: content}
	return &Module{Body: l.block(root)}, nil
}

// syntaxError locates the first ERROR or MISSING node under root
func syntaxError(root *sitter.Node, src []byte) *MalformedRuleError {
	bad := findFirstError(root)
	if bad == nil {
		return &MalformedRuleError{Reason: "invalid syntax"}
	}
	reason := "invalid syntax"
	if bad.IsMissing() {
		reason = fmt.Sprintf("missing %q", bad.Type())
	}
	snippet := strings.TrimSpace(bad.Content(src))
	if len(snippet) > 40 {
		snippet = snippet[:40]
	}
	return &MalformedRuleError{
		Line:    int(bad.StartPoint().Row) + 1,
		Column:  int(bad.StartPoint().Column) + 1,
		Snippet: snippet,
		Reason:  reason,
	}
}

func findFirstError(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if bad := findFirstError(node.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

// lowerer converts tree-sitter python nodes into the rule AST
type lowerer struct {
	src []byte
}

func (l *lowerer) text(n *sitter.Node) string {
	return n.Content(l.src)
}

func pos(n *sitter.Node) Pos {
	return Pos{Line: int(n.StartPoint().Row) + 1}
}

// named returns the named children of n, skipping comments
func named(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (l *lowerer) block(n *sitter.Node) []Stmt {
	if n == nil {
		return nil
	}
	var body []Stmt
	for _, c := range named(n) {
		body = append(body, l.stmt(c))
	}
	return body
}

func (l *lowerer) stmt(n *sitter.Node) Stmt {
	p := pos(n)
	switch n.Type() {
	case "expression_statement":
		return l.exprStmt(n)
	case "if_statement":
		return l.ifStmt(n)
	case "for_statement":
		if hasToken(n, "async") {
			return l.unsupportedStmt(n)
		}
		return &For{
			Pos:    p,
			Target: l.target(n.ChildByFieldName("left")),
			Iter:   l.expr(n.ChildByFieldName("right")),
			Body:   l.block(n.ChildByFieldName("body")),
			Else:   l.elseBody(n.ChildByFieldName("alternative")),
		}
	case "while_statement":
		return &While{
			Pos:  p,
			Cond: l.expr(n.ChildByFieldName("condition")),
			Body: l.block(n.ChildByFieldName("body")),
			Else: l.elseBody(n.ChildByFieldName("alternative")),
		}
	case "pass_statement":
		return &Pass{Pos: p}
	case "break_statement":
		return &Break{Pos: p}
	case "continue_statement":
		return &Continue{Pos: p}
	case "raise_statement":
		r := &Raise{Pos: p}
		cause := n.ChildByFieldName("cause")
		for _, c := range named(n) {
			if cause != nil && sameNode(c, cause) {
				continue
			}
			r.X = l.expr(c)
			break
		}
		return r
	case "function_definition":
		return &FuncDef{Pos: p, Name: l.fieldText(n, "name"), Body: l.block(n.ChildByFieldName("body"))}
	case "class_definition":
		return &ClassDef{Pos: p, Name: l.fieldText(n, "name"), Body: l.block(n.ChildByFieldName("body"))}
	case "decorated_definition":
		def := n.ChildByFieldName("definition")
		if def == nil {
			return l.unsupportedStmt(n)
		}
		s := l.stmt(def)
		switch d := s.(type) {
		case *FuncDef:
			d.Pos = p
		case *ClassDef:
			d.Pos = p
		}
		return s
	case "import_statement", "import_from_statement", "future_import_statement":
		return &Import{Pos: p, Text: l.text(n)}
	default:
		return l.unsupportedStmt(n)
	}
}

func (l *lowerer) fieldText(n *sitter.Node, field string) string {
	if c := n.ChildByFieldName(field); c != nil {
		return l.text(c)
	}
	return ""
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func hasToken(n *sitter.Node, token string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if !c.IsNamed() && c.Type() == token {
			return true
		}
	}
	return false
}

func (l *lowerer) exprStmt(n *sitter.Node) Stmt {
	children := named(n)
	p := pos(n)
	if len(children) == 1 {
		c := children[0]
		switch c.Type() {
		case "assignment":
			return l.assignment(c)
		case "augmented_assignment":
			op := strings.TrimSuffix(l.fieldText(c, "operator"), "=")
			return &AugAssign{
				Pos:    p,
				Target: l.target(c.ChildByFieldName("left")),
				Op:     op,
				Value:  l.expr(c.ChildByFieldName("right")),
			}
		}
		return &ExprStmt{Pos: p, X: l.expr(c)}
	}
	elts := make([]Expr, 0, len(children))
	for _, c := range children {
		elts = append(elts, l.expr(c))
	}
	return &ExprStmt{Pos: p, X: &TupleExpr{Pos: p, Elts: elts}}
}

// assignment flattens chained assignment (a = b = 1) into one Assign
func (l *lowerer) assignment(n *sitter.Node) Stmt {
	a := &Assign{Pos: pos(n)}
	cur := n
	for {
		a.Targets = append(a.Targets, l.target(cur.ChildByFieldName("left")))
		if t := cur.ChildByFieldName("type"); t != nil && a.Annotation == nil {
			a.Annotation = l.expr(t)
		}
		right := cur.ChildByFieldName("right")
		if right == nil {
			return a
		}
		if right.Type() == "assignment" {
			cur = right
			continue
		}
		a.Value = l.expr(right)
		return a
	}
}

func (l *lowerer) ifStmt(n *sitter.Node) Stmt {
	root := &If{
		Pos:  pos(n),
		Cond: l.expr(n.ChildByFieldName("condition")),
		Body: l.block(n.ChildByFieldName("consequence")),
	}
	tail := root
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "elif_clause":
			next := &If{
				Pos:  pos(c),
				Cond: l.expr(c.ChildByFieldName("condition")),
				Body: l.block(c.ChildByFieldName("consequence")),
			}
			tail.Else = []Stmt{next}
			tail = next
		case "else_clause":
			tail.Else = l.block(c.ChildByFieldName("body"))
		}
	}
	return root
}

func (l *lowerer) elseBody(n *sitter.Node) []Stmt {
	if n == nil {
		return nil
	}
	return l.block(n.ChildByFieldName("body"))
}

// unsupportedStmt keeps the statement text and lowers any nested blocks so
// the filter can still inspect them
func (l *lowerer) unsupportedStmt(n *sitter.Node) Stmt {
	return &UnsupportedStmt{
		Pos:    pos(n),
		Type:   n.Type(),
		Text:   l.text(n),
		Blocks: l.nestedBlocks(n),
	}
}

func (l *lowerer) nestedBlocks(n *sitter.Node) [][]Stmt {
	var blocks [][]Stmt
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "block" {
			blocks = append(blocks, l.block(c))
			continue
		}
		blocks = append(blocks, l.nestedBlocks(c)...)
	}
	return blocks
}

// target lowers an assignment or loop target
func (l *lowerer) target(n *sitter.Node) Expr {
	if n == nil {
		return &UnsupportedExpr{Type: "missing", Text: ""}
	}
	switch n.Type() {
	case "pattern_list", "tuple_pattern":
		return &TupleExpr{Pos: pos(n), Elts: l.targets(n)}
	case "list_pattern":
		return &ListExpr{Pos: pos(n), Elts: l.targets(n)}
	default:
		return l.expr(n)
	}
}

func (l *lowerer) targets(n *sitter.Node) []Expr {
	var elts []Expr
	for _, c := range named(n) {
		elts = append(elts, l.target(c))
	}
	return elts
}

func (l *lowerer) exprs(nodes []*sitter.Node) []Expr {
	out := make([]Expr, 0, len(nodes))
	for _, c := range nodes {
		out = append(out, l.expr(c))
	}
	return out
}

func (l *lowerer) expr(n *sitter.Node) Expr {
	if n == nil {
		return &UnsupportedExpr{Type: "missing"}
	}
	p := pos(n)
	switch n.Type() {
	case "identifier", "keyword_identifier":
		return &Name{Pos: p, ID: l.text(n)}
	case "true":
		return &Constant{Pos: p, Value: true}
	case "false":
		return &Constant{Pos: p, Value: false}
	case "none":
		return &Constant{Pos: p, Value: nil}
	case "integer":
		return l.integer(n)
	case "float":
		return l.float(n)
	case "string":
		s, ok := parseStringLiteral(l.text(n))
		if !ok {
			return l.unsupportedExpr(n)
		}
		return &Constant{Pos: p, Value: s}
	case "concatenated_string":
		var b strings.Builder
		for _, c := range named(n) {
			s, ok := parseStringLiteral(l.text(c))
			if !ok {
				return l.unsupportedExpr(n)
			}
			b.WriteString(s)
		}
		return &Constant{Pos: p, Value: b.String()}
	case "parenthesized_expression":
		children := named(n)
		if len(children) != 1 {
			return l.unsupportedExpr(n)
		}
		return l.expr(children[0])
	case "list":
		return &ListExpr{Pos: p, Elts: l.exprs(named(n))}
	case "tuple", "expression_list", "pattern_list":
		return &TupleExpr{Pos: p, Elts: l.exprs(named(n))}
	case "set":
		return &SetExpr{Pos: p, Elts: l.exprs(named(n))}
	case "dictionary":
		d := &DictExpr{Pos: p}
		for _, c := range named(n) {
			if c.Type() != "pair" {
				return l.unsupportedExpr(n)
			}
			d.Keys = append(d.Keys, l.expr(c.ChildByFieldName("key")))
			d.Values = append(d.Values, l.expr(c.ChildByFieldName("value")))
		}
		return d
	case "attribute":
		return &Attribute{Pos: p, X: l.expr(n.ChildByFieldName("object")), Attr: l.fieldText(n, "attribute")}
	case "subscript":
		return l.subscript(n)
	case "call":
		return l.call(n)
	case "binary_operator":
		return &BinOp{
			Pos:   p,
			Op:    l.fieldText(n, "operator"),
			Left:  l.expr(n.ChildByFieldName("left")),
			Right: l.expr(n.ChildByFieldName("right")),
		}
	case "boolean_operator":
		return &BoolOp{
			Pos:   p,
			Op:    l.fieldText(n, "operator"),
			Left:  l.expr(n.ChildByFieldName("left")),
			Right: l.expr(n.ChildByFieldName("right")),
		}
	case "not_operator":
		return &UnaryOp{Pos: p, Op: "not", X: l.expr(n.ChildByFieldName("argument"))}
	case "unary_operator":
		return &UnaryOp{Pos: p, Op: l.fieldText(n, "operator"), X: l.expr(n.ChildByFieldName("argument"))}
	case "comparison_operator":
		return l.comparison(n)
	case "conditional_expression":
		children := named(n)
		if len(children) != 3 {
			return l.unsupportedExpr(n)
		}
		return &IfExp{Pos: p, Then: l.expr(children[0]), Cond: l.expr(children[1]), Else: l.expr(children[2])}
	case "list_comprehension", "generator_expression":
		return l.comprehension(n)
	default:
		return l.unsupportedExpr(n)
	}
}

func (l *lowerer) unsupportedExpr(n *sitter.Node) Expr {
	return &UnsupportedExpr{Pos: pos(n), Type: n.Type(), Text: l.text(n)}
}

func (l *lowerer) integer(n *sitter.Node) Expr {
	text := strings.ReplaceAll(l.text(n), "_", "")
	v, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		return l.unsupportedExpr(n)
	}
	return &Constant{Pos: pos(n), Value: v}
}

func (l *lowerer) float(n *sitter.Node) Expr {
	text := strings.ReplaceAll(l.text(n), "_", "")
	if strings.ContainsAny(text, "jJ") {
		return l.unsupportedExpr(n)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return l.unsupportedExpr(n)
	}
	return &Constant{Pos: pos(n), Value: v}
}

func (l *lowerer) subscript(n *sitter.Node) Expr {
	value := n.ChildByFieldName("value")
	var indexes []*sitter.Node
	for _, c := range named(n) {
		if value != nil && sameNode(c, value) {
			continue
		}
		indexes = append(indexes, c)
	}
	s := &Subscript{Pos: pos(n), X: l.expr(value)}
	switch len(indexes) {
	case 0:
		s.Index = &UnsupportedExpr{Pos: pos(n), Type: "subscript", Text: l.text(n)}
	case 1:
		s.Index = l.index(indexes[0])
	default:
		elts := make([]Expr, 0, len(indexes))
		for _, c := range indexes {
			elts = append(elts, l.index(c))
		}
		s.Index = &TupleExpr{Pos: pos(n), Elts: elts}
	}
	return s
}

func (l *lowerer) index(n *sitter.Node) Expr {
	if n.Type() != "slice" {
		return l.expr(n)
	}
	sl := &Slice{Pos: pos(n)}
	colons := 0
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if !c.IsNamed() {
			if c.Type() == ":" {
				colons++
			}
			continue
		}
		if c.Type() == "comment" {
			continue
		}
		switch colons {
		case 0:
			sl.Lower = l.expr(c)
		case 1:
			sl.Upper = l.expr(c)
		default:
			sl.Step = l.expr(c)
		}
	}
	return sl
}

func (l *lowerer) call(n *sitter.Node) Expr {
	c := &Call{Pos: pos(n), Func: l.expr(n.ChildByFieldName("function"))}
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return c
	}
	if args.Type() == "generator_expression" {
		c.Args = []Expr{l.comprehension(args)}
		return c
	}
	for _, a := range named(args) {
		switch a.Type() {
		case "keyword_argument":
			c.Keywords = append(c.Keywords, Keyword{
				Name:  l.fieldText(a, "name"),
				Value: l.expr(a.ChildByFieldName("value")),
			})
		default:
			c.Args = append(c.Args, l.expr(a))
		}
	}
	return c
}

func (l *lowerer) comparison(n *sitter.Node) Expr {
	cmp := &Compare{Pos: pos(n)}
	first := true
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "comment" {
			continue
		}
		if !c.IsNamed() {
			cmp.Ops = append(cmp.Ops, normalizeCompareOp(c.Type(), l.text(c)))
			continue
		}
		if first {
			cmp.Left = l.expr(c)
			first = false
			continue
		}
		cmp.Comparators = append(cmp.Comparators, l.expr(c))
	}
	if len(cmp.Ops) != len(cmp.Comparators) {
		return l.unsupportedExpr(n)
	}
	return cmp
}

// normalizeCompareOp collapses whitespace in two-word operators ("not  in")
func normalizeCompareOp(typ, text string) string {
	switch typ {
	case "not in", "is not":
		return typ
	}
	return strings.Join(strings.Fields(text), " ")
}

func (l *lowerer) comprehension(n *sitter.Node) Expr {
	lc := &ListComp{Pos: pos(n), Elt: l.expr(n.ChildByFieldName("body"))}
	for _, c := range named(n) {
		switch c.Type() {
		case "for_in_clause":
			if hasToken(c, "async") {
				return l.unsupportedExpr(n)
			}
			lc.Clauses = append(lc.Clauses, CompClause{
				Target: l.target(c.ChildByFieldName("left")),
				Iter:   l.expr(c.ChildByFieldName("right")),
			})
		case "if_clause":
			if len(lc.Clauses) == 0 {
				return l.unsupportedExpr(n)
			}
			conds := named(c)
			if len(conds) != 1 {
				return l.unsupportedExpr(n)
			}
			last := &lc.Clauses[len(lc.Clauses)-1]
			last.Ifs = append(last.Ifs, l.expr(conds[0]))
		}
	}
	if len(lc.Clauses) == 0 {
		return l.unsupportedExpr(n)
	}
	return lc
}

// parseStringLiteral decodes a python string literal. It reports false for
// f-strings and bytes literals, which rules cannot use.
func parseStringLiteral(lit string) (string, bool) {
	i := 0
	for i < len(lit) && strings.ContainsRune("rRbBuUfF", rune(lit[i])) {
		i++
	}
	prefix := strings.ToLower(lit[:i])
	if strings.ContainsAny(prefix, "fb") {
		return "", false
	}
	body := lit[i:]
	var quote string
	switch {
	case strings.HasPrefix(body, `"""`), strings.HasPrefix(body, `'''`):
		quote = body[:3]
	case strings.HasPrefix(body, `"`), strings.HasPrefix(body, `'`):
		quote = body[:1]
	default:
		return "", false
	}
	if len(body) < 2*len(quote) || !strings.HasSuffix(body, quote) {
		return "", false
	}
	body = body[len(quote) : len(body)-len(quote)]
	if strings.Contains(prefix, "r") {
		return body, true
	}
	return unescape(body), true
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '\\' || i+1 >= len(s) {
			b.WriteByte(ch)
			continue
		}
		i++
		switch s[i] {
		case '\n':
		case '\\':
			b.WriteByte('\\')
		case '\'':
			b.WriteByte('\'')
		case '"':
			b.WriteByte('"')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case 'x', 'u', 'U':
			width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[s[i]]
			if i+width < len(s) {
				if r, err := strconv.ParseUint(s[i+1:i+1+width], 16, 32); err == nil {
					b.WriteRune(rune(r))
					i += width
					continue
				}
			}
			b.WriteByte('\\')
			b.WriteByte(s[i])
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			r, _ := strconv.ParseUint(s[i:j], 8, 32)
			b.WriteRune(rune(r))
			i = j - 1
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
