// Package sqltree tokenizes SQL and groups the tokens into a shallow tree of
// typed nodes, in the spirit of a non-validating SQL formatter.
//
// # Grouping
//
// The grouper does not build a full AST. Each nesting level (statement,
// parenthesis, CASE block) is grouped by a fixed series of passes:
//
//   - atoms: parentheses, dotted names, function calls, merged keywords,
//     CASE ... END blocks and wildcards
//   - signs and operations: -x, a + b, a || ', ' || b, x::int
//   - comparisons: a = b, a <> b, a LIKE b, a NOT LIKE b
//   - aliases: expr AS name, expr name
//   - identifier lists: item, item, ...
//   - where: WHERE ... up to the next clause keyword
//
// # Usage
//
//	stmts, err := sqltree.Parse("SELECT c.id AS cid FROM db1.customer c")
//	if err != nil {
//	    // handle error
//	}
//	for _, stmt := range stmts {
//	    fmt.Println(stmt.Type(), len(stmt.Nodes))
//	}
package sqltree

import "strings"

// Statement is one SQL statement grouped into a node tree.
type Statement struct {
	span
	Nodes []Node
}

// statementKinds lists the leading keywords reported by Statement.Type.
var statementKinds = map[string]bool{
	"SELECT":  true,
	"INSERT":  true,
	"UPDATE":  true,
	"DELETE":  true,
	"CREATE":  true,
	"DROP":    true,
	"REPLACE": true,
}

// Type returns the statement kind: SELECT, INSERT, UPDATE, DELETE, CREATE,
// DROP, REPLACE or UNKNOWN. A leading WITH clause is skipped.
func (s *Statement) Type() string {
	withSeen := false
	for _, n := range s.Nodes {
		kw, ok := n.(*Keyword)
		if !ok {
			if withSeen {
				continue
			}
			return "UNKNOWN"
		}
		word, _, _ := strings.Cut(kw.Value, " ")
		if statementKinds[word] {
			return word
		}
		if word == "WITH" {
			withSeen = true
			continue
		}
		if !withSeen {
			return "UNKNOWN"
		}
	}
	return "UNKNOWN"
}

// Parse splits sql into statements on top-level semicolons and groups each
// statement into a node tree. Empty statements are dropped.
func Parse(sql string) ([]*Statement, error) {
	l := NewLexer(sql)
	var toks []Token
	for {
		tok := l.NextToken()
		if tok.Type == TOKEN_EOF {
			break
		}
		toks = append(toks, tok)
	}
	if errs := l.Errors(); len(errs) > 0 {
		return nil, errs[0]
	}

	g := &grouper{src: sql}
	var stmts []*Statement
	for _, part := range splitStatements(toks) {
		nodes, err := g.group(part)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, &Statement{span: g.spanOf(part), Nodes: nodes})
	}
	return stmts, nil
}

// splitStatements splits tokens on semicolons outside parentheses.
func splitStatements(toks []Token) [][]Token {
	var parts [][]Token
	depth, start := 0, 0
	for i, tok := range toks {
		switch tok.Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		case TOKEN_SEMICOLON:
			if depth <= 0 {
				if i > start {
					parts = append(parts, toks[start:i])
				}
				start = i + 1
			}
		}
	}
	if start < len(toks) {
		parts = append(parts, toks[start:])
	}
	return parts
}

// grouper builds node trees over a single source string.
type grouper struct {
	src string
}

// spanOf returns the span covering a non-empty token run.
func (g *grouper) spanOf(toks []Token) span {
	first, last := toks[0], toks[len(toks)-1]
	return span{text: g.src[first.Pos.Offset:last.End], pos: first.Pos}
}

// join returns the span from the start of first to the end of last.
func (g *grouper) join(first, last Node) span {
	start := first.Pos()
	end := last.Pos().Offset + len(last.Text())
	return span{text: g.src[start.Offset:end], pos: start}
}

// group runs every grouping pass over one nesting level.
func (g *grouper) group(toks []Token) ([]Node, error) {
	nodes, err := g.atoms(toks)
	if err != nil {
		return nil, err
	}
	nodes = g.groupSigns(nodes)
	nodes = g.groupOperations(nodes)
	nodes = g.groupComparisons(nodes)
	nodes = g.groupAliases(nodes)
	nodes = g.groupIdentifierLists(nodes)
	nodes = g.groupWhere(nodes)
	return nodes, nil
}

// ---------- Atoms ----------

// functionKeywords are keywords that act as function names when directly
// followed by an argument list.
var functionKeywords = map[TokenType]bool{
	TOKEN_CAST:    true,
	TOKEN_LEFT:    true,
	TOKEN_RIGHT:   true,
	TOKEN_REPLACE: true,
}

// literalKeywords are keywords that denote values and group like literals.
var literalKeywords = map[TokenType]bool{
	TOKEN_NULL:  true,
	TOKEN_TRUE:  true,
	TOKEN_FALSE: true,
}

// clauseKeywords cannot be the name part of a dotted identifier. GROUP and
// ORDER only end a name when BY follows.
var clauseKeywords = map[TokenType]bool{
	TOKEN_SELECT: true,
	TOKEN_FROM:   true,
	TOKEN_WHERE:  true,
	TOKEN_JOIN:   true,
	TOKEN_ON:     true,
	TOKEN_HAVING: true,
	TOKEN_LIMIT:  true,
	TOKEN_UNION:  true,
	TOKEN_AS:     true,
}

// joinModifiers may precede JOIN and are merged into one keyword with it.
var joinModifiers = map[TokenType]bool{
	TOKEN_NATURAL: true,
	TOKEN_LEFT:    true,
	TOKEN_RIGHT:   true,
	TOKEN_FULL:    true,
	TOKEN_INNER:   true,
	TOKEN_OUTER:   true,
	TOKEN_CROSS:   true,
}

func (g *grouper) atoms(toks []Token) ([]Node, error) {
	var out []Node
	for i := 0; i < len(toks); {
		tok := toks[i]
		var (
			n    Node
			next int
			err  error
		)
		switch {
		case tok.Type == TOKEN_LPAREN:
			n, next, err = g.parenthesis(toks, i)
		case tok.Type == TOKEN_RPAREN:
			return nil, &ParseError{Pos: tok.Pos, Message: ErrUnbalancedClose}
		case tok.Type == TOKEN_CASE:
			n, next, err = g.caseBlock(toks, i)
		case tok.Type == TOKEN_IDENT:
			n, next, err = g.name(toks, i)
		case literalKeywords[tok.Type]:
			n, next = &Other{span: g.spanOf(toks[i : i+1]), Token: tok.Type}, i+1
		case functionKeywords[tok.Type] && i+1 < len(toks) && toks[i+1].Type == TOKEN_LPAREN:
			n, next, err = g.name(toks, i)
		case tok.Type.IsKeyword() && i+1 < len(toks) && toks[i+1].Type == TOKEN_DOT:
			// order.id, "user".name: a keyword used as a qualifier
			n, next, err = g.name(toks, i)
		case tok.Type.IsKeyword():
			n, next = g.keyword(toks, i)
		case tok.Type == TOKEN_STAR && (len(out) == 0 || !isOperand(out[len(out)-1])):
			n, next = &Wildcard{span: g.spanOf(toks[i : i+1])}, i+1
		default:
			n, next = &Other{span: g.spanOf(toks[i : i+1]), Token: tok.Type}, i+1
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		i = next
	}
	return out, nil
}

// matchParen returns the index of the parenthesis closing toks[open], or -1.
func matchParen(toks []Token, open int) int {
	depth := 0
	for j := open; j < len(toks); j++ {
		switch toks[j].Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

func (g *grouper) parenthesis(toks []Token, i int) (*Parenthesis, int, error) {
	j := matchParen(toks, i)
	if j < 0 {
		return nil, 0, &ParseError{Pos: toks[i].Pos, Message: ErrUnbalancedOpen}
	}
	inner, err := g.group(toks[i+1 : j])
	if err != nil {
		return nil, 0, err
	}
	return &Parenthesis{span: g.spanOf(toks[i : j+1]), Nodes: inner}, j + 1, nil
}

// name reads a dotted name and turns it into an Identifier, or into a
// Function when an argument list follows.
func (g *grouper) name(toks []Token, i int) (Node, int, error) {
	parts := []string{toks[i].Literal}
	j := i + 1
	for j+1 < len(toks) && toks[j].Type == TOKEN_DOT {
		next := toks[j+1]
		if next.Type != TOKEN_IDENT && next.Type != TOKEN_STAR && !next.Type.IsKeyword() {
			break
		}
		if clauseKeywords[next.Type] || isByClause(toks, j+1) {
			break
		}
		parts = append(parts, next.Literal)
		j += 2
		if next.Type == TOKEN_STAR {
			break
		}
	}

	name := parts[len(parts)-1]
	parent := strings.Join(parts[:len(parts)-1], ".")

	if name != "*" && j < len(toks) && toks[j].Type == TOKEN_LPAREN {
		args, next, err := g.parenthesis(toks, j)
		if err != nil {
			return nil, 0, err
		}
		return &Function{span: g.spanOf(toks[i:next]), Name: name, Parent: parent, Args: args}, next, nil
	}
	return &Identifier{span: g.spanOf(toks[i:j]), Name: name, Parent: parent}, j, nil
}

func isByClause(toks []Token, i int) bool {
	t := toks[i].Type
	return (t == TOKEN_GROUP || t == TOKEN_ORDER) && i+1 < len(toks) && toks[i+1].Type == TOKEN_BY
}

// keyword reads a keyword, merging multi-word forms.
func (g *grouper) keyword(toks []Token, i int) (*Keyword, int) {
	end := i + 1
	switch t := toks[i].Type; {
	case joinModifiers[t]:
		j := i
		for j < len(toks) && joinModifiers[toks[j].Type] {
			j++
		}
		if j < len(toks) && toks[j].Type == TOKEN_JOIN {
			end = j + 1
		}
	case t == TOKEN_GROUP || t == TOKEN_ORDER || t == TOKEN_PARTITION:
		if end < len(toks) && toks[end].Type == TOKEN_BY {
			end++
		}
	case t == TOKEN_UNION:
		if end < len(toks) && toks[end].Type == TOKEN_ALL {
			end++
		}
	}

	words := make([]string, 0, end-i)
	for _, tok := range toks[i:end] {
		words = append(words, strings.ToUpper(tok.Literal))
	}
	return &Keyword{span: g.spanOf(toks[i:end]), Value: strings.Join(words, " ")}, end
}

// caseBlock groups CASE ... END into a compound Other node.
func (g *grouper) caseBlock(toks []Token, i int) (*Other, int, error) {
	depth := 0
	for j := i; j < len(toks); j++ {
		switch toks[j].Type {
		case TOKEN_CASE:
			depth++
		case TOKEN_END:
			depth--
			if depth > 0 {
				continue
			}
			inner, err := g.group(toks[i+1 : j])
			if err != nil {
				return nil, 0, err
			}
			nodes := make([]Node, 0, len(inner)+2)
			nodes = append(nodes, &Keyword{span: g.spanOf(toks[i : i+1]), Value: "CASE"})
			nodes = append(nodes, inner...)
			nodes = append(nodes, &Keyword{span: g.spanOf(toks[j : j+1]), Value: "END"})
			return &Other{span: g.spanOf(toks[i : j+1]), Token: TOKEN_CASE, Nodes: nodes}, j + 1, nil
		}
	}
	return nil, 0, &ParseError{Pos: toks[i].Pos, Message: ErrUnterminatedCase}
}

// ---------- Passes ----------

// isOperand reports whether n can stand on either side of an operator.
func isOperand(n Node) bool {
	switch v := n.(type) {
	case *Identifier, *Function, *Parenthesis:
		return true
	case *Other:
		return v.IsGroup() || isLiteral(v) || v.Token == TOKEN_PARAM
	default:
		return false
	}
}

// isLiteral reports whether o is a single literal value.
func isLiteral(o *Other) bool {
	return !o.IsGroup() && (o.Token == TOKEN_NUMBER || o.Token == TOKEN_STRING || literalKeywords[o.Token])
}

func isToken(n Node, types ...TokenType) bool {
	o, ok := n.(*Other)
	if !ok || o.IsGroup() {
		return false
	}
	for _, t := range types {
		if o.Token == t {
			return true
		}
	}
	return false
}

func isKeyword(n Node, values ...string) bool {
	kw, ok := n.(*Keyword)
	if !ok {
		return false
	}
	for _, v := range values {
		if kw.Value == v {
			return true
		}
	}
	return false
}

// groupSigns folds a unary + or - into the operand that follows it.
func (g *grouper) groupSigns(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for i := 0; i < len(nodes); i++ {
		n := nodes[i]
		if isToken(n, TOKEN_MINUS, TOKEN_PLUS) &&
			(len(out) == 0 || !isOperand(out[len(out)-1])) &&
			i+1 < len(nodes) && isOperand(nodes[i+1]) {
			sign := n.(*Other)
			out = append(out, &Other{span: g.join(n, nodes[i+1]), Token: sign.Token, Nodes: []Node{n, nodes[i+1]}})
			i++
			continue
		}
		out = append(out, n)
	}
	return out
}

func isArithmetic(n Node) bool {
	return isToken(n, TOKEN_PLUS, TOKEN_MINUS, TOKEN_STAR, TOKEN_SLASH, TOKEN_PERCENT, TOKEN_DPIPE, TOKEN_DCOLON)
}

// groupOperations folds operand (op operand)+ chains into one node.
func (g *grouper) groupOperations(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for i := 0; i < len(nodes); {
		j := i
		if isOperand(nodes[i]) {
			for j+2 < len(nodes) && isArithmetic(nodes[j+1]) && isOperand(nodes[j+2]) {
				j += 2
			}
		}
		if j == i {
			out = append(out, nodes[i])
			i++
			continue
		}
		chain := make([]Node, j-i+1)
		copy(chain, nodes[i:j+1])
		op := nodes[i+1].(*Other)
		out = append(out, &Other{span: g.join(nodes[i], nodes[j]), Token: op.Token, Nodes: chain})
		i = j + 1
	}
	return out
}

func isComparisonOperand(n Node) bool {
	return isOperand(n)
}

// comparisonOperator returns the width of the operator starting at nodes[i]
// (0 when there is none) and its normalized text.
func comparisonOperator(nodes []Node, i int) (int, string) {
	n := nodes[i]
	if isToken(n, TOKEN_EQ, TOKEN_NE, TOKEN_LT, TOKEN_GT, TOKEN_LE, TOKEN_GE) {
		return 1, n.Text()
	}
	if isKeyword(n, "LIKE", "ILIKE") {
		return 1, n.(*Keyword).Value
	}
	if isKeyword(n, "NOT") && i+1 < len(nodes) && isKeyword(nodes[i+1], "LIKE", "ILIKE") {
		return 2, "NOT " + nodes[i+1].(*Keyword).Value
	}
	return 0, ""
}

// groupComparisons folds operand op operand into Comparison nodes.
func (g *grouper) groupComparisons(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for i := 0; i < len(nodes); i++ {
		if isComparisonOperand(nodes[i]) && i+1 < len(nodes) {
			width, op := comparisonOperator(nodes, i+1)
			r := i + 1 + width
			if width > 0 && r < len(nodes) && isComparisonOperand(nodes[r]) {
				out = append(out, &Comparison{
					span:     g.join(nodes[i], nodes[r]),
					Left:     nodes[i],
					Operator: op,
					Right:    nodes[r],
				})
				i = r
				continue
			}
		}
		out = append(out, nodes[i])
	}
	return out
}

func isAliasable(n Node) bool {
	switch v := n.(type) {
	case *Identifier:
		return v.Alias == "" && v.Name != "*"
	case *Function:
		return v.Alias == ""
	case *Parenthesis:
		return true
	case *Other:
		return v.IsGroup() || isLiteral(v)
	default:
		return false
	}
}

func isAliasName(n Node) bool {
	id, ok := n.(*Identifier)
	return ok && id.Parent == "" && id.Alias == "" && !id.IsExpression() && id.Name != "*"
}

// groupAliases attaches "AS name" and positional aliases.
func (g *grouper) groupAliases(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for i := 0; i < len(nodes); i++ {
		n := nodes[i]
		if isAliasable(n) {
			if i+2 < len(nodes) && isKeyword(nodes[i+1], "AS") && isAliasName(nodes[i+2]) {
				out = append(out, g.alias(n, nodes[i+2].(*Identifier)))
				i += 2
				continue
			}
			if i+1 < len(nodes) && isAliasName(nodes[i+1]) {
				out = append(out, g.alias(n, nodes[i+1].(*Identifier)))
				i++
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func (g *grouper) alias(n Node, name *Identifier) Node {
	sp := g.join(n, name)
	switch v := n.(type) {
	case *Identifier:
		c := *v
		c.span, c.Alias = sp, name.Name
		return &c
	case *Function:
		c := *v
		c.span, c.Alias = sp, name.Name
		return &c
	default:
		return &Identifier{span: sp, Alias: name.Name, Expr: []Node{n}}
	}
}

func isListItem(n Node) bool {
	switch n.(type) {
	case *Keyword, *Where:
		return false
	default:
		return !isToken(n, TOKEN_COMMA)
	}
}

// groupIdentifierLists folds item (, item)+ runs into IdentifierList nodes.
func (g *grouper) groupIdentifierLists(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for i := 0; i < len(nodes); {
		j := i
		if isListItem(nodes[i]) {
			for j+2 < len(nodes) && isToken(nodes[j+1], TOKEN_COMMA) && isListItem(nodes[j+2]) {
				j += 2
			}
		}
		if j == i {
			out = append(out, nodes[i])
			i++
			continue
		}
		items := make([]Node, 0, (j-i)/2+1)
		for k := i; k <= j; k += 2 {
			items = append(items, nodes[k])
		}
		out = append(out, &IdentifierList{span: g.join(nodes[i], nodes[j]), Items: items})
		i = j + 1
	}
	return out
}

// whereTerminators end a WHERE clause.
var whereTerminators = []string{
	"GROUP BY", "ORDER BY", "HAVING", "LIMIT", "OFFSET", "QUALIFY",
	"UNION", "UNION ALL", "INTERSECT", "EXCEPT",
}

// groupWhere folds WHERE ... into Where nodes.
func (g *grouper) groupWhere(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for i := 0; i < len(nodes); {
		if !isKeyword(nodes[i], "WHERE") {
			out = append(out, nodes[i])
			i++
			continue
		}
		end := len(nodes)
		for j := i + 1; j < len(nodes); j++ {
			if isKeyword(nodes[j], whereTerminators...) {
				end = j
				break
			}
		}
		clause := make([]Node, end-i)
		copy(clause, nodes[i:end])
		out = append(out, &Where{span: g.join(nodes[i], nodes[end-1]), Nodes: clause})
		i = end
	}
	return out
}
