package sqltree

import "strings"

// Node is one element of a grouped statement tree. The set of
// implementations is closed: Keyword, Identifier, IdentifierList, Where,
// Comparison, Parenthesis, Function, Wildcard and Other.
type Node interface {
	// Text returns the exact source text covered by the node.
	Text() string
	// Pos returns the position of the node's first token.
	Pos() Position
	node()
}

// span carries the source text and start position shared by every node.
type span struct {
	text string
	pos  Position
}

func (s span) Text() string  { return s.text }
func (s span) Pos() Position { return s.pos }
func (span) node()           {}

// Keyword is a reserved word. Multi-word keywords such as INNER JOIN,
// LEFT OUTER JOIN, GROUP BY and ORDER BY are merged into one node.
type Keyword struct {
	span
	Value string // upper-cased, words separated by a single space
}

// Is reports whether the keyword equals value, ignoring case.
func (k *Keyword) Is(value string) bool {
	return strings.EqualFold(k.Value, value)
}

// IsJoin reports whether the keyword belongs to the JOIN family.
func (k *Keyword) IsJoin() bool {
	return strings.Contains(k.Value, "JOIN")
}

// Identifier is a possibly qualified name (c.id, db1.customer) or an
// aliased expression ((a || b) AS full_name, (SELECT ...) s).
type Identifier struct {
	span
	Name   string // real name; "*" for t.*; empty for aliased expressions
	Parent string // qualifier before the last dot, if any
	Alias  string // AS name or positional alias, if any
	Expr   []Node // wrapped expression; nil for plain references
}

// IsExpression reports whether the identifier wraps an expression rather
// than naming a column or table directly.
func (i *Identifier) IsExpression() bool {
	return len(i.Expr) > 0
}

// Qualified returns Parent.Name, or Name when there is no qualifier.
func (i *Identifier) Qualified() string {
	if i.Parent == "" {
		return i.Name
	}
	return i.Parent + "." + i.Name
}

// Subquery returns the parenthesized sub-statement the identifier wraps,
// or nil.
func (i *Identifier) Subquery() *Parenthesis {
	for _, n := range i.Expr {
		if p, ok := n.(*Parenthesis); ok && p.IsSubquery() {
			return p
		}
	}
	return nil
}

// IdentifierList is a comma-separated run of items.
type IdentifierList struct {
	span
	Items []Node
}

// Where is a WHERE clause. Nodes starts with the WHERE keyword.
type Where struct {
	span
	Nodes []Node
}

// Comparison is a binary predicate such as c.id = t.cid or name LIKE 'a%'.
type Comparison struct {
	span
	Left     Node
	Operator string
	Right    Node
}

// Parenthesis is a parenthesized group. Nodes holds the grouped content
// between the parentheses.
type Parenthesis struct {
	span
	Nodes []Node
}

// Inner returns the source text between the enclosing parentheses.
func (p *Parenthesis) Inner() string {
	if len(p.text) < 2 {
		return ""
	}
	return p.text[1 : len(p.text)-1]
}

// IsSubquery reports whether the parenthesis holds a SELECT statement.
func (p *Parenthesis) IsSubquery() bool {
	for _, n := range p.Nodes {
		if kw, ok := n.(*Keyword); ok {
			return kw.Is("SELECT") || kw.Is("WITH")
		}
		if inner, ok := n.(*Parenthesis); ok {
			return inner.IsSubquery()
		}
		return false
	}
	return false
}

// Function is a call such as SUM(o.amount) or dbo.fn(x), optionally aliased.
type Function struct {
	span
	Name   string
	Parent string
	Alias  string
	Args   *Parenthesis
}

// Arguments returns the positional arguments. Leading modifiers such as
// DISTINCT are skipped.
func (f *Function) Arguments() []Node {
	if f.Args == nil {
		return nil
	}
	var args []Node
	for _, n := range f.Args.Nodes {
		switch v := n.(type) {
		case *Keyword:
			continue
		case *IdentifierList:
			args = append(args, v.Items...)
		default:
			args = append(args, v)
		}
	}
	return args
}

// Wildcard is a bare * in operand position.
type Wildcard struct {
	span
}

// Other is any remaining token (literal, operator, punctuation) or a
// grouped compound expression. Nodes is non-nil only for compound
// expressions: arithmetic/concatenation chains, signed operands and
// CASE ... END blocks.
type Other struct {
	span
	Token TokenType // leaf token type; for groups the first operator, sign or TOKEN_CASE
	Nodes []Node
}

// IsGroup reports whether the node is a compound expression.
func (o *Other) IsGroup() bool {
	return o.Nodes != nil
}

// Children returns the direct children of n in document order.
func Children(n Node) []Node {
	switch v := n.(type) {
	case *Identifier:
		return v.Expr
	case *IdentifierList:
		return v.Items
	case *Where:
		return v.Nodes
	case *Comparison:
		return []Node{v.Left, v.Right}
	case *Parenthesis:
		return v.Nodes
	case *Function:
		if v.Args == nil {
			return nil
		}
		return []Node{v.Args}
	case *Other:
		return v.Nodes
	case *Statement:
		return v.Nodes
	default:
		return nil
	}
}

// Walk visits n and its descendants depth-first in document order. When fn
// returns false the children of that node are skipped.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, child := range Children(n) {
		Walk(child, fn)
	}
}
