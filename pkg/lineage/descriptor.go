package lineage

import "github.com/leapstack-labs/sqlineage/pkg/sqltree"

// selectListEnd lists the clause keywords that close a select list.
var selectListEnd = []string{
	"FROM", "INTO", "GROUP BY", "ORDER BY", "HAVING", "LIMIT", "OFFSET",
	"WINDOW", "QUALIFY", "FETCH", "UNION", "UNION ALL", "INTERSECT", "EXCEPT",
}

func endsSelectList(kw *sqltree.Keyword) bool {
	for _, v := range selectListEnd {
		if kw.Is(v) {
			return true
		}
	}
	return false
}

// selectItems returns the projected items of stmt: the nodes after SELECT
// up to the next clause keyword, with identifier lists flattened. Other
// keywords in the list (DISTINCT, NOT, IS) are skipped.
func selectItems(stmt *sqltree.Statement) []sqltree.Node {
	var items []sqltree.Node
	started := false

	for _, n := range stmt.Nodes {
		kw, isKeyword := n.(*sqltree.Keyword)
		if !started {
			started = isKeyword && kw.Is("SELECT")
			continue
		}
		if isKeyword {
			if endsSelectList(kw) {
				break
			}
			continue
		}
		switch v := n.(type) {
		case *sqltree.Where:
			return items
		case *sqltree.IdentifierList:
			items = append(items, v.Items...)
		default:
			items = append(items, v)
		}
	}
	return items
}

// builder turns select-list items into descriptors.
type builder struct {
	tables     *TableBinding
	conditions conditions
}

func (b *builder) describe(n sqltree.Node) []ColumnDescriptor {
	switch v := n.(type) {
	case *sqltree.Wildcard:
		return []ColumnDescriptor{b.wildcard(v)}
	case *sqltree.Function:
		return []ColumnDescriptor{b.function(v)}
	case *sqltree.Identifier:
		if v.IsExpression() {
			return b.expression(v.Expr, v.Alias, v.Text())
		}
		return []ColumnDescriptor{b.column(v, v.Alias, v.Text())}
	case *sqltree.Parenthesis, *sqltree.Comparison:
		return b.expression([]sqltree.Node{v}, "", v.Text())
	case *sqltree.Other:
		if v.IsGroup() {
			return b.expression([]sqltree.Node{v}, "", v.Text())
		}
	}
	// literals and punctuation carry no lineage
	return nil
}

func (b *builder) wildcard(w *sqltree.Wildcard) ColumnDescriptor {
	d := ColumnDescriptor{
		Name:    stringPtr("*"),
		Section: SectionSelect,
		Text:    w.Text(),
	}
	if id, ok := b.tables.First(); ok {
		d.Table = &id
	}
	return d
}

func (b *builder) function(f *sqltree.Function) ColumnDescriptor {
	d := ColumnDescriptor{
		Alias:         optional(f.Alias),
		Section:       SectionSelect,
		Text:          f.Text(),
		Table:         b.lookup(f.Parent),
		IsAggregation: true,
	}
	if args := f.Arguments(); len(args) > 0 {
		if id, ok := args[0].(*sqltree.Identifier); ok && isColumn(id) {
			d.Name = stringPtr(id.Name)
		}
	}
	return d
}

// expression emits one descriptor per column referenced inside nodes, all
// sharing alias and text.
func (b *builder) expression(nodes []sqltree.Node, alias, text string) []ColumnDescriptor {
	var cols []*sqltree.Identifier
	for _, n := range nodes {
		cols = collectColumns(n, cols)
	}

	out := make([]ColumnDescriptor, 0, len(cols))
	for _, col := range cols {
		out = append(out, b.column(col, alias, text))
	}
	return out
}

func (b *builder) column(id *sqltree.Identifier, alias, text string) ColumnDescriptor {
	d := ColumnDescriptor{
		Name:    stringPtr(id.Name),
		Alias:   optional(alias),
		Section: SectionSelect,
		Text:    text,
		Table:   b.lookup(id.Parent),
	}
	if match, ok := firstMatch(b.conditions.join, id.Name); ok {
		d.IsJoinCondition = true
		d.JoinText = stringPtr(match)
	}
	if match, ok := firstMatch(b.conditions.filter, id.Name); ok {
		d.IsFilterCondition = true
		d.ConditionText = stringPtr(match)
	}
	return d
}

// lookup resolves a column qualifier. Unbound qualifiers pass through as
// literal names; an empty qualifier resolves to nil.
func (b *builder) lookup(qualifier string) *TableIdentity {
	if qualifier == "" {
		return nil
	}
	if id, ok := b.tables.Lookup(qualifier); ok {
		return &id
	}
	return &TableIdentity{Name: qualifier}
}

// collectColumns appends the column references found under n in document
// order. Subqueries, cast target types and function names are not columns.
func collectColumns(n sqltree.Node, cols []*sqltree.Identifier) []*sqltree.Identifier {
	switch v := n.(type) {
	case *sqltree.Identifier:
		if isColumn(v) {
			return append(cols, v)
		}
	case *sqltree.Parenthesis:
		if v.IsSubquery() {
			return cols
		}
	case *sqltree.Other:
		for i, child := range v.Nodes {
			if i > 0 && isCast(v.Nodes[i-1]) {
				continue
			}
			cols = collectColumns(child, cols)
		}
		return cols
	}

	for _, child := range sqltree.Children(n) {
		cols = collectColumns(child, cols)
	}
	return cols
}

// isColumn reports whether id is a plain column reference.
func isColumn(id *sqltree.Identifier) bool {
	return !id.IsExpression() && id.Name != "" && id.Name != "*"
}

func isCast(n sqltree.Node) bool {
	o, ok := n.(*sqltree.Other)
	return ok && !o.IsGroup() && o.Token == sqltree.TOKEN_DCOLON
}

func stringPtr(s string) *string {
	return &s
}

// optional returns nil for an empty string.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
