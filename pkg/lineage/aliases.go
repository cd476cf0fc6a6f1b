package lineage

import "github.com/leapstack-labs/sqlineage/pkg/sqltree"

// resolveAliases binds every table source of stmt. FROM or any JOIN keyword
// switches the scan into table-source mode, which lasts until the end of the
// statement.
func resolveAliases(stmt *sqltree.Statement) (*TableBinding, error) {
	tables := newTableBinding()
	inSources := false

	for _, n := range stmt.Nodes {
		switch v := n.(type) {
		case *sqltree.Keyword:
			if v.Is("FROM") || v.IsJoin() {
				inSources = true
			}
		case *sqltree.IdentifierList:
			if !inSources {
				continue
			}
			for _, item := range v.Items {
				if err := bindSource(tables, item); err != nil {
					return nil, err
				}
			}
		case *sqltree.Identifier, *sqltree.Parenthesis:
			if !inSources {
				continue
			}
			if err := bindSource(tables, v); err != nil {
				return nil, err
			}
		}
	}
	return tables, nil
}

// bindSource binds one table source. Plain names bind alias-or-name to the
// qualified name; parenthesized sub-statements bind to their own lineage.
func bindSource(tables *TableBinding, n sqltree.Node) error {
	switch v := n.(type) {
	case *sqltree.Identifier:
		if p := v.Subquery(); p != nil {
			return bindSubquery(tables, subqueryKey(v.Alias, v.Name, p), p)
		}
		if v.IsExpression() {
			return nil
		}
		key := v.Alias
		if key == "" {
			key = v.Name
		}
		tables.bind(key, TableIdentity{Name: v.Qualified()})
	case *sqltree.Parenthesis:
		if v.IsSubquery() {
			return bindSubquery(tables, subqueryKey("", "", v), v)
		}
	}
	return nil
}
