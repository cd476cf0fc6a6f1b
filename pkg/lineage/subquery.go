package lineage

import (
	"fmt"

	"github.com/leapstack-labs/sqlineage/pkg/sqltree"
)

// bindSubquery runs the full pipeline on the statement inside p and binds the
// result under key.
func bindSubquery(tables *TableBinding, key string, p *sqltree.Parenthesis) error {
	result, err := extractSubquery(p)
	if err != nil {
		return err
	}
	tables.bind(key, TableIdentity{Subquery: result})
	return nil
}

// extractSubquery re-enters Extract on the text between the parentheses.
// Redundant wrapping, as in ((SELECT ...)), is peeled first.
func extractSubquery(p *sqltree.Parenthesis) (Result, error) {
	for len(p.Nodes) == 1 {
		inner, ok := p.Nodes[0].(*sqltree.Parenthesis)
		if !ok {
			break
		}
		p = inner
	}

	result, err := Extract(p.Inner())
	if err != nil {
		return nil, fmt.Errorf("subquery at %s: %w", p.Pos(), err)
	}
	return result, nil
}

// subqueryKey picks the binding key of a subquery source: its alias, else its
// real name, else the first identifier inside the parenthesis.
func subqueryKey(alias, name string, p *sqltree.Parenthesis) string {
	if alias != "" {
		return alias
	}
	if name != "" {
		return name
	}

	var key string
	sqltree.Walk(p, func(n sqltree.Node) bool {
		if key != "" {
			return false
		}
		if id, ok := n.(*sqltree.Identifier); ok && id.Name != "" {
			key = id.Name
			return false
		}
		return true
	})
	return key
}
