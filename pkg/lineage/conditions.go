package lineage

import (
	"strings"

	"github.com/leapstack-labs/sqlineage/pkg/sqltree"
)

// conditions holds the source text of the predicates a statement captures.
type conditions struct {
	join   []string
	filter []string
}

// extractConditions collects join and filter predicate text.
//
// Every JOIN keyword contributes the text of the first top-level comparison
// of the statement, whichever join that comparison belongs to. Filters are
// the comparisons directly inside WHERE, in document order.
func extractConditions(stmt *sqltree.Statement) conditions {
	var c conditions

	first, found := "", false
	for _, n := range stmt.Nodes {
		if cmp, ok := n.(*sqltree.Comparison); ok {
			first, found = cmp.Text(), true
			break
		}
	}

	for _, n := range stmt.Nodes {
		switch v := n.(type) {
		case *sqltree.Keyword:
			if v.IsJoin() && found {
				c.join = append(c.join, first)
			}
		case *sqltree.Where:
			for _, sub := range v.Nodes {
				if cmp, ok := sub.(*sqltree.Comparison); ok {
					c.filter = append(c.filter, cmp.Text())
				}
			}
		}
	}
	return c
}

// firstMatch returns the first text that contains name as a substring.
func firstMatch(texts []string, name string) (string, bool) {
	for _, text := range texts {
		if strings.Contains(text, name) {
			return text, true
		}
	}
	return "", false
}
