// Package lineage derives column-level lineage from SQL SELECT statements.
//
// For every projected column or expression it reports the table or subquery
// the column comes from, whether the column takes part in a join or filter
// predicate, and whether it is wrapped in a function call.
//
// # Pipeline
//
// Each SELECT statement runs through four stages:
//
//	alias resolution  FROM/JOIN sources -> TableBinding
//	conditions        JOIN and WHERE comparisons -> ordered source text
//	descriptors       select-list items -> []ColumnDescriptor
//	subqueries        parenthesized sources re-enter the pipeline
//
// A column bound to a subquery alias carries the subquery's own Result as its
// table. When encoded, that nested Result is rendered as a JSON string
// holding the subquery's encoded lineage.
//
// # Usage
//
//	out, err := lineage.ExtractJSON("SELECT c.dob AS DOB FROM customer c")
//	if err != nil {
//	    // handle error
//	}
//	fmt.Println(out)
package lineage

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/sqlineage/pkg/sqltree"
)

// SectionSelect is the only section currently reported.
const SectionSelect = "select"

// ColumnDescriptor is the lineage of one projected column or expression
// fragment. Field order is the encoded key order.
type ColumnDescriptor struct {
	Name              *string        `json:"name"`
	Alias             *string        `json:"alias"`
	Section           string         `json:"section"`
	Text              string         `json:"text"`
	Table             *TableIdentity `json:"table"`
	IsJoinCondition   bool           `json:"isJoinCondition"`
	JoinText          *string        `json:"joinText"`
	IsFilterCondition bool           `json:"isFilterCondition"`
	ConditionText     *string        `json:"conditionText"`
	IsAggregation     bool           `json:"isAggregation,omitempty"`
}

// Result is the ordered list of descriptors for a statement or a batch of
// statements.
type Result []ColumnDescriptor

// Tables returns the distinct literal table names referenced by r, sorted.
// Subquery identities are not included.
func (r Result) Tables() []string {
	var names []string
	for _, d := range r {
		if d.Table != nil && !d.Table.IsSubquery() {
			names = append(names, d.Table.Name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// TableIdentity is what a table alias resolves to: a literal (possibly
// schema-qualified) name, or the lineage of a subquery.
type TableIdentity struct {
	Name     string // literal name; empty for subqueries
	Subquery Result // non-nil for subquery sources
}

// IsSubquery reports whether the identity is a nested lineage result.
func (t TableIdentity) IsSubquery() bool {
	return t.Subquery != nil
}

// String returns the literal name, or the encoded subquery lineage. It is
// meant for display: an encoding failure is rendered inline rather than
// returned, use MarshalJSON where the error matters.
func (t TableIdentity) String() string {
	s, err := t.text()
	if err != nil {
		return "!(" + err.Error() + ")"
	}
	return s
}

// TableBinding maps table aliases (or names, when unaliased) to their
// identities. Keys keep their first insertion position; rebinding a key
// replaces its identity.
type TableBinding struct {
	keys       []string
	identities map[string]TableIdentity
}

func newTableBinding() *TableBinding {
	return &TableBinding{identities: make(map[string]TableIdentity)}
}

func (b *TableBinding) bind(key string, id TableIdentity) {
	if _, ok := b.identities[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.identities[key] = id
}

// Lookup returns the identity bound to key.
func (b *TableBinding) Lookup(key string) (TableIdentity, bool) {
	id, ok := b.identities[key]
	return id, ok
}

// First returns the identity of the first key bound.
func (b *TableBinding) First() (TableIdentity, bool) {
	if len(b.keys) == 0 {
		return TableIdentity{}, false
	}
	return b.identities[b.keys[0]], true
}

// Keys returns the bound keys in insertion order.
func (b *TableBinding) Keys() []string {
	return slices.Clone(b.keys)
}

// Len returns the number of bound keys.
func (b *TableBinding) Len() int {
	return len(b.keys)
}

// Extract parses sql and returns the lineage of every SELECT statement in it,
// in statement order. Other statement kinds are skipped.
func Extract(sql string) (Result, error) {
	stmts, err := sqltree.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse sql: %w", err)
	}

	result := Result{}
	for _, stmt := range stmts {
		cols, err := ExtractStatement(stmt)
		if err != nil {
			return nil, err
		}
		result = append(result, cols...)
	}
	return result, nil
}

// ExtractStatement returns the lineage of a single grouped statement. A
// statement that is not a SELECT yields an empty result.
func ExtractStatement(stmt *sqltree.Statement) (Result, error) {
	result := Result{}
	if stmt.Type() != "SELECT" {
		return result, nil
	}

	tables, err := resolveAliases(stmt)
	if err != nil {
		return nil, err
	}
	b := &builder{
		tables:     tables,
		conditions: extractConditions(stmt),
	}
	for _, item := range selectItems(stmt) {
		result = append(result, b.describe(item)...)
	}
	return result, nil
}

// ExtractJSON extracts the lineage of sql and returns it encoded.
func ExtractJSON(sql string) (string, error) {
	result, err := Extract(sql)
	if err != nil {
		return "", err
	}
	b, err := Encode(result)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
