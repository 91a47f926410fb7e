// Package query defines the backend-neutral query expression types the DAOs
// construct and the storage backends render into their native form: typed
// predicates, AND-combined filters, sort specifications, flatten pipelines,
// and single-document update operations.
package query

import (
	"strings"

	"modeldb/pkg/domain"
)

// Operator names a comparison applied between a stored field and a predicate value.
type Operator string

// Comparison operators recognised by the predicate compiler. CONTAIN is a
// string-substring match; the rest map directly to native comparisons.
const (
	OpEQ      Operator = "EQ"
	OpNE      Operator = "NE"
	OpGT      Operator = "GT"
	OpGTE     Operator = "GTE"
	OpLT      Operator = "LT"
	OpLTE     Operator = "LTE"
	OpContain Operator = "CONTAIN"
)

// Valid reports whether op is one of the recognised operators.
func (op Operator) Valid() bool {
	switch op {
	case OpEQ, OpNE, OpGT, OpGTE, OpLT, OpLTE, OpContain:
		return true
	}
	return false
}

// Predicate is one caller-supplied (key, operator, typed value) filter
// condition. Key may be a plain field name or a dotted path such as
// "metrics.accuracy" reaching one level into a repeated sub-list.
type Predicate struct {
	Key   string
	Op    Operator
	Value domain.Value
}

// Clause is one compiled filter condition. When ElemKey is empty the clause
// compares the top-level field named by Field; otherwise it is an
// element-match: at least one element of the repeated sub-list Field must
// have key == ElemKey and a value satisfying Op against Value.
type Clause struct {
	Field   string
	ElemKey string
	Op      Operator
	Value   domain.Value
}

// Filter restricts a collection scan. All members are AND-combined; zero
// members match everything. IDs, when non-nil, restricts to the listed
// identifiers (an empty non-nil list matches nothing).
type Filter struct {
	IDs          []string
	ProjectID    string
	ExperimentID string
	Clauses      []Clause
}

// Empty reports whether the filter applies no restriction at all.
func (f Filter) Empty() bool {
	return f.IDs == nil && f.ProjectID == "" && f.ExperimentID == "" && len(f.Clauses) == 0
}

// Sort orders a result set by a single key. A dotted key addresses a field
// inside a repeated sub-list and forces pipeline execution.
type Sort struct {
	Key       string
	Ascending bool
}

// Nested splits a dotted sort key into the sub-list name and the element
// field to order by. For a key with more than one dot the trailing segment
// is the element field. Plain keys report ok == false.
func (s Sort) Nested() (list, field string, ok bool) {
	i := strings.Index(s.Key, ".")
	if i < 0 {
		return "", "", false
	}
	j := strings.LastIndex(s.Key, ".")
	return s.Key[:i], s.Key[j+1:], true
}

// Pipeline is the flatten-and-sort plan for a dotted sort key: unwind the
// named sub-list, keep elements carrying ElemField whose owner passes Scope,
// sort by the element field, project owner identifiers in order, truncate to
// Limit (0 means no limit). Owners appearing through several elements are
// reported once, at their first (best-ranked) position.
type Pipeline struct {
	Unwind    string
	ElemField string
	Scope     Filter
	Ascending bool
	Limit     int
}
