// Package query defines the backend-neutral intermediate representation
// executed by storage connectors, and the builder that produces it from
// raw request parameters validated against the schema registry.
package query

import (
	"regexp"

	"data-engine/internal/schema"
)

// Operator is a filter comparison operator
type Operator string

const (
	OpEquals     Operator = "equals"
	OpNot        Operator = "not"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notIn"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpMatches    Operator = "matches"
)

// Operators lists every comparison operator the builder accepts
var Operators = []Operator{
	OpEquals, OpNot, OpGt, OpGte, OpLt, OpLte,
	OpIn, OpNotIn, OpContains, OpStartsWith, OpEndsWith, OpMatches,
}

// Comparative reports whether the operator requires an orderable field
func (o Operator) Comparative() bool {
	switch o {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Textual reports whether the operator requires a string field
func (o Operator) Textual() bool {
	switch o {
	case OpContains, OpStartsWith, OpEndsWith, OpMatches:
		return true
	}
	return false
}

// Membership reports whether the operator takes a list value
func (o Operator) Membership() bool {
	return o == OpIn || o == OpNotIn
}

// Condition is a single field comparison. The builder normalizes the value
// to the field's scalar type and pre-compiles regular expressions before a
// connector ever sees the condition.
type Condition struct {
	Field           string
	Op              Operator
	Value           interface{}
	CaseInsensitive bool

	re *regexp.Regexp
}

// Filter is one node of a boolean filter tree. Exactly one of Condition,
// And, Or, Not is set; a nil *Filter matches every row.
type Filter struct {
	Condition *Condition
	And       []*Filter
	Or        []*Filter
	Not       *Filter
}

// FieldEquals builds a leaf filter matching one field value. The engine
// uses it for primary-key and unique lookups.
func FieldEquals(field string, value interface{}) *Filter {
	return &Filter{Condition: &Condition{Field: field, Op: OpEquals, Value: value}}
}

// AllOf combines filters into a conjunction, flattening nils
func AllOf(filters ...*Filter) *Filter {
	kept := make([]*Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Filter{And: kept}
}

// Direction is a sort direction
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// SortField orders results by one field
type SortField struct {
	Field     string
	Direction Direction
}

// Cursor marks an exclusive resume position keyed on the primary key.
// Rows at or before the cursor position under the query's sort order are
// skipped.
type Cursor struct {
	Field string
	Value interface{}
}

// Pagination bounds the result window. Limit is always positive after the
// builder applies defaults and clamping; Cursor and Offset are mutually
// exclusive.
type Pagination struct {
	Limit  int
	Offset int
	Cursor *Cursor
}

// Include requests a relation to be populated on each returned instance,
// with a nested query scoping the related rows.
type Include struct {
	Relation schema.Relation
	Query    *Query
}

// AggregateKind names one aggregate computation
type AggregateKind string

const (
	AggregateCount AggregateKind = "count"
	AggregateAvg   AggregateKind = "avg"
	AggregateSum   AggregateKind = "sum"
	AggregateMin   AggregateKind = "min"
	AggregateMax   AggregateKind = "max"
)

// Aggregation describes count/avg/sum/min/max computations, optionally
// grouped. Having filters the aggregated rows; its conditions reference
// either group-by fields or aggregate keys such as "avg.age" and "count".
type Aggregation struct {
	Count   bool
	Avg     []string
	Sum     []string
	Min     []string
	Max     []string
	GroupBy []string
	Having  *Filter
}

// AggregateKey is the result-row key for one aggregate value, e.g.
// "avg.age". Count has no field and keys as "count".
func AggregateKey(kind AggregateKind, field string) string {
	if kind == AggregateCount {
		return string(AggregateCount)
	}
	return string(kind) + "." + field
}

// Query is the validated, backend-neutral form a connector executes.
// Sort always ends with an ascending primary-key tie-break so repeated
// identical calls paginate deterministically.
type Query struct {
	Model       string
	StorageKey  string
	Filter      *Filter
	Sort        []SortField
	Pagination  Pagination
	Includes    []Include
	Aggregation *Aggregation
}

// Warning is a non-fatal notice attached to a build result
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WarningPageSizeClamped reports a requested page size above the configured
// maximum
const WarningPageSizeClamped = "page-size-clamped"

// RawQuery is the caller-facing request shape before validation. Filter
// and Include hold the decoded JSON trees; the builder turns them into the
// typed IR or rejects them with a validation error naming the field.
type RawQuery struct {
	Filter  map[string]interface{} `json:"filter,omitempty"`
	Sort    []map[string]string    `json:"sort,omitempty"`
	Take    *int                   `json:"take,omitempty"`
	Skip    *int                   `json:"skip,omitempty"`
	Cursor  interface{}            `json:"cursor,omitempty"`
	Include map[string]interface{} `json:"include,omitempty"`

	Aggregate *RawAggregation `json:"aggregate,omitempty"`
}

// RawAggregation is the unvalidated aggregation request
type RawAggregation struct {
	Count   bool                   `json:"count,omitempty"`
	Avg     []string               `json:"avg,omitempty"`
	Sum     []string               `json:"sum,omitempty"`
	Min     []string               `json:"min,omitempty"`
	Max     []string               `json:"max,omitempty"`
	GroupBy []string               `json:"groupBy,omitempty"`
	Having  map[string]interface{} `json:"having,omitempty"`
}
