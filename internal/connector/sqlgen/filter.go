package sqlgen

import (
	"encoding/json"
	"strings"

	"data-engine/internal/common/errors"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

// where compiles a filter tree into one SQL boolean expression. An empty
// string means the filter matches every row.
func (c *Compiler) where(b *stmtBuilder, t Table, f *query.Filter) (string, error) {
	if f == nil {
		return "", nil
	}
	switch {
	case f.Condition != nil:
		ft, ok := t.columnType(f.Condition.Field)
		if !ok {
			return "", errors.InternalError("filter references unknown column "+f.Condition.Field, nil)
		}
		return c.condExpr(b, t, quote(f.Condition.Field), ft, f.Condition)

	case len(f.And) > 0:
		return c.junction(b, t, f.And, " AND ")

	case len(f.Or) > 0:
		return c.junction(b, t, f.Or, " OR ")

	case f.Not != nil:
		inner, err := c.where(b, t, f.Not)
		if err != nil {
			return "", err
		}
		if inner == "" {
			return "1 = 0", nil
		}
		return "NOT (" + inner + ")", nil
	}
	return "", nil
}

func (c *Compiler) junction(b *stmtBuilder, t Table, children []*query.Filter, op string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		expr, err := c.where(b, t, child)
		if err != nil {
			return "", err
		}
		if expr != "" {
			parts = append(parts, expr)
		}
	}
	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], nil
	}
	return "(" + strings.Join(parts, op) + ")", nil
}

// condExpr compiles one comparison against an arbitrary column expression.
// NULL handling mirrors the in-memory evaluator: rows with a NULL field
// match "not" and "notIn", never the comparatives or string operators.
func (c *Compiler) condExpr(b *stmtBuilder, t Table, col string, ft schema.FieldType, cond *query.Condition) (string, error) {
	switch cond.Op {
	case query.OpEquals:
		if cond.Value == nil {
			return col + " IS NULL", nil
		}
		ph, err := c.bindValue(b, ft, cond.Value)
		if err != nil {
			return "", err
		}
		if foldable(cond, ft) {
			return "LOWER(" + col + ") = LOWER(" + ph + ")", nil
		}
		return col + " = " + ph, nil

	case query.OpNot:
		if cond.Value == nil {
			return col + " IS NOT NULL", nil
		}
		ph, err := c.bindValue(b, ft, cond.Value)
		if err != nil {
			return "", err
		}
		expr := col + " <> " + ph
		if foldable(cond, ft) {
			expr = "LOWER(" + col + ") <> LOWER(" + ph + ")"
		}
		return "(" + col + " IS NULL OR " + expr + ")", nil

	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		ph, err := c.bindValue(b, ft, cond.Value)
		if err != nil {
			return "", err
		}
		return col + " " + comparator(cond.Op) + " " + ph, nil

	case query.OpIn, query.OpNotIn:
		list, ok := cond.Value.([]interface{})
		if !ok {
			return "", errors.InternalError("membership condition without a list value", nil)
		}
		if len(list) == 0 {
			if cond.Op == query.OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		phs := make([]string, len(list))
		for i, elem := range list {
			ph, err := c.bindValue(b, ft, elem)
			if err != nil {
				return "", err
			}
			phs[i] = ph
		}
		set := "(" + strings.Join(phs, ", ") + ")"
		if cond.Op == query.OpIn {
			return col + " IN " + set, nil
		}
		return "(" + col + " IS NULL OR " + col + " NOT IN " + set + ")", nil

	case query.OpContains, query.OpStartsWith, query.OpEndsWith:
		needle, ok := cond.Value.(string)
		if !ok {
			return "", errors.InternalError("substring condition without a string value", nil)
		}
		return c.dialect.LikeMatch(col, b.arg(likePattern(cond.Op, needle)), cond.CaseInsensitive), nil

	case query.OpMatches:
		pattern, ok := cond.Value.(string)
		if !ok {
			return "", errors.InternalError("regexp condition without a string pattern", nil)
		}
		ph := b.arg(c.dialect.RegexpArg(pattern, cond.CaseInsensitive))
		return c.dialect.RegexpMatch(col, ph, cond.CaseInsensitive), nil
	}
	return "", errors.InternalError("unknown filter operator "+string(cond.Op), nil)
}

func comparator(op query.Operator) string {
	switch op {
	case query.OpGt:
		return ">"
	case query.OpGte:
		return ">="
	case query.OpLt:
		return "<"
	default:
		return "<="
	}
}

func foldable(cond *query.Condition, ft schema.FieldType) bool {
	if !cond.CaseInsensitive || !ft.Textual() {
		return false
	}
	_, ok := cond.Value.(string)
	return ok
}

// bindValue appends one argument, encoding it for the column type.
func (c *Compiler) bindValue(b *stmtBuilder, ft schema.FieldType, v interface{}) (string, error) {
	encoded, err := encodeValue(ft, v)
	if err != nil {
		return "", err
	}
	return b.arg(encoded), nil
}

// encodeValue converts a canonical engine value into what the driver
// stores: json fields serialize to text, everything else passes through.
func encodeValue(ft schema.FieldType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if ft == schema.FieldTypeJSON {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.InternalError("serializing json column value", err)
		}
		return string(raw), nil
	}
	return v, nil
}

// likePattern escapes the needle and wraps it in wildcards for the
// operator. The escape character is backslash, declared on the LIKE.
func likePattern(op query.Operator, needle string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(needle)
	switch op {
	case query.OpContains:
		return "%" + escaped + "%"
	case query.OpStartsWith:
		return escaped + "%"
	default:
		return "%" + escaped
	}
}
