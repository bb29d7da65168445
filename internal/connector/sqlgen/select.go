package sqlgen

import (
	"fmt"
	"strings"

	"data-engine/internal/common/errors"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

// Select compiles a plain row query. Includes and aggregations have their
// own entry points; this one ignores both.
func (c *Compiler) Select(q *query.Query) (*Statement, error) {
	t, err := c.Table(q.StorageKey)
	if err != nil {
		return nil, err
	}
	b := &stmtBuilder{dialect: c.dialect}

	conds, err := c.baseConds(b, t, q)
	if err != nil {
		return nil, err
	}

	sql := "SELECT " + t.columnList("") + " FROM " + quote(t.Name)
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	if order := c.orderBy(t, q.Sort); order != "" {
		sql += " ORDER BY " + order
	}
	sql += c.window(q.Pagination)

	return &Statement{SQL: sql, Args: b.args, Columns: t.Columns}, nil
}

// baseConds collects the WHERE conjuncts: the filter plus the cursor
// condition. The cursor compiles to a row-comparison subquery so a cursor
// row that no longer exists yields an empty page, matching the in-memory
// connector.
func (c *Compiler) baseConds(b *stmtBuilder, t Table, q *query.Query) ([]string, error) {
	var conds []string
	where, err := c.where(b, t, q.Filter)
	if err != nil {
		return nil, err
	}
	if where != "" {
		conds = append(conds, where)
	}
	if cur := q.Pagination.Cursor; cur != nil {
		ft, ok := t.columnType(cur.Field)
		if !ok {
			return nil, errors.InternalError("cursor references unknown column "+cur.Field, nil)
		}
		ph, err := c.bindValue(b, ft, cur.Value)
		if err != nil {
			return nil, err
		}
		col := quote(cur.Field)
		conds = append(conds, fmt.Sprintf("%s > (SELECT %s FROM %s WHERE %s = %s)",
			col, col, quote(t.Name), col, ph))
	}
	return conds, nil
}

// window renders the pagination clause. The cursor already moved into the
// WHERE clause, so only the limit applies alongside it.
func (c *Compiler) window(p query.Pagination) string {
	if p.Cursor != nil {
		return c.dialect.LimitOffset(p.Limit, 0)
	}
	return c.dialect.LimitOffset(p.Limit, p.Offset)
}

func (c *Compiler) orderBy(t Table, sortFields []query.SortField) string {
	if len(sortFields) == 0 {
		return ""
	}
	parts := make([]string, len(sortFields))
	for i, s := range sortFields {
		parts[i] = quote(s.Field) + " " + c.dialect.OrderDirection(s.Direction)
	}
	return strings.Join(parts, ", ")
}

// SelectRelated compiles the batched fetch of one relation's rows for a set
// of parent keys. Skip and take compile to a ROW_NUMBER window partitioned
// by the join key, so each parent gets its own page in one round trip; a
// cursor window cannot be expressed that way and flags NeedsWindow for the
// adapter to apply after the fetch.
func (c *Compiler) SelectRelated(q *query.Query, childKey string, keys []interface{}) (*Statement, error) {
	t, err := c.Table(q.StorageKey)
	if err != nil {
		return nil, err
	}
	keyType, ok := t.columnType(childKey)
	if !ok {
		return nil, errors.InternalError("join key references unknown column "+childKey, nil)
	}
	b := &stmtBuilder{dialect: c.dialect}

	phs := make([]string, len(keys))
	for i, key := range keys {
		ph, err := c.bindValue(b, keyType, key)
		if err != nil {
			return nil, err
		}
		phs[i] = ph
	}
	conds := []string{quote(childKey) + " IN (" + strings.Join(phs, ", ") + ")"}

	where, err := c.where(b, t, q.Filter)
	if err != nil {
		return nil, err
	}
	if where != "" {
		conds = append(conds, where)
	}

	order := c.orderBy(t, q.Sort)
	if order == "" {
		order = quote(t.PrimaryKey) + " " + c.dialect.OrderDirection(query.Ascending)
	}

	p := q.Pagination
	if p.Cursor != nil || (p.Limit == 0 && p.Offset == 0) {
		sql := "SELECT " + t.columnList("") + " FROM " + quote(t.Name) +
			" WHERE " + strings.Join(conds, " AND ") +
			" ORDER BY " + order
		return &Statement{
			SQL:         sql,
			Args:        b.args,
			Columns:     t.Columns,
			NeedsWindow: p.Cursor != nil,
		}, nil
	}

	inner := "SELECT " + t.columnList("") +
		", ROW_NUMBER() OVER (PARTITION BY " + quote(childKey) + " ORDER BY " + order + ") AS rn" +
		" FROM " + quote(t.Name) +
		" WHERE " + strings.Join(conds, " AND ")

	bounds := make([]string, 0, 2)
	if p.Offset > 0 {
		bounds = append(bounds, fmt.Sprintf("rn > %d", p.Offset))
	}
	if p.Limit > 0 {
		bounds = append(bounds, fmt.Sprintf("rn <= %d", p.Offset+p.Limit))
	}

	sql := "SELECT " + t.columnList("") + " FROM (" + inner + ") AS w" +
		" WHERE " + strings.Join(bounds, " AND ") +
		" ORDER BY rn"

	return &Statement{SQL: sql, Args: b.args, Columns: t.Columns}, nil
}

// Aggregate compiles count/avg/sum/min/max with optional grouping. Averages
// and sums are cast explicitly so both engines hand back the scan types the
// in-memory aggregation produces.
func (c *Compiler) Aggregate(q *query.Query) (*Statement, error) {
	agg := q.Aggregation
	if agg == nil {
		return nil, errors.InternalError("aggregate compile without an aggregation", nil)
	}
	t, err := c.Table(q.StorageKey)
	if err != nil {
		return nil, err
	}
	b := &stmtBuilder{dialect: c.dialect}

	var selects []string
	var cols []Column
	for _, field := range agg.GroupBy {
		ft, ok := t.columnType(field)
		if !ok {
			return nil, errors.InternalError("group by references unknown column "+field, nil)
		}
		selects = append(selects, quote(field))
		cols = append(cols, Column{Name: field, Type: ft})
	}
	appendAgg := func(kind query.AggregateKind, fields []string) error {
		for _, field := range fields {
			expr, ft, err := c.aggregateExpr(t, kind, field)
			if err != nil {
				return err
			}
			key := query.AggregateKey(kind, field)
			selects = append(selects, expr+" AS "+quote(key))
			cols = append(cols, Column{Name: key, Type: ft})
		}
		return nil
	}
	if agg.Count {
		if err := appendAgg(query.AggregateCount, []string{""}); err != nil {
			return nil, err
		}
	}
	for _, pair := range []struct {
		kind   query.AggregateKind
		fields []string
	}{
		{query.AggregateAvg, agg.Avg},
		{query.AggregateSum, agg.Sum},
		{query.AggregateMin, agg.Min},
		{query.AggregateMax, agg.Max},
	} {
		if err := appendAgg(pair.kind, pair.fields); err != nil {
			return nil, err
		}
	}

	sql := "SELECT " + strings.Join(selects, ", ") + " FROM " + quote(t.Name)

	where, err := c.where(b, t, q.Filter)
	if err != nil {
		return nil, err
	}
	if where != "" {
		sql += " WHERE " + where
	}

	if len(agg.GroupBy) > 0 {
		groups := make([]string, len(agg.GroupBy))
		for i, field := range agg.GroupBy {
			groups[i] = quote(field)
		}
		sql += " GROUP BY " + strings.Join(groups, ", ")

		having, err := c.having(b, t, agg.Having)
		if err != nil {
			return nil, err
		}
		if having != "" {
			sql += " HAVING " + having
		}

		order := make([]string, len(agg.GroupBy))
		for i, field := range agg.GroupBy {
			order[i] = quote(field) + " " + c.dialect.OrderDirection(query.Ascending)
		}
		sql += " ORDER BY " + strings.Join(order, ", ")
	}

	sql += c.dialect.LimitOffset(q.Pagination.Limit, q.Pagination.Offset)

	return &Statement{SQL: sql, Args: b.args, Columns: cols}, nil
}

// aggregateExpr renders one aggregate computation and its scan type.
func (c *Compiler) aggregateExpr(t Table, kind query.AggregateKind, field string) (string, schema.FieldType, error) {
	if kind == query.AggregateCount {
		return "COUNT(*)", schema.FieldTypeInt, nil
	}
	ft, ok := t.columnType(field)
	if !ok {
		return "", "", errors.InternalError("aggregate references unknown column "+field, nil)
	}
	col := quote(field)
	switch kind {
	case query.AggregateAvg:
		return "CAST(AVG(" + col + ") AS " + c.dialect.ColumnType(schema.FieldTypeFloat) + ")", schema.FieldTypeFloat, nil
	case query.AggregateSum:
		return "CAST(SUM(" + col + ") AS " + c.dialect.ColumnType(ft) + ")", ft, nil
	case query.AggregateMin:
		return "MIN(" + col + ")", ft, nil
	case query.AggregateMax:
		return "MAX(" + col + ")", ft, nil
	}
	return "", "", errors.InternalError("unknown aggregate kind "+string(kind), nil)
}

// having compiles the post-grouping filter. Condition fields name either a
// group-by column or an aggregate key such as "avg.age" or "count", which
// re-expand to their expressions since SQL HAVING cannot use aliases on
// every engine.
func (c *Compiler) having(b *stmtBuilder, t Table, f *query.Filter) (string, error) {
	if f == nil {
		return "", nil
	}
	switch {
	case f.Condition != nil:
		expr, ft, err := c.havingOperand(t, f.Condition.Field)
		if err != nil {
			return "", err
		}
		return c.condExpr(b, t, expr, ft, f.Condition)
	case len(f.And) > 0:
		return c.havingJunction(b, t, f.And, " AND ")
	case len(f.Or) > 0:
		return c.havingJunction(b, t, f.Or, " OR ")
	case f.Not != nil:
		inner, err := c.having(b, t, f.Not)
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

func (c *Compiler) havingJunction(b *stmtBuilder, t Table, children []*query.Filter, op string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		expr, err := c.having(b, t, child)
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

func (c *Compiler) havingOperand(t Table, field string) (string, schema.FieldType, error) {
	if field == string(query.AggregateCount) {
		return c.aggregateExpr(t, query.AggregateCount, "")
	}
	if kind, target, ok := splitAggregateKey(field); ok {
		return c.aggregateExpr(t, kind, target)
	}
	ft, ok := t.columnType(field)
	if !ok {
		return "", "", errors.InternalError("having references unknown column "+field, nil)
	}
	return quote(field), ft, nil
}

func splitAggregateKey(key string) (query.AggregateKind, string, bool) {
	idx := strings.IndexByte(key, '.')
	if idx <= 0 {
		return "", "", false
	}
	kind := query.AggregateKind(key[:idx])
	switch kind {
	case query.AggregateAvg, query.AggregateSum, query.AggregateMin, query.AggregateMax:
		return kind, key[idx+1:], true
	}
	return "", "", false
}
