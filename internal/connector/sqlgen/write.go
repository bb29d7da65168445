package sqlgen

import (
	"strings"

	"data-engine/internal/common/errors"
	"data-engine/internal/query"
)

// Insert compiles a create. Only schema columns present in the values make
// it into the statement; pipeline steps may stash extra keys on the value
// map and those have no column to land in. The statement returns the full
// stored row.
func (c *Compiler) Insert(op *query.WriteOperation) (*Statement, error) {
	t, err := c.Table(op.StorageKey)
	if err != nil {
		return nil, err
	}
	b := &stmtBuilder{dialect: c.dialect}

	var cols, phs []string
	for _, col := range t.Columns {
		v, ok := op.Values[col.Name]
		if !ok {
			continue
		}
		ph, err := c.bindValue(b, col.Type, v)
		if err != nil {
			return nil, err
		}
		cols = append(cols, quote(col.Name))
		phs = append(phs, ph)
	}
	if len(cols) == 0 {
		return nil, errors.InternalError("create with no column values", nil)
	}

	sql := "INSERT INTO " + quote(t.Name) +
		" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(phs, ", ") + ")" +
		" RETURNING " + t.columnList("")

	return &Statement{SQL: sql, Args: b.args, Columns: t.Columns}, nil
}

// Update compiles a patch of the rows matching the filter, returning every
// updated row. An empty patch still has to touch the row to get it back,
// so it assigns the primary key to itself.
func (c *Compiler) Update(op *query.WriteOperation) (*Statement, error) {
	t, err := c.Table(op.StorageKey)
	if err != nil {
		return nil, err
	}
	b := &stmtBuilder{dialect: c.dialect}

	var sets []string
	for _, col := range t.Columns {
		v, ok := op.Values[col.Name]
		if !ok {
			continue
		}
		ph, err := c.bindValue(b, col.Type, v)
		if err != nil {
			return nil, err
		}
		sets = append(sets, quote(col.Name)+" = "+ph)
	}
	if len(sets) == 0 {
		pk := quote(t.PrimaryKey)
		sets = append(sets, pk+" = "+pk)
	}

	sql := "UPDATE " + quote(t.Name) + " SET " + strings.Join(sets, ", ")

	where, err := c.where(b, t, op.Filter)
	if err != nil {
		return nil, err
	}
	if where != "" {
		sql += " WHERE " + where
	}
	sql += " RETURNING " + t.columnList("")

	return &Statement{SQL: sql, Args: b.args, Columns: t.Columns}, nil
}

// Delete compiles a removal of the rows matching the filter.
func (c *Compiler) Delete(op *query.WriteOperation) (*Statement, error) {
	t, err := c.Table(op.StorageKey)
	if err != nil {
		return nil, err
	}
	b := &stmtBuilder{dialect: c.dialect}

	sql := "DELETE FROM " + quote(t.Name)

	where, err := c.where(b, t, op.Filter)
	if err != nil {
		return nil, err
	}
	if where != "" {
		sql += " WHERE " + where
	}

	return &Statement{SQL: sql, Args: b.args}, nil
}
