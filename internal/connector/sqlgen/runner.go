package sqlgen

import (
	"context"
	"database/sql"
	"fmt"

	"data-engine/internal/connector"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ErrorMapper translates a driver error into an engine error. Each adapter
// supplies one so constraint and contention failures keep their meaning.
type ErrorMapper func(err error) error

// Runner executes compiled statements for one adapter. Both SQL adapters
// run identical mechanics over database/sql; only the dialect, connection
// setup and error translation differ, and those stay in the adapter.
type Runner struct {
	Compiler *Compiler
	MapError ErrorMapper
}

// Execute answers a read query. Plain selects and aggregations stream
// lazily off the wire; include-bearing queries materialize so related rows
// can be folded onto their parents.
func (r *Runner) Execute(ctx context.Context, run Querier, q *query.Query) (connector.RowStream, error) {
	if q.Aggregation != nil {
		stmt, err := r.Compiler.Aggregate(q)
		if err != nil {
			return nil, err
		}
		return r.stream(ctx, run, stmt)
	}
	if len(q.Includes) > 0 {
		rows, err := r.fetchTree(ctx, run, q)
		if err != nil {
			return nil, err
		}
		return connector.NewSliceStream(rows), nil
	}
	stmt, err := r.Compiler.Select(q)
	if err != nil {
		return nil, err
	}
	return r.stream(ctx, run, stmt)
}

// Write applies one mutation. Creates and updates return the stored row
// through RETURNING; upserts are an update-then-insert pair so the caller
// learns whether a row was created.
func (r *Runner) Write(ctx context.Context, run Querier, op *query.WriteOperation) (*connector.WriteResult, error) {
	switch op.Kind {
	case query.WriteCreate:
		return r.insert(ctx, run, op)

	case query.WriteUpdate:
		return r.update(ctx, run, op)

	case query.WriteUpsert:
		result, err := r.update(ctx, run, op)
		if err != nil {
			return nil, err
		}
		if result.Affected > 0 {
			return result, nil
		}
		created, err := r.insert(ctx, run, op)
		if err != nil {
			return nil, err
		}
		created.Created = true
		return created, nil

	case query.WriteDelete:
		stmt, err := r.Compiler.Delete(op)
		if err != nil {
			return nil, err
		}
		res, err := run.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, r.MapError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, r.MapError(err)
		}
		return &connector.WriteResult{Affected: affected}, nil
	}
	return nil, fmt.Errorf("unknown write kind %q", op.Kind)
}

func (r *Runner) insert(ctx context.Context, run Querier, op *query.WriteOperation) (*connector.WriteResult, error) {
	stmt, err := r.Compiler.Insert(op)
	if err != nil {
		return nil, err
	}
	rows, err := r.queryAll(ctx, run, stmt)
	if err != nil {
		return nil, err
	}
	result := &connector.WriteResult{Affected: int64(len(rows))}
	if len(rows) > 0 {
		result.Row = rows[0]
	}
	return result, nil
}

func (r *Runner) update(ctx context.Context, run Querier, op *query.WriteOperation) (*connector.WriteResult, error) {
	stmt, err := r.Compiler.Update(op)
	if err != nil {
		return nil, err
	}
	rows, err := r.queryAll(ctx, run, stmt)
	if err != nil {
		return nil, err
	}
	result := &connector.WriteResult{Affected: int64(len(rows))}
	if len(rows) > 0 {
		result.Row = rows[len(rows)-1]
	}
	return result, nil
}

// Migrate applies the schema DDL.
func (r *Runner) Migrate(ctx context.Context, run Querier) error {
	stmts, err := r.Compiler.DDL()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := run.ExecContext(ctx, stmt); err != nil {
			return r.MapError(err)
		}
	}
	return nil
}

// fetchTree loads the parent rows and folds every requested relation onto
// them, one batched fetch per relation.
func (r *Runner) fetchTree(ctx context.Context, run Querier, q *query.Query) ([]connector.Row, error) {
	flat := *q
	flat.Includes = nil
	stmt, err := r.Compiler.Select(&flat)
	if err != nil {
		return nil, err
	}
	parents, err := r.queryAll(ctx, run, stmt)
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return parents, nil
	}
	for _, inc := range q.Includes {
		if err := r.attachRelated(ctx, run, parents, inc); err != nil {
			return nil, err
		}
	}
	return parents, nil
}

// attachRelated fetches one relation's rows for every parent and sets the
// relation field on each: the matched row or nil for "one", always a slice
// for "many".
func (r *Runner) attachRelated(ctx context.Context, run Querier, parents []connector.Row, inc query.Include) error {
	parentKey, childKey := joinKeys(inc.Relation)

	var keys []interface{}
	seen := make(map[string]bool)
	for _, parent := range parents {
		v := parent[parentKey]
		if v == nil {
			continue
		}
		k := groupKey(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, v)
	}

	var children []connector.Row
	if len(keys) > 0 {
		childQ := *inc.Query
		childQ.Includes = nil
		stmt, err := r.Compiler.SelectRelated(&childQ, childKey, keys)
		if err != nil {
			return err
		}
		children, err = r.queryAll(ctx, run, stmt)
		if err != nil {
			return err
		}
		if stmt.NeedsWindow {
			children = cursorWindow(children, childKey, childQ.Pagination)
		}
		for _, nested := range inc.Query.Includes {
			if err := r.attachRelated(ctx, run, children, nested); err != nil {
				return err
			}
		}
	}

	grouped := make(map[string][]connector.Row)
	for _, child := range children {
		k := groupKey(child[childKey])
		grouped[k] = append(grouped[k], child)
	}

	for _, parent := range parents {
		var matched []connector.Row
		if v := parent[parentKey]; v != nil {
			matched = grouped[groupKey(v)]
		}
		if inc.Relation.Cardinality == schema.CardinalityOne {
			if len(matched) > 0 {
				parent[inc.Relation.Name] = matched[0]
			} else {
				parent[inc.Relation.Name] = nil
			}
			continue
		}
		if matched == nil {
			matched = []connector.Row{}
		}
		parent[inc.Relation.Name] = matched
	}
	return nil
}

// joinKeys resolves which side of the relation carries the foreign key.
func joinKeys(rel schema.Relation) (parentKey, childKey string) {
	if rel.Cardinality == schema.CardinalityOne {
		return rel.ForeignKey, rel.References
	}
	return rel.References, rel.ForeignKey
}

func groupKey(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

// cursorWindow applies a cursor page to already-sorted rows, per parent
// group. The cursor row itself is excluded; a vanished cursor yields an
// empty group.
func cursorWindow(rows []connector.Row, childKey string, p query.Pagination) []connector.Row {
	var order []string
	grouped := make(map[string][]connector.Row)
	for _, row := range rows {
		k := groupKey(row[childKey])
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], row)
	}

	var out []connector.Row
	for _, k := range order {
		group := grouped[k]
		after := -1
		for i, row := range group {
			if query.Matches(&query.Condition{Field: p.Cursor.Field, Op: query.OpEquals, Value: p.Cursor.Value}, row[p.Cursor.Field]) {
				after = i
				break
			}
		}
		if after == -1 {
			continue
		}
		group = group[after+1:]
		if p.Limit > 0 && len(group) > p.Limit {
			group = group[:p.Limit]
		}
		out = append(out, group...)
	}
	return out
}

func (r *Runner) queryAll(ctx context.Context, run Querier, stmt *Statement) ([]connector.Row, error) {
	rows, err := run.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, r.MapError(err)
	}
	defer rows.Close()

	var out []connector.Row
	for rows.Next() {
		row, err := ScanRow(rows, stmt.Columns)
		if err != nil {
			return nil, r.MapError(err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, r.MapError(err)
	}
	return out, nil
}

func (r *Runner) stream(ctx context.Context, run Querier, stmt *Statement) (connector.RowStream, error) {
	rows, err := run.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, r.MapError(err)
	}
	return &sqlStream{rows: rows, cols: stmt.Columns, mapErr: r.MapError}, nil
}

// sqlStream adapts *sql.Rows to the connector stream contract, decoding
// each row as it is pulled.
type sqlStream struct {
	rows   *sql.Rows
	cols   []Column
	mapErr ErrorMapper
	cur    connector.Row
	err    error
}

func (s *sqlStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.rows.Next() {
		s.err = s.rows.Err()
		return false
	}
	row, err := ScanRow(s.rows, s.cols)
	if err != nil {
		s.err = err
		return false
	}
	s.cur = row
	return true
}

func (s *sqlStream) Row() connector.Row {
	return s.cur
}

func (s *sqlStream) Err() error {
	if s.err == nil {
		return nil
	}
	return s.mapErr(s.err)
}

func (s *sqlStream) Close() error {
	return s.rows.Close()
}
