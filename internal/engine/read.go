package engine

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"data-engine/internal/assemble"
	"data-engine/internal/common/errors"
	"data-engine/internal/common/logging"
	"data-engine/internal/connector"
	"data-engine/internal/identity"
	"data-engine/internal/pipeline"
	"data-engine/internal/query"
	"data-engine/internal/schema"
	"data-engine/internal/txn"
)

// FindMany returns every instance matching the query, relations included,
// windowed by the configured page size.
func (e *Engine) FindMany(ctx context.Context, model string, raw query.RawQuery) (*Result, error) {
	q, warnings, err := e.buildRead(model, raw)
	if err != nil {
		return nil, err
	}

	rows, err := e.read(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Result{Data: rows, Warnings: warnings}, nil
}

// FindFirst returns the first matching instance in the query's order, or
// nil when nothing matches.
func (e *Engine) FindFirst(ctx context.Context, model string, raw query.RawQuery) (*Record, error) {
	q, warnings, err := e.buildRead(model, raw)
	if err != nil {
		return nil, err
	}
	q.Pagination.Limit = 1

	rows, err := e.read(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &Record{Data: rows[0], Warnings: warnings}, nil
}

// FindUnique returns the instance pinned by a unique criterion, or nil
// when it does not exist. Filters that cannot pin a single row are
// rejected rather than silently returning the first match.
func (e *Engine) FindUnique(ctx context.Context, model string, raw query.RawQuery) (*Record, error) {
	m, err := e.registry.Resolve(model)
	if err != nil {
		return nil, err
	}
	q, warnings, err := e.buildRead(model, raw)
	if err != nil {
		return nil, err
	}
	if err := requireUniqueCriterion(m, q.Filter); err != nil {
		return nil, err
	}
	q.Pagination = query.Pagination{Limit: 1}

	rows, err := e.read(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &Record{Data: rows[0], Warnings: warnings}, nil
}

// Count returns the number of instances matching the filter.
func (e *Engine) Count(ctx context.Context, model string, raw query.RawQuery) (int64, error) {
	raw.Aggregate = &query.RawAggregation{Count: true}
	raw.Include = nil

	q, _, err := e.builder.Build(model, raw)
	if err != nil {
		return 0, err
	}
	rows, err := e.fetchRows(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return countValue(rows[0][string(query.AggregateCount)])
}

// Aggregate computes the requested aggregates, grouped when the query
// asks for it. Backends without the Aggregation capability reject the
// call before any row is read.
func (e *Engine) Aggregate(ctx context.Context, model string, raw query.RawQuery) (*Result, error) {
	if raw.Aggregate == nil {
		return nil, errors.ValidationError("aggregate requires an aggregation object")
	}
	q, warnings, err := e.builder.Build(model, raw)
	if err != nil {
		return nil, err
	}

	rows, err := e.fetchRows(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Result{Data: rows, Warnings: warnings}, nil
}

func (e *Engine) buildRead(model string, raw query.RawQuery) (*query.Query, []query.Warning, error) {
	q, warnings, err := e.builder.Build(model, raw)
	if err != nil {
		return nil, nil, err
	}
	if q.Aggregation != nil {
		return nil, nil, errors.ValidationError("aggregate queries run through Aggregate")
	}
	return q, warnings, nil
}

// read serves one instance query: from the cache when enabled and warm,
// otherwise from the backend inside a fresh transaction. Either way each
// returned instance passes through the model's before-response chain.
func (e *Engine) read(ctx context.Context, q *query.Query) ([]connector.Row, error) {
	rows, hit := e.cachedRows(ctx, q)
	if !hit {
		fetched, err := e.fetchRows(ctx, q)
		if err != nil {
			return nil, err
		}
		rows = fetched
		if e.cache != nil {
			e.cache.Store(ctx, q, rows)
		}
	}

	if err := e.respond(ctx, q.Model, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) cachedRows(ctx context.Context, q *query.Query) ([]connector.Row, bool) {
	if e.cache == nil {
		return nil, false
	}
	rows, ok := e.cache.Lookup(ctx, q)
	if ok {
		e.logger.Debug("read served from cache",
			logging.String("model", q.Model),
			logging.Int("rows", len(rows)))
	}
	return rows, ok
}

// fetchRows runs one query tree inside its own transaction.
func (e *Engine) fetchRows(ctx context.Context, q *query.Query) ([]connector.Row, error) {
	t, err := e.coordinator.Begin(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := e.fetchTree(ctx, t, q)
	if err != nil {
		e.rollback(ctx, t)
		return nil, err
	}
	if err := t.Commit(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// fetchTree executes a query and materializes its includes: in one round
// trip when the backend joins natively and the whole include tree lives
// on that backend, otherwise by fetching relation rows per include and
// merging in the assembler. Both strategies produce the same shape.
func (e *Engine) fetchTree(ctx context.Context, t *txn.Transaction, q *query.Query) ([]connector.Row, error) {
	conn := e.conn(q.Model)

	if q.Aggregation != nil {
		if !conn.Capabilities().Aggregation {
			return nil, errors.UnsupportedError(conn.Name(), "Aggregation")
		}
		stream, err := t.Execute(ctx, conn, q)
		if err != nil {
			return nil, err
		}
		return collect(stream)
	}

	model, err := e.registry.Resolve(q.Model)
	if err != nil {
		return nil, err
	}

	if len(q.Includes) > 0 && e.nativeJoin(conn, q) {
		stream, err := t.Execute(ctx, conn, q)
		if err != nil {
			return nil, err
		}
		rows, err := collect(stream)
		if err != nil {
			return nil, err
		}
		return e.assembler.Assemble(model, rows, nil)
	}

	flat := *q
	flat.Includes = nil
	stream, err := t.Execute(ctx, conn, &flat)
	if err != nil {
		return nil, err
	}
	parents, err := collect(stream)
	if err != nil {
		return nil, err
	}

	included, err := e.fetchIncluded(ctx, t, parents, q.Includes)
	if err != nil {
		return nil, err
	}
	return e.assembler.Assemble(model, parents, included)
}

// nativeJoin reports whether the backend can answer the whole include
// tree itself. A tree spanning backends always assembles engine-side.
func (e *Engine) nativeJoin(conn connector.Connector, q *query.Query) bool {
	if !conn.Capabilities().JoinedIncludes {
		return false
	}
	return e.sameBackend(q.Includes, conn.Name())
}

func (e *Engine) sameBackend(includes []query.Include, name string) bool {
	for _, inc := range includes {
		if e.conn(inc.Relation.Target).Name() != name {
			return false
		}
		if !e.sameBackend(inc.Query.Includes, name) {
			return false
		}
	}
	return true
}

// fetchIncluded resolves each include into the relation rows the
// assembler merges, recursing into nested includes of the rows that
// survived this level's window.
func (e *Engine) fetchIncluded(ctx context.Context, t *txn.Transaction, parents []connector.Row, includes []query.Include) ([]assemble.Included, error) {
	if len(includes) == 0 || len(parents) == 0 {
		return nil, nil
	}

	out := make([]assemble.Included, 0, len(includes))
	for _, inc := range includes {
		child, err := e.registry.Resolve(inc.Relation.Target)
		if err != nil {
			return nil, err
		}

		rows, err := e.relationRows(ctx, t, child, parents, inc)
		if err != nil {
			return nil, err
		}
		nested, err := e.fetchIncluded(ctx, t, rows, inc.Query.Includes)
		if err != nil {
			return nil, err
		}

		out = append(out, assemble.Included{
			Relation: inc.Relation,
			Model:    child,
			Rows:     rows,
			Nested:   nested,
		})
	}
	return out, nil
}

// relationRows fetches the rows backing one include in a single batched
// call keyed by the relation's join fields. A nested pagination window
// applies per parent after the fetch, so a take on an included list
// bounds each parent's list rather than the whole batch.
func (e *Engine) relationRows(ctx context.Context, t *txn.Transaction, child *schema.Model, parents []connector.Row, inc query.Include) ([]connector.Row, error) {
	parentKey, childKey := joinFields(inc.Relation)

	keys := make([]interface{}, 0, len(parents))
	for _, parent := range parents {
		if v, ok := parent[parentKey]; ok && v != nil {
			keys = append(keys, v)
		}
	}
	keys = lo.Uniq(keys)
	if len(keys) == 0 {
		return nil, nil
	}

	childQ := *inc.Query
	childQ.Includes = nil
	childQ.Filter = query.AllOf(
		&query.Filter{Condition: &query.Condition{Field: childKey, Op: query.OpIn, Value: keys}},
		inc.Query.Filter,
	)
	window := childQ.Pagination
	childQ.Pagination = query.Pagination{}

	stream, err := t.Execute(ctx, e.conn(child.Name()), &childQ)
	if err != nil {
		return nil, err
	}
	rows, err := collect(stream)
	if err != nil {
		return nil, err
	}

	if window.Limit > 0 || window.Offset > 0 || window.Cursor != nil {
		rows = windowPerParent(rows, childKey, window)
	}
	return rows, nil
}

// joinFields resolves which side of the relation each model carries: a
// to-one relation stores the foreign key on the parent, a to-many on the
// child.
func joinFields(rel schema.Relation) (parentKey, childKey string) {
	if rel.Cardinality == schema.CardinalityOne {
		return rel.ForeignKey, rel.References
	}
	return rel.References, rel.ForeignKey
}

// windowPerParent applies a nested pagination window within each parent's
// group. The backend already sorted the batch, and filtering a sorted
// sequence by group keeps each group sorted.
func windowPerParent(rows []connector.Row, childKey string, window query.Pagination) []connector.Row {
	var order []string
	groups := make(map[string][]connector.Row)
	for _, row := range rows {
		key := fmt.Sprintf("%v", row[childKey])
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	out := make([]connector.Row, 0, len(rows))
	for _, key := range order {
		out = append(out, windowRows(groups[key], window)...)
	}
	return out
}

// windowRows mirrors connector window semantics: the cursor row is
// excluded, a vanished cursor row yields an empty page, and cursor wins
// over offset.
func windowRows(rows []connector.Row, p query.Pagination) []connector.Row {
	if p.Cursor != nil {
		after := -1
		for i, row := range rows {
			if query.Matches(&query.Condition{Field: p.Cursor.Field, Op: query.OpEquals, Value: p.Cursor.Value}, row[p.Cursor.Field]) {
				after = i
				break
			}
		}
		if after == -1 {
			return nil
		}
		rows = rows[after+1:]
	} else if p.Offset > 0 {
		if p.Offset >= len(rows) {
			return nil
		}
		rows = rows[p.Offset:]
	}

	if p.Limit > 0 && len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	return rows
}

// respond runs every returned instance through the model's
// before-response chain. It runs after commit, so step reads are
// auto-committed.
func (e *Engine) respond(ctx context.Context, model string, rows []connector.Row) error {
	if len(rows) == 0 {
		return nil
	}
	m, err := e.registry.Resolve(model)
	if err != nil {
		return err
	}
	if !e.executor.HasChain(m.Name(), schema.EventBeforeResponse) {
		return nil
	}

	id := identity.FromContext(ctx).ForPipeline()
	runtime := &connRuntime{engine: e}
	for _, row := range rows {
		ec := pipeline.NewExecutionContext(m, pipeline.PurposeRead, row)
		ec.Identity = id
		ec.Runtime = runtime
		if err := e.executor.Run(ctx, schema.EventBeforeResponse, ec); err != nil {
			return err
		}
	}
	return nil
}

// requireUniqueCriterion checks the filter pins at most one row: an
// equality on the primary key, on a unique field, or on every field of a
// composite unique constraint, reachable through conjunctions alone.
func requireUniqueCriterion(m *schema.Model, f *query.Filter) error {
	pinned := make(map[string]bool)
	collectEqualities(f, pinned)

	if pinned[m.PrimaryKey().Name] {
		return nil
	}
	for _, c := range m.Constraints() {
		if c.Kind != schema.ConstraintUnique {
			continue
		}
		if lo.EveryBy(c.Fields, func(name string) bool { return pinned[name] }) {
			return nil
		}
	}
	return errors.ValidationError("filter must pin the primary key or a unique constraint with equality")
}

// collectEqualities walks the conjunctive spine of a filter. Disjunctive
// and negated subtrees cannot pin a row, so they contribute nothing.
func collectEqualities(f *query.Filter, into map[string]bool) {
	if f == nil {
		return
	}
	if f.Condition != nil && f.Condition.Op == query.OpEquals {
		into[f.Condition.Field] = true
	}
	for _, sub := range f.And {
		collectEqualities(sub, into)
	}
}

func countValue(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return 0, errors.InternalError(fmt.Sprintf("backend returned non-numeric count %v", v), nil)
}
