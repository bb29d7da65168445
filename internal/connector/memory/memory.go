// Package memory provides a map-backed connector used as the reference
// backend in engine tests. It declares transactions, nested transactions
// and aggregation, but no joined includes, so it also exercises the
// engine's include fallback path.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"data-engine/internal/common/errors"
	"data-engine/internal/connector"
	"data-engine/internal/connector/base"
	"data-engine/internal/query"
)

type tables map[string]map[string]connector.Row

// Connector stores rows per storage key, keyed by primary-key value.
// Sessions work on a snapshot; commit folds only the rows the session
// touched back into the shared store, so concurrent sessions writing
// disjoint rows all keep their writes.
type Connector struct {
	*base.BaseConnector
	mu    sync.RWMutex
	store tables
}

// NewConnector creates an empty in-memory connector
func NewConnector(config *Config) (*Connector, error) {
	baseConnector, err := base.NewBaseConnector("memory", connector.Capabilities{
		Transactions:       true,
		NestedTransactions: true,
		Aggregation:        true,
	}, config)
	if err != nil {
		return nil, err
	}

	return &Connector{
		BaseConnector: baseConnector,
		store:         make(tables),
	}, nil
}

func cloneRow(row connector.Row) connector.Row {
	out := make(connector.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func cloneTables(src tables) tables {
	out := make(tables, len(src))
	for key, table := range src {
		copied := make(map[string]connector.Row, len(table))
		for pk, row := range table {
			copied[pk] = cloneRow(row)
		}
		out[key] = copied
	}
	return out
}

func pkKey(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

// Execute materializes matching rows, orders them, applies the pagination
// window and returns them as a single-pass stream.
func (c *Connector) Execute(ctx context.Context, q *query.Query, session connector.Session) (connector.RowStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot, err := c.working(session)
	if err != nil {
		return nil, err
	}

	var rows []connector.Row
	for _, row := range snapshot[q.StorageKey] {
		if query.Eval(q.Filter, row) {
			rows = append(rows, cloneRow(row))
		}
	}

	if q.Aggregation != nil {
		results := query.ComputeAggregation(rows, q.Aggregation)
		return connector.NewSliceStream(applyWindow(results, q.Pagination)), nil
	}

	query.SortRows(rows, q.Sort)
	return connector.NewSliceStream(applyWindow(rows, q.Pagination)), nil
}

func applyWindow(rows []connector.Row, p query.Pagination) []connector.Row {
	if p.Cursor != nil {
		// a cursor row that no longer exists yields an empty page, matching
		// the SQL adapters' row-comparison subquery
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
			rows = nil
		} else {
			rows = rows[p.Offset:]
		}
	}

	if p.Limit > 0 && len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	return rows
}

// Write applies one mutation to the session's working set, or directly to
// the committed store when no session is given.
func (c *Connector) Write(ctx context.Context, op *query.WriteOperation, session connector.Session) (*connector.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if session == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.applyWrite(c.store, op)
	}

	s, ok := session.(*memSession)
	if !ok {
		return nil, errors.ConnectorError("memory", fmt.Errorf("foreign session type %T", session))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, errors.ConnectorError("memory", fmt.Errorf("session already closed"))
	}
	return c.applyWrite(s.working, op)
}

func (c *Connector) applyWrite(dst tables, op *query.WriteOperation) (*connector.WriteResult, error) {
	table := dst[op.StorageKey]
	if table == nil {
		table = make(map[string]connector.Row)
		dst[op.StorageKey] = table
	}

	switch op.Kind {
	case query.WriteCreate:
		return createRow(table, op)

	case query.WriteUpdate:
		return updateRows(table, op)

	case query.WriteUpsert:
		result, err := updateRows(table, op)
		if err != nil {
			return nil, err
		}
		if result.Affected > 0 {
			return result, nil
		}
		created, err := createRow(table, op)
		if err != nil {
			return nil, err
		}
		created.Created = true
		return created, nil

	case query.WriteDelete:
		affected := int64(0)
		for pk, row := range table {
			if query.Eval(op.Filter, row) {
				delete(table, pk)
				affected++
			}
		}
		return &connector.WriteResult{Affected: affected}, nil
	}

	return nil, errors.ConnectorError("memory", fmt.Errorf("unknown write kind %q", op.Kind))
}

func createRow(table map[string]connector.Row, op *query.WriteOperation) (*connector.WriteResult, error) {
	pkValue, ok := op.Values[op.PrimaryKey]
	if !ok || pkValue == nil {
		return nil, errors.ConnectorError("memory", fmt.Errorf("create without primary key %q", op.PrimaryKey))
	}
	key := pkKey(pkValue)
	if _, exists := table[key]; exists {
		return nil, errors.ConnectorError("memory", fmt.Errorf("duplicate primary key %v", pkValue)).WithCode("duplicate_key")
	}

	row := cloneRow(op.Values)
	table[key] = row
	return &connector.WriteResult{Row: cloneRow(row), Affected: 1}, nil
}

func updateRows(table map[string]connector.Row, op *query.WriteOperation) (*connector.WriteResult, error) {
	result := &connector.WriteResult{}
	for pk, row := range table {
		if !query.Eval(op.Filter, row) {
			continue
		}
		for k, v := range op.Values {
			row[k] = v
		}
		// updating the primary key re-keys the row
		if newPK, ok := op.Values[op.PrimaryKey]; ok && pkKey(newPK) != pk {
			delete(table, pk)
			table[pkKey(newPK)] = row
		}
		result.Row = cloneRow(row)
		result.Affected++
	}
	return result, nil
}

// Begin opens a snapshot transaction
func (c *Connector) Begin(ctx context.Context) (connector.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	working := cloneTables(c.store)
	c.mu.RUnlock()

	// base keeps the snapshot untouched so commit can tell the session's
	// own changes apart from rows other sessions committed meanwhile.
	return &memSession{c: c, base: cloneTables(working), working: working}, nil
}

// Health reports readiness; the in-memory store is always ready
func (c *Connector) Health(ctx context.Context) error {
	return ctx.Err()
}

// Close drops all stored rows
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(tables)
	return nil
}

func (c *Connector) working(session connector.Session) (tables, error) {
	if session == nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return cloneTables(c.store), nil
	}
	s, ok := session.(*memSession)
	if !ok {
		return nil, errors.ConnectorError("memory", fmt.Errorf("foreign session type %T", session))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, errors.ConnectorError("memory", fmt.Errorf("session already closed"))
	}
	return cloneTables(s.working), nil
}

type memSession struct {
	c          *Connector
	mu         sync.Mutex
	base       tables
	working    tables
	savepoints int
	done       bool
}

// Commit folds the session's changes into the shared store. Rows the
// session never touched keep whatever other sessions committed in the
// meantime; when two sessions write the same row, the later commit wins.
func (s *memSession) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errors.ConnectorError("memory", fmt.Errorf("session already closed"))
	}
	s.done = true

	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	for key, workTable := range s.working {
		baseTable := s.base[key]
		live := s.c.store[key]
		if live == nil {
			live = make(map[string]connector.Row, len(workTable))
			s.c.store[key] = live
		}
		for pk, row := range workTable {
			before, existed := baseTable[pk]
			if !existed || !reflect.DeepEqual(before, row) {
				live[pk] = cloneRow(row)
			}
		}
		for pk := range baseTable {
			if _, kept := workTable[pk]; !kept {
				delete(live, pk)
			}
		}
	}
	return nil
}

func (s *memSession) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.base = nil
	s.working = nil
	return nil
}

func (s *memSession) Savepoint(ctx context.Context) (connector.Savepoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, errors.ConnectorError("memory", fmt.Errorf("session already closed"))
	}

	s.savepoints++
	return &memSavepoint{
		session:  s,
		snapshot: cloneTables(s.working),
	}, nil
}

type memSavepoint struct {
	session  *memSession
	snapshot tables
	done     bool
}

func (sp *memSavepoint) Release(ctx context.Context) error {
	if sp.done {
		return errors.ConnectorError("memory", fmt.Errorf("savepoint already closed"))
	}
	sp.done = true
	sp.snapshot = nil

	sp.session.mu.Lock()
	sp.session.savepoints--
	sp.session.mu.Unlock()
	return nil
}

func (sp *memSavepoint) Rollback(ctx context.Context) error {
	if sp.done {
		return errors.ConnectorError("memory", fmt.Errorf("savepoint already closed"))
	}
	sp.done = true

	sp.session.mu.Lock()
	sp.session.working = sp.snapshot
	sp.session.savepoints--
	sp.session.mu.Unlock()
	return nil
}

var _ connector.Connector = (*Connector)(nil)
