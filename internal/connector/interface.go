// Package connector defines the capability contract storage backends
// implement to execute query IR, plus the factory registry adapters
// register themselves with.
package connector

import (
	"context"

	"data-engine/internal/query"
)

// Row is one raw backend row keyed by field name
type Row = map[string]interface{}

// Capabilities declares what a backend can do. The engine consults this
// before attempting an operation and fails fast with UnsupportedOperation
// instead of failing mid-flight.
type Capabilities struct {
	Transactions       bool
	NestedTransactions bool
	JoinedIncludes     bool
	Aggregation        bool
}

// Connector is the contract a storage backend adapter satisfies. Execute
// and Write accept a nil Session for auto-committed work outside a
// coordinated transaction.
type Connector interface {
	Name() string
	Capabilities() Capabilities
	Execute(ctx context.Context, q *query.Query, session Session) (RowStream, error)
	Write(ctx context.Context, op *query.WriteOperation, session Session) (*WriteResult, error)
	Begin(ctx context.Context) (Session, error)
	Health(ctx context.Context) error
	Close() error
}

// Session is one open backend transaction, exclusively owned by a single
// engine transaction for its lifetime. Savepoint is only available on
// backends declaring NestedTransactions.
type Session interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Savepoint(ctx context.Context) (Savepoint, error)
}

// Savepoint is a nested rollback point inside an open session
type Savepoint interface {
	Release(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// RowStream is a lazy, finite, single-pass sequence of rows. It is not
// replayable; re-issue Execute to read again. Close must be called even
// after exhaustion.
type RowStream interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// WriteResult reports the outcome of one write
type WriteResult struct {
	Row      Row
	Affected int64
	Created  bool
}

// Config is the self-describing configuration an adapter factory consumes
type Config interface {
	Validate() error
	GetType() string
}

// Factory creates connector instances for one backend type
type Factory interface {
	Create(config Config) (Connector, error)
	GetType() string
}
