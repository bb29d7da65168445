package engine

import (
	"context"

	"data-engine/internal/connector"
	"data-engine/internal/query"
	"data-engine/internal/txn"
)

// txnRuntime exposes the request's live transaction to pipeline steps.
// Reads route by model so constraint probes can cross backends; isolated
// scopes nest into the request model's own backend.
type txnRuntime struct {
	engine *Engine
	txn    *txn.Transaction
	conn   connector.Connector
}

func (r *txnRuntime) Query(ctx context.Context, q *query.Query) ([]connector.Row, error) {
	stream, err := r.txn.Execute(ctx, r.engine.conn(q.Model), q)
	if err != nil {
		return nil, err
	}
	return collect(stream)
}

func (r *txnRuntime) Isolated(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.txn.RunIsolated(ctx, r.conn, fn)
}

// connRuntime serves chains running after commit. Reads are
// auto-committed and isolation degrades to a plain call, since there is
// no transaction left to nest into.
type connRuntime struct {
	engine *Engine
}

func (r *connRuntime) Query(ctx context.Context, q *query.Query) ([]connector.Row, error) {
	stream, err := r.engine.conn(q.Model).Execute(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	return collect(stream)
}

func (r *connRuntime) Isolated(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// collect drains a row stream to completion.
func collect(stream connector.RowStream) ([]connector.Row, error) {
	defer stream.Close()

	var rows []connector.Row
	for stream.Next() {
		rows = append(rows, stream.Row())
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
