package engine

import (
	"context"
	"fmt"
	"time"

	"data-engine/internal/common/errors"
	"data-engine/internal/common/logging"
	"data-engine/internal/connector"
	"data-engine/internal/events"
	"data-engine/internal/identity"
	"data-engine/internal/pipeline"
	"data-engine/internal/pipeline/steps"
	"data-engine/internal/query"
	"data-engine/internal/schema"
	"data-engine/internal/txn"
)

// Create validates values through the model's write pipeline and inserts
// the resulting instance.
func (e *Engine) Create(ctx context.Context, model string, values map[string]interface{}) (*Record, error) {
	m, err := e.registry.Resolve(model)
	if err != nil {
		return nil, err
	}

	ec, err := e.inTxn(ctx, func(t *txn.Transaction) (*pipeline.ExecutionContext, error) {
		ec := e.newWriteContext(ctx, t, m, pipeline.PurposeCreate, cloneMap(values))
		return ec, e.save(ctx, t, ec, query.WriteCreate, nil)
	})
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, m, events.OpCreate, ec)
}

// Update patches the instance pinned by where. A filter matching nothing
// is a not-found error, never a silent no-op.
func (e *Engine) Update(ctx context.Context, model string, where, values map[string]interface{}) (*Record, error) {
	m, err := e.registry.Resolve(model)
	if err != nil {
		return nil, err
	}
	q, err := e.pinQuery(m, where)
	if err != nil {
		return nil, err
	}

	ec, err := e.inTxn(ctx, func(t *txn.Transaction) (*pipeline.ExecutionContext, error) {
		existing, err := e.fetchOne(ctx, t, q)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errors.NotFoundError(fmt.Sprintf("%s record", m.Name()))
		}

		ec := e.newWriteContext(ctx, t, m, pipeline.PurposeUpdate, cloneMap(values))
		ec.Original = existing
		pk := m.PrimaryKey().Name
		return ec, e.save(ctx, t, ec, query.WriteUpdate, query.FieldEquals(pk, existing[pk]))
	})
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, m, events.OpUpdate, ec)
}

// Upsert updates the instance pinned by where, or creates one from the
// create values when it does not exist. Both branches run the full write
// pipeline under the upsert purpose.
func (e *Engine) Upsert(ctx context.Context, model string, where, create, update map[string]interface{}) (*Record, error) {
	m, err := e.registry.Resolve(model)
	if err != nil {
		return nil, err
	}
	q, err := e.pinQuery(m, where)
	if err != nil {
		return nil, err
	}

	op := events.OpUpdate
	ec, err := e.inTxn(ctx, func(t *txn.Transaction) (*pipeline.ExecutionContext, error) {
		existing, err := e.fetchOne(ctx, t, q)
		if err != nil {
			return nil, err
		}

		if existing == nil {
			op = events.OpCreate
			ec := e.newWriteContext(ctx, t, m, pipeline.PurposeUpsert, cloneMap(create))
			return ec, e.save(ctx, t, ec, query.WriteCreate, nil)
		}

		ec := e.newWriteContext(ctx, t, m, pipeline.PurposeUpsert, cloneMap(update))
		ec.Original = existing
		pk := m.PrimaryKey().Name
		return ec, e.save(ctx, t, ec, query.WriteUpdate, query.FieldEquals(pk, existing[pk]))
	})
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, m, op, ec)
}

// Delete removes the instance pinned by where and returns it as it was
// stored, after running the delete pipeline around the removal.
func (e *Engine) Delete(ctx context.Context, model string, where map[string]interface{}) (*Record, error) {
	m, err := e.registry.Resolve(model)
	if err != nil {
		return nil, err
	}
	q, err := e.pinQuery(m, where)
	if err != nil {
		return nil, err
	}

	ec, err := e.inTxn(ctx, func(t *txn.Transaction) (*pipeline.ExecutionContext, error) {
		existing, err := e.fetchOne(ctx, t, q)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errors.NotFoundError(fmt.Sprintf("%s record", m.Name()))
		}

		ec := e.newWriteContext(ctx, t, m, pipeline.PurposeDelete, existing)
		if err := e.executor.Run(ctx, schema.EventBeforeDelete, ec); err != nil {
			return nil, err
		}

		pk := m.PrimaryKey().Name
		op := &query.WriteOperation{
			Kind:       query.WriteDelete,
			Model:      m.Name(),
			StorageKey: m.StorageKey(),
			PrimaryKey: pk,
			Filter:     query.FieldEquals(pk, existing[pk]),
		}
		if _, err := t.Write(ctx, e.conn(m.Name()), op); err != nil {
			return nil, err
		}
		return ec, e.executor.Run(ctx, schema.EventAfterDelete, ec)
	})
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, m, events.OpDelete, ec)
}

// save runs the write side of the pipeline around one mutation:
// before-validate, defaults on create, constraint validation, validate,
// before-save, the connector write, after-save. The execution context's
// value tracks the instance through each stage and ends as the stored
// row. Any failure leaves the transaction to the caller's rollback.
func (e *Engine) save(ctx context.Context, t *txn.Transaction, ec *pipeline.ExecutionContext, kind query.WriteKind, filter *query.Filter) error {
	if err := e.executor.Run(ctx, schema.EventBeforeValidate, ec); err != nil {
		return err
	}
	if kind == query.WriteCreate {
		steps.ApplyDefaults(ec.Model, ec.Value)
	}
	if _, err := e.validator.Run(ctx, ec); err != nil {
		return err
	}
	if err := e.executor.Run(ctx, schema.EventValidate, ec); err != nil {
		return err
	}
	if err := e.executor.Run(ctx, schema.EventBeforeSave, ec); err != nil {
		return err
	}

	op := &query.WriteOperation{
		Kind:       kind,
		Model:      ec.Model.Name(),
		StorageKey: ec.Model.StorageKey(),
		PrimaryKey: ec.Model.PrimaryKey().Name,
		Values:     ec.Value,
		Filter:     filter,
	}
	result, err := t.Write(ctx, e.conn(ec.Model.Name()), op)
	if err != nil {
		return err
	}
	if result.Row != nil {
		ec.Value = result.Row
	}

	return e.executor.Run(ctx, schema.EventAfterSave, ec)
}

// inTxn runs fn inside a fresh transaction, committing on success and
// rolling back on any error.
func (e *Engine) inTxn(ctx context.Context, fn func(t *txn.Transaction) (*pipeline.ExecutionContext, error)) (*pipeline.ExecutionContext, error) {
	t, err := e.coordinator.Begin(ctx)
	if err != nil {
		return nil, err
	}

	ec, err := fn(t)
	if err != nil {
		e.rollback(ctx, t)
		return nil, err
	}
	if err := t.Commit(ctx); err != nil {
		return nil, err
	}
	return ec, nil
}

// rollback releases a failed transaction. It survives a canceled request
// context, since abandoning open sessions is worse than the failure that
// got us here.
func (e *Engine) rollback(ctx context.Context, t *txn.Transaction) {
	if err := t.Rollback(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("rollback failed", err, logging.String("txn", t.ID()))
	}
}

// finish applies the post-commit effects of one write: cache
// invalidation, the change event, and the before-response chain.
func (e *Engine) finish(ctx context.Context, m *schema.Model, op events.Op, ec *pipeline.ExecutionContext) (*Record, error) {
	e.invalidate(ctx, m.Name())
	e.bus.Changed(events.ChangeEvent{
		Model: m.Name(),
		Op:    op,
		ID:    ec.Value[m.PrimaryKey().Name],
		At:    time.Now().UTC(),
	})
	e.logger.Debug("write committed",
		logging.String("model", m.Name()),
		logging.String("op", string(op)))

	ec.Runtime = &connRuntime{engine: e}
	if err := e.executor.Run(ctx, schema.EventBeforeResponse, ec); err != nil {
		return nil, err
	}
	return &Record{Data: ec.Value, Warnings: ec.Warnings}, nil
}

// pinQuery builds the single-row query a write targets. The filter must
// pin a unique criterion so a write can never fan out.
func (e *Engine) pinQuery(m *schema.Model, where map[string]interface{}) (*query.Query, error) {
	q, _, err := e.builder.Build(m.Name(), query.RawQuery{Filter: where})
	if err != nil {
		return nil, err
	}
	if err := requireUniqueCriterion(m, q.Filter); err != nil {
		return nil, err
	}
	q.Pagination = query.Pagination{Limit: 1}
	return q, nil
}

func (e *Engine) fetchOne(ctx context.Context, t *txn.Transaction, q *query.Query) (connector.Row, error) {
	stream, err := t.Execute(ctx, e.conn(q.Model), q)
	if err != nil {
		return nil, err
	}
	rows, err := collect(stream)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (e *Engine) newWriteContext(ctx context.Context, t *txn.Transaction, m *schema.Model, purpose pipeline.Purpose, value map[string]interface{}) *pipeline.ExecutionContext {
	ec := pipeline.NewExecutionContext(m, purpose, value)
	ec.Identity = identity.FromContext(ctx).ForPipeline()
	ec.Runtime = &txnRuntime{engine: e, txn: t, conn: e.conn(m.Name())}
	return ec
}

func cloneMap(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
