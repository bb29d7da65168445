// Package pipeline runs ordered chains of transformation, validation and
// side-effect steps bound to model lifecycle events. Chains are resolved
// once at engine build time; execution is strictly sequential within one
// request.
package pipeline

import (
	"context"

	"data-engine/internal/connector"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

// Purpose is the intent of the operation a pipeline run belongs to
type Purpose string

const (
	PurposeCreate Purpose = "create"
	PurposeUpdate Purpose = "update"
	PurposeUpsert Purpose = "upsert"
	PurposeDelete Purpose = "delete"
	PurposeRead   Purpose = "read"
)

// Identity is the authenticated caller attached to the request
type Identity struct {
	Subject string
	Model   string
	Claims  map[string]interface{}
}

// Runtime is the slice of the live transaction that steps are allowed to
// touch: reads for constraint probes and savepoint isolation for steps
// that need their own rollback scope. The engine supplies one per request.
type Runtime interface {
	Query(ctx context.Context, q *query.Query) ([]connector.Row, error)
	Isolated(ctx context.Context, fn func(ctx context.Context) error) error
}

// ExecutionContext is the per-request mutable bag threaded through every
// step of a chain. It is owned exclusively by the executor for the
// duration of one request and discarded at request end; it is never
// shared across requests.
type ExecutionContext struct {
	Model    *schema.Model
	Purpose  Purpose
	Value    map[string]interface{}
	Original map[string]interface{}
	Identity *Identity
	Runtime  Runtime
	Warnings []query.Warning

	meta map[string]interface{}
}

// NewExecutionContext creates a context for one pipeline run. Value may be
// nil for delete pipelines.
func NewExecutionContext(model *schema.Model, purpose Purpose, value map[string]interface{}) *ExecutionContext {
	if value == nil {
		value = make(map[string]interface{})
	}
	return &ExecutionContext{
		Model:   model,
		Purpose: purpose,
		Value:   value,
	}
}

// Get reads one field from the current value
func (ec *ExecutionContext) Get(field string) (interface{}, bool) {
	v, ok := ec.Value[field]
	return v, ok
}

// Set writes one field on the current value
func (ec *ExecutionContext) Set(field string, v interface{}) {
	ec.Value[field] = v
}

// Warn records a non-fatal warning carried back to the caller
func (ec *ExecutionContext) Warn(code, message string) {
	ec.Warnings = append(ec.Warnings, query.Warning{Code: code, Message: message})
}

// SetMeta stores step scratch data that later steps in the same request
// may read
func (ec *ExecutionContext) SetMeta(key string, value interface{}) {
	if ec.meta == nil {
		ec.meta = make(map[string]interface{})
	}
	ec.meta[key] = value
}

// GetMeta reads step scratch data
func (ec *ExecutionContext) GetMeta(key string) interface{} {
	if ec.meta == nil {
		return nil
	}
	return ec.meta[key]
}

// snapshotValue copies the current value so a failed step with
// onError continue leaves no partial mutation behind
func (ec *ExecutionContext) snapshotValue() map[string]interface{} {
	snap := make(map[string]interface{}, len(ec.Value))
	for k, v := range ec.Value {
		snap[k] = v
	}
	return snap
}
